package resolver

import (
	"context"
	"log/slog"

	"github.com/alexbecker/dotlock/internal/distinfo"
	"github.com/alexbecker/dotlock/internal/markers"
	"github.com/alexbecker/dotlock/internal/metadata"
)

// Requirement is a node in the alternating requirement/candidate tree.
// Each Requirement holds every candidate enumerated for it; each
// Candidate holds one child Requirement per declared dependency that
// survives marker filtering. Parent links run upward to the roots.
type Requirement struct {
	Info   distinfo.RequirementInfo
	Parent *Requirement

	// Candidates is populated exactly once, in enumeration order (best
	// first).
	Candidates []*Candidate
}

// NewRequirement creates an unpopulated root requirement.
func NewRequirement(info distinfo.RequirementInfo) *Requirement {
	return &Requirement{Info: info}
}

// Candidate is a concrete distribution enumerated for a Requirement. At
// most one candidate per name is live across the whole tree at any
// moment; which one may change when the resolver backtracks.
type Candidate struct {
	Info        distinfo.CandidateInfo
	Requirement *Requirement

	// Extras is the union of extras demanded by every requirement that
	// selected this candidate. It grows as new requirements for the
	// name are discovered.
	Extras map[string]bool

	Live bool

	// Requirements is rebuilt whenever the candidate becomes live.
	Requirements []*Requirement
}

// ExtrasList returns the candidate's extras in canonical order.
func (c *Candidate) ExtrasList() []string {
	return distinfo.SplitExtras(distinfo.JoinExtras(keys(c.Extras)))
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}

	return out
}

// mergeExtras adds the comma-joined extras of a requirement into the
// candidate's set.
func (c *Candidate) mergeExtras(extras string) {
	for _, e := range distinfo.SplitExtras(extras) {
		c.Extras[e] = true
	}
}

// ancestors returns the chain [self, parent, grandparent, ...] up to a
// root, failing with CircularDependencyError if any ancestor carries
// this requirement's name.
func (r *Requirement) ancestors() ([]*Requirement, error) {
	chain := []*Requirement{r}

	for parent := r.Parent; parent != nil; parent = parent.Parent {
		chain = append(chain, parent)

		if parent.Info.Name == r.Info.Name {
			names := make([]string, len(chain))
			for i, req := range chain {
				names[i] = req.Info.Name
			}

			return nil, &CircularDependencyError{Chain: names}
		}
	}

	return chain, nil
}

// rootChain renders the requirement's ancestry root-first for error
// reporting.
func (r *Requirement) rootChain() []string {
	var reversed []string
	for req := r; req != nil; req = req.Parent {
		reversed = append(reversed, req.Info.Name)
	}

	names := make([]string, len(reversed))
	for i, name := range reversed {
		names[len(names)-1-i] = name
	}

	return names
}

// candidate finds this requirement's candidate for an info, or nil.
func (r *Requirement) candidate(info distinfo.CandidateInfo) *Candidate {
	for _, c := range r.Candidates {
		if c.Info == info {
			return c
		}
	}

	return nil
}

// setCandidates populates r.Candidates from the metadata façade. Child
// requirements of those candidates are not populated here.
func (r *Requirement) setCandidates(ctx context.Context, provider metadata.Provider) error {
	infos, err := provider.CandidatesFor(ctx, r.Info)
	if err != nil {
		return err
	}

	r.Candidates = make([]*Candidate, 0, len(infos))

	for _, info := range infos {
		candidate := &Candidate{
			Info:        info,
			Requirement: r,
			Extras:      make(map[string]bool),
		}
		candidate.mergeExtras(r.Info.Extras)

		r.Candidates = append(r.Candidates, candidate)
	}

	return nil
}

// setRequirements populates c.Requirements from the metadata façade,
// dropping requirements whose markers match no environment this
// candidate must cover, and failing on circular ancestry. Because a
// candidate may be demanded with several extras, a marker is evaluated
// once per requested extra (or once with no extra) and the requirement
// is kept if any evaluation succeeds.
func (c *Candidate) setRequirements(ctx context.Context, provider metadata.Provider, markerEnv map[string]string, logger *slog.Logger) error {
	infos, err := provider.RequirementsFor(ctx, c.Info)
	if err != nil {
		return err
	}

	extras := c.ExtrasList()
	if len(extras) == 0 {
		extras = []string{""}
	}

	c.Requirements = make([]*Requirement, 0, len(infos))

	for _, info := range infos {
		if info.Marker != "" {
			matched := false

			for _, extra := range extras {
				env := make(map[string]string, len(markerEnv)+1)
				for k, v := range markerEnv {
					env[k] = v
				}

				env["extra"] = extra

				if markers.Evaluate(info.Marker, env) {
					matched = true

					break
				}
			}

			if !matched {
				logger.Debug("skipping requirement, marker does not match environment",
					slog.String("requirement", info.String()))

				continue
			}
		}

		requirement := &Requirement{Info: info, Parent: c.Requirement}

		if _, err := requirement.ancestors(); err != nil {
			return err
		}

		c.Requirements = append(c.Requirements, requirement)
	}

	return nil
}

// iterLiveCandidates walks the whole tree collecting live candidates for
// a name. The per-requirement candidate lists stay authoritative; no
// separate index of live candidates is kept.
func iterLiveCandidates(base []*Requirement, name string) []*Candidate {
	var out []*Candidate

	for _, requirement := range base {
		for _, candidate := range requirement.Candidates {
			if !candidate.Live {
				continue
			}

			if candidate.Info.Name == name {
				out = append(out, candidate)
			}

			out = append(out, iterLiveCandidates(candidate.Requirements, name)...)
		}
	}

	return out
}

// iterLiveSpecifiers collects the specifiers of every live requirement
// for a name, walking from the base tree.
func iterLiveSpecifiers(base []*Requirement, name string) []string {
	var out []string

	for _, requirement := range base {
		if requirement.Info.Name == name {
			out = append(out, requirement.Info.Specifier)
		}

		for _, candidate := range requirement.Candidates {
			if candidate.Live {
				out = append(out, iterLiveSpecifiers(candidate.Requirements, name)...)
			}
		}
	}

	return out
}
