// Package resolver turns a list of root requirements into a tree in
// which every package name has exactly one live candidate whose version
// satisfies every live requirement for that name. Resolution is a single
// best-version-wins pass; the only re-selection mechanism is the
// in-place backtrack taken when a new requirement excludes a previously
// chosen candidate.
package resolver

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alexbecker/dotlock/internal/distinfo"
	"github.com/alexbecker/dotlock/internal/metadata"
)

// defaultConcurrency caps concurrent metadata fetches within a frontier
// to avoid upstream rate limiting.
const defaultConcurrency = 10

// Option configures a Service.
type Option func(*Service)

// WithConcurrency bounds concurrent candidate fetches per frontier.
// Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n >= 1 {
			s.concurrency = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service resolves requirement trees against a metadata provider for a
// fixed marker environment.
type Service struct {
	provider    metadata.Provider
	markerEnv   map[string]string
	concurrency int
	logger      *slog.Logger
}

// New creates a resolver. markerEnv is the target environment's marker
// variable map; the resolver adds the "extra" variable per evaluation.
func New(provider metadata.Provider, markerEnv map[string]string, opts ...Option) *Service {
	s := &Service{
		provider:    provider,
		markerEnv:   markerEnv,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Resolve populates the given root requirements in place, recursively
// selecting a unique live candidate per name. The roots are modified so
// callers holding the same *Requirement values (for example, a
// manifest's default and extras lists resolved together) observe the
// shared resolution.
func (s *Service) Resolve(ctx context.Context, roots []*Requirement) error {
	return s.resolveList(ctx, roots, roots)
}

// resolveList is one recursion step: candidate population for the whole
// frontier is batched and joined, then selection visits requirements in
// order. All tree mutation happens sequentially after the join.
func (s *Service) resolveList(ctx context.Context, base, frontier []*Requirement) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, requirement := range frontier {
		g.Go(func() error {
			return requirement.setCandidates(gctx, s.provider)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for _, requirement := range frontier {
		s.logger.Debug("resolving", slog.String("requirement", requirement.Info.String()))

		if err := s.resolveRequirement(ctx, base, requirement); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) resolveRequirement(ctx context.Context, base []*Requirement, requirement *Requirement) error {
	name := requirement.Info.Name

	liveCandidates := iterLiveCandidates(base, name)

	var chosen distinfo.CandidateInfo

	if len(liveCandidates) == 0 {
		s.logger.Debug("new package discovered", slog.String("name", name))

		// Candidates arrive best-first from the façade.
		chosen = requirement.Candidates[0].Info
	} else {
		// All live candidates for a name carry identical CandidateInfo.
		liveInfo := liveCandidates[0].Info

		satisfied := requirement.Info.Specifier == ""
		if !satisfied {
			ok, err := distinfo.MatchesSpecifier(requirement.Info.Specifier, liveInfo.Version)
			if err != nil {
				return err
			}

			satisfied = ok
		}

		if satisfied {
			s.logger.Debug("existing candidate satisfies requirement",
				slog.String("candidate", liveInfo.String()),
				slog.String("requirement", requirement.Info.String()))

			chosen = liveInfo

			// Only one copy of the candidate is ultimately installed, so
			// every live copy must carry the union of requested extras.
			// A grown set can enable new dependencies; re-populate and
			// re-resolve those branches (cache-warm, so cheap).
			if err := s.propagateExtras(ctx, base, liveCandidates, requirement.Info.Extras); err != nil {
				return err
			}
		} else {
			var err error

			chosen, err = s.backtrack(ctx, base, requirement, liveCandidates)
			if err != nil {
				return err
			}
		}
	}

	candidate := requirement.candidate(chosen)
	candidate.Live = true
	candidate.mergeExtras(requirement.Info.Extras)

	// The new live copy joins the existing ones with their extras too.
	for _, liveCandidate := range liveCandidates {
		for extra := range liveCandidate.Extras {
			candidate.Extras[extra] = true
		}
	}

	if err := candidate.setRequirements(ctx, s.provider, s.markerEnv, s.logger); err != nil {
		return err
	}

	return s.resolveList(ctx, base, candidate.Requirements)
}

// propagateExtras merges newly requested extras into every live
// candidate for a name, re-resolving any branch whose extras set grew.
func (s *Service) propagateExtras(ctx context.Context, base []*Requirement, liveCandidates []*Candidate, extras string) error {
	if extras == "" {
		return nil
	}

	for _, liveCandidate := range liveCandidates {
		before := len(liveCandidate.Extras)

		liveCandidate.mergeExtras(extras)

		if len(liveCandidate.Extras) == before {
			continue
		}

		if err := liveCandidate.setRequirements(ctx, s.provider, s.markerEnv, s.logger); err != nil {
			return err
		}

		if err := s.resolveList(ctx, base, liveCandidate.Requirements); err != nil {
			return err
		}
	}

	return nil
}

// backtrack handles a requirement whose specifier rejects the currently
// live candidate for its name: it intersects every live specifier,
// filters this requirement's candidates down to the survivors, and
// re-selects the best one everywhere in the tree. The whole resolution
// fails if no candidate satisfies the intersection.
func (s *Service) backtrack(ctx context.Context, base []*Requirement, requirement *Requirement, liveCandidates []*Candidate) (distinfo.CandidateInfo, error) {
	name := requirement.Info.Name

	s.logger.Debug("existing candidate rejected, re-selecting",
		slog.String("name", name),
		slog.String("requirement", requirement.Info.String()))

	specifier := distinfo.IntersectSpecifiers(
		append([]string{requirement.Info.Specifier}, iterLiveSpecifiers(base, name)...)...,
	)

	var survivors []*Candidate

	for _, candidate := range requirement.Candidates {
		ok, err := distinfo.MatchesSpecifier(specifier, candidate.Info.Version)
		if err != nil {
			return distinfo.CandidateInfo{}, err
		}

		if ok {
			survivors = append(survivors, candidate)
		}
	}

	if len(survivors) == 0 {
		return distinfo.CandidateInfo{}, &ConflictError{
			Name:          name,
			NewChain:      requirement.rootChain(),
			ExistingChain: liveCandidates[0].Requirement.rootChain(),
		}
	}

	chosen := survivors[0].Info

	// Move every live candidate for this name to the new selection and
	// re-resolve those branches. The metadata caches are warm, so the
	// re-resolution is cheap.
	for _, liveCandidate := range liveCandidates {
		liveCandidate.Live = false

		replacement := liveCandidate.Requirement.candidate(chosen)
		if replacement == nil {
			return distinfo.CandidateInfo{}, &ConflictError{
				Name:          name,
				NewChain:      requirement.rootChain(),
				ExistingChain: liveCandidate.Requirement.rootChain(),
			}
		}

		replacement.Live = true
		replacement.mergeExtras(requirement.Info.Extras)

		if err := replacement.setRequirements(ctx, s.provider, s.markerEnv, s.logger); err != nil {
			return distinfo.CandidateInfo{}, err
		}

		if err := s.resolveList(ctx, base, replacement.Requirements); err != nil {
			return distinfo.CandidateInfo{}, err
		}
	}

	return chosen, nil
}
