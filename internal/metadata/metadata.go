// Package metadata is the uniform answer to two questions: given a
// requirement, what candidates could satisfy it; given a candidate, what
// does it require. It consults the persistent cache first, then the
// index client or the archive introspector, writing results back. It
// also owns the per-run memoization that keeps a single resolution from
// asking the same question twice.
package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/alexbecker/dotlock/internal/archive"
	"github.com/alexbecker/dotlock/internal/cache"
	"github.com/alexbecker/dotlock/internal/distinfo"
	"github.com/alexbecker/dotlock/internal/index"
	"github.com/alexbecker/dotlock/internal/vcs"
)

// Provider is the interface the resolver consumes.
type Provider interface {
	// CandidatesFor lists the candidates satisfying a requirement, best
	// first.
	CandidatesFor(ctx context.Context, req distinfo.RequirementInfo) ([]distinfo.CandidateInfo, error)
	// RequirementsFor lists a candidate's declared requirements.
	RequirementsFor(ctx context.Context, candidate distinfo.CandidateInfo) ([]distinfo.RequirementInfo, error)
}

// NoMatchingCandidateError is raised when a requirement's candidate
// list, filtered by specifier and environment, is empty.
type NoMatchingCandidateError struct {
	Requirement distinfo.RequirementInfo
}

func (e *NoMatchingCandidateError) Error() string {
	return fmt.Sprintf("no matching candidate for %s", e.Requirement)
}

// Option configures a Service.
type Option func(*Service)

// WithUpdate bypasses cached candidate lists, refreshing them from the
// index.
func WithUpdate(update bool) Option {
	return func(s *Service) {
		s.update = update
	}
}

// WithVCS sets the VCS service used for repository requirements.
func WithVCS(v *vcs.Service) Option {
	return func(s *Service) {
		if v != nil {
			s.vcs = v
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

// Service is the caching metadata façade.
type Service struct {
	store        cache.Store
	index        index.Client
	introspector archive.Introspector
	vcs          *vcs.Service
	update       bool
	logger       *slog.Logger

	// Per-run memoization. The persistent cache is the only state that
	// outlives a Service.
	mu             sync.Mutex
	candidatesMemo map[string]candidatesEntry
	reqsMemo       map[distinfo.CandidateInfo][]distinfo.RequirementInfo
}

// candidatesEntry remembers whether a memoized list came from the
// persistent cache, so a later, tighter requirement can still trigger
// the one-shot index refresh.
type candidatesEntry struct {
	infos     []distinfo.CandidateInfo
	fromCache bool
}

// compile-time proof that Service implements Provider.
var _ Provider = (*Service)(nil)

// New creates a façade over the given collaborators.
func New(store cache.Store, client index.Client, introspector archive.Introspector, opts ...Option) *Service {
	s := &Service{
		store:          store,
		index:          client,
		introspector:   introspector,
		vcs:            vcs.New(),
		logger:         slog.Default(),
		candidatesMemo: make(map[string]candidatesEntry),
		reqsMemo:       make(map[distinfo.CandidateInfo][]distinfo.RequirementInfo),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CandidatesFor lists the candidates satisfying a requirement. VCS and
// path requirements synthesize a single candidate; version requirements
// go through the cache and index. When a cached list filters down to
// nothing, the index is re-queried once before giving up, so a stale
// cache cannot hide a newly published version.
func (s *Service) CandidatesFor(ctx context.Context, req distinfo.RequirementInfo) ([]distinfo.CandidateInfo, error) {
	switch req.SpecifierType {
	case distinfo.SpecifierVCS:
		return []distinfo.CandidateInfo{{
			Name:        req.Name,
			PackageType: distinfo.VCSType,
			Location:    req.Specifier,
		}}, nil
	case distinfo.SpecifierPath:
		return []distinfo.CandidateInfo{{
			Name:        req.Name,
			PackageType: distinfo.LocalType,
			Location:    req.Specifier,
		}}, nil
	}

	all, fromCache, err := s.allCandidates(ctx, req.Name)
	if err != nil {
		return nil, err
	}

	matching, err := filterBySpecifier(all, req.Specifier)
	if err != nil {
		return nil, err
	}

	if len(matching) == 0 && fromCache {
		s.logger.Debug("cached candidates exhausted, refreshing from index",
			slog.String("name", req.Name))

		all, err = s.refreshCandidates(ctx, req.Name)
		if err != nil {
			return nil, err
		}

		matching, err = filterBySpecifier(all, req.Specifier)
		if err != nil {
			return nil, err
		}
	}

	if len(matching) == 0 {
		return nil, &NoMatchingCandidateError{Requirement: req}
	}

	distinfo.SortCandidates(matching)

	return matching, nil
}

// allCandidates returns the unfiltered candidate list for a name,
// reporting whether it was served from the persistent cache.
func (s *Service) allCandidates(ctx context.Context, name string) ([]distinfo.CandidateInfo, bool, error) {
	s.mu.Lock()
	memoized, ok := s.candidatesMemo[name]
	s.mu.Unlock()

	if ok {
		return memoized.infos, memoized.fromCache, nil
	}

	if !s.update {
		cached, ok, err := s.store.CandidateInfos(name)
		if err != nil {
			return nil, false, err
		}

		if ok {
			s.memoizeCandidates(name, cached, true)

			return cached, true, nil
		}
	}

	infos, err := s.refreshCandidates(ctx, name)
	if err != nil {
		return nil, false, err
	}

	return infos, false, nil
}

// refreshCandidates queries the index and replaces the cached list.
func (s *Service) refreshCandidates(ctx context.Context, name string) ([]distinfo.CandidateInfo, error) {
	infos, err := s.index.CandidateInfos(ctx, name)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetCandidateInfos(name, infos); err != nil {
		return nil, err
	}

	s.memoizeCandidates(name, infos, false)

	return infos, nil
}

func (s *Service) memoizeCandidates(name string, infos []distinfo.CandidateInfo, fromCache bool) {
	s.mu.Lock()
	s.candidatesMemo[name] = candidatesEntry{infos: infos, fromCache: fromCache}
	s.mu.Unlock()
}

func filterBySpecifier(infos []distinfo.CandidateInfo, specifier string) ([]distinfo.CandidateInfo, error) {
	if specifier == "" {
		return infos, nil
	}

	var matching []distinfo.CandidateInfo

	for _, info := range infos {
		ok, err := distinfo.MatchesSpecifier(specifier, info.Version)
		if err != nil {
			return nil, err
		}

		if ok {
			matching = append(matching, info)
		}
	}

	return matching, nil
}

// RequirementsFor lists a candidate's declared requirements. VCS and
// path candidates are always introspected fresh since their locations
// can mutate; everything else is cached. Sdists must be downloaded and
// introspected because indices do not publish their dependencies;
// wheels try the index first and fall back to downloading the archive.
func (s *Service) RequirementsFor(ctx context.Context, candidate distinfo.CandidateInfo) ([]distinfo.RequirementInfo, error) {
	switch candidate.PackageType {
	case distinfo.VCSType:
		return s.vcsRequirements(ctx, candidate)
	case distinfo.LocalType:
		return s.introspector.LocalRequirements(ctx, candidate.Name, candidate.Location)
	}

	s.mu.Lock()
	memoized, ok := s.reqsMemo[candidate]
	s.mu.Unlock()

	if ok {
		return memoized, nil
	}

	cached, ok, err := s.store.RequirementInfos(candidate)
	if err != nil {
		return nil, err
	}

	if ok {
		s.memoizeRequirements(candidate, cached)

		return cached, nil
	}

	var infos []distinfo.RequirementInfo

	switch candidate.PackageType {
	case distinfo.SdistType:
		infos, err = s.introspector.SdistRequirements(ctx, candidate)
	case distinfo.BdistWheel:
		infos, err = s.wheelRequirements(ctx, candidate)
	default:
		return nil, fmt.Errorf("unsupported package type %s for %s", candidate.PackageType, candidate.Name)
	}

	if err != nil {
		return nil, err
	}

	if err := s.store.SetRequirementInfos(candidate, infos); err != nil {
		return nil, err
	}

	s.memoizeRequirements(candidate, infos)

	return infos, nil
}

func (s *Service) memoizeRequirements(candidate distinfo.CandidateInfo, infos []distinfo.RequirementInfo) {
	s.mu.Lock()
	s.reqsMemo[candidate] = infos
	s.mu.Unlock()
}

// wheelRequirements tries the index's per-version metadata before
// downloading the wheel itself.
func (s *Service) wheelRequirements(ctx context.Context, candidate distinfo.CandidateInfo) ([]distinfo.RequirementInfo, error) {
	lines, ok, err := s.index.RequiresDist(ctx, candidate)
	if err != nil {
		return nil, err
	}

	if ok {
		return distinfo.ParseRequiresDist(lines)
	}

	// The index does not know; download the wheel and read METADATA.
	return s.introspector.WheelRequirements(ctx, candidate)
}

// vcsRequirements clones the repository into a scoped directory and
// introspects the working tree.
func (s *Service) vcsRequirements(ctx context.Context, candidate distinfo.CandidateInfo) ([]distinfo.RequirementInfo, error) {
	workDir, err := os.MkdirTemp("", "dotlock-vcs-")
	if err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	treeDir, err := s.vcs.Clone(ctx, candidate.Location, workDir)
	if err != nil {
		return nil, err
	}

	return s.introspector.LocalRequirements(ctx, candidate.Name, treeDir)
}
