// Package index fetches candidate listings and per-version metadata from
// package indices. Two protocols are supported: the JSON API
// (GET <source>/<name>/json) and the Simple HTML API of PEP 503
// (GET <source>/<name>/). A source whose URL ends in "simple" is
// dispatched to the Simple API, everything else to the JSON API. Sources
// are tried in order and the first that does not return 404 wins.
package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/alexbecker/dotlock/internal/distinfo"
	"github.com/alexbecker/dotlock/internal/pyenv"
)

const (
	maxRetries    = 3
	clientTimeout = 30 * time.Second
)

// Client is the interface the metadata façade consumes.
type Client interface {
	// CandidateInfos lists the installable candidates for a package,
	// filtered for this environment.
	CandidateInfos(ctx context.Context, name string) ([]distinfo.CandidateInfo, error)
	// RequiresDist returns the declared requirement lines for a
	// candidate from its source's per-version JSON endpoint. ok is false
	// when the index cannot answer (Simple source, or the JSON API
	// reports null requirements).
	RequiresDist(ctx context.Context, candidate distinfo.CandidateInfo) (lines []string, ok bool, err error)
}

// NotFoundError is raised when no configured source resolves a name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("package %s not found in any configured source", e.Name)
}

// UnsupportedHashError is raised when a distribution carries no
// acceptable content hash.
type UnsupportedHashError struct {
	Filename string
}

func (e *UnsupportedHashError) Error() string {
	return fmt.Sprintf("no supported hash function for %s (want one of sha256, sha1, md5)", e.Filename)
}

// IndexError wraps transport and protocol failures from a source.
type IndexError struct {
	Source string
	Err    error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("package index %s: %v", e.Source, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient sets the HTTP client used for index requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithPackageTypes restricts the package types admitted to candidate
// lists. Defaults to bdist_wheel and sdist.
func WithPackageTypes(types []distinfo.PackageType) Option {
	return func(s *Service) {
		if len(types) > 0 {
			s.packageTypes = types
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

// Service queries the configured sources over HTTP.
type Service struct {
	sources      []string
	env          *pyenv.Environment
	supported    pyenv.TagSet
	packageTypes []distinfo.PackageType
	httpClient   *http.Client
	logger       *slog.Logger
}

// compile-time proof that Service implements Client.
var _ Client = (*Service)(nil)

// New creates an index client over the given sources for the given
// target environment.
func New(sources []string, env *pyenv.Environment, opts ...Option) *Service {
	s := &Service{
		sources:      sources,
		env:          env,
		supported:    env.Tags.SupportedSet(),
		packageTypes: []distinfo.PackageType{distinfo.BdistWheel, distinfo.SdistType},
		httpClient:   &http.Client{Timeout: clientTimeout},
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CandidateInfos tries each source in order; the first that knows the
// name wins. All sources missing raises NotFoundError.
func (s *Service) CandidateInfos(ctx context.Context, name string) ([]distinfo.CandidateInfo, error) {
	for _, source := range s.sources {
		var (
			infos []distinfo.CandidateInfo
			err   error
		)

		if isSimpleSource(source) {
			infos, err = s.simpleCandidateInfos(ctx, source, name)
		} else {
			infos, err = s.jsonCandidateInfos(ctx, source, name)
		}

		if err != nil {
			if errors.Is(err, errNotFound) {
				continue
			}

			return nil, err
		}

		return infos, nil
	}

	return nil, &NotFoundError{Name: name}
}

func isSimpleSource(source string) bool {
	return strings.HasSuffix(source, "simple")
}

// errNotFound marks a single-source 404 so the dispatcher can fall
// through to the next source.
var errNotFound = errors.New("not found")

// retryableError indicates a transient failure worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// fetch performs an HTTP GET with retry and exponential backoff. Only
// transient errors (5xx, network errors) are retried. A 404 returns
// errNotFound.
func (s *Service) fetch(ctx context.Context, source, url string) ([]byte, error) {
	var lastErr error

	for attempt := range maxRetries {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 500 * time.Millisecond
			s.logger.Debug("retrying index request",
				slog.String("url", url),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			select {
			case <-ctx.Done():
				return nil, &IndexError{Source: source, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		body, err := s.doRequest(ctx, url)
		if err == nil {
			return body, nil
		}

		if errors.Is(err, errNotFound) {
			return nil, errNotFound
		}

		var re *retryableError
		if !errors.As(err, &re) {
			return nil, &IndexError{Source: source, Err: err}
		}

		lastErr = err
		s.logger.Debug("index request failed",
			slog.String("url", url),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, &IndexError{Source: source, Err: fmt.Errorf("after %d attempts: %w", maxRetries, lastErr)}
}

func (s *Service) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", url, err)
	}

	s.logger.Debug("index request", slog.String("url", url))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("requesting %s: %w", url, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &retryableError{err: fmt.Errorf("server error %d from %s", resp.StatusCode, url)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("reading response from %s: %w", url, err)}
	}

	return body, nil
}

// selectHash picks the preferred content hash from a digest map, in
// sha256 > sha1 > md5 order.
func selectHash(filename string, digests map[string]string) (alg, val string, err error) {
	for _, alg := range distinfo.HashAlgorithms {
		if val := digests[alg]; val != "" {
			return alg, val, nil
		}
	}

	return "", "", &UnsupportedHashError{Filename: filename}
}

// typeAllowed reports whether a package type is in the caller's allowed
// set.
func (s *Service) typeAllowed(pt distinfo.PackageType) bool {
	for _, allowed := range s.packageTypes {
		if pt == allowed {
			return true
		}
	}

	return false
}

