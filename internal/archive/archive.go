// Package archive extracts declared requirements from distribution
// archives: wheel METADATA, sdist metadata, and unpacked local trees.
// Remote archives are downloaded into scoped temporary directories that
// are removed on every exit path. Sdist introspection first tries the
// static metadata shipped in the archive; only when the package declares
// its dependencies in setup.py does it fall back to partially evaluating
// the build script in an isolated python subprocess. That subprocess is
// the security boundary for untrusted build scripts: the parent only
// reads a single line of JSON from it.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"time"

	"github.com/alexbecker/dotlock/internal/distinfo"
)

// Introspector is the interface the metadata façade consumes.
type Introspector interface {
	// WheelRequirements downloads a wheel and parses its METADATA.
	WheelRequirements(ctx context.Context, candidate distinfo.CandidateInfo) ([]distinfo.RequirementInfo, error)
	// SdistRequirements downloads a source archive and extracts its
	// declared install requirements.
	SdistRequirements(ctx context.Context, candidate distinfo.CandidateInfo) ([]distinfo.RequirementInfo, error)
	// LocalRequirements introspects an unpacked package tree.
	LocalRequirements(ctx context.Context, name, dir string) ([]distinfo.RequirementInfo, error)
}

// NameMismatchError is raised when an archive or build script reports a
// package name other than the candidate's.
type NameMismatchError struct {
	Expected string
	Actual   string
}

func (e *NameMismatchError) Error() string {
	return fmt.Sprintf("package name mismatch: archive declares %s, candidate is %s", e.Actual, e.Expected)
}

// HashMismatchError is raised when downloaded bytes disagree with the
// recorded content hash.
type HashMismatchError struct {
	Name     string
	Version  string
	Expected string
	Actual   string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for %s %s: %s (actual) != %s (expected)",
		e.Name, e.Version, e.Actual, e.Expected)
}

// CommandRunner executes a command in a working directory and returns
// its standard output.
type CommandRunner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient sets the HTTP client used for archive downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithPythonBin sets the python binary used for build-script
// introspection. Defaults to "python3".
func WithPythonBin(bin string) Option {
	return func(s *Service) {
		if bin != "" {
			s.pythonBin = bin
		}
	}
}

// WithCommandRunner sets the command runner for the introspection
// subprocess.
func WithCommandRunner(fn CommandRunner) Option {
	return func(s *Service) {
		if fn != nil {
			s.runCmd = fn
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

// Service downloads and introspects archives.
type Service struct {
	httpClient *http.Client
	pythonBin  string
	runCmd     CommandRunner
	logger     *slog.Logger
}

// compile-time proof that Service implements Introspector.
var _ Introspector = (*Service)(nil)

// New creates an archive introspector.
func New(opts ...Option) *Service {
	s := &Service{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		pythonBin:  "python3",
		runCmd:     defaultRunCmd,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func defaultRunCmd(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	return cmd.Output()
}
