// Package vcs checks out version-control repositories so their working
// trees can be introspected like unpacked sdists. URLs take the form
// <scheme>+<url>[@revision] with scheme one of git, hg, svn.
package vcs

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path"
	"strings"
)

// CloneError is raised when a clone or checkout subprocess exits
// non-zero.
type CloneError struct {
	URL string
	Err error
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("clone failed for %s: %v", e.URL, e.Err)
}

func (e *CloneError) Unwrap() error { return e.Err }

// CommandRunner executes a command in a working directory.
type CommandRunner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// Option configures a Service.
type Option func(*Service)

// WithCommandRunner sets the command runner for clone subprocesses.
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

// Service clones repositories with the scheme-appropriate tool.
type Service struct {
	runCmd CommandRunner
	logger *slog.Logger
}

// New creates a VCS service.
func New(opts ...Option) *Service {
	s := &Service{
		runCmd: func(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Dir = dir

			return cmd.CombinedOutput()
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Spec is a parsed VCS URL.
type Spec struct {
	Scheme   string // git, hg, svn
	URL      string
	Revision string // empty for the default branch
}

// Parse splits a <scheme>+<url>[@revision] value.
func Parse(vcsURL string) (Spec, error) {
	scheme, rest, found := strings.Cut(vcsURL, "+")
	if !found {
		return Spec{}, fmt.Errorf("invalid VCS URL %q: missing + separator", vcsURL)
	}

	switch scheme {
	case "git", "hg", "svn":
	default:
		return Spec{}, fmt.Errorf("unsupported VCS scheme %q", scheme)
	}

	spec := Spec{Scheme: scheme, URL: rest}

	// A revision follows the last @, but an @ may also appear in
	// user@host URLs; only split on one after the final path slash.
	if at := strings.LastIndex(rest, "@"); at > strings.LastIndex(rest, "/") {
		spec.URL = rest[:at]
		spec.Revision = rest[at+1:]
	}

	return spec, nil
}

// CloneDirName derives the directory a clone of the URL lands in.
func (s Spec) CloneDirName() string {
	base := path.Base(s.URL)

	return strings.TrimSuffix(base, path.Ext(base))
}

// command builds the scheme-appropriate clone/checkout invocation.
func (s Spec) command() []string {
	if s.Revision != "" {
		switch s.Scheme {
		case "git":
			return []string{"git", "clone", "--branch", s.Revision, s.URL}
		case "hg":
			return []string{"hg", "clone", "-r", s.Revision, s.URL}
		case "svn":
			return []string{"svn", "checkout", "-r", s.Revision, s.URL}
		}
	}

	switch s.Scheme {
	case "git":
		return []string{"git", "clone", s.URL}
	case "hg":
		return []string{"hg", "clone", s.URL}
	default:
		return []string{"svn", "checkout", s.URL}
	}
}

// Clone checks out vcsURL under workDir and returns the working tree
// path.
func (s *Service) Clone(ctx context.Context, vcsURL, workDir string) (string, error) {
	spec, err := Parse(vcsURL)
	if err != nil {
		return "", err
	}

	args := spec.command()

	s.logger.Debug("cloning repository",
		slog.String("url", spec.URL),
		slog.String("revision", spec.Revision),
	)

	if _, err := s.runCmd(ctx, workDir, args[0], args[1:]...); err != nil {
		return "", &CloneError{URL: vcsURL, Err: err}
	}

	return path.Join(workDir, spec.CloneDirName()), nil
}
