package vcs_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/alexbecker/dotlock/internal/vcs"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want vcs.Spec
	}{
		{
			"git+https://github.com/python/attrs",
			vcs.Spec{Scheme: "git", URL: "https://github.com/python/attrs"},
		},
		{
			"git+https://github.com/python/attrs@18.2.0",
			vcs.Spec{Scheme: "git", URL: "https://github.com/python/attrs", Revision: "18.2.0"},
		},
		{
			"hg+https://bitbucket.org/foo/bar@tip",
			vcs.Spec{Scheme: "hg", URL: "https://bitbucket.org/foo/bar", Revision: "tip"},
		},
		{
			"svn+https://svn.example.org/repo",
			vcs.Spec{Scheme: "svn", URL: "https://svn.example.org/repo"},
		},
		{
			// An @ in the authority must not be taken for a revision.
			"git+ssh://git@github.com/python/attrs.git",
			vcs.Spec{Scheme: "git", URL: "ssh://git@github.com/python/attrs.git"},
		},
	}

	for _, tt := range tests {
		got, err := vcs.Parse(tt.in)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", tt.in, err)
		}

		if got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"https://github.com/python/attrs", "cvs+https://example.org/repo"} {
		if _, err := vcs.Parse(in); err == nil {
			t.Errorf("Parse(%q) should fail", in)
		}
	}
}

func TestCloneDirName(t *testing.T) {
	spec, err := vcs.Parse("git+https://github.com/python/attrs.git@stable")
	if err != nil {
		t.Fatal(err)
	}

	if got := spec.CloneDirName(); got != "attrs" {
		t.Errorf("CloneDirName() = %q, want %q", got, "attrs")
	}
}

func TestCloneCommand(t *testing.T) {
	var gotArgs []string

	svc := vcs.New(vcs.WithCommandRunner(
		func(_ context.Context, _, name string, args ...string) ([]byte, error) {
			gotArgs = append([]string{name}, args...)

			return nil, nil
		},
	))

	dir, err := svc.Clone(context.Background(), "git+https://github.com/python/attrs@18.2.0", "/tmp/work")
	if err != nil {
		t.Fatalf("Clone() error: %v", err)
	}

	want := "git clone --branch 18.2.0 https://github.com/python/attrs"
	if strings.Join(gotArgs, " ") != want {
		t.Errorf("command = %q, want %q", strings.Join(gotArgs, " "), want)
	}

	if dir != "/tmp/work/attrs" {
		t.Errorf("clone dir = %q", dir)
	}
}

func TestCloneFailure(t *testing.T) {
	svc := vcs.New(vcs.WithCommandRunner(
		func(context.Context, string, string, ...string) ([]byte, error) {
			return nil, fmt.Errorf("exit status 128")
		},
	))

	_, err := svc.Clone(context.Background(), "git+https://github.com/python/attrs", t.TempDir())

	var cloneErr *vcs.CloneError
	if !errors.As(err, &cloneErr) {
		t.Fatalf("expected CloneError, got %v", err)
	}
}
