package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alexbecker/dotlock/internal/distinfo"
	"github.com/alexbecker/dotlock/internal/manifest"
)

const testManifest = `{
	// Comments are allowed outside strings.
	"sources": ["https://pypi.org/pypi"],
	"default": {
		"requests": ">=2.0,<3.0",  # trailing comments too
		"attrs": "*",
		"flask": {
			"specifier": ">=1.0",
			"extras": ["dotenv"],
			"marker": "python_version >= \"3.5\""
		},
		"my-lib": "git+https://github.com/example/my-lib@v2",
		"local-pkg": "./pkg  # not a comment"
	},
	"extras": {
		"dev": {
			"mypy": "*"
		},
		"docs": {
			"sphinx": ">=1.8"
		}
	}
}`

func TestParse(t *testing.T) {
	m, err := manifest.Parse([]byte(testManifest))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if len(m.Sources) != 1 || m.Sources[0] != "https://pypi.org/pypi" {
		t.Errorf("sources = %v", m.Sources)
	}

	if len(m.Default) != 5 {
		t.Fatalf("default requirements = %d, want 5", len(m.Default))
	}

	// Declaration order is preserved.
	wantOrder := []string{"requests", "attrs", "flask", "my-lib", "local-pkg"}
	for i, want := range wantOrder {
		if m.Default[i].Name != want {
			t.Errorf("default[%d] = %q, want %q", i, m.Default[i].Name, want)
		}
	}

	requests := m.Default[0]
	if requests.SpecifierType != distinfo.SpecifierVersion || requests.Specifier != ">=2.0,<3.0" {
		t.Errorf("requests = %+v", requests)
	}

	attrs := m.Default[1]
	if attrs.Specifier != "" {
		t.Errorf("wildcard specifier = %q, want unconstrained", attrs.Specifier)
	}

	flask := m.Default[2]
	if flask.Extras != "dotenv" || flask.Marker != `python_version >= "3.5"` || flask.Specifier != ">=1.0" {
		t.Errorf("flask = %+v", flask)
	}

	myLib := m.Default[3]
	if myLib.SpecifierType != distinfo.SpecifierVCS {
		t.Errorf("my-lib = %+v", myLib)
	}

	localPkg := m.Default[4]
	if localPkg.SpecifierType != distinfo.SpecifierPath || localPkg.Specifier != "./pkg  # not a comment" {
		t.Errorf("local-pkg = %+v", localPkg)
	}
}

func TestParseExtras(t *testing.T) {
	m, err := manifest.Parse([]byte(testManifest))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if len(m.ExtraNames) != 2 || m.ExtraNames[0] != "dev" || m.ExtraNames[1] != "docs" {
		t.Errorf("extra names = %v", m.ExtraNames)
	}

	dev := m.Extras["dev"]
	if len(dev) != 1 || dev[0].Name != "mypy" || dev[0].Specifier != "" {
		t.Errorf("dev extras = %+v", dev)
	}
}

func TestParseRequiresSources(t *testing.T) {
	if _, err := manifest.Parse([]byte(`{"default": {}}`)); err == nil {
		t.Error("expected error for manifest without sources")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "package.json")
	if err := os.WriteFile(path, []byte(testManifest), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := manifest.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if len(m.Default) != 5 {
		t.Errorf("default requirements = %d", len(m.Default))
	}
}

func TestStripComments(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a": 1} // trailing`, `{"a": 1} `},
		{`# whole line`, ``},
		{`{"url": "https://example.org/#frag"}`, `{"url": "https://example.org/#frag"}`},
		{`{"s": "slash // inside"}`, `{"s": "slash // inside"}`},
		{`{"esc": "quote \" then"} # comment`, `{"esc": "quote \" then"} `},
	}

	for _, tt := range tests {
		if got := manifest.StripComments(tt.in); got != tt.want {
			t.Errorf("StripComments(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
