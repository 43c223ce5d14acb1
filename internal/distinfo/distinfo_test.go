package distinfo_test

import (
	"testing"

	"github.com/alexbecker/dotlock/internal/distinfo"
)

func TestParseRequirementValueWildcard(t *testing.T) {
	got := distinfo.ParseRequirementValue("Package", "*")

	want := distinfo.RequirementInfo{
		Name:          "package",
		SpecifierType: distinfo.SpecifierVersion,
	}
	if got != want {
		t.Errorf("ParseRequirementValue() = %+v, want %+v", got, want)
	}
}

func TestParseRequirementValueVersion(t *testing.T) {
	got := distinfo.ParseRequirementValue("package", ">=2.3.4,<=3.0.0")

	want := distinfo.RequirementInfo{
		Name:          "package",
		SpecifierType: distinfo.SpecifierVersion,
		Specifier:     ">=2.3.4,<=3.0.0",
	}
	if got != want {
		t.Errorf("ParseRequirementValue() = %+v, want %+v", got, want)
	}
}

func TestParseRequirementValueVCS(t *testing.T) {
	got := distinfo.ParseRequirementValue("package", "git+https://github.com/python/package@v1.0")

	if got.SpecifierType != distinfo.SpecifierVCS {
		t.Errorf("specifier type = %s, want vcs", got.SpecifierType)
	}

	if got.Specifier != "git+https://github.com/python/package@v1.0" {
		t.Errorf("specifier = %q", got.Specifier)
	}
}

func TestParseRequirementValuePath(t *testing.T) {
	for _, path := range []string{".", "./package", "/home/foo/package"} {
		got := distinfo.ParseRequirementValue("package", path)

		if got.SpecifierType != distinfo.SpecifierPath {
			t.Errorf("ParseRequirementValue(%q) type = %s, want path", path, got.SpecifierType)
		}
	}
}

func TestCanonicalName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Flask", "flask"},
		{"typed_ast", "typed-ast"},
		{"zope.interface", "zope-interface"},
		{"ruamel.yaml.clib", "ruamel-yaml-clib"},
		{"A__b--c..d", "a-b-c-d"},
	}

	for _, tt := range tests {
		if got := distinfo.CanonicalName(tt.in); got != tt.want {
			t.Errorf("CanonicalName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseRequiresDist(t *testing.T) {
	infos, err := distinfo.ParseRequiresDist([]string{
		"attrs (>=17.4.0)",
		`typed-ast (<1.3.0,>=1.2.0); python_version < "3.8"`,
		"requests[security,socks] >=2.0",
	})
	if err != nil {
		t.Fatalf("ParseRequiresDist() error: %v", err)
	}

	if len(infos) != 3 {
		t.Fatalf("expected 3 requirements, got %d", len(infos))
	}

	if infos[0].Name != "attrs" || infos[0].Specifier != ">=17.4.0" {
		t.Errorf("attrs requirement = %+v", infos[0])
	}

	if infos[1].Marker != `python_version < "3.8"` {
		t.Errorf("marker = %q", infos[1].Marker)
	}

	if infos[2].Extras != "security,socks" {
		t.Errorf("extras = %q, want %q", infos[2].Extras, "security,socks")
	}
}

func TestRequirementInfoString(t *testing.T) {
	tests := []struct {
		info distinfo.RequirementInfo
		want string
	}{
		{
			distinfo.RequirementInfo{Name: "attrs", SpecifierType: distinfo.SpecifierVersion},
			"attrs (*)",
		},
		{
			distinfo.RequirementInfo{Name: "attrs", SpecifierType: distinfo.SpecifierVersion, Specifier: ">=17.4.0"},
			"attrs (>=17.4.0)",
		},
		{
			distinfo.RequirementInfo{
				Name:          "requests",
				SpecifierType: distinfo.SpecifierVersion,
				Specifier:     ">=2.0",
				Extras:        "security",
				Marker:        `python_version >= "3.0"`,
			},
			`requests[security] (>=2.0; python_version >= "3.0")`,
		},
	}

	for _, tt := range tests {
		if got := tt.info.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestMatchesSpecifier(t *testing.T) {
	tests := []struct {
		spec    string
		version string
		want    bool
	}{
		{"", "1.0", true},
		{">=1.0,<2", "1.5", true},
		{">=1.0,<2", "2.0", false},
		{"==18.2.0", "18.2.0", true},
		{"~=1.4", "1.5.2", true},
		{"!=1.3", "1.3", false},
	}

	for _, tt := range tests {
		got, err := distinfo.MatchesSpecifier(tt.spec, tt.version)
		if err != nil {
			t.Fatalf("MatchesSpecifier(%q, %q) error: %v", tt.spec, tt.version, err)
		}

		if got != tt.want {
			t.Errorf("MatchesSpecifier(%q, %q) = %v, want %v", tt.spec, tt.version, got, tt.want)
		}
	}
}

func TestIntersectSpecifiers(t *testing.T) {
	got := distinfo.IntersectSpecifiers(">=1.3.1", "", "<2.0")
	if got != ">=1.3.1,<2.0" {
		t.Errorf("IntersectSpecifiers() = %q", got)
	}

	if distinfo.IntersectSpecifiers("", "") != "" {
		t.Error("intersection of unconstrained specifiers should stay unconstrained")
	}
}

func TestSortCandidates(t *testing.T) {
	candidates := []distinfo.CandidateInfo{
		{Name: "a", Version: "1.0", PackageType: distinfo.BdistWheel, HashVal: "1"},
		{Name: "a", Version: "1.1", PackageType: distinfo.SdistType, HashVal: "2"},
		{Name: "a", Version: "1.1", PackageType: distinfo.BdistWheel, HashVal: "3"},
		{Name: "a", Version: "2.0", PackageType: distinfo.BdistWheel, HashVal: "4"},
	}

	distinfo.SortCandidates(candidates)

	wantOrder := []string{"4", "3", "2", "1"}
	for i, want := range wantOrder {
		if candidates[i].HashVal != want {
			t.Fatalf("position %d = %+v, want hash %s", i, candidates[i], want)
		}
	}
}

func TestJoinExtras(t *testing.T) {
	if got := distinfo.JoinExtras([]string{"Socks", "security", "socks", " "}); got != "security,socks" {
		t.Errorf("JoinExtras() = %q", got)
	}

	if got := distinfo.JoinExtras(nil); got != "" {
		t.Errorf("JoinExtras(nil) = %q", got)
	}
}

func TestPackageTypeRoundTrip(t *testing.T) {
	for _, pt := range []distinfo.PackageType{
		distinfo.BdistWheel, distinfo.SdistType, distinfo.VCSType, distinfo.LocalType,
	} {
		parsed, err := distinfo.ParsePackageType(pt.String())
		if err != nil {
			t.Fatalf("ParsePackageType(%q) error: %v", pt, err)
		}

		if parsed != pt {
			t.Errorf("round trip %s != %s", parsed, pt)
		}
	}

	if _, err := distinfo.ParsePackageType("bdist_unknown"); err == nil {
		t.Error("expected error for unknown package type")
	}
}
