// Package distinfo defines the value types shared by the index client,
// the metadata cache, and the resolver: requirements, candidates, package
// types and specifier types. RequirementInfo and CandidateInfo are plain
// comparable structs so they can key maps directly.
package distinfo

import (
	"fmt"
	"sort"
	"strings"

	pypi "deps.dev/util/pypi"
)

// PackageType identifies the kind of distribution a candidate is. The
// ordinal order is significant: the resolver breaks version ties by
// preferring the highest package type, which places wheels above sdists
// and sdists above the archaic bdist formats.
type PackageType int

const (
	BdistWininst PackageType = iota + 1
	BdistMsi
	BdistEgg
	BdistRPM
	SdistType
	BdistWheel
	VCSType
	LocalType
)

var packageTypeNames = map[PackageType]string{
	BdistWininst: "bdist_wininst",
	BdistMsi:     "bdist_msi",
	BdistEgg:     "bdist_egg",
	SdistType:    "sdist",
	BdistRPM:     "bdist_rpm",
	BdistWheel:   "bdist_wheel",
	VCSType:      "vcs",
	LocalType:    "local",
}

// String returns the wire name of the package type ("bdist_wheel", "sdist", ...).
func (p PackageType) String() string {
	if name, ok := packageTypeNames[p]; ok {
		return name
	}

	return fmt.Sprintf("package_type(%d)", int(p))
}

// ParsePackageType maps a wire name back to a PackageType.
func ParsePackageType(name string) (PackageType, error) {
	for pt, n := range packageTypeNames {
		if n == name {
			return pt, nil
		}
	}

	return 0, fmt.Errorf("unknown package type %q", name)
}

// SpecifierType distinguishes the three forms a requirement value can take.
type SpecifierType int

const (
	SpecifierVersion SpecifierType = iota + 1
	SpecifierVCS
	SpecifierPath
)

var specifierTypeNames = map[SpecifierType]string{
	SpecifierVersion: "version",
	SpecifierVCS:     "vcs",
	SpecifierPath:    "path",
}

func (s SpecifierType) String() string {
	if name, ok := specifierTypeNames[s]; ok {
		return name
	}

	return fmt.Sprintf("specifier_type(%d)", int(s))
}

// RequirementInfo identifies a desired package and its constraint. The
// Specifier field holds a PEP 440 specifier set for SpecifierVersion
// (empty means unconstrained), a <scheme>+<url>[@rev] URL for
// SpecifierVCS, or a filesystem path for SpecifierPath. Extras is a
// comma-joined canonical list so the struct stays comparable.
type RequirementInfo struct {
	Name          string
	SpecifierType SpecifierType
	Specifier     string
	Extras        string
	Marker        string
}

// ExtrasList splits the comma-joined extras into a slice. Returns nil for
// no extras.
func (r RequirementInfo) ExtrasList() []string {
	return SplitExtras(r.Extras)
}

// String renders the requirement the way the lock-file error messages
// display it: name[extras] (specifier; marker).
func (r RequirementInfo) String() string {
	result := r.Name
	if r.Extras != "" {
		result += "[" + r.Extras + "]"
	}

	spec := r.Specifier
	if r.SpecifierType == SpecifierVersion && spec == "" {
		spec = "*"
	}

	if r.Marker != "" {
		spec += "; " + r.Marker
	}

	return result + " (" + spec + ")"
}

// CandidateInfo is a concrete distribution that could satisfy a
// requirement. Version is empty for vcs and local candidates. Location is
// a download URL for remote distributions, a repository URL for vcs, or a
// filesystem path for local candidates.
type CandidateInfo struct {
	Name        string
	Version     string
	PackageType PackageType
	Source      string
	Location    string
	HashAlg     string
	HashVal     string
}

func (c CandidateInfo) String() string {
	return fmt.Sprintf("%s %s [%s]", c.Name, c.Version, c.PackageType)
}

// HashAlgorithms lists the acceptable content hash algorithms in
// preference order.
var HashAlgorithms = []string{"sha256", "sha1", "md5"}

// CanonicalName normalizes a package name per PEP 503.
func CanonicalName(name string) string {
	return pypi.CanonPackageName(name)
}

// JoinExtras canonicalizes a list of extras into the comma-joined form
// stored on RequirementInfo and Candidate: trimmed, lowercased, sorted,
// deduplicated.
func JoinExtras(extras []string) string {
	seen := make(map[string]bool, len(extras))

	var out []string

	for _, e := range extras {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || seen[e] {
			continue
		}

		seen[e] = true

		out = append(out, e)
	}

	sort.Strings(out)

	return strings.Join(out, ",")
}

// SplitExtras is the inverse of JoinExtras. Returns nil for the empty
// string.
func SplitExtras(extras string) []string {
	if extras == "" {
		return nil
	}

	return strings.Split(extras, ",")
}

// ParseRequirementValue parses the right-hand side of a manifest
// requirement entry. "*" and valid PEP 440 specifier sets produce version
// requirements, <scheme>+<url> values with a known VCS scheme produce vcs
// requirements, and anything else falls through to a path requirement.
// The parse never fails.
func ParseRequirementValue(name, value string) RequirementInfo {
	name = CanonicalName(name)

	if value == "*" {
		return RequirementInfo{Name: name, SpecifierType: SpecifierVersion}
	}

	for _, scheme := range []string{"git+", "hg+", "svn+"} {
		if strings.HasPrefix(value, scheme) {
			return RequirementInfo{Name: name, SpecifierType: SpecifierVCS, Specifier: value}
		}
	}

	if err := ValidateSpecifier(value); err == nil {
		return RequirementInfo{Name: name, SpecifierType: SpecifierVersion, Specifier: value}
	}

	return RequirementInfo{Name: name, SpecifierType: SpecifierPath, Specifier: value}
}

// ParseRequiresDist parses Requires-Dist style requirement lines (PEP 508)
// into RequirementInfos, preserving extras and markers.
func ParseRequiresDist(lines []string) ([]RequirementInfo, error) {
	infos := make([]RequirementInfo, 0, len(lines))

	for _, line := range lines {
		dep, err := pypi.ParseDependency(line)
		if err != nil {
			return nil, fmt.Errorf("parsing requirement %q: %w", line, err)
		}

		infos = append(infos, RequirementInfo{
			Name:          dep.Name,
			SpecifierType: SpecifierVersion,
			Specifier:     dep.Constraint,
			Extras:        JoinExtras(strings.Split(dep.Extras, ",")),
			Marker:        dep.Environment,
		})
	}

	return infos, nil
}
