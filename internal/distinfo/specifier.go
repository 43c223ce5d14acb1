package distinfo

import (
	"fmt"
	"sort"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

// ValidateSpecifier reports whether spec parses as a PEP 440 specifier
// set.
func ValidateSpecifier(spec string) error {
	if _, err := pep440.NewSpecifiers(spec); err != nil {
		return fmt.Errorf("parsing specifier %q: %w", spec, err)
	}

	return nil
}

// MatchesSpecifier reports whether version satisfies spec. An empty spec
// is unconstrained and matches everything. Pre-release versions are
// accepted when the specifier names them.
func MatchesSpecifier(spec, version string) (bool, error) {
	if spec == "" {
		return true, nil
	}

	v, err := pep440.Parse(version)
	if err != nil {
		return false, fmt.Errorf("parsing version %q: %w", version, err)
	}

	ss, err := pep440.NewSpecifiers(spec)
	if err != nil {
		return false, fmt.Errorf("parsing specifier %q: %w", spec, err)
	}

	return ss.Check(v), nil
}

// IntersectSpecifiers combines specifier sets into their conjunction. PEP
// 440 specifier sets are intersections of simple constraints, so the
// combined set is the comma-join of all non-empty inputs.
func IntersectSpecifiers(specs ...string) string {
	var parts []string

	for _, s := range specs {
		if s != "" {
			parts = append(parts, s)
		}
	}

	return strings.Join(parts, ",")
}

// ValidVersion reports whether raw parses as a PEP 440 version.
func ValidVersion(raw string) bool {
	_, err := pep440.Parse(raw)

	return err == nil
}

// CompareVersions orders two version strings per PEP 440. Unparseable
// versions order below any parseable one.
func CompareVersions(a, b string) int {
	av, aerr := pep440.Parse(a)
	bv, berr := pep440.Parse(b)

	switch {
	case aerr != nil && berr != nil:
		return strings.Compare(a, b)
	case aerr != nil:
		return -1
	case berr != nil:
		return 1
	default:
		return av.Compare(bv)
	}
}

// SortCandidates orders candidates best-first: highest version, then
// highest package type ordinal. The sort is stable so candidates that
// compare equal keep their enumeration order.
func SortCandidates(candidates []CandidateInfo) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if cmp := CompareVersions(candidates[i].Version, candidates[j].Version); cmp != 0 {
			return cmp > 0
		}

		return candidates[i].PackageType > candidates[j].PackageType
	})
}
