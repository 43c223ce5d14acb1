package pyenv

import (
	"fmt"
	"strconv"
	"strings"
)

// Tag is a single PEP 425 compatibility triple as encoded in wheel
// filenames.
type Tag struct {
	Python   string
	ABI      string
	Platform string
}

func (t Tag) String() string {
	return fmt.Sprintf("%s-%s-%s", t.Python, t.ABI, t.Platform)
}

// TagSet is the set of tags an environment can install.
type TagSet map[Tag]bool

// Contains reports whether any expansion of a compound tag (fields may
// hold several "."-separated values, e.g. "py2.py3") is in the set.
func (s TagSet) Contains(t Tag) bool {
	for _, py := range strings.Split(t.Python, ".") {
		for _, abi := range strings.Split(t.ABI, ".") {
			for _, plat := range strings.Split(t.Platform, ".") {
				if s[Tag{py, abi, plat}] {
					return true
				}
			}
		}
	}

	return false
}

// Supported expands the tag tuple into the full set of compatibility tags
// the environment accepts, most-specific first. The expansion follows the
// pip pep425tags scheme: current interpreter with its ABI, abi3 wheels
// built for older minors, interpreter-independent wheels per platform,
// and the generic py*-none-any series, with a manylinux1 platform doubling
// when the environment supports it.
func (t Tags) Supported() []Tag {
	major, minors := splitVersion(t.Version)

	// "37", "36", ..., "30"
	var versions []string
	for minor := minors; minor >= 0; minor-- {
		versions = append(versions, fmt.Sprintf("%d%d", major, minor))
	}

	abis := []string{t.ABI}
	if t.Impl == "cp" && major == 3 {
		abis = append(abis, "abi3")
	}

	abis = append(abis, "none")

	arches := []string{t.Platform}
	if t.Manylinux1 {
		arches = []string{strings.Replace(t.Platform, "linux", "manylinux1", 1), t.Platform}
	}

	var supported []Tag

	// Built specifically for this interpreter version.
	for _, abi := range abis {
		for _, arch := range arches {
			supported = append(supported, Tag{t.Impl + versions[0], abi, arch})
		}
	}

	// abi3 wheels built against older minors still load.
	if t.Impl == "cp" && major == 3 {
		for _, version := range versions[1:] {
			if version == "31" || version == "30" {
				break
			}

			for _, arch := range arches {
				supported = append(supported, Tag{t.Impl + version, "abi3", arch})
			}
		}
	}

	// Has binaries but no interpreter ABI.
	for _, arch := range arches {
		supported = append(supported, Tag{fmt.Sprintf("py%d", major), "none", arch})
	}

	// Requires this implementation but no ABI or platform.
	supported = append(supported,
		Tag{t.Impl + versions[0], "none", "any"},
		Tag{fmt.Sprintf("%s%d", t.Impl, major), "none", "any"},
	)

	// Generic python wheels.
	for i, version := range versions {
		supported = append(supported, Tag{"py" + version, "none", "any"})
		if i == 0 {
			supported = append(supported, Tag{fmt.Sprintf("py%d", major), "none", "any"})
		}
	}

	// Universal wheels.
	supported = append(supported, Tag{"py2.py3", "none", "any"})

	return supported
}

// SupportedSet is Supported() as a TagSet for membership checks. Entries
// are stored verbatim: a compound query tag like "py2.py3" matches
// through Contains' expansion, but a py2-only wheel does not match a
// py2.py3 environment entry.
func (t Tags) SupportedSet() TagSet {
	set := make(TagSet)

	for _, tag := range t.Supported() {
		set[tag] = true
	}

	return set
}

func splitVersion(version string) (major, minor int) {
	parts := strings.SplitN(version, ".", 2)

	major, _ = strconv.Atoi(parts[0])
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}

	return major, minor
}
