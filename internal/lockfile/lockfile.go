// Package lockfile serializes a resolution into package.lock.json: the
// environment tag tuple it was produced under, plus topologically
// ordered candidate lists for the default set and each extra. Loading
// verifies the recorded tuple against the current environment.
package lockfile

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/alexbecker/dotlock/internal/distinfo"
	"github.com/alexbecker/dotlock/internal/pyenv"
	"github.com/alexbecker/dotlock/internal/resolver"
)

// DefaultPath is the lock filename written next to the manifest.
const DefaultPath = "package.lock.json"

// EnvironmentMismatchError is raised when a lock file's recorded tag
// tuple differs from the current environment.
type EnvironmentMismatchError struct {
	Key    string
	Locked string
	Env    string
}

func (e *EnvironmentMismatchError) Error() string {
	return fmt.Sprintf("lock environment mismatch on %s: locked %q, environment %q",
		e.Key, e.Locked, e.Env)
}

// Candidate is one locked distribution.
type Candidate struct {
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	PackageType string `json:"package_type"`
	Source      string `json:"source,omitempty"`
	Location    string `json:"location"`
	HashAlg     string `json:"hash_alg,omitempty"`
	HashVal     string `json:"hash_val,omitempty"`
}

// Lock is the full lock document.
type Lock struct {
	Python     string                 `json:"python"`
	ABI        string                 `json:"abi"`
	Platform   string                 `json:"platform"`
	Manylinux1 bool                   `json:"manylinux1"`
	Default    []Candidate            `json:"default"`
	Extras     map[string][]Candidate `json:"extras"`
}

// CandidateList flattens a resolved requirement list into lock order.
func CandidateList(requirements []*resolver.Requirement) []Candidate {
	flat := resolver.TopoSort(requirements)

	out := make([]Candidate, 0, len(flat))
	for _, c := range flat {
		out = append(out, fromInfo(c.Info))
	}

	return out
}

func fromInfo(info distinfo.CandidateInfo) Candidate {
	return Candidate{
		Name:        info.Name,
		Version:     info.Version,
		PackageType: info.PackageType.String(),
		Source:      info.Source,
		Location:    info.Location,
		HashAlg:     info.HashAlg,
		HashVal:     info.HashVal,
	}
}

// Build assembles the lock document for a resolution.
func Build(tags pyenv.Tags, defaultReqs []*resolver.Requirement, extras map[string][]*resolver.Requirement) *Lock {
	lock := &Lock{
		Python:     tags.ImplTag(),
		ABI:        tags.ABI,
		Platform:   tags.Platform,
		Manylinux1: tags.Manylinux1,
		Default:    CandidateList(defaultReqs),
		Extras:     make(map[string][]Candidate, len(extras)),
	}

	for name, reqs := range extras {
		lock.Extras[name] = CandidateList(reqs)
	}

	return lock
}

// Write dumps the lock document to path.
func (l *Lock) Write(path string) error {
	data, err := json.MarshalIndent(l, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding lock: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}

// Load reads a lock document and verifies it targets the current
// environment.
func Load(path string, tags pyenv.Tags) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	if lock.Python != tags.ImplTag() {
		return nil, &EnvironmentMismatchError{Key: "python", Locked: lock.Python, Env: tags.ImplTag()}
	}

	if lock.ABI != tags.ABI {
		return nil, &EnvironmentMismatchError{Key: "abi", Locked: lock.ABI, Env: tags.ABI}
	}

	if lock.Platform != tags.Platform {
		return nil, &EnvironmentMismatchError{Key: "platform", Locked: lock.Platform, Env: tags.Platform}
	}

	if lock.Manylinux1 != tags.Manylinux1 {
		return nil, &EnvironmentMismatchError{
			Key:    "manylinux1",
			Locked: fmt.Sprintf("%t", lock.Manylinux1),
			Env:    fmt.Sprintf("%t", tags.Manylinux1),
		}
	}

	return &lock, nil
}

// Merge combines candidate lists (default plus any requested extras)
// into one install list, keeping the first occurrence of each name.
func Merge(lists ...[]Candidate) []Candidate {
	var out []Candidate

	seen := make(map[string]bool)

	for _, list := range lists {
		for _, c := range list {
			if seen[c.Name] {
				continue
			}

			seen[c.Name] = true

			out = append(out, c)
		}
	}

	return out
}
