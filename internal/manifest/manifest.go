// Package manifest reads the package.json manifest: index sources, the
// default requirement set, and named extras sets. The document is JSON
// with # and // comments permitted outside string literals. Requirement
// values are either a bare string (version specifier, VCS URL, or path)
// or an object carrying specifier, extras, and marker.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/alexbecker/dotlock/internal/distinfo"
)

// Manifest is a parsed package.json.
type Manifest struct {
	Sources []string
	Default []distinfo.RequirementInfo
	Extras  map[string][]distinfo.RequirementInfo

	// ExtraNames preserves the declaration order of the extras sets.
	ExtraNames []string
}

// requirementValue is the object form of a requirement entry.
type requirementValue struct {
	Specifier string   `json:"specifier"`
	Extras    []string `json:"extras"`
	Marker    string   `json:"marker"`
}

type rawManifest struct {
	Sources []string                   `json:"sources"`
	Default json.RawMessage            `json:"default"`
	Extras  map[string]json.RawMessage `json:"extras"`
}

// Load reads and parses a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return m, nil
}

// Parse parses manifest contents.
func Parse(data []byte) (*Manifest, error) {
	stripped := []byte(StripComments(string(data)))

	var raw rawManifest
	if err := json.Unmarshal(stripped, &raw); err != nil {
		return nil, err
	}

	if len(raw.Sources) == 0 {
		return nil, fmt.Errorf("manifest declares no sources")
	}

	m := &Manifest{
		Sources: raw.Sources,
		Extras:  make(map[string][]distinfo.RequirementInfo),
	}

	var err error

	if raw.Default != nil {
		m.Default, err = parseRequirements(raw.Default)
		if err != nil {
			return nil, fmt.Errorf("default requirements: %w", err)
		}
	}

	extraNames, err := objectKeys(bytesOrEmptyObject(extrasRaw(stripped)))
	if err != nil {
		return nil, err
	}

	for _, name := range extraNames {
		reqs, err := parseRequirements(raw.Extras[name])
		if err != nil {
			return nil, fmt.Errorf("extras %q: %w", name, err)
		}

		m.Extras[name] = reqs
		m.ExtraNames = append(m.ExtraNames, name)
	}

	return m, nil
}

// parseRequirements decodes a requirement object preserving declaration
// order.
func parseRequirements(raw json.RawMessage) ([]distinfo.RequirementInfo, error) {
	names, err := objectKeys(raw)
	if err != nil {
		return nil, err
	}

	var values map[string]json.RawMessage
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}

	infos := make([]distinfo.RequirementInfo, 0, len(names))

	for _, name := range names {
		info, err := parseRequirement(name, values[name])
		if err != nil {
			return nil, err
		}

		infos = append(infos, info)
	}

	return infos, nil
}

func parseRequirement(name string, raw json.RawMessage) (distinfo.RequirementInfo, error) {
	var value string
	if err := json.Unmarshal(raw, &value); err == nil {
		return distinfo.ParseRequirementValue(name, value), nil
	}

	var obj requirementValue
	if err := json.Unmarshal(raw, &obj); err != nil {
		return distinfo.RequirementInfo{}, fmt.Errorf("requirement %q: %w", name, err)
	}

	if obj.Specifier == "" {
		obj.Specifier = "*"
	}

	info := distinfo.ParseRequirementValue(name, obj.Specifier)
	info.Extras = distinfo.JoinExtras(obj.Extras)
	info.Marker = obj.Marker

	return info, nil
}

// objectKeys lists a JSON object's keys in document order, which the
// resolver uses as its deterministic iteration order.
func objectKeys(raw json.RawMessage) ([]string, error) {
	if raw == nil {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected a JSON object, got %v", tok)
	}

	var keys []string

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		keys = append(keys, tok.(string))

		// Skip the value.
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}

	return keys, nil
}

// extrasRaw pulls the raw extras object back out of the document so its
// key order survives.
func extrasRaw(doc []byte) json.RawMessage {
	var probe struct {
		Extras json.RawMessage `json:"extras"`
	}

	if err := json.Unmarshal(doc, &probe); err != nil {
		return nil
	}

	return probe.Extras
}

func bytesOrEmptyObject(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return json.RawMessage(`{}`)
	}

	return raw
}
