package resolver

import (
	"fmt"
	"io"
	"strings"
)

// TopoSort flattens a resolved tree into install order: each live
// candidate appears exactly once (names are unique among live
// candidates), and every dependency precedes its dependents.
func TopoSort(roots []*Requirement) []*Candidate {
	seen := make(map[string]bool)

	return topoSort(roots, seen)
}

func topoSort(requirements []*Requirement, seen map[string]bool) []*Candidate {
	var out []*Candidate

	for _, requirement := range requirements {
		for _, candidate := range requirement.Candidates {
			if !candidate.Live || seen[candidate.Info.Name] {
				continue
			}

			seen[candidate.Info.Name] = true

			// Dependencies first.
			out = append(out, topoSort(candidate.Requirements, seen)...)
			out = append(out, candidate)
		}
	}

	return out
}

// Graph renders the live tree, one indented line per candidate.
func Graph(w io.Writer, roots []*Requirement) {
	graph(w, roots, 0)
}

func graph(w io.Writer, requirements []*Requirement, depth int) {
	for _, requirement := range requirements {
		for _, candidate := range requirement.Candidates {
			if !candidate.Live {
				continue
			}

			fmt.Fprintf(w, "%s%s: %s [%s]\n",
				strings.Repeat(" ", depth*2),
				requirement.Info, candidate.Info.Version, candidate.Info.PackageType)
			graph(w, candidate.Requirements, depth+1)
		}
	}
}
