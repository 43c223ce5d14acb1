package resolver

import (
	"fmt"
	"strings"
)

// CircularDependencyError is raised when a dependency chain revisits a
// name. Chain lists requirement names from the newly discovered
// requirement up through its ancestors to the requirement that shares
// its name.
type CircularDependencyError struct {
	Chain []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency: %s", strings.Join(e.Chain, " -> "))
}

// ConflictError is raised when the intersection of live specifiers for a
// name admits no candidate. Both dependency chains are reported
// root-first.
type ConflictError struct {
	Name          string
	NewChain      []string
	ExistingChain []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("requirement conflict on %s: %s conflicts with %s",
		e.Name, strings.Join(e.NewChain, " -> "), strings.Join(e.ExistingChain, " -> "))
}
