package catalog

import (
	"fmt"
	"strings"
)

// UnknownDocumentError reports a requested or referenced id missing from the catalog.
type UnknownDocumentError struct {
	ID string
	// ReferencedBy is empty when the id was requested directly.
	ReferencedBy string
}

func (e *UnknownDocumentError) Error() string {
	if e.ReferencedBy == "" {
		return fmt.Sprintf("unknown document %q", e.ID)
	}
	return fmt.Sprintf("unknown document %q (dependency of %q)", e.ID, e.ReferencedBy)
}

// CyclicDependencyError reports a cycle among reachable documents. Cycle starts and ends on the same id.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Cycle, " -> "))
}
