package merge

import (
	"fmt"
	"strings"
)

// Input roles, used to name the offending table in errors and logs.
const (
	RoleRNASeq    = "rnaseq"
	RoleSpectral  = "spectral"
	RoleFieldbook = "fieldbook"
)

// InputReadError reports an input that is missing, unreadable or not
// well-formed CSV, including non-numeric value cells.
type InputReadError struct {
	Role     string
	Location string
	Err      error
}

func (e *InputReadError) Error() string {
	return fmt.Sprintf("read %s input %s: %v", e.Role, e.Location, e.Err)
}

func (e *InputReadError) Unwrap() error { return e.Err }

// SchemaError reports a structural mismatch: an absent key or declared
// column, a duplicate key, or an orientation that cannot be resolved.
type SchemaError struct {
	Role     string
	Location string
	Column   string
	Reason   string
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema error in %s input", e.Role)
	if e.Location != "" {
		fmt.Fprintf(&b, " %s", e.Location)
	}
	if e.Column != "" {
		fmt.Fprintf(&b, ": column %q", e.Column)
	}
	fmt.Fprintf(&b, ": %s", e.Reason)
	return b.String()
}

// WriteError reports a failure to store one output table.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
