// ==============================================================================================
// FILE: types/diagnostics.go
// ==============================================================================================
// PACKAGE: types
// PURPOSE: Source positions and the diagnostic accumulator shared by parser and analyzer.
//          Backed by hashicorp/go-multierror so each phase can collect all of its errors and
//          fail-stop once at the phase boundary.
// ==============================================================================================

package types

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Position is a 1-based line/column pair, matching token.Token's Line/Column fields.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Diagnostic is a single user-facing error, tied to a source position.
type Diagnostic struct {
	Pos     Position
	Message string
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("line %s - %s", d.Pos, d.Message)
}

// Diagnostics accumulates fatal user errors for one compiler phase. The zero value is ready
// to use. Add never panics; HasErrors/Err are checked once at the phase boundary.
type Diagnostics struct {
	errs *multierror.Error
}

// Add records a diagnostic at pos, formatted like fmt.Sprintf.
func (d *Diagnostics) Add(pos Position, format string, args ...interface{}) {
	d.errs = multierror.Append(d.errs, Diagnostic{Pos: pos, Message: fmt.Sprintf(format, args...)})
}

// HasErrors reports whether any diagnostic was recorded.
func (d *Diagnostics) HasErrors() bool {
	return d.errs != nil && d.errs.Len() > 0
}

// Err returns the accumulated error, or nil if no diagnostic was recorded.
func (d *Diagnostics) Err() error {
	if !d.HasErrors() {
		return nil
	}
	return d.errs.ErrorOrNil()
}

// List returns the individual diagnostics collected so far.
func (d *Diagnostics) List() []Diagnostic {
	if d.errs == nil {
		return nil
	}
	out := make([]Diagnostic, 0, len(d.errs.Errors))
	for _, e := range d.errs.Errors {
		if diag, ok := e.(Diagnostic); ok {
			out = append(out, diag)
		}
	}
	return out
}
