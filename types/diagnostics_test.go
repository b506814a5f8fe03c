package types

import "testing"

func TestDiagnosticsAccumulatesAllErrors(t *testing.T) {
	var d Diagnostics
	d.Add(Position{Line: 1, Column: 2}, "unknown builtin %q", "foo")
	d.Add(Position{Line: 3, Column: 4}, "map arity mismatch")

	if !d.HasErrors() {
		t.Fatalf("expected HasErrors to be true")
	}
	list := d.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 diagnostics, got %d", len(list))
	}
	if list[0].Message != `unknown builtin "foo"` {
		t.Fatalf("unexpected message: %s", list[0].Message)
	}
	if d.Err() == nil {
		t.Fatalf("expected non-nil Err()")
	}
}

func TestEmptyDiagnosticsHasNoError(t *testing.T) {
	var d Diagnostics
	if d.HasErrors() {
		t.Fatalf("expected no errors on zero value")
	}
	if d.Err() != nil {
		t.Fatalf("expected nil Err() on zero value")
	}
}
