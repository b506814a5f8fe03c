package ast

import (
	"testing"

	"bpftrace/token"
	"bpftrace/types"
)

// countingVisitor records which Visit method fired, descending into children
// itself exactly as real visitors (printer, analyzer, codegen) must.
type countingVisitor struct {
	visited []string
}

func (c *countingVisitor) VisitProgram(p *Program) {
	c.visited = append(c.visited, "Program")
	for _, pr := range p.Probes {
		Walk(pr, c)
	}
}
func (c *countingVisitor) VisitInclude(*Include)       { c.visited = append(c.visited, "Include") }
func (c *countingVisitor) VisitStructDecl(*StructDecl) { c.visited = append(c.visited, "StructDecl") }
func (c *countingVisitor) VisitProbe(p *Probe) {
	c.visited = append(c.visited, "Probe")
	for _, ap := range p.AttachPoints {
		Walk(ap, c)
	}
	if p.Predicate != nil {
		Walk(p.Predicate, c)
	}
	for _, s := range p.Stmts {
		Walk(s, c)
	}
}
func (c *countingVisitor) VisitAttachPoint(*AttachPoint) {
	c.visited = append(c.visited, "AttachPoint")
}
func (c *countingVisitor) VisitPredicate(p *Predicate) {
	c.visited = append(c.visited, "Predicate")
	Walk(p.Expr, c)
}
func (c *countingVisitor) VisitExprStatement(s *ExprStatement) {
	c.visited = append(c.visited, "ExprStatement")
	Walk(s.Expr, c)
}
func (c *countingVisitor) VisitAssignMap(s *AssignMap) {
	c.visited = append(c.visited, "AssignMap")
	Walk(s.Map, c)
	Walk(s.Expr, c)
}
func (c *countingVisitor) VisitAssignVar(s *AssignVar) {
	c.visited = append(c.visited, "AssignVar")
	Walk(s.Var, c)
	Walk(s.Expr, c)
}
func (c *countingVisitor) VisitInteger(*Integer) { c.visited = append(c.visited, "Integer") }
func (c *countingVisitor) VisitString(*String)   { c.visited = append(c.visited, "String") }
func (c *countingVisitor) VisitBuiltin(*Builtin) { c.visited = append(c.visited, "Builtin") }
func (c *countingVisitor) VisitCall(call *Call) {
	c.visited = append(c.visited, "Call")
	for _, a := range call.Args {
		Walk(a, c)
	}
}
func (c *countingVisitor) VisitMap(*Map)           { c.visited = append(c.visited, "Map") }
func (c *countingVisitor) VisitVariable(*Variable) { c.visited = append(c.visited, "Variable") }
func (c *countingVisitor) VisitBinop(b *Binop) {
	c.visited = append(c.visited, "Binop")
	Walk(b.Left, c)
	Walk(b.Right, c)
}
func (c *countingVisitor) VisitUnop(u *Unop) {
	c.visited = append(c.visited, "Unop")
	Walk(u.Expr, c)
}
func (c *countingVisitor) VisitFieldAccess(f *FieldAccess) {
	c.visited = append(c.visited, "FieldAccess")
	Walk(f.Expr, c)
}
func (c *countingVisitor) VisitCast(ca *Cast) {
	c.visited = append(c.visited, "Cast")
	Walk(ca.Expr, c)
}

func TestWalkDispatchesPreOrder(t *testing.T) {
	pos := types.Position{Line: 1, Column: 1}
	ap := NewAttachPoint(pos, "kprobe", "", "sys_open", "")
	m := NewMap(pos, "x", nil)
	call := NewCall(pos, "count", nil)
	assign := NewAssignMap(pos, m, call)
	probe := NewProbe(pos, []*AttachPoint{ap}, nil, []Statement{assign})
	program := NewProgram(nil, nil, []*Probe{probe})

	v := &countingVisitor{}
	Walk(program, v)

	want := []string{"Program", "Probe", "AttachPoint", "AssignMap", "Map", "Call"}
	if len(v.visited) != len(want) {
		t.Fatalf("expected %v, got %v", want, v.visited)
	}
	for i, w := range want {
		if v.visited[i] != w {
			t.Fatalf("expected %v, got %v", want, v.visited)
		}
	}
}

func TestAttachPointNameForms(t *testing.T) {
	pos := types.Position{}
	cases := []struct {
		ap   *AttachPoint
		want string
	}{
		{NewAttachPoint(pos, "kprobe", "", "sys_open", ""), "kprobe:sys_open"},
		{NewAttachPoint(pos, "kretprobe", "", "sys_open", ""), "kretprobe:sys_open"},
		{NewAttachPoint(pos, "uprobe", "/bin/sh", "foo", ""), "uprobe:/bin/sh:foo"},
		{NewAttachPoint(pos, "tracepoint", "syscalls", "sys_enter_*", ""), "tracepoint:syscalls:sys_enter_*"},
		{NewAttachPoint(pos, "profile", "ms", "", "100"), "profile:ms:100"},
		{NewAttachPoint(pos, "BEGIN", "", "", ""), "BEGIN"},
	}
	for _, c := range cases {
		if got := c.ap.Name(); got != c.want {
			t.Fatalf("expected %q, got %q", c.want, got)
		}
	}
}

func TestExpressionAssignTargetBackReference(t *testing.T) {
	pos := types.Position{}
	m := NewMap(pos, "x", nil)
	call := NewCall(pos, "count", nil)
	call.SetAssignTarget(m)
	if call.AssignTarget() != Expression(m) {
		t.Fatalf("expected assign target to be the map")
	}
}

func TestBinopCarriesOperatorToken(t *testing.T) {
	pos := types.Position{}
	b := NewBinop(pos, token.PLUS, NewInteger(pos, 1), NewInteger(pos, 2))
	if b.Op != token.PLUS {
		t.Fatalf("expected PLUS, got %s", b.Op)
	}
}
