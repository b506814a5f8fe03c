// ----------------------------------------------------------------------------
// FILE: printer/printer.go
// ----------------------------------------------------------------------------
// PACKAGE: printer
// PURPOSE: Deterministic indented serialization of a parsed program: the
//          output format the parser test corpus is checked against.
//          One space of indent per nesting depth, one node per line.
// ----------------------------------------------------------------------------

package printer

import (
	"fmt"
	"strings"

	"bpftrace/ast"
	"bpftrace/token"
)

// Printer implements ast.Visitor, walking pre-order and writing one line per
// node. Descent is driven entirely by each Visit method, per the external
// visitor contract.
type Printer struct {
	out   strings.Builder
	depth int
}

// Print renders program (plus its includes and struct declarations) as an
// indented tree, one node per line.
func Print(program *ast.Program) string {
	p := &Printer{}
	for _, inc := range program.Includes {
		p.printInclude(inc)
	}
	for _, sd := range program.Structs {
		p.printStruct(sd)
	}
	ast.Walk(program, p)
	return p.out.String()
}

func (p *Printer) indent() string { return strings.Repeat(" ", p.depth) }

func (p *Printer) writeLine(s string) {
	p.out.WriteString(p.indent())
	p.out.WriteString(s)
	p.out.WriteString("\n")
}

func (p *Printer) printInclude(inc *ast.Include) {
	if inc.IsSystemHeader {
		p.writeLine(fmt.Sprintf("#include <%s>", inc.File))
		return
	}
	p.writeLine(fmt.Sprintf(`#include "%s"`, inc.File))
}

func (p *Printer) printStruct(sd *ast.StructDecl) {
	p.writeLine(fmt.Sprintf("struct %s", sd.Name))
	p.depth++
	for _, f := range sd.Fields {
		p.printField(f)
	}
	p.depth--
}

func (p *Printer) printField(f ast.StructField) {
	var sb strings.Builder
	sb.WriteString(f.Type)
	if f.Pointer {
		sb.WriteString("*")
	}
	if f.ArrayLen > 0 {
		sb.WriteString(fmt.Sprintf("[%d]", f.ArrayLen))
	}
	sb.WriteString(" ")
	sb.WriteString(f.Name)
	p.writeLine(sb.String())
}

// ----------------------------------------------------------------------------
// Structure
// ----------------------------------------------------------------------------

func (p *Printer) VisitProgram(prog *ast.Program) {
	p.writeLine("Program")
	p.depth++
	for _, probe := range prog.Probes {
		ast.Walk(probe, p)
	}
	p.depth--
}

func (p *Printer) VisitInclude(*ast.Include)       {}
func (p *Printer) VisitStructDecl(*ast.StructDecl) {}

func (p *Printer) VisitProbe(probe *ast.Probe) {
	for _, ap := range probe.AttachPoints {
		ast.Walk(ap, p)
	}
	p.depth++
	if probe.Predicate != nil {
		ast.Walk(probe.Predicate, p)
	}
	for _, s := range probe.Stmts {
		ast.Walk(s, p)
	}
	p.depth--
}

func (p *Printer) VisitAttachPoint(ap *ast.AttachPoint) {
	p.writeLine(ap.Name())
}

func (p *Printer) VisitPredicate(pred *ast.Predicate) {
	p.writeLine("pred")
	p.depth++
	ast.Walk(pred.Expr, p)
	p.depth--
}

// ----------------------------------------------------------------------------
// Statements
// ----------------------------------------------------------------------------

func (p *Printer) VisitExprStatement(s *ast.ExprStatement) {
	ast.Walk(s.Expr, p)
}

func (p *Printer) VisitAssignMap(s *ast.AssignMap) {
	p.writeLine("=")
	p.depth++
	ast.Walk(s.Map, p)
	ast.Walk(s.Expr, p)
	p.depth--
}

func (p *Printer) VisitAssignVar(s *ast.AssignVar) {
	p.writeLine("=")
	p.depth++
	ast.Walk(s.Var, p)
	ast.Walk(s.Expr, p)
	p.depth--
}

// ----------------------------------------------------------------------------
// Expressions
// ----------------------------------------------------------------------------

func (p *Printer) VisitInteger(i *ast.Integer) {
	p.writeLine(fmt.Sprintf("int: %d", i.Value))
}

func (p *Printer) VisitString(s *ast.String) {
	p.writeLine(fmt.Sprintf("string: %s", escapeString(s.Value)))
}

func (p *Printer) VisitBuiltin(b *ast.Builtin) {
	p.writeLine(fmt.Sprintf("builtin: %s", b.Name))
}

func (p *Printer) VisitCall(c *ast.Call) {
	p.writeLine(fmt.Sprintf("call: %s", c.Func))
	p.depth++
	for _, a := range c.Args {
		ast.Walk(a, p)
	}
	p.depth--
}

func (p *Printer) VisitMap(m *ast.Map) {
	p.writeLine(fmt.Sprintf("map: @%s", m.Name))
	p.depth++
	for _, k := range m.Keys {
		ast.Walk(k, p)
	}
	p.depth--
}

func (p *Printer) VisitVariable(v *ast.Variable) {
	p.writeLine(fmt.Sprintf("variable: $%s", v.Name))
}

func (p *Printer) VisitBinop(b *ast.Binop) {
	p.writeLine(opstrBinop(b.Op))
	p.depth++
	ast.Walk(b.Left, p)
	ast.Walk(b.Right, p)
	p.depth--
}

func (p *Printer) VisitUnop(u *ast.Unop) {
	p.writeLine(opstrUnop(u.Op))
	p.depth++
	ast.Walk(u.Expr, p)
	p.depth--
}

// VisitFieldAccess prints the "." line, the expression at depth+1, then the
// field name on its own line at the original depth with one extra leading
// space.
func (p *Printer) VisitFieldAccess(f *ast.FieldAccess) {
	outer := p.indent()
	p.writeLine(".")
	p.depth++
	ast.Walk(f.Expr, p)
	p.depth--
	p.out.WriteString(outer)
	p.out.WriteString(" ")
	p.out.WriteString(f.Field)
	p.out.WriteString("\n")
}

func (p *Printer) VisitCast(c *ast.Cast) {
	suffix := ""
	if c.IsPointer {
		suffix = "*"
	}
	p.writeLine(fmt.Sprintf("(%s%s)", c.TypeName, suffix))
	p.depth++
	ast.Walk(c.Expr, p)
	p.depth--
}

func opstrBinop(op token.TokenType) string {
	switch op {
	case token.PLUS:
		return "+"
	case token.MINUS:
		return "-"
	case token.STAR:
		return "*"
	case token.SLASH:
		return "/"
	case token.PERCENT:
		return "%"
	case token.LT:
		return "<"
	case token.LE:
		return "<="
	case token.GT:
		return ">"
	case token.GE:
		return ">="
	case token.EQ:
		return "=="
	case token.NE:
		return "!="
	case token.AMP:
		return "&"
	case token.PIPE:
		return "|"
	case token.CARET:
		return "^"
	case token.LAND:
		return "&&"
	case token.LOR:
		return "||"
	default:
		return string(op)
	}
}

func opstrUnop(op token.TokenType) string {
	switch op {
	case token.STAR:
		return "dereference"
	case token.NOT:
		return "!"
	case token.TILDE:
		return "~"
	default:
		return string(op)
	}
}

// escapeString reverses exactly the escape set the lexer decodes:
// backslash, newline, tab, double quote.
func escapeString(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '"':
			sb.WriteString(`\"`)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
