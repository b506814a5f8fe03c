// ----------------------------------------------------------------------------
// FILE: ast/ast.go
// ----------------------------------------------------------------------------
// PACKAGE: ast
// PURPOSE: Node variants produced by the parser and consumed, unmutated in
//          structure, by the printer, analyzer, and code generator.
// ----------------------------------------------------------------------------

package ast

import (
	"fmt"

	"bpftrace/token"
	"bpftrace/types"
)

// Node is the common contract for every AST variant: a source position for
// diagnostics.
type Node interface {
	Pos() types.Position
}

// Expression is any node that produces a value. Kind and size are filled in
// by the analyser's second pass; the assignment back-reference lets the code
// generator skip lifetime-end on buffers whose ownership transfers to a map.
type Expression interface {
	Node
	expressionNode()
	Type() types.SizedType
	SetType(types.SizedType)
	IsLiteral() bool
	IsVariable() bool
	AssignTarget() Expression
	SetAssignTarget(Expression)
}

// Statement is any node that appears directly in a probe's statement list.
type Statement interface {
	Node
	statementNode()
}

// ExprBase carries the fields common to every expression variant. Concrete
// expression types embed it rather than repeating the bookkeeping.
type ExprBase struct {
	pos          types.Position
	typ          types.SizedType
	assignTarget Expression
	isLiteral    bool
	isVariable   bool
}

func (e *ExprBase) Pos() types.Position            { return e.pos }
func (e *ExprBase) Type() types.SizedType          { return e.typ }
func (e *ExprBase) SetType(t types.SizedType)      { e.typ = t }
func (e *ExprBase) IsLiteral() bool                { return e.isLiteral }
func (e *ExprBase) IsVariable() bool               { return e.isVariable }
func (e *ExprBase) AssignTarget() Expression       { return e.assignTarget }
func (e *ExprBase) SetAssignTarget(t Expression)   { e.assignTarget = t }
func (e *ExprBase) expressionNode()                {}

func newExprBase(pos types.Position, literal, variable bool) ExprBase {
	return ExprBase{pos: pos, isLiteral: literal, isVariable: variable}
}

// StmtBase carries the source position for statement variants.
type StmtBase struct {
	pos types.Position
}

func (s *StmtBase) Pos() types.Position { return s.pos }
func (s *StmtBase) statementNode()      {}

func newStmtBase(pos types.Position) StmtBase {
	return StmtBase{pos: pos}
}

// ----------------------------------------------------------------------------
// Expressions
// ----------------------------------------------------------------------------

// Integer is a decimal integer literal.
type Integer struct {
	ExprBase
	Value int64
}

func NewInteger(pos types.Position, v int64) *Integer {
	i := &Integer{ExprBase: newExprBase(pos, true, false), Value: v}
	return i
}

// String is a double-quoted string literal, already escape-decoded by the lexer.
type String struct {
	ExprBase
	Value string
}

func NewString(pos types.Position, v string) *String {
	return &String{ExprBase: newExprBase(pos, true, false), Value: v}
}

// Builtin is a bare identifier resolved against the fixed builtin set
// (pid, tid, uid, gid, nsecs, cpu, comm, stack, ustack, retval, func, argN).
type Builtin struct {
	ExprBase
	Name string
}

func NewBuiltin(pos types.Position, name string) *Builtin {
	return &Builtin{ExprBase: newExprBase(pos, false, false), Name: name}
}

// Call is a function-call form: count(), quantize(x), delete(@m), str(p),
// sym(x), usym(x), reg("name"), printf(fmt, args...).
type Call struct {
	ExprBase
	Func string
	Args []Expression
}

func NewCall(pos types.Position, fn string, args []Expression) *Call {
	return &Call{ExprBase: newExprBase(pos, false, false), Func: fn, Args: args}
}

// Map is a reference to a global map, optionally with key expressions.
// Name == "" denotes the anonymous short form "@".
type Map struct {
	ExprBase
	Name string
	Keys []Expression
}

func NewMap(pos types.Position, name string, keys []Expression) *Map {
	return &Map{ExprBase: newExprBase(pos, false, false), Name: name, Keys: keys}
}

// Variable is a reference to a per-probe scalar binding ($name).
type Variable struct {
	ExprBase
	Name string
}

func NewVariable(pos types.Position, name string) *Variable {
	return &Variable{ExprBase: newExprBase(pos, false, true), Name: name}
}

// Binop is a binary operator expression.
type Binop struct {
	ExprBase
	Op    token.TokenType
	Left  Expression
	Right Expression
}

func NewBinop(pos types.Position, op token.TokenType, left, right Expression) *Binop {
	return &Binop{ExprBase: newExprBase(pos, false, false), Op: op, Left: left, Right: right}
}

// Unop is a unary operator expression. Op == token.STAR means pointer
// dereference; NOT and TILDE are logical/bitwise negation.
type Unop struct {
	ExprBase
	Op   token.TokenType
	Expr Expression
}

func NewUnop(pos types.Position, op token.TokenType, expr Expression) *Unop {
	return &Unop{ExprBase: newExprBase(pos, false, false), Op: op, Expr: expr}
}

// FieldAccess is `expr.field` (or the desugared form of `expr->field`).
type FieldAccess struct {
	ExprBase
	Expr  Expression
	Field string
}

func NewFieldAccess(pos types.Position, expr Expression, field string) *FieldAccess {
	return &FieldAccess{ExprBase: newExprBase(pos, false, false), Expr: expr, Field: field}
}

// Cast is `(type_name)expr` or, when IsPointer is set, `(type_name*)expr`.
type Cast struct {
	ExprBase
	TypeName  string
	IsPointer bool
	Expr      Expression
}

func NewCast(pos types.Position, typeName string, isPointer bool, expr Expression) *Cast {
	return &Cast{ExprBase: newExprBase(pos, false, false), TypeName: typeName, IsPointer: isPointer, Expr: expr}
}

// ----------------------------------------------------------------------------
// Statements
// ----------------------------------------------------------------------------

// ExprStatement is an expression evaluated for effect (e.g. a bare call or
// builtin reference at statement position).
type ExprStatement struct {
	StmtBase
	Expr Expression
}

func NewExprStatement(pos types.Position, expr Expression) *ExprStatement {
	return &ExprStatement{StmtBase: newStmtBase(pos), Expr: expr}
}

// AssignMap is `@m[...] = expr`.
type AssignMap struct {
	StmtBase
	Map  *Map
	Expr Expression
}

func NewAssignMap(pos types.Position, m *Map, expr Expression) *AssignMap {
	return &AssignMap{StmtBase: newStmtBase(pos), Map: m, Expr: expr}
}

// AssignVar is `$v = expr`.
type AssignVar struct {
	StmtBase
	Var  *Variable
	Expr Expression
}

func NewAssignVar(pos types.Position, v *Variable, expr Expression) *AssignVar {
	return &AssignVar{StmtBase: newStmtBase(pos), Var: v, Expr: expr}
}

// ----------------------------------------------------------------------------
// Structure
// ----------------------------------------------------------------------------

// Predicate is the optional `/ expr /` guard before a probe's body.
type Predicate struct {
	pos  types.Position
	Expr Expression
}

func NewPredicate(pos types.Position, expr Expression) *Predicate {
	return &Predicate{pos: pos, Expr: expr}
}

func (p *Predicate) Pos() types.Position { return p.pos }

// AttachPoint is one entry of a probe's comma-separated attach-point list.
// Target/Func/Freq are populated according to Provider (uprobes carry a
// path target, profile a unit and frequency, kprobes just a function).
// Target and Func may still contain unexpanded wildcards ("*", "[...]").
type AttachPoint struct {
	pos      types.Position
	Provider string
	Target   string
	Func     string
	Freq     string
}

func NewAttachPoint(pos types.Position, provider, target, fn, freq string) *AttachPoint {
	return &AttachPoint{pos: pos, Provider: provider, Target: target, Func: fn, Freq: freq}
}

func (a *AttachPoint) Pos() types.Position { return a.pos }

// Name renders the canonical attach-point string used as the probe's section
// name and the printer's attach-point line.
func (a *AttachPoint) Name() string {
	switch a.Provider {
	case "BEGIN", "END":
		return a.Provider
	case "uprobe", "uretprobe":
		return fmt.Sprintf("%s:%s:%s", a.Provider, a.Target, a.Func)
	case "tracepoint":
		return fmt.Sprintf("tracepoint:%s:%s", a.Target, a.Func)
	case "profile":
		return fmt.Sprintf("profile:%s:%s", a.Target, a.Freq)
	default: // kprobe, kretprobe
		return fmt.Sprintf("%s:%s", a.Provider, a.Func)
	}
}

// Probe is one `<attach-point-list> [/ pred /] { stmts }` block.
type Probe struct {
	pos          types.Position
	AttachPoints []*AttachPoint
	Predicate    *Predicate
	Stmts        []Statement
}

func NewProbe(pos types.Position, aps []*AttachPoint, pred *Predicate, stmts []Statement) *Probe {
	return &Probe{pos: pos, AttachPoints: aps, Predicate: pred, Stmts: stmts}
}

func (p *Probe) Pos() types.Position { return p.pos }

// Include is a `#include <file>` or `#include "file"` directive. The file
// name is preserved as an opaque string; no header parsing is performed.
type Include struct {
	pos            types.Position
	File           string
	IsSystemHeader bool
}

func NewInclude(pos types.Position, file string, system bool) *Include {
	return &Include{pos: pos, File: file, IsSystemHeader: system}
}

func (i *Include) Pos() types.Position { return i.pos }

// StructField is one declared field of a struct: `type name`, `type *name`,
// `type name[N]`, or `type *name[N]`.
type StructField struct {
	Type     string
	Pointer  bool
	Name     string
	ArrayLen int // 0 when the field is not an array
}

// StructDecl is a C-style `struct T { ... }` declaration.
type StructDecl struct {
	pos    types.Position
	Name   string
	Fields []StructField
}

func NewStructDecl(pos types.Position, name string, fields []StructField) *StructDecl {
	return &StructDecl{pos: pos, Name: name, Fields: fields}
}

func (s *StructDecl) Pos() types.Position { return s.pos }

// Program is the root of the parsed script.
type Program struct {
	pos      types.Position
	Includes []*Include
	Structs  []*StructDecl
	Probes   []*Probe
}

func NewProgram(includes []*Include, structs []*StructDecl, probes []*Probe) *Program {
	return &Program{Includes: includes, Structs: structs, Probes: probes}
}

func (p *Program) Pos() types.Position { return p.pos }
