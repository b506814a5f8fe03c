// ----------------------------------------------------------------------------
// FILE: analyzer/analyzer.go
// ----------------------------------------------------------------------------
// PACKAGE: analyzer
// PURPOSE: Two-pass semantic analysis. Pass one walks every probe collecting
//          and unifying the global map table (key arity, key types, value
//          type) across every map assignment and delete(). Pass two checks
//          each map read's keys against that table and type-checks every
//          expression, filling in each node's SizedType, validating builtins
//          and call forms, and assigning printf format ids in source order.
//          Structured as a big Eval(node, env)-style type switch, adapted
//          to a checking pass that annotates rather than evaluates.
// ----------------------------------------------------------------------------

package analyzer

import (
	"bpftrace/arch"
	"bpftrace/ast"
	"bpftrace/token"
	"bpftrace/types"
)

// MapInfo is the unified shape of one global map, built up across every
// @name occurrence in the program.
type MapInfo struct {
	Name      string
	KeyTypes  []types.SizedType
	ValueType types.SizedType
	FirstPos  types.Position
}

// PrintfInfo is one printf() call site, in source order. ID is the dense
// 0-based format-string id the runtime uses to decode a perf-event record.
type PrintfInfo struct {
	ID       int
	Format   string
	ArgTypes []types.SizedType
	Pos      types.Position
}

// exprContext records the syntactic position an expression was found in,
// since count(), quantize(), delete(), and printf() are each only valid in
// one specific position.
type exprContext int

const (
	ctxGeneric exprContext = iota
	ctxStatement
	ctxMapAssignRHS
)

// Analyzer runs the two passes and accumulates the resulting map table,
// printf table, and diagnostics.
type Analyzer struct {
	diags   types.Diagnostics
	maps    map[string]*MapInfo
	structs map[string]*ast.StructDecl
	printfs []PrintfInfo
	vars    map[string]types.SizedType
}

func New() *Analyzer {
	return &Analyzer{
		maps:    make(map[string]*MapInfo),
		structs: make(map[string]*ast.StructDecl),
	}
}

// Analyze runs both passes over prog. Node types are filled in as a side
// effect; the returned error is nil unless a diagnostic was recorded.
func (a *Analyzer) Analyze(prog *ast.Program) error {
	for _, sd := range prog.Structs {
		a.structs[sd.Name] = sd
	}

	for _, probe := range prog.Probes {
		a.collectProbe(probe)
	}
	if a.diags.HasErrors() {
		return a.diags.Err()
	}

	for _, probe := range prog.Probes {
		a.checkProbe(probe)
	}
	return a.diags.Err()
}

// Maps returns the unified global map table built by Analyze.
func (a *Analyzer) Maps() map[string]*MapInfo { return a.maps }

// Printfs returns the printf call sites in source (and id) order.
func (a *Analyzer) Printfs() []PrintfInfo { return a.printfs }

// ----------------------------------------------------------------------------
// Pass 1: map table collection
// ----------------------------------------------------------------------------

func (a *Analyzer) collectProbe(probe *ast.Probe) {
	vars := make(map[string]types.SizedType)
	for _, stmt := range probe.Stmts {
		switch s := stmt.(type) {
		case *ast.AssignVar:
			vars[s.Var.Name] = a.inferLoose(s.Expr, vars)
		case *ast.AssignMap:
			a.collectMapAssign(s, vars)
		case *ast.ExprStatement:
			if call, ok := s.Expr.(*ast.Call); ok && call.Func == "delete" && len(call.Args) == 1 {
				if m, ok := call.Args[0].(*ast.Map); ok {
					a.collectMapRef(m, vars, types.None())
				}
			}
		}
	}
}

func (a *Analyzer) collectMapAssign(s *ast.AssignMap, vars map[string]types.SizedType) {
	var valType types.SizedType
	if call, ok := s.Expr.(*ast.Call); ok && (call.Func == "count" || call.Func == "quantize") {
		valType = types.Integer()
	} else {
		valType = a.inferLoose(s.Expr, vars)
	}
	a.collectMapRef(s.Map, vars, valType)
}

func (a *Analyzer) collectMapRef(m *ast.Map, vars map[string]types.SizedType, valType types.SizedType) {
	var keyTypes []types.SizedType
	if len(m.Keys) == 0 {
		keyTypes = []types.SizedType{types.Integer()}
	} else {
		for _, k := range m.Keys {
			keyTypes = append(keyTypes, a.inferLoose(k, vars))
		}
	}
	a.recordMapUse(m.Name, keyTypes, valType, m.Pos())
}

func (a *Analyzer) recordMapUse(name string, keyTypes []types.SizedType, valType types.SizedType, pos types.Position) {
	info, ok := a.maps[name]
	if !ok {
		a.maps[name] = &MapInfo{Name: name, KeyTypes: keyTypes, ValueType: valType, FirstPos: pos}
		return
	}
	if len(info.KeyTypes) != len(keyTypes) {
		a.diags.Add(pos, "map @%s used with %d key(s), previously %d key(s) at %s", name, len(keyTypes), len(info.KeyTypes), info.FirstPos)
		return
	}
	for i := range keyTypes {
		if !info.KeyTypes[i].Compatible(keyTypes[i]) {
			a.diags.Add(pos, "map @%s key %d type %s conflicts with %s at %s", name, i, keyTypes[i], info.KeyTypes[i], info.FirstPos)
		}
	}
	if valType.IsNone() {
		return
	}
	if info.ValueType.IsNone() {
		info.ValueType = valType
		return
	}
	if !info.ValueType.Compatible(valType) {
		a.diags.Add(pos, "map @%s value type %s conflicts with %s at %s", name, valType, info.ValueType, info.FirstPos)
	}
}

// inferLoose is Pass 1's best-effort typing of an expression, used only to
// seed map key/value types before the validating second pass has run. It
// never records diagnostics.
func (a *Analyzer) inferLoose(expr ast.Expression, vars map[string]types.SizedType) types.SizedType {
	switch e := expr.(type) {
	case *ast.Integer:
		return types.Integer()
	case *ast.String:
		return types.StringOf(0)
	case *ast.Builtin:
		if t, ok := lookupBuiltin(e.Name); ok {
			return t
		}
		return types.None()
	case *ast.Variable:
		if t, ok := vars[e.Name]; ok {
			return t
		}
		return types.None()
	case *ast.Call:
		switch e.Func {
		case "count", "quantize":
			return types.Integer()
		case "str":
			return types.StringOf(0)
		default:
			return types.Integer()
		}
	case *ast.Binop:
		return types.Integer()
	case *ast.Unop:
		return types.Integer()
	case *ast.FieldAccess:
		return types.Integer()
	case *ast.Cast:
		if e.IsPointer {
			return types.Pointer(e.TypeName)
		}
		return types.Integer()
	case *ast.Map:
		if info, ok := a.maps[e.Name]; ok {
			return info.ValueType
		}
		return types.None()
	default:
		return types.None()
	}
}

// ----------------------------------------------------------------------------
// Pass 2: type checking
// ----------------------------------------------------------------------------

func (a *Analyzer) checkProbe(probe *ast.Probe) {
	a.vars = make(map[string]types.SizedType)
	if probe.Predicate != nil {
		t := a.checkExpr(probe.Predicate.Expr, ctxGeneric)
		if t.Kind != types.KindInteger {
			a.diags.Add(probe.Predicate.Pos(), "predicate must be an integer expression, got %s", t)
		}
	}
	for _, stmt := range probe.Stmts {
		a.checkStmt(stmt)
	}
}

func (a *Analyzer) checkStmt(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.ExprStatement:
		a.checkExpr(s.Expr, ctxStatement)
	case *ast.AssignMap:
		s.Expr.SetAssignTarget(s.Map)
		t := a.checkExpr(s.Expr, ctxMapAssignRHS)
		for _, k := range s.Map.Keys {
			a.checkExpr(k, ctxGeneric)
		}
		s.Map.SetType(t)
	case *ast.AssignVar:
		s.Expr.SetAssignTarget(s.Var)
		t := a.checkExpr(s.Expr, ctxGeneric)
		s.Var.SetType(t)
		a.vars[s.Var.Name] = t
	default:
		a.diags.Add(stmt.Pos(), "internal: unknown statement node %T", stmt)
	}
}

func (a *Analyzer) checkExpr(expr ast.Expression, ctx exprContext) types.SizedType {
	switch e := expr.(type) {
	case *ast.Integer:
		e.SetType(types.Integer())
	case *ast.String:
		e.SetType(types.StringOf(0))
	case *ast.Builtin:
		t, ok := lookupBuiltin(e.Name)
		if !ok {
			a.diags.Add(e.Pos(), "unknown builtin %q", e.Name)
			t = types.None()
		} else if n, isArg := ArgIndex(e.Name); isArg {
			if _, ok := arch.ArgOffset(n); !ok {
				a.diags.Add(e.Pos(), "%s: only arg0..arg5 are passed in registers on this architecture", e.Name)
			}
		}
		e.SetType(t)
	case *ast.Variable:
		t, ok := a.vars[e.Name]
		if !ok {
			a.diags.Add(e.Pos(), "variable $%s referenced before assignment", e.Name)
			t = types.None()
		}
		e.SetType(t)
	case *ast.Map:
		for _, k := range e.Keys {
			a.checkExpr(k, ctxGeneric)
		}
		info, ok := a.maps[e.Name]
		if !ok {
			a.diags.Add(e.Pos(), "internal: map @%s missing from map table", e.Name)
			e.SetType(types.None())
		} else {
			keyTypes := []types.SizedType{types.Integer()}
			if len(e.Keys) > 0 {
				keyTypes = nil
				for _, k := range e.Keys {
					keyTypes = append(keyTypes, a.inferLoose(k, a.vars))
				}
			}
			a.recordMapUse(e.Name, keyTypes, types.None(), e.Pos())
			e.SetType(info.ValueType)
		}
	case *ast.Call:
		e.SetType(a.checkCall(e, ctx))
	case *ast.Binop:
		e.SetType(a.checkBinop(e))
	case *ast.Unop:
		e.SetType(a.checkUnop(e))
	case *ast.FieldAccess:
		e.SetType(a.checkFieldAccess(e))
	case *ast.Cast:
		e.SetType(a.checkCast(e))
	default:
		a.diags.Add(expr.Pos(), "internal: unknown expression node %T", expr)
		return types.None()
	}
	return expr.Type()
}

func (a *Analyzer) checkBinop(b *ast.Binop) types.SizedType {
	lt := a.checkExpr(b.Left, ctxGeneric)
	rt := a.checkExpr(b.Right, ctxGeneric)
	if lt.Kind != rt.Kind {
		a.diags.Add(b.Pos(), "operand type mismatch: %s vs %s", lt, rt)
		return types.Integer()
	}
	if lt.Kind == types.KindString && b.Op != token.EQ && b.Op != token.NE {
		a.diags.Add(b.Pos(), "string operands only support == and !=")
	}
	return types.Integer()
}

func (a *Analyzer) checkUnop(u *ast.Unop) types.SizedType {
	t := a.checkExpr(u.Expr, ctxGeneric)
	switch u.Op {
	case token.NOT, token.TILDE:
		if t.Kind != types.KindInteger {
			a.diags.Add(u.Pos(), "%s requires an integer operand, got %s", u.Op, t)
		}
		return types.Integer()
	case token.STAR:
		if t.Kind != types.KindPointer {
			a.diags.Add(u.Pos(), "dereference requires a pointer operand, got %s", t)
			return types.Integer()
		}
		if _, ok := a.structs[t.Name]; ok {
			return types.Cast(t.Name)
		}
		return types.Integer()
	default:
		a.diags.Add(u.Pos(), "internal: unknown unary operator %s", u.Op)
		return types.None()
	}
}

func (a *Analyzer) checkFieldAccess(f *ast.FieldAccess) types.SizedType {
	t := a.checkExpr(f.Expr, ctxGeneric)
	if t.Name == "" {
		a.diags.Add(f.Pos(), "field access requires a cast to a declared struct")
		return types.None()
	}
	sd, ok := a.structs[t.Name]
	if !ok {
		a.diags.Add(f.Pos(), "no struct %q declared; a cast is required before field access", t.Name)
		return types.None()
	}
	for _, field := range sd.Fields {
		if field.Name != f.Field {
			continue
		}
		if field.Pointer {
			return types.Pointer(field.Type)
		}
		return types.Integer()
	}
	a.diags.Add(f.Pos(), "struct %s has no field %q", sd.Name, f.Field)
	return types.None()
}

func (a *Analyzer) checkCast(c *ast.Cast) types.SizedType {
	a.checkExpr(c.Expr, ctxGeneric)
	if c.IsPointer {
		return types.Pointer(c.TypeName)
	}
	if _, ok := a.structs[c.TypeName]; ok {
		return types.Cast(c.TypeName)
	}
	return types.Integer()
}

func (a *Analyzer) checkCall(call *ast.Call, ctx exprContext) types.SizedType {
	switch call.Func {
	case "count":
		if ctx != ctxMapAssignRHS {
			a.diags.Add(call.Pos(), "count() is only valid as @map = count()")
		}
		if len(call.Args) != 0 {
			a.diags.Add(call.Pos(), "count() takes no arguments")
		}
		return types.Integer()

	case "quantize":
		if ctx != ctxMapAssignRHS {
			a.diags.Add(call.Pos(), "quantize() is only valid as @map = quantize(x)")
		}
		if len(call.Args) != 1 {
			a.diags.Add(call.Pos(), "quantize() takes exactly one argument")
			return types.Integer()
		}
		t := a.checkExpr(call.Args[0], ctxGeneric)
		if t.Kind != types.KindInteger {
			a.diags.Add(call.Pos(), "quantize() argument must be an integer, got %s", t)
		}
		return types.Integer()

	case "delete":
		if ctx != ctxStatement {
			a.diags.Add(call.Pos(), "delete() is only valid at statement position")
		}
		if len(call.Args) != 1 {
			a.diags.Add(call.Pos(), "delete() takes exactly one map argument")
			return types.None()
		}
		if _, ok := call.Args[0].(*ast.Map); !ok {
			a.diags.Add(call.Pos(), "delete() argument must be a map reference")
		} else {
			a.checkExpr(call.Args[0], ctxGeneric)
		}
		return types.None()

	case "str":
		if len(call.Args) != 1 {
			a.diags.Add(call.Pos(), "str() takes exactly one argument")
			return types.StringOf(0)
		}
		t := a.checkExpr(call.Args[0], ctxGeneric)
		if t.Kind != types.KindInteger && t.Kind != types.KindPointer {
			a.diags.Add(call.Pos(), "str() argument must be a pointer-like value, got %s", t)
		}
		return types.StringOf(0)

	case "sym", "usym":
		if len(call.Args) != 1 {
			a.diags.Add(call.Pos(), "%s() takes exactly one argument", call.Func)
			return types.Integer()
		}
		t := a.checkExpr(call.Args[0], ctxGeneric)
		if t.Kind != types.KindInteger {
			a.diags.Add(call.Pos(), "%s() argument must be an integer, got %s", call.Func, t)
		}
		return types.Integer()

	case "reg":
		if len(call.Args) != 1 {
			a.diags.Add(call.Pos(), "reg() takes exactly one argument")
			return types.Integer()
		}
		lit, ok := call.Args[0].(*ast.String)
		if !ok {
			a.diags.Add(call.Pos(), "reg() argument must be a string literal")
			return types.Integer()
		}
		lit.SetType(types.StringOf(0))
		if !arch.IsRegister(lit.Value) {
			a.diags.Add(call.Pos(), "unknown register %q", lit.Value)
		}
		return types.Integer()

	case "printf":
		if ctx != ctxStatement {
			a.diags.Add(call.Pos(), "printf() is only valid at statement position")
		}
		if len(call.Args) == 0 {
			a.diags.Add(call.Pos(), "printf() requires a format string")
			return types.None()
		}
		fmtLit, ok := call.Args[0].(*ast.String)
		if !ok {
			a.diags.Add(call.Pos(), "printf() first argument must be a string literal")
			return types.None()
		}
		fmtLit.SetType(types.StringOf(0))
		argTypes := make([]types.SizedType, 0, len(call.Args)-1)
		for _, arg := range call.Args[1:] {
			argTypes = append(argTypes, a.checkExpr(arg, ctxGeneric))
		}
		a.printfs = append(a.printfs, PrintfInfo{ID: len(a.printfs), Format: fmtLit.Value, ArgTypes: argTypes, Pos: call.Pos()})
		return types.None()

	default:
		a.diags.Add(call.Pos(), "unknown call %q", call.Func)
		return types.None()
	}
}
