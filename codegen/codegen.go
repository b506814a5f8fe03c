// ----------------------------------------------------------------------------
// FILE: codegen/codegen.go
// ----------------------------------------------------------------------------
// PACKAGE: codegen
// PURPOSE: Lowers a type-checked AST (post analyzer.Analyze) to the IR
//          defined in ir.go, following the per-expression lowering table.
//          Cast and FieldAccess are lowered here via probe_read offsets
//          into the declared struct's field layout (see DESIGN.md).
// ----------------------------------------------------------------------------

package codegen

import (
	"fmt"
	"sort"

	"bpftrace/analyzer"
	"bpftrace/arch"
	"bpftrace/ast"
	"bpftrace/token"
	"bpftrace/types"
)

// Generate lowers prog using the map table and printf table an already-run
// analyzer.Analyzer produced.
func Generate(prog *ast.Program, an *analyzer.Analyzer) (*Program, error) {
	g := &Generator{
		structs:      make(map[string]*ast.StructDecl),
		quantizeMaps: make(map[string]bool),
	}
	for _, sd := range prog.Structs {
		g.structs[sd.Name] = sd
	}

	out := &Program{}
	for _, probe := range prog.Probes {
		instrs := g.genProbeBody(probe)
		for _, ap := range probe.AttachPoints {
			out.Sections = append(out.Sections, Section{
				Name:   "s_" + ap.Name(),
				Instrs: instrs,
			})
		}
	}
	out.Sections = append(out.Sections, helpersSection())

	for name, info := range an.Maps() {
		out.Maps = append(out.Maps, MapSpec{
			Name:       name,
			KeyTypes:   info.KeyTypes,
			ValueType:  info.ValueType,
			IsQuantize: g.quantizeMaps[name],
		})
	}
	sort.Slice(out.Maps, func(i, j int) bool { return out.Maps[i].Name < out.Maps[j].Name })

	for _, pf := range an.Printfs() {
		out.Printfs = append(out.Printfs, PrintfSpec{ID: pf.ID, Format: pf.Format, ArgTypes: pf.ArgTypes})
	}

	return out, nil
}

// Generator holds the state threaded through one lowering pass: the struct
// table (shared across probes), and the per-probe register/label counters
// and variable bindings that genProbeBody resets between probes.
type Generator struct {
	structs      map[string]*ast.StructDecl
	quantizeMaps map[string]bool

	reg       int
	label     int
	vars      map[string]string
	instrs    []Instr
	printfIdx int // persists across probes: printf ids are dense over the whole program
}

func (g *Generator) newReg() string {
	g.reg++
	return fmt.Sprintf("%%%d", g.reg)
}

func (g *Generator) newLabel(prefix string) string {
	g.label++
	return fmt.Sprintf("%s%d", prefix, g.label)
}

func (g *Generator) emit(i Instr) { g.instrs = append(g.instrs, i) }

// genProbeBody lowers one probe's predicate and statement list. The
// resulting instructions are shared verbatim across every one of the
// probe's attach points, since the attach point only selects which hook
// the identical function body is bound to.
func (g *Generator) genProbeBody(probe *ast.Probe) []Instr {
	g.reg = 0
	g.label = 0
	g.vars = make(map[string]string)
	g.instrs = nil

	if probe.Predicate != nil {
		cond := g.genExpr(probe.Predicate.Expr)
		pass := g.newLabel("pred_pass")
		g.emit(Instr{Op: OpJumpIfNZero, Args: []string{cond}, Target: pass})
		g.emit(Instr{Op: OpReturn, Imm: 0})
		g.emit(Instr{Op: OpLabel, Target: pass})
	}
	for _, stmt := range probe.Stmts {
		g.genStmt(stmt)
	}
	g.emit(Instr{Op: OpReturn, Imm: 0})
	return g.instrs
}

func (g *Generator) genStmt(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.ExprStatement:
		if call, ok := s.Expr.(*ast.Call); ok && call.Func == "delete" {
			g.genDelete(call)
			return
		}
		g.genExpr(s.Expr)
	case *ast.AssignMap:
		g.genAssignMap(s)
	case *ast.AssignVar:
		g.vars[s.Var.Name] = g.genExpr(s.Expr)
	}
}

func (g *Generator) genDelete(call *ast.Call) {
	m := call.Args[0].(*ast.Map)
	keyReg := g.packKey(m.Keys, nil)
	g.emit(Instr{Op: OpMapDelete, Args: []string{keyReg}, Map: m.Name})
}

func (g *Generator) genAssignMap(s *ast.AssignMap) {
	if call, ok := s.Expr.(*ast.Call); ok {
		switch call.Func {
		case "count":
			g.genAggregate(s.Map, nil)
			return
		case "quantize":
			valReg := g.genExpr(call.Args[0])
			g.quantizeMaps[s.Map.Name] = true
			g.genAggregate(s.Map, &valReg)
			return
		}
	}
	valReg := g.genExpr(s.Expr)
	keyReg := g.packKey(s.Map.Keys, nil)
	g.emit(Instr{Op: OpMapUpdate, Args: []string{keyReg, valReg}, Map: s.Map.Name})
}

// genAggregate lowers both count() (quantizeValueReg == nil) and quantize()
// (quantizeValueReg holds the value to bucket; packKey derives its log2
// bucket): lookup, add 1, update.
func (g *Generator) genAggregate(m *ast.Map, quantizeValueReg *string) {
	keyReg := g.packKey(m.Keys, quantizeValueReg)
	cur := g.newReg()
	g.emit(Instr{Op: OpMapLookup, Dest: cur, Args: []string{keyReg}, Map: m.Name})
	one := g.newReg()
	g.emit(Instr{Op: OpConstInt, Dest: one, Imm: 1})
	sum := g.newReg()
	g.emit(Instr{Op: OpBinop, Dest: sum, Str: "+", Args: []string{cur, one}})
	g.emit(Instr{Op: OpMapUpdate, Args: []string{keyReg, sum}, Map: m.Name})
}

// packKey builds a key buffer: key expressions in source order, each
// integer as 8 bytes and each string as its full size, followed (for
// quantize) by an 8-byte log2 bucket. A zero-key map packs a single
// integer<8> zero.
func (g *Generator) packKey(keys []ast.Expression, quantizeValueReg *string) string {
	type component struct {
		reg  string
		size int
	}
	var components []component
	if len(keys) == 0 {
		zero := g.newReg()
		g.emit(Instr{Op: OpConstInt, Dest: zero, Imm: 0})
		components = append(components, component{zero, types.IntegerSize})
	} else {
		for _, k := range keys {
			reg := g.genExpr(k)
			components = append(components, component{reg, keySlotSize(k.Type())})
		}
	}
	if quantizeValueReg != nil {
		bucket := g.newReg()
		g.emit(Instr{Op: OpCallHelper, Dest: bucket, Str: "log2", Args: []string{*quantizeValueReg}})
		components = append(components, component{bucket, types.IntegerSize})
	}

	width := 0
	for _, c := range components {
		width += c.size
	}
	dst := g.newReg()
	g.emit(Instr{Op: OpAllocBuf, Dest: dst, Size: width})
	offset := 0
	for _, c := range components {
		g.emit(Instr{Op: OpPackField, Args: []string{dst, c.reg}, Imm: int64(offset), Size: c.size})
		offset += c.size
	}
	return dst
}

func keySlotSize(t types.SizedType) int {
	if t.Kind == types.KindString {
		return t.Size
	}
	return types.IntegerSize
}

// ----------------------------------------------------------------------------
// Expression lowering
// ----------------------------------------------------------------------------

func (g *Generator) genExpr(expr ast.Expression) string {
	switch e := expr.(type) {
	case *ast.Integer:
		dst := g.newReg()
		g.emit(Instr{Op: OpConstInt, Dest: dst, Imm: e.Value, Type: e.Type()})
		return dst
	case *ast.String:
		dst := g.newReg()
		sz := e.Type().Size
		lit := e.Value
		if len(lit) > sz-1 {
			lit = lit[:sz-1] // the final byte stays NUL
		}
		g.emit(Instr{Op: OpAllocBuf, Dest: dst, Size: sz})
		g.emit(Instr{Op: OpCopyLiteral, Args: []string{dst}, Str: lit, Size: sz})
		return dst
	case *ast.Builtin:
		return g.genBuiltin(e)
	case *ast.Call:
		return g.genCall(e)
	case *ast.Map:
		return g.genMapRead(e)
	case *ast.Variable:
		if reg, ok := g.vars[e.Name]; ok {
			return reg
		}
		dst := g.newReg()
		g.emit(Instr{Op: OpConstInt, Dest: dst, Imm: 0, Type: e.Type()})
		return dst
	case *ast.Binop:
		return g.genBinop(e)
	case *ast.Unop:
		return g.genUnop(e)
	case *ast.FieldAccess:
		return g.genFieldAccess(e)
	case *ast.Cast:
		// A cast reinterprets the same bytes; no instruction moves them.
		return g.genExpr(e.Expr)
	default:
		dst := g.newReg()
		g.emit(Instr{Op: OpConstInt, Dest: dst, Imm: 0})
		return dst
	}
}

func (g *Generator) genBuiltin(b *ast.Builtin) string {
	dst := g.newReg()
	switch b.Name {
	case "pid", "tid":
		raw := g.newReg()
		g.emit(Instr{Op: OpCallHelper, Dest: raw, Str: "get_current_pid_tgid"})
		half := "high32"
		if b.Name == "tid" {
			half = "low32"
		}
		g.emit(Instr{Op: OpUnop, Dest: dst, Str: half, Args: []string{raw}, Type: b.Type()})
	case "uid", "gid":
		raw := g.newReg()
		g.emit(Instr{Op: OpCallHelper, Dest: raw, Str: "get_current_uid_gid"})
		half := "low32"
		if b.Name == "gid" {
			half = "high32"
		}
		g.emit(Instr{Op: OpUnop, Dest: dst, Str: half, Args: []string{raw}, Type: b.Type()})
	case "nsecs":
		g.emit(Instr{Op: OpCallHelper, Dest: dst, Str: "ktime_get_ns", Type: b.Type()})
	case "cpu":
		g.emit(Instr{Op: OpCallHelper, Dest: dst, Str: "smp_processor_id", Type: b.Type()})
	case "comm":
		g.emit(Instr{Op: OpAllocBuf, Dest: dst, Size: b.Type().Size})
		g.emit(Instr{Op: OpCallHelper, Str: "get_current_comm", Args: []string{dst}, Size: b.Type().Size})
	case "stack":
		g.emit(Instr{Op: OpCallHelper, Dest: dst, Str: "get_stackid", Imm: 0, Type: b.Type()})
	case "ustack":
		g.emit(Instr{Op: OpCallHelper, Dest: dst, Str: "get_stackid", Imm: 1, Type: b.Type()})
	case "retval":
		g.emitCtxRead(dst, arch.RetvalOffset(), b.Type())
	case "func":
		g.emitCtxRead(dst, arch.FuncOffset(), b.Type())
	default:
		if n, ok := analyzer.ArgIndex(b.Name); ok {
			if off, ok := arch.ArgOffset(n); ok {
				g.emitCtxRead(dst, off, b.Type())
				return dst
			}
		}
		// Rejected by the analyzer before lowering; keep dst defined anyway.
		g.emit(Instr{Op: OpConstInt, Dest: dst, Imm: 0, Type: b.Type()})
	}
	return dst
}

// emitCtxRead loads one 8-byte word at byte offset wordOffset*8 from the
// probe's pt_regs context into dst.
func (g *Generator) emitCtxRead(dst string, wordOffset int, typ types.SizedType) {
	g.emit(Instr{Op: OpProbeRead, Dest: dst, Imm: int64(wordOffset * 8), Size: types.IntegerSize, Str: "ctx", Type: typ})
}

func (g *Generator) genCall(c *ast.Call) string {
	switch c.Func {
	case "str":
		src := g.genExpr(c.Args[0])
		dst := g.newReg()
		sz := c.Type().Size
		g.emit(Instr{Op: OpAllocBuf, Dest: dst, Size: sz})
		g.emit(Instr{Op: OpCallHelper, Str: "probe_read_str", Args: []string{dst, src}, Size: sz})
		return dst
	case "sym", "usym":
		// Identity on the value; the runtime resolves a symbol name at print
		// time using c.Func as the tag.
		return g.genExpr(c.Args[0])
	case "reg":
		name := c.Args[0].(*ast.String).Value
		dst := g.newReg()
		if off, ok := arch.RegisterOffset(name); ok {
			g.emitCtxRead(dst, off, c.Type())
		} else {
			g.emit(Instr{Op: OpConstInt, Dest: dst, Imm: 0, Type: c.Type()})
		}
		return dst
	case "printf":
		return g.genPrintf(c)
	default:
		// count/quantize/delete are only ever reached as AssignMap RHS or a
		// statement-position call, both handled by the caller.
		dst := g.newReg()
		g.emit(Instr{Op: OpConstInt, Dest: dst, Imm: 0})
		return dst
	}
}

func (g *Generator) genPrintf(c *ast.Call) string {
	id := g.printfIdx
	g.printfIdx++
	args := make([]string, 0, len(c.Args)-1)
	for _, a := range c.Args[1:] {
		args = append(args, g.genExpr(a))
	}
	g.emit(Instr{Op: OpEmitRecord, Imm: int64(id), Args: args})
	dst := g.newReg()
	g.emit(Instr{Op: OpConstInt, Dest: dst, Imm: 0})
	return dst
}

func (g *Generator) genMapRead(m *ast.Map) string {
	keyReg := g.packKey(m.Keys, nil)
	dst := g.newReg()
	g.emit(Instr{Op: OpMapLookup, Dest: dst, Args: []string{keyReg}, Map: m.Name, Type: m.Type()})
	return dst
}

func (g *Generator) genBinop(b *ast.Binop) string {
	if b.Op == token.LAND || b.Op == token.LOR {
		return g.genShortCircuit(b)
	}
	lhs := g.genExpr(b.Left)
	rhs := g.genExpr(b.Right)
	dst := g.newReg()
	if b.Left.Type().Kind == types.KindString {
		g.emit(Instr{Op: OpCallHelper, Dest: dst, Str: "strcmp", Args: []string{lhs, rhs}})
		if b.Op == token.NE {
			neg := g.newReg()
			g.emit(Instr{Op: OpUnop, Dest: neg, Str: "!", Args: []string{dst}})
			return neg
		}
		return dst
	}
	g.emit(Instr{Op: OpBinop, Dest: dst, Str: string(b.Op), Args: []string{lhs, rhs}})
	return dst
}

// genShortCircuit lowers && and || to a small CFG: the RHS is only
// evaluated when the LHS doesn't already force the result. Each operand is
// normalized to 0/1 before it lands in dst, so `2 && 3` yields 1.
func (g *Generator) genShortCircuit(b *ast.Binop) string {
	dst := g.newReg()
	lhs := g.genExpr(b.Left)
	lbool := g.newReg()
	g.emit(Instr{Op: OpUnop, Dest: lbool, Str: "!=0", Args: []string{lhs}})
	g.emit(Instr{Op: OpMove, Dest: dst, Args: []string{lbool}})
	done := g.newLabel("sc_done")
	if b.Op == token.LAND {
		g.emit(Instr{Op: OpJumpIfZero, Args: []string{lbool}, Target: done})
	} else {
		g.emit(Instr{Op: OpJumpIfNZero, Args: []string{lbool}, Target: done})
	}
	rhs := g.genExpr(b.Right)
	rbool := g.newReg()
	g.emit(Instr{Op: OpUnop, Dest: rbool, Str: "!=0", Args: []string{rhs}})
	g.emit(Instr{Op: OpMove, Dest: dst, Args: []string{rbool}})
	g.emit(Instr{Op: OpLabel, Target: done})
	return dst
}

func (g *Generator) genUnop(u *ast.Unop) string {
	src := g.genExpr(u.Expr)
	if u.Op == token.STAR && u.Type().Kind == types.KindCast {
		// Dereferencing a struct pointer yields the struct itself, carried by
		// address; fields load through it via probe_read offsets.
		return src
	}
	dst := g.newReg()
	switch u.Op {
	case token.NOT:
		g.emit(Instr{Op: OpUnop, Dest: dst, Str: "!", Args: []string{src}})
	case token.TILDE:
		g.emit(Instr{Op: OpUnop, Dest: dst, Str: "~", Args: []string{src}})
	case token.STAR:
		sz := u.Type().Size
		if sz == 0 {
			sz = types.IntegerSize
		}
		g.emit(Instr{Op: OpProbeReadP, Dest: dst, Args: []string{src}, Size: sz})
	}
	return dst
}

// genFieldAccess lowers `expr.field` via probe_read at the field's byte
// offset within the struct the analyzer resolved expr's cast type against.
func (g *Generator) genFieldAccess(f *ast.FieldAccess) string {
	base := g.genExpr(f.Expr)
	dst := g.newReg()
	sd := g.structs[f.Expr.Type().Name]
	if sd == nil {
		g.emit(Instr{Op: OpConstInt, Dest: dst, Imm: 0})
		return dst
	}
	offset, size, ok := fieldLayout(sd, f.Field)
	if !ok {
		g.emit(Instr{Op: OpConstInt, Dest: dst, Imm: 0})
		return dst
	}
	g.emit(Instr{Op: OpProbeRead, Dest: dst, Args: []string{base}, Imm: int64(offset), Size: size})
	return dst
}

// fieldLayout sums preceding field widths to find name's byte offset and
// size within sd, in declaration order.
func fieldLayout(sd *ast.StructDecl, name string) (offset, size int, ok bool) {
	for _, f := range sd.Fields {
		fsize := fieldSize(f)
		if f.Name == name {
			return offset, fsize, true
		}
		offset += fsize
	}
	return 0, 0, false
}

func fieldSize(f ast.StructField) int {
	if f.Pointer {
		return types.IntegerSize
	}
	n := f.ArrayLen
	if n == 0 {
		n = 1
	}
	return n * primitiveSize(f.Type)
}

func primitiveSize(typeName string) int {
	switch typeName {
	case "int8", "char":
		return 1
	case "int16":
		return 2
	case "int32":
		return 4
	default:
		return 8
	}
}
