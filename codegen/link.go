// ----------------------------------------------------------------------------
// FILE: codegen/link.go
// ----------------------------------------------------------------------------
// PACKAGE: codegen
// PURPOSE: The link step: runs the always-inliner over the helpers section
//          (log2, strcmp get substituted at every call site rather than
//          emitted as BPF-to-BPF subprograms) and lowers each probe
//          section's stack-machine IR to real cilium/ebpf/asm instructions,
//          one frame-pointer-relative stack slot per virtual register.
//          This produces the section table runtime/ hands to
//          ebpf.NewProgram per attach point.
// ----------------------------------------------------------------------------

package codegen

import (
	"fmt"

	"github.com/cilium/ebpf/asm"

	"bpftrace/types"
)

// LinkedProgram is one probe's assembled instruction stream, still keyed by
// its section name so the runtime can match it back to an attach point.
type LinkedProgram struct {
	Section string
	Insns   asm.Instructions
}

// Link assembles every non-"helpers" section of prog into real eBPF
// instructions, inlining the two synthesized helper bodies at their call
// sites. OpMapLookup/Update/Delete load their map through a pseudo-fd
// instruction carrying a named reference, which the runtime resolves to the
// opened map before loading; the printf table is needed to size the record
// buffer OpEmitRecord packs.
func Link(prog *Program) ([]LinkedProgram, error) {
	helperBodies := map[string][]Instr{}
	var helperName string
	for _, sec := range prog.Sections {
		if sec.Name != "helpers" {
			continue
		}
		for _, in := range sec.Instrs {
			if in.Op == OpDefineFunc {
				helperName = in.Str
				continue
			}
			helperBodies[helperName] = append(helperBodies[helperName], in)
		}
	}

	printfByID := map[int64]PrintfSpec{}
	for _, pf := range prog.Printfs {
		printfByID[int64(pf.ID)] = pf
	}

	var out []LinkedProgram
	for _, sec := range prog.Sections {
		if sec.Name == "helpers" {
			continue
		}
		asmr := &assembler{helpers: helperBodies, printfs: printfByID}
		insns, err := asmr.assemble(sec.Instrs)
		if err != nil {
			return nil, fmt.Errorf("linking section %s: %w", sec.Name, err)
		}
		out = append(out, LinkedProgram{Section: sec.Name, Insns: insns})
	}
	return out, nil
}

// assembler lowers one section's linear IR to real instructions. Every
// virtual register (the generator's "%N" names, plus the helper bodies'
// "%log2.N"/"%strcmp.N" names once inlined) gets its own 8-byte slot on the
// program's stack frame; no register allocation is attempted.
type assembler struct {
	helpers map[string][]Instr
	printfs map[int64]PrintfSpec

	slots    map[string]int16
	bufs     map[string]bufSlot
	nextOff  int16
	insns    asm.Instructions
	inlineID int
}

type bufSlot struct {
	off  int16
	size int
}

// ctxSlot is the virtual register ctx (the program's sole argument, live in
// R1 only at entry) is saved into, since every other op is free to clobber
// R1 as scratch; probe_read and get_stackid need ctx again well after entry.
const ctxSlot = "%ctx"

func (a *assembler) assemble(instrs []Instr) (asm.Instructions, error) {
	a.slots = map[string]int16{}
	a.bufs = map[string]bufSlot{}
	a.nextOff = 0
	a.insns = []asm.Instruction{a.store(ctxSlot, asm.R1)}

	if err := a.emitAll(instrs); err != nil {
		return nil, err
	}
	return a.insns, nil
}

func (a *assembler) emitAll(instrs []Instr) error {
	for _, in := range instrs {
		if err := a.emitOne(in); err != nil {
			return err
		}
	}
	return nil
}

func (a *assembler) slotFor(name string) int16 {
	if off, ok := a.slots[name]; ok {
		return off
	}
	a.nextOff += 8
	off := -a.nextOff
	a.slots[name] = off
	return off
}

func (a *assembler) allocBuf(name string, size int) int16 {
	width := int16((size + 7) &^ 7)
	a.nextOff += width
	off := -a.nextOff
	a.bufs[name] = bufSlot{off: off, size: size}
	return off
}

func (a *assembler) store(name string, src asm.Register) asm.Instruction {
	return asm.StoreMem(asm.RFP, a.slotFor(name), src, asm.DWord)
}

// label returns a symbol name unique within this assembler instance; it
// shares a counter with inline's register-renaming suffix since both just
// need fresh names, never colliding ones.
func (a *assembler) label() string {
	a.inlineID++
	return fmt.Sprintf("L%d", a.inlineID)
}

func (a *assembler) emitOne(in Instr) error {
	switch in.Op {
	case OpConstInt:
		a.insns = append(a.insns,
			asm.LoadImm(asm.R0, in.Imm, asm.DWord),
			a.store(in.Dest, asm.R0),
		)
	case OpAllocBuf:
		off := a.allocBuf(in.Dest, in.Size)
		a.zeroBuf(off, in.Size)
	case OpCopyLiteral:
		dst := in.Args[0]
		b := a.bufs[dst]
		a.copyBytes(b.off, []byte(in.Str))
	case OpMove:
		a.insns = append(a.insns, a.loadScalar(asm.R0, in.Args[0]), a.store(in.Dest, asm.R0))
	case OpBinop:
		a.emitBinop(in)
	case OpUnop:
		a.emitUnop(in)
	case OpSelect:
		a.emitSelect(in)
	case OpJump:
		a.insns = append(a.insns, asm.Ja.Label(in.Target))
	case OpJumpIfZero:
		a.insns = append(a.insns, a.loadScalar(asm.R1, in.Args[0]), asm.JEq.Imm(asm.R1, 0, in.Target))
	case OpJumpIfNZero:
		a.insns = append(a.insns, a.loadScalar(asm.R1, in.Args[0]), asm.JNE.Imm(asm.R1, 0, in.Target))
	case OpLabel:
		a.insns = append(a.insns, asm.Mov.Reg(asm.R0, asm.R0).WithSymbol(in.Target))
	case OpReturn:
		if len(in.Args) > 0 {
			a.insns = append(a.insns, a.loadScalar(asm.R0, in.Args[0]))
		} else {
			a.insns = append(a.insns, asm.LoadImm(asm.R0, in.Imm, asm.DWord))
		}
		a.insns = append(a.insns, asm.Return())
	case OpProbeRead:
		a.emitProbeRead(in)
	case OpProbeReadP:
		a.emitProbeReadPointer(in)
	case OpPackField:
		a.emitPackField(in)
	case OpMapLookup:
		a.emitMapLookup(in)
	case OpMapUpdate:
		a.emitMapUpdate(in)
	case OpMapDelete:
		a.emitMapDelete(in)
	case OpEmitRecord:
		a.emitRecord(in)
	case OpCallHelper:
		return a.emitCallHelper(in)
	case OpDefineFunc:
		// Consumed only inside the helpers section; ordinary probe bodies
		// never see this op.
	default:
		return fmt.Errorf("unassemblable op %s", in.Op)
	}
	return nil
}

// loadScalar loads the 8-byte stack slot of virtual register name into dst.
func (a *assembler) loadScalar(dst asm.Register, name string) asm.Instruction {
	return asm.LoadMem(dst, asm.RFP, a.slotFor(name), asm.DWord)
}

func (a *assembler) zeroBuf(off int16, size int) {
	a.insns = append(a.insns, asm.LoadImm(asm.R0, 0, asm.DWord))
	for o := 0; o < size; o += 8 {
		a.insns = append(a.insns, asm.StoreMem(asm.RFP, off+int16(o), asm.R0, asm.DWord))
	}
}

func (a *assembler) copyBytes(off int16, data []byte) {
	data = append(append([]byte{}, data...), 0) // NUL terminator
	i := 0
	for ; i+8 <= len(data); i += 8 {
		var word int64
		for b := 0; b < 8; b++ {
			word |= int64(data[i+b]) << (8 * uint(b))
		}
		a.insns = append(a.insns,
			asm.LoadImm(asm.R0, word, asm.DWord),
			asm.StoreMem(asm.RFP, off+int16(i), asm.R0, asm.DWord),
		)
	}
	for ; i < len(data); i++ {
		a.insns = append(a.insns,
			asm.LoadImm(asm.R0, int64(data[i]), asm.DWord),
			asm.StoreMem(asm.RFP, off+int16(i), asm.R0, asm.Byte),
		)
	}
}

func (a *assembler) emitBinop(in Instr) {
	a.insns = append(a.insns, a.loadScalar(asm.R1, in.Args[0]), a.loadScalar(asm.R2, in.Args[1]))
	if jop, ok := compareTable[in.Str]; ok {
		a.emitCompare(jop)
	} else if op, ok := binopTable[in.Str]; ok {
		a.insns = append(a.insns, op.Reg(asm.R1, asm.R2))
	} else {
		a.insns = append(a.insns, asm.Add.Reg(asm.R1, asm.R2))
	}
	a.insns = append(a.insns, a.store(in.Dest, asm.R1))
}

// emitCompare materializes a comparison's 0/1 result in R1, with R1/R2
// already holding the operands. Relational compares are signed, matching the
// language's integer semantics; div/mod in binopTable stay unsigned.
func (a *assembler) emitCompare(jop asm.JumpOp) {
	trueL := a.label()
	done := a.label()
	a.insns = append(a.insns,
		jop.Reg(asm.R1, asm.R2, trueL),
		asm.Mov.Imm(asm.R1, 0),
		asm.Ja.Label(done),
		asm.Mov.Imm(asm.R1, 1).WithSymbol(trueL),
		asm.Mov.Reg(asm.R1, asm.R1).WithSymbol(done),
	)
}

var binopTable = map[string]asm.ALUOp{
	"+": asm.Add, "-": asm.Sub, "*": asm.Mul, "/": asm.Div, "%": asm.Mod,
	"&": asm.And, "|": asm.Or, "^": asm.Xor, "<<": asm.LSh, ">>": asm.RSh,
}

var compareTable = map[string]asm.JumpOp{
	"==": asm.JEq, "!=": asm.JNE,
	"<": asm.JSLT, "<=": asm.JSLE, ">": asm.JSGT, ">=": asm.JSGE,
}

// emitUnop also lowers the comparison/boolean pseudo-ops genBuiltin,
// genShortCircuit, and genBinop's string path encode in Str ("high32",
// "low32", "!", "~", "==0", "!=0"): "!", "==0" and "!=0" become a small
// compare-and-branch sequence; "high32", "low32" and "~" are single ALU ops.
func (a *assembler) emitUnop(in Instr) {
	a.insns = append(a.insns, a.loadScalar(asm.R1, in.Args[0]))
	switch in.Str {
	case "high32":
		a.insns = append(a.insns, asm.RSh.Imm(asm.R1, 32))
	case "low32":
		a.insns = append(a.insns, asm.Mov.Reg32(asm.R1, asm.R1))
	case "!", "==0":
		eq := a.label()
		done := a.label()
		a.insns = append(a.insns,
			asm.JEq.Imm(asm.R1, 0, eq),
			asm.Mov.Imm(asm.R1, 0),
			asm.Ja.Label(done),
			asm.Mov.Imm(asm.R1, 1).WithSymbol(eq),
			asm.Mov.Reg(asm.R1, asm.R1).WithSymbol(done),
		)
	case "!=0":
		nz := a.label()
		done := a.label()
		a.insns = append(a.insns,
			asm.JNE.Imm(asm.R1, 0, nz),
			asm.Mov.Imm(asm.R1, 0),
			asm.Ja.Label(done),
			asm.Mov.Imm(asm.R1, 1).WithSymbol(nz),
			asm.Mov.Reg(asm.R1, asm.R1).WithSymbol(done),
		)
	case "~":
		a.insns = append(a.insns, asm.Xor.Imm(asm.R1, -1))
	}
	a.insns = append(a.insns, a.store(in.Dest, asm.R1))
}

func (a *assembler) emitSelect(in Instr) {
	a.insns = append(a.insns, a.loadScalar(asm.R1, in.Args[0]))
	elseLabel := a.label()
	done := a.label()
	a.insns = append(a.insns, asm.JEq.Imm(asm.R1, 0, elseLabel))
	a.insns = append(a.insns, a.loadScalar(asm.R0, in.Args[1]), a.store(in.Dest, asm.R0), asm.Ja.Label(done))
	a.insns = append(a.insns, asm.Mov.Reg(asm.R0, asm.R0).WithSymbol(elseLabel))
	a.insns = append(a.insns, a.loadScalar(asm.R0, in.Args[2]), a.store(in.Dest, asm.R0))
	a.insns = append(a.insns, asm.Mov.Reg(asm.R0, asm.R0).WithSymbol(done))
}

// emitProbeRead loads Size bytes from a base address + Imm via
// bpf_probe_read into a fresh stack slot/buffer. The base is Args[0] when
// present (a field access through a struct pointer), else the saved ctx.
func (a *assembler) emitProbeRead(in Instr) {
	off := a.allocBuf(in.Dest, in.Size)
	base := ctxSlot
	if len(in.Args) > 0 {
		base = in.Args[0]
	}
	a.insns = append(a.insns,
		a.loadScalar(asm.R3, base),
		asm.Add.Imm(asm.R3, int32(in.Imm)),
		asm.Mov.Reg(asm.R1, asm.RFP),
		asm.Add.Imm(asm.R1, int32(off)),
		asm.Mov.Imm(asm.R2, int32(in.Size)),
		asm.FnProbeRead.Call(),
	)
	if in.Size <= 8 {
		a.insns = append(a.insns, asm.LoadMem(asm.R0, asm.RFP, off, sizeOf(in.Size)), a.store(in.Dest, asm.R0))
	}
}

func (a *assembler) emitProbeReadPointer(in Instr) {
	off := a.allocBuf(in.Dest, in.Size)
	a.insns = append(a.insns,
		a.loadScalar(asm.R3, in.Args[0]),
		asm.Mov.Reg(asm.R1, asm.RFP),
		asm.Add.Imm(asm.R1, int32(off)),
		asm.Mov.Imm(asm.R2, int32(in.Size)),
		asm.FnProbeRead.Call(),
	)
	if in.Size <= 8 {
		a.insns = append(a.insns, asm.LoadMem(asm.R0, asm.RFP, off, sizeOf(in.Size)), a.store(in.Dest, asm.R0))
	}
}

func sizeOf(n int) asm.Size {
	switch {
	case n <= 1:
		return asm.Byte
	case n <= 2:
		return asm.Half
	case n <= 4:
		return asm.Word
	default:
		return asm.DWord
	}
}

// emitPackField writes Args[1] (scalar or buffer) into key buffer Args[0]
// at byte offset Imm.
func (a *assembler) emitPackField(in Instr) {
	dst := a.bufs[in.Args[0]]
	if b, ok := a.bufs[in.Args[1]]; ok {
		a.copyBufToBuf(dst.off+int16(in.Imm), b.off, in.Size)
		return
	}
	a.insns = append(a.insns, a.loadScalar(asm.R0, in.Args[1]), asm.StoreMem(asm.RFP, dst.off+int16(in.Imm), asm.R0, asm.DWord))
}

func (a *assembler) copyBufToBuf(dstOff, srcOff int16, size int) {
	for o := 0; o+8 <= size; o += 8 {
		a.insns = append(a.insns,
			asm.LoadMem(asm.R0, asm.RFP, srcOff+int16(o), asm.DWord),
			asm.StoreMem(asm.RFP, dstOff+int16(o), asm.R0, asm.DWord),
		)
	}
}

// mapPtr loads a pseudo-fd pointer for mapName into R1, the register every
// bpf_map_* helper (lookup/update/delete) takes its map argument in; the
// load carries mapName as a reference, and the runtime associates each such
// instruction with its opened map before handing the program to
// ebpf.NewProgram.
func (a *assembler) mapPtr(mapName string) asm.Instruction {
	return a.mapPtrTo(asm.R1, mapName)
}

// mapPtrTo is mapPtr generalized to helpers whose map argument isn't R1:
// bpf_get_stackid and bpf_perf_event_output both take ctx in R1 and the map
// in R2.
func (a *assembler) mapPtrTo(dst asm.Register, mapName string) asm.Instruction {
	return asm.LoadMapPtr(dst, 0).WithReference(mapName)
}

func (a *assembler) emitMapLookup(in Instr) {
	keyOff := a.bufs[in.Args[0]].off
	a.insns = append(a.insns,
		a.mapPtr(in.Map),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, int32(keyOff)),
		asm.FnMapLookupElem.Call(),
	)
	notNil := a.label()
	done := a.label()
	if in.Type.Kind == types.KindString {
		// A string-valued map entry is consumed by address, like any other
		// string-typed register; no scalar is loaded.
		a.insns = append(a.insns,
			asm.JNE.Imm(asm.R0, 0, notNil),
			asm.LoadImm(asm.R0, 0, asm.DWord),
			asm.Ja.Label(done),
			asm.Mov.Reg(asm.R0, asm.R0).WithSymbol(notNil),
			asm.Mov.Reg(asm.R0, asm.R0).WithSymbol(done),
			a.store(in.Dest, asm.R0),
		)
		return
	}
	a.insns = append(a.insns,
		asm.JNE.Imm(asm.R0, 0, notNil),
		asm.LoadImm(asm.R0, 0, asm.DWord),
		asm.Ja.Label(done),
		asm.Mov.Reg(asm.R1, asm.R0).WithSymbol(notNil),
		asm.LoadMem(asm.R0, asm.R1, 0, asm.DWord),
		asm.Mov.Reg(asm.R0, asm.R0).WithSymbol(done),
		a.store(in.Dest, asm.R0),
	)
}

func (a *assembler) emitMapUpdate(in Instr) {
	keyOff := a.bufs[in.Args[0]].off
	valReg := in.Args[1]
	var valOff int16
	if b, ok := a.bufs[valReg]; ok {
		valOff = b.off
	} else {
		valOff = a.allocBuf(valReg+".val", 8)
		a.insns = append(a.insns, a.loadScalar(asm.R0, valReg), asm.StoreMem(asm.RFP, valOff, asm.R0, asm.DWord))
	}
	a.insns = append(a.insns,
		a.mapPtr(in.Map),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, int32(keyOff)),
		asm.Mov.Reg(asm.R3, asm.RFP),
		asm.Add.Imm(asm.R3, int32(valOff)),
		asm.Mov.Imm(asm.R4, 0), // BPF_ANY
		asm.FnMapUpdateElem.Call(),
	)
}

func (a *assembler) emitMapDelete(in Instr) {
	keyOff := a.bufs[in.Args[0]].off
	a.insns = append(a.insns,
		a.mapPtr(in.Map),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, int32(keyOff)),
		asm.FnMapDeleteElem.Call(),
	)
}

// emitRecord packs {id int64, fields...} into a fresh stack buffer sized
// from the analyzer's recorded printf argument types and sends it to the
// perf-event ring via bpf_perf_event_output, keyed to a reserved map name
// the runtime creates one perf-event array for.
func (a *assembler) emitRecord(in Instr) {
	pf := a.printfs[in.Imm]
	size := 8
	for _, t := range pf.ArgTypes {
		size += fieldWidth(t)
	}
	bufName := fmt.Sprintf("__record%d", in.Imm)
	off := a.allocBuf(bufName, size)
	a.insns = append(a.insns, asm.LoadImm(asm.R0, in.Imm, asm.DWord), asm.StoreMem(asm.RFP, off, asm.R0, asm.DWord))
	fieldOff := int16(8)
	for i, arg := range in.Args {
		w := 8
		if i < len(pf.ArgTypes) {
			w = fieldWidth(pf.ArgTypes[i])
		}
		if b, ok := a.bufs[arg]; ok {
			a.copyBufToBuf(off+fieldOff, b.off, w)
		} else {
			a.insns = append(a.insns, a.loadScalar(asm.R0, arg), asm.StoreMem(asm.RFP, off+fieldOff, asm.R0, asm.DWord))
		}
		fieldOff += int16(w)
	}
	a.insns = append(a.insns,
		a.loadScalar(asm.R1, ctxSlot),
		a.mapPtrTo(asm.R2, "__printf_ring"),
		asm.LoadImm(asm.R3, -1, asm.DWord), // BPF_F_CURRENT_CPU
		asm.Mov.Reg(asm.R4, asm.RFP),
		asm.Add.Imm(asm.R4, int32(off)),
		asm.Mov.Imm(asm.R5, int32(size)),
		asm.FnPerfEventOutput.Call(),
	)
}

func fieldWidth(t types.SizedType) int {
	if t.Kind == types.KindString {
		return t.Size
	}
	return 8
}

// emitCallHelper lowers a synthesized (log2, strcmp) or kernel helper call.
// Synthesized helpers are inlined: their bodies are spliced in with their
// named parameter registers bound to the call's argument registers,
// matching their always_inline attribute rather than emitted as
// a BPF-to-BPF subprogram call.
func (a *assembler) emitCallHelper(in Instr) error {
	switch in.Str {
	case "log2":
		return a.inline("log2", map[string]string{"%log2.n": in.Args[0]}, in.Dest)
	case "strcmp":
		return a.inline("strcmp", map[string]string{"%strcmp.s1": in.Args[0], "%strcmp.s2": in.Args[1]}, in.Dest)
	case "memcmp":
		return a.emitMemcmp(in)
	case "get_current_pid_tgid":
		return a.callFn(asm.FnGetCurrentPidTgid, in.Dest, nil)
	case "get_current_uid_gid":
		return a.callFn(asm.FnGetCurrentUidGid, in.Dest, nil)
	case "ktime_get_ns":
		return a.callFn(asm.FnKtimeGetNs, in.Dest, nil)
	case "smp_processor_id":
		return a.callFn(asm.FnGetSmpProcessorId, in.Dest, nil)
	case "get_current_comm":
		b := a.bufs[in.Args[0]]
		a.insns = append(a.insns,
			asm.Mov.Reg(asm.R1, asm.RFP), asm.Add.Imm(asm.R1, int32(b.off)),
			asm.Mov.Imm(asm.R2, int32(in.Size)),
			asm.FnGetCurrentComm.Call(),
		)
		return nil
	case "get_stackid":
		a.insns = append(a.insns,
			a.loadScalar(asm.R1, ctxSlot),
			a.mapPtrTo(asm.R2, "__stack_traces"),
			asm.Mov.Imm(asm.R3, int32(in.Imm)),
			asm.FnGetStackid.Call(),
			a.store(in.Dest, asm.R0),
		)
		return nil
	case "probe_read_str":
		dst := a.bufs[in.Args[0]]
		a.insns = append(a.insns,
			asm.Mov.Reg(asm.R1, asm.RFP), asm.Add.Imm(asm.R1, int32(dst.off)),
			asm.Mov.Imm(asm.R2, int32(in.Size)),
			a.loadScalar(asm.R3, in.Args[1]),
			asm.FnProbeReadStr.Call(),
		)
		return nil
	default:
		return fmt.Errorf("unknown helper %q", in.Str)
	}
}

func (a *assembler) callFn(fn asm.BuiltinFunc, dest string, setup []asm.Instruction) error {
	a.insns = append(a.insns, setup...)
	a.insns = append(a.insns, fn.Call(), a.store(dest, asm.R0))
	return nil
}

// emitMemcmp is strcmp's byte comparator, unrolled into 8-byte-chunk
// compares: the verifier forbids unbounded loops, so the comparator is fully
// unrolled rather than a runtime loop. The width is the helper's STRING_SIZE
// upper bound clamped to each operand's actual buffer, so a narrower string
// (comm's string<16> against a literal) never reads past its own slot; both
// buffers are NUL-terminated within their width, so equality over the
// narrower width is still exact.
func (a *assembler) emitMemcmp(in Instr) error {
	s1, ok1 := a.bufs[in.Args[0]]
	s2, ok2 := a.bufs[in.Args[1]]
	if !ok1 || !ok2 {
		return fmt.Errorf("string compare operand without a stack buffer")
	}
	size := in.Size
	if s1.size < size {
		size = s1.size
	}
	if s2.size < size {
		size = s2.size
	}
	acc := fmt.Sprintf("%%memcmp.acc.%d", a.nextOff)
	a.insns = append(a.insns, asm.LoadImm(asm.R0, 0, asm.DWord), a.store(acc, asm.R0))
	for o := 0; o+8 <= size; o += 8 {
		a.insns = append(a.insns,
			asm.LoadMem(asm.R1, asm.RFP, s1.off+int16(o), asm.DWord),
			asm.LoadMem(asm.R2, asm.RFP, s2.off+int16(o), asm.DWord),
			asm.Xor.Reg(asm.R1, asm.R2),
			a.loadScalar(asm.R0, acc),
			asm.Or.Reg(asm.R0, asm.R1),
			a.store(acc, asm.R0),
		)
	}
	a.insns = append(a.insns, a.loadScalar(asm.R1, acc))
	a.insns = append(a.insns, a.store(in.Dest, asm.R1))
	return nil
}

// inline splices body's instructions into the current stream, renaming its
// parameter registers per bindings and its result register to dest.
func (a *assembler) inline(name string, bindings map[string]string, dest string) error {
	body, ok := a.helpers[name]
	if !ok {
		return fmt.Errorf("no synthesized helper %q in helpers section", name)
	}
	// suffix is fixed for this whole splice: emitOne on a spliced instruction
	// can itself call a.label() (bumping a.inlineID further, for its own
	// unrelated jump symbols), so rename must not read a.inlineID live or
	// a register's definition and its later uses would disagree on suffix.
	a.inlineID++
	suffix := a.inlineID
	rename := func(r string) string {
		if b, ok := bindings[r]; ok {
			return b
		}
		return fmt.Sprintf("%s.%d", r, suffix)
	}
	for _, in := range body {
		if in.Op == OpReturn {
			if len(in.Args) > 0 {
				a.insns = append(a.insns, a.loadScalar(asm.R0, rename(in.Args[0])), a.store(dest, asm.R0))
			}
			continue
		}
		renamed := in
		renamed.Dest = rename(in.Dest)
		args := make([]string, len(in.Args))
		for i, ar := range in.Args {
			args[i] = rename(ar)
		}
		renamed.Args = args
		if renamed.Target != "" && renamed.Op != OpDefineFunc {
			renamed.Target = fmt.Sprintf("%s.%d", renamed.Target, suffix)
		}
		if err := a.emitOne(renamed); err != nil {
			return err
		}
	}
	return nil
}
