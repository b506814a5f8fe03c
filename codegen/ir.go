// ----------------------------------------------------------------------------
// FILE: codegen/ir.go
// ----------------------------------------------------------------------------
// PACKAGE: codegen
// PURPOSE: The low-level instruction stream the code generator lowers typed
//          AST into. Stands in for the verifier-checked bytecode the real
//          target (an in-kernel packet-filter VM) would accept; register
//          names are virtual (SSA-like, never reused), one per lowering step.
// ----------------------------------------------------------------------------

package codegen

import "bpftrace/types"

// Op identifies one IR instruction's shape.
type Op string

const (
	OpConstInt    Op = "const_int"    // Dest = Imm
	OpAllocBuf    Op = "alloc_buf"    // Dest = address of a zeroed Size-byte stack buffer
	OpCopyLiteral Op = "copy_literal" // memcpy Str's bytes (+ NUL) into Args[0], Size bytes total
	OpCallHelper  Op = "call_helper"  // Dest = Str(Args...): a BPF helper or synthesized function call
	OpBinop       Op = "binop"        // Dest = Args[0] Str Args[1]
	OpUnop        Op = "unop"         // Dest = Str Args[0]
	OpSelect      Op = "select"       // Dest = Args[0] ? Args[1] : Args[2]
	OpMove        Op = "move"         // Dest = Args[0]
	OpJump        Op = "jump"         // goto Target
	OpJumpIfZero  Op = "jump_if_zero" // if Args[0] == 0 goto Target
	OpJumpIfNZero Op = "jump_if_nz"   // if Args[0] != 0 goto Target
	OpLabel       Op = "label"        // Target: (no-op marker)
	OpReturn      Op = "return"       // return Args[0] (or Imm if Args empty)
	OpProbeRead   Op = "probe_read"   // Dest = *(Args[0] + Imm), Size bytes (Args[0] omitted => ctx)
	OpProbeReadP  Op = "probe_read_p" // Dest = *(Args[0]), Size bytes (pointer already computed)
	OpPackField   Op = "pack_field"   // write Args[1] into key buffer Args[0] at byte offset Imm, Size bytes
	OpMapLookup   Op = "map_lookup"   // Dest = Map[Args[0]] or 0 if absent
	OpMapUpdate   Op = "map_update"   // Map[Args[0]] = Args[1]
	OpMapDelete   Op = "map_delete"   // delete Map[Args[0]]
	OpEmitRecord  Op = "emit_record"  // perf_event_output of printf id Imm with fields Args
	OpDefineFunc  Op = "define_func"  // Str names a synthesized helper function; Target carries its attribute (always_inline)
)

// Instr is one IR instruction. Not every field is meaningful for every Op;
// see the Op const comments above for the operand convention each uses.
type Instr struct {
	Op     Op
	Dest   string
	Args   []string
	Imm    int64
	Str    string
	Size   int
	Type   types.SizedType
	Target string
	Map    string
}

// Section is one named group of instructions: a probe's lowered body
// (section "s_<attach-point-name>"), or the "helpers" section holding the
// synthesized log2/strcmp functions.
type Section struct {
	Name   string
	Instrs []Instr
}

// MapSpec is one map's shape as the loader needs it: enough to create the
// underlying kernel map and to render its contents at shutdown.
type MapSpec struct {
	Name       string
	KeyTypes   []types.SizedType
	ValueType  types.SizedType
	IsQuantize bool
}

// PrintfSpec mirrors analyzer.PrintfInfo without importing the analyzer
// package's diagnostics machinery into the runtime's dependency surface.
type PrintfSpec struct {
	ID       int
	Format   string
	ArgTypes []types.SizedType
}

// Program is the full lowered output: every probe's section, the helpers
// section, the map manifest, and the printf table, ready for the loader.
type Program struct {
	Sections []Section
	Maps     []MapSpec
	Printfs  []PrintfSpec
}
