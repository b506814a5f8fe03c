package codegen

import (
	"testing"

	"github.com/cilium/ebpf/asm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bpftrace/analyzer"
	"bpftrace/lexer"
	"bpftrace/parser"
)

func link(t *testing.T, src string) []LinkedProgram {
	t.Helper()
	p := parser.New(lexer.New(src))
	prog, err := p.ParseProgram()
	require.NoError(t, err)
	an := analyzer.New()
	require.NoError(t, an.Analyze(prog))
	lowered, err := Generate(prog, an)
	require.NoError(t, err)
	linked, err := Link(lowered)
	require.NoError(t, err)
	return linked
}

func TestLinkOneProgramPerProbeSectionNoHelpers(t *testing.T) {
	linked := link(t, `kprobe:a { 1 } kprobe:b { 2 }`)
	require.Len(t, linked, 2)
	names := []string{linked[0].Section, linked[1].Section}
	assert.Contains(t, names, "s_kprobe:a")
	assert.Contains(t, names, "s_kprobe:b")
	for _, lp := range linked {
		assert.NotEmpty(t, lp.Insns)
	}
}

func TestLinkMapOpsCarryMapReference(t *testing.T) {
	linked := link(t, `kprobe:f { @hits = count(); }`)
	require.Len(t, linked, 1)
	var refs []string
	for _, ins := range linked[0].Insns {
		if r := ins.Reference(); r != "" {
			refs = append(refs, r)
		}
	}
	assert.Contains(t, refs, "hits", "map helpers resolve their fd through a named reference")
}

func TestLinkInlinesLog2ForQuantize(t *testing.T) {
	linked := link(t, `kprobe:f { @q = quantize(retval); }`)
	require.Len(t, linked, 1)
	// log2 is spliced in, never a BPF-to-BPF call: the only Call instructions
	// left are kernel helper invocations.
	for _, ins := range linked[0].Insns {
		if ins.OpCode.Class().IsJump() && ins.OpCode.JumpOp() == asm.Call {
			assert.True(t, ins.IsBuiltinCall(), "no BPF-to-BPF call may survive inlining: %v", ins)
		}
	}
}

func TestLinkInlinesStrcmpForStringEquality(t *testing.T) {
	linked := link(t, `kprobe:f /str(arg0) == "bash"/ { @c = count(); }`)
	require.Len(t, linked, 1)
	assert.NotEmpty(t, linked[0].Insns)
}

func TestLinkComparisonAndArithmetic(t *testing.T) {
	linked := link(t, `kprobe:f { @x = (pid == 1) + (tid < 5) * (retval % 3); }`)
	require.Len(t, linked, 1)
	assert.NotEmpty(t, linked[0].Insns)
}

func TestLinkPrintfRecordAgainstPrintfTable(t *testing.T) {
	linked := link(t, `kprobe:f { printf("%d %s", pid, str(arg0)); }`)
	require.Len(t, linked, 1)
	var sawRingRef bool
	for _, ins := range linked[0].Insns {
		if ins.Reference() == "__printf_ring" {
			sawRingRef = true
		}
	}
	assert.True(t, sawRingRef, "printf emits through the reserved perf-event array")
}

func TestLinkStackBuiltinReferencesStackTraceMap(t *testing.T) {
	linked := link(t, `kprobe:f { @s[stack] = count(); }`)
	require.Len(t, linked, 1)
	var sawStacksRef bool
	for _, ins := range linked[0].Insns {
		if ins.Reference() == "__stack_traces" {
			sawStacksRef = true
		}
	}
	assert.True(t, sawStacksRef)
}

func TestLinkFailsOnUnknownHelper(t *testing.T) {
	prog := &Program{Sections: []Section{{
		Name:   "s_kprobe:f",
		Instrs: []Instr{{Op: OpCallHelper, Dest: "%1", Str: "no_such_helper"}},
	}}}
	_, err := Link(prog)
	assert.Error(t, err)
}
