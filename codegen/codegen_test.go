package codegen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bpftrace/analyzer"
	"bpftrace/lexer"
	"bpftrace/parser"
	"bpftrace/types"
)

func lower(t *testing.T, src string) *Program {
	t.Helper()
	p := parser.New(lexer.New(src))
	prog, err := p.ParseProgram()
	require.NoError(t, err, "parse error for %q", src)
	an := analyzer.New()
	require.NoError(t, an.Analyze(prog), "analysis error for %q", src)
	out, err := Generate(prog, an)
	require.NoError(t, err)
	return out
}

func section(t *testing.T, p *Program, name string) Section {
	t.Helper()
	for _, s := range p.Sections {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no section %q (have %v)", name, sectionNames(p))
	return Section{}
}

func sectionNames(p *Program) []string {
	var names []string
	for _, s := range p.Sections {
		names = append(names, s.Name)
	}
	return names
}

func opsOf(sec Section, op Op) []Instr {
	var out []Instr
	for _, in := range sec.Instrs {
		if in.Op == op {
			out = append(out, in)
		}
	}
	return out
}

func TestOneSectionPerAttachPointSharingOneBody(t *testing.T) {
	p := lower(t, `kprobe:a,kprobe:b { 1 }`)
	sa := section(t, p, "s_kprobe:a")
	sb := section(t, p, "s_kprobe:b")
	assert.Equal(t, sa.Instrs, sb.Instrs, "attach points of one probe share the same lowered body")
}

func TestHelpersSectionDefinesAlwaysInlineLog2AndStrcmp(t *testing.T) {
	p := lower(t, `kprobe:f { 1 }`)
	helpers := section(t, p, "helpers")
	defs := opsOf(helpers, OpDefineFunc)
	require.Len(t, defs, 2)
	assert.Equal(t, "log2", defs[0].Str)
	assert.Equal(t, "strcmp", defs[1].Str)
	for _, d := range defs {
		assert.Equal(t, "always_inline", d.Target)
	}
}

func TestCountLowersToLookupAddUpdate(t *testing.T) {
	p := lower(t, `kprobe:f { @c = count(); }`)
	sec := section(t, p, "s_kprobe:f")

	lookups := opsOf(sec, OpMapLookup)
	require.Len(t, lookups, 1)
	assert.Equal(t, "c", lookups[0].Map)

	updates := opsOf(sec, OpMapUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "c", updates[0].Map)

	var sawAddOne bool
	for _, in := range opsOf(sec, OpBinop) {
		if in.Str == "+" {
			sawAddOne = true
		}
	}
	assert.True(t, sawAddOne, "count() must add 1 to the looked-up value")
}

func TestZeroKeyMapPacksSingleIntegerZero(t *testing.T) {
	p := lower(t, `kprobe:f { @c = count(); }`)
	sec := section(t, p, "s_kprobe:f")
	allocs := opsOf(sec, OpAllocBuf)
	require.NotEmpty(t, allocs)
	assert.Equal(t, types.IntegerSize, allocs[0].Size, "empty-key maps use a single integer<8> zero key")
}

func TestQuantizeAppendsLog2BucketToKey(t *testing.T) {
	p := lower(t, `kprobe:f { @q = quantize(retval); }`)
	sec := section(t, p, "s_kprobe:f")

	var sawLog2 bool
	for _, in := range opsOf(sec, OpCallHelper) {
		if in.Str == "log2" {
			sawLog2 = true
		}
	}
	assert.True(t, sawLog2, "quantize() must bucket through log2")

	allocs := opsOf(sec, OpAllocBuf)
	require.NotEmpty(t, allocs)
	keyAlloc := allocs[len(allocs)-1]
	assert.Equal(t, 2*types.IntegerSize, keyAlloc.Size, "zero keys plus the trailing log2 bucket")

	var spec *MapSpec
	for i := range p.Maps {
		if p.Maps[i].Name == "q" {
			spec = &p.Maps[i]
		}
	}
	require.NotNil(t, spec)
	assert.True(t, spec.IsQuantize)
}

func TestKeyPackingSourceOrderOffsets(t *testing.T) {
	p := lower(t, `kprobe:f { @x[pid, comm] = 1; }`)
	sec := section(t, p, "s_kprobe:f")

	packs := opsOf(sec, OpPackField)
	require.Len(t, packs, 2)
	assert.Equal(t, int64(0), packs[0].Imm)
	assert.Equal(t, types.IntegerSize, packs[0].Size)
	assert.Equal(t, int64(types.IntegerSize), packs[1].Imm)
	assert.Equal(t, 16, packs[1].Size, "comm packs its full string<16> width")
}

func TestDeleteLowersToMapDelete(t *testing.T) {
	p := lower(t, `kprobe:f { @x = 1; delete(@x); }`)
	sec := section(t, p, "s_kprobe:f")
	dels := opsOf(sec, OpMapDelete)
	require.Len(t, dels, 1)
	assert.Equal(t, "x", dels[0].Map)
}

func TestPredicateReturnsZeroBeforeBody(t *testing.T) {
	p := lower(t, `kprobe:f /pid/ { @c = count(); }`)
	sec := section(t, p, "s_kprobe:f")

	var guardIdx, retIdx = -1, -1
	for i, in := range sec.Instrs {
		if in.Op == OpJumpIfNZero && guardIdx < 0 {
			guardIdx = i
		}
		if in.Op == OpReturn && in.Imm == 0 && retIdx < 0 && guardIdx >= 0 {
			retIdx = i
		}
	}
	require.GreaterOrEqual(t, guardIdx, 0, "predicate must guard the body")
	require.Equal(t, guardIdx+1, retIdx, "a false predicate returns 0 immediately")
	for _, in := range sec.Instrs[:guardIdx] {
		assert.NotEqual(t, OpMapUpdate, in.Op, "body must not run before the guard")
	}
}

func TestShortCircuitAndSkipsRHS(t *testing.T) {
	p := lower(t, `kprobe:f { @x = pid && tid; }`)
	sec := section(t, p, "s_kprobe:f")
	assert.NotEmpty(t, opsOf(sec, OpJumpIfZero), "&& must skip the RHS when the LHS is zero")
	assert.Equal(t, 2, countNormalizations(sec), "both operands normalize to 0/1")
}

func TestShortCircuitOrSkipsRHS(t *testing.T) {
	p := lower(t, `kprobe:f { @x = pid || tid; }`)
	sec := section(t, p, "s_kprobe:f")
	assert.NotEmpty(t, opsOf(sec, OpJumpIfNZero), "|| must skip the RHS when the LHS is nonzero")
	assert.Equal(t, 2, countNormalizations(sec), "both operands normalize to 0/1")
}

func countNormalizations(sec Section) int {
	n := 0
	for _, in := range opsOf(sec, OpUnop) {
		if in.Str == "!=0" {
			n++
		}
	}
	return n
}

func TestPrintfIdsDenseAcrossProbesInSourceOrder(t *testing.T) {
	p := lower(t, `kprobe:f { printf("a %d", pid); } kprobe:g { printf("b %d", tid); }`)
	var ids []int64
	for _, sec := range p.Sections {
		for _, in := range opsOf(sec, OpEmitRecord) {
			ids = append(ids, in.Imm)
		}
	}
	assert.Equal(t, []int64{0, 1}, ids)
	require.Len(t, p.Printfs, 2)
	assert.Equal(t, "a %d", p.Printfs[0].Format)
	assert.Equal(t, "b %d", p.Printfs[1].Format)
}

func TestStringLiteralTruncatedToGuaranteeTerminator(t *testing.T) {
	long := strings.Repeat("x", types.DefaultStringSize+10)
	p := lower(t, `kprobe:f { @s = "`+long+`"; }`)
	sec := section(t, p, "s_kprobe:f")
	copies := opsOf(sec, OpCopyLiteral)
	require.Len(t, copies, 1)
	assert.Len(t, copies[0].Str, types.DefaultStringSize-1)
	assert.Equal(t, types.DefaultStringSize, copies[0].Size)
}

func TestStringEqualityCallsStrcmpAndNegatesForNE(t *testing.T) {
	p := lower(t, `kprobe:f { @x = str(arg0) != "bash"; }`)
	sec := section(t, p, "s_kprobe:f")

	var sawStrcmp bool
	for _, in := range opsOf(sec, OpCallHelper) {
		if in.Str == "strcmp" {
			sawStrcmp = true
		}
	}
	assert.True(t, sawStrcmp)

	var sawNegate bool
	for _, in := range opsOf(sec, OpUnop) {
		if in.Str == "!" {
			sawNegate = true
		}
	}
	assert.True(t, sawNegate, "!= negates strcmp's equality result")
}

func TestPidTidEachTakeHalfOfPidTgidCall(t *testing.T) {
	p := lower(t, `kprobe:f { @x[pid] = tid; }`)
	sec := section(t, p, "s_kprobe:f")
	var calls int
	for _, in := range opsOf(sec, OpCallHelper) {
		if in.Str == "get_current_pid_tgid" {
			calls++
		}
	}
	assert.Equal(t, 2, calls, "pid and tid each call get_current_pid_tgid once")

	halves := map[string]bool{}
	for _, in := range opsOf(sec, OpUnop) {
		halves[in.Str] = true
	}
	assert.True(t, halves["high32"], "pid is the high half")
	assert.True(t, halves["low32"], "tid is the low half")
}

func TestFieldAccessReadsDeclaredOffset(t *testing.T) {
	p := lower(t, `struct task { int64 a; int32 b; int32 c } kprobe:f { @x = ((task*)arg0)->c; }`)
	sec := section(t, p, "s_kprobe:f")

	var sawFieldRead bool
	for _, in := range opsOf(sec, OpProbeRead) {
		if in.Imm == 12 && in.Size == 4 {
			sawFieldRead = true
		}
	}
	assert.True(t, sawFieldRead, "field c sits 12 bytes in, 4 bytes wide")
}

func TestVariableRebindingNeedsNoStorage(t *testing.T) {
	p := lower(t, `kprobe:f { $v = pid; @x = $v; }`)
	sec := section(t, p, "s_kprobe:f")
	assert.Empty(t, opsOf(sec, OpMove), "a variable rebinding reuses the RHS register directly")
}
