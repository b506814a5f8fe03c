// ----------------------------------------------------------------------------
// FILE: codegen/helpers.go
// ----------------------------------------------------------------------------
// PACKAGE: codegen
// PURPOSE: Synthesizes the "helpers" section: log2 (the branchless 5-shift
//          bucket routine quantize() needs) and strcmp (fixed-width string
//          equality), both always_inline.
// ----------------------------------------------------------------------------

package codegen

import (
	"fmt"

	"bpftrace/types"
)

func helpersSection() Section {
	var instrs []Instr
	instrs = append(instrs, Instr{Op: OpDefineFunc, Str: "log2", Target: "always_inline"})
	instrs = append(instrs, buildLog2()...)
	instrs = append(instrs, Instr{Op: OpDefineFunc, Str: "strcmp", Target: "always_inline"})
	instrs = append(instrs, buildStrcmp()...)
	return Section{Name: "helpers", Instrs: instrs}
}

// buildLog2 lowers the branchless bucket routine: for i = 4 down to 0, if
// n >= 1<<(1<<i), OR (1<<i) into the result and right-shift n by it. The
// five shifts total at most 31, so the result is the exact floor-log2 for
// n below 2^32, and every n of 2^31 or more lands in bucket 31.
func buildLog2() []Instr {
	reg := 0
	newReg := func() string {
		reg++
		return fmt.Sprintf("%%log2.%d", reg)
	}

	var instrs []Instr
	n := "%log2.n" // parameter: the value being bucketed
	result := newReg()
	instrs = append(instrs, Instr{Op: OpConstInt, Dest: result, Imm: 0})

	cur := n
	for i := 4; i >= 0; i-- {
		shift := int64(1) << uint(i)
		threshold := int64(1) << uint(shift)

		thresholdReg := newReg()
		instrs = append(instrs, Instr{Op: OpConstInt, Dest: thresholdReg, Imm: threshold})
		cond := newReg()
		instrs = append(instrs, Instr{Op: OpBinop, Dest: cond, Str: ">=", Args: []string{cur, thresholdReg}})

		shiftReg := newReg()
		instrs = append(instrs, Instr{Op: OpConstInt, Dest: shiftReg, Imm: shift})
		zeroReg := newReg()
		instrs = append(instrs, Instr{Op: OpConstInt, Dest: zeroReg, Imm: 0})
		chosenShift := newReg()
		instrs = append(instrs, Instr{Op: OpSelect, Dest: chosenShift, Args: []string{cond, shiftReg, zeroReg}})

		newResult := newReg()
		instrs = append(instrs, Instr{Op: OpBinop, Dest: newResult, Str: "|", Args: []string{result, chosenShift}})
		result = newResult

		shifted := newReg()
		instrs = append(instrs, Instr{Op: OpBinop, Dest: shifted, Str: ">>", Args: []string{cur, chosenShift}})
		cur = shifted
	}
	instrs = append(instrs, Instr{Op: OpReturn, Args: []string{result}})
	return instrs
}

// buildStrcmp compares up to STRING_SIZE bytes (the link step clamps the
// width to the operands' buffers) and returns 1 iff every byte matches.
func buildStrcmp() []Instr {
	s1, s2 := "%strcmp.s1", "%strcmp.s2"
	raw := "%strcmp.raw"
	result := "%strcmp.result"
	return []Instr{
		{Op: OpCallHelper, Dest: raw, Str: "memcmp", Args: []string{s1, s2}, Size: types.DefaultStringSize},
		{Op: OpUnop, Dest: result, Str: "==0", Args: []string{raw}},
		{Op: OpReturn, Args: []string{result}},
	}
}
