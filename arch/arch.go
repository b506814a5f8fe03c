// ----------------------------------------------------------------------------
// FILE: arch/arch.go
// ----------------------------------------------------------------------------
// PACKAGE: arch
// PURPOSE: Minimal x86-64 register name/offset table. The host architecture's
//          full register and calling-convention description lives outside
//          this package; this is only the slice the analyzer and code
//          generator actually consume: reg() name validation and
//          positional argN/retval/func offsets.
// ----------------------------------------------------------------------------

package arch

// Registers maps a register name recognized by reg("name") to its pt_regs
// word offset (x86-64 System V layout).
var Registers = map[string]int{
	"r15": 0, "r14": 1, "r13": 2, "r12": 3,
	"bp": 4, "bx": 5,
	"r11": 6, "r10": 7, "r9": 8, "r8": 9,
	"ax": 10, "cx": 11, "dx": 12, "si": 13, "di": 14,
	"orig_ax": 15, "ip": 16, "cs": 17, "flags": 18,
	"sp": 19, "ss": 20,
}

// argOrder is the x86-64 System V integer argument-passing register order,
// used to resolve arg0..arg5 to a pt_regs offset.
var argOrder = []string{"di", "si", "dx", "cx", "r8", "r9"}

// IsRegister reports whether name is a register reg() may reference.
func IsRegister(name string) bool {
	_, ok := Registers[name]
	return ok
}

// RegisterOffset returns the pt_regs word offset for a named register.
func RegisterOffset(name string) (int, bool) {
	off, ok := Registers[name]
	return off, ok
}

// ArgOffset returns the pt_regs word offset holding the n-th (0-based)
// syscall/function argument.
func ArgOffset(n int) (int, bool) {
	if n < 0 || n >= len(argOrder) {
		return 0, false
	}
	return RegisterOffset(argOrder[n])
}

// RetvalOffset is the pt_regs word offset holding a probed function's return
// value on x86-64.
func RetvalOffset() int {
	off, _ := RegisterOffset("ax")
	return off
}

// FuncOffset is the pt_regs word offset holding the instruction pointer,
// consulted by Builtin(func) to resolve the probed function's address.
func FuncOffset() int {
	off, _ := RegisterOffset("ip")
	return off
}
