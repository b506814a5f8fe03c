// ----------------------------------------------------------------------------
// FILE: analyzer/builtins.go
// ----------------------------------------------------------------------------
// PACKAGE: analyzer
// PURPOSE: The fixed builtin-identifier table, using a map-backed
//          registration table for builtin lookup.
// ----------------------------------------------------------------------------

package analyzer

import (
	"strconv"
	"strings"

	"bpftrace/types"
)

type builtinEntry struct {
	Name string
	Type types.SizedType
}

var builtinTable = []builtinEntry{
	{"pid", types.Integer()},
	{"tid", types.Integer()},
	{"uid", types.Integer()},
	{"gid", types.Integer()},
	{"nsecs", types.Integer()},
	{"cpu", types.Integer()},
	{"comm", types.StringOf(16)},
	{"stack", types.StackID()},
	{"ustack", types.StackID()},
	{"retval", types.Integer()},
	{"func", types.Integer()},
}

// lookupBuiltin resolves a bare identifier against the fixed builtin set,
// including the argN family.
func lookupBuiltin(name string) (types.SizedType, bool) {
	for _, b := range builtinTable {
		if b.Name == name {
			return b.Type, true
		}
	}
	if n, ok := ArgIndex(name); ok && n >= 0 && n <= 9 {
		return types.Integer(), true
	}
	return types.SizedType{}, false
}

// ArgIndex extracts n from an "argN" builtin name. Exported for the code
// generator, which needs the same parse to resolve a register offset.
func ArgIndex(name string) (int, bool) {
	if !strings.HasPrefix(name, "arg") {
		return 0, false
	}
	n, err := strconv.Atoi(name[3:])
	if err != nil {
		return 0, false
	}
	return n, true
}
