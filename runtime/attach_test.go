package runtime

import (
	"testing"

	"github.com/cilium/ebpf/asm"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
)

func TestResolveMapReferencesFailsOnMissingMap(t *testing.T) {
	a := NewAttacher(hclog.NewNullLogger(), fakeLister{}, map[string]*OpenMap{})
	insns := asm.Instructions{
		asm.LoadMapPtr(asm.R1, 0).WithReference("ghost"),
		asm.Return(),
	}
	err := a.resolveMapReferences(insns)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestResolveMapReferencesIgnoresPlainInstructions(t *testing.T) {
	a := NewAttacher(hclog.NewNullLogger(), fakeLister{}, map[string]*OpenMap{})
	insns := asm.Instructions{
		asm.Mov.Imm(asm.R0, 0),
		asm.Return(),
	}
	assert.NoError(t, a.resolveMapReferences(insns))
}

func TestSplitTracepointTarget(t *testing.T) {
	cat, ev := splitTracepointTarget("syscalls/sys_enter_open")
	assert.Equal(t, "syscalls", cat)
	assert.Equal(t, "sys_enter_open", ev)

	cat, ev = splitTracepointTarget("syscalls")
	assert.Equal(t, "syscalls", cat)
	assert.Equal(t, "syscalls", ev)
}
