package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandFuncWildcardNoWildcardReturnsLiteral(t *testing.T) {
	out, err := ExpandFuncWildcard("sys_open", []string{"sys_open", "sys_close"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sys_open"}, out)
}

func TestExpandFuncWildcardStar(t *testing.T) {
	candidates := []string{"sys_open", "sys_openat", "sys_close", "vfs_open"}
	out, err := ExpandFuncWildcard("sys_open*", candidates)
	require.NoError(t, err)
	assert.Equal(t, []string{"sys_open", "sys_openat"}, out)
}

func TestExpandFuncWildcardCharClass(t *testing.T) {
	candidates := []string{"sys_read", "sys_write", "sys_open"}
	out, err := ExpandFuncWildcard("sys_[rw]*", candidates)
	require.NoError(t, err)
	assert.Equal(t, []string{"sys_read", "sys_write"}, out)
}

func TestExpandFuncWildcardDedupesAndSorts(t *testing.T) {
	out, err := ExpandFuncWildcard("a*", []string{"ab", "aa", "ab"})
	require.NoError(t, err)
	assert.Equal(t, []string{"aa", "ab"}, out)
}

func TestHasWildcard(t *testing.T) {
	assert.True(t, HasWildcard("sys_open*"))
	assert.True(t, HasWildcard("sys_[rw]ead"))
	assert.False(t, HasWildcard("sys_open"))
}

type fakeLister struct {
	syms  []string
	trace map[string][]string
}

func (f fakeLister) KernelSymbols() ([]string, error) { return f.syms, nil }
func (f fakeLister) Tracepoints(category string) ([]string, error) {
	return f.trace[category], nil
}

func TestFakeSymbolListerSatisfiesInterface(t *testing.T) {
	var _ SymbolLister = fakeLister{}
}
