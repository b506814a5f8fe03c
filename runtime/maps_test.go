package runtime

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"

	"bpftrace/types"
)

func intKey(n int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(n))
	return b
}

func TestRenderScalarZeroKeyMap(t *testing.T) {
	m := &OpenMap{Name: "c", KeyTypes: []types.SizedType{types.Integer()}, ValueType: types.Integer()}
	entries := []mapEntry{{key: intKey(0), value: intKey(42)}}
	out := renderScalar(m, entries)
	assert.Equal(t, "@c = 42\n", out)
}

func TestRenderScalarKeyedMapSortsNumerically(t *testing.T) {
	m := &OpenMap{Name: "x", KeyTypes: []types.SizedType{types.Integer()}, ValueType: types.Integer()}
	entries := []mapEntry{
		{key: intKey(10), value: intKey(1)},
		{key: intKey(2), value: intKey(2)},
	}
	out := renderScalar(m, entries)
	assert.Equal(t, "@x[2] = 2\n@x[10] = 1\n", out)
}

func TestRenderScalarStringValue(t *testing.T) {
	m := &OpenMap{Name: "comm", KeyTypes: []types.SizedType{types.Integer()}, ValueType: types.StringOf(16)}
	val := make([]byte, 16)
	copy(val, "bash")
	entries := []mapEntry{{key: intKey(7), value: val}}
	out := renderScalar(m, entries)
	assert.Equal(t, "@comm[7] = bash\n", out)
}

func TestRenderQuantizeBucketsAndBars(t *testing.T) {
	m := &OpenMap{Name: "q", KeyTypes: []types.SizedType{types.Integer()}, ValueType: types.Integer(), IsQuantize: true}
	entries := []mapEntry{
		{key: append(intKey(0), intKey(0)...), value: intKey(1)}, // zero key, bucket 0 -> [0,2)
		{key: append(intKey(0), intKey(3)...), value: intKey(4)}, // zero key, bucket 3 -> [8,16)
	}
	out := renderQuantize(m, entries)
	assert.Contains(t, out, "@q:")
	assert.Contains(t, out, "[0, 2)")
	assert.Contains(t, out, "[8, 16)")
}

func TestDecodeKeyMultiSlot(t *testing.T) {
	raw := append(intKey(5), []byte("go\x00\x00")...)
	str, _, isNum := decodeKey([]types.SizedType{types.Integer(), types.StringOf(4)}, raw)
	assert.False(t, isNum)
	assert.Equal(t, "5, go", str)
}

func TestCloseAllToleratesNilMaps(t *testing.T) {
	CloseAll(map[string]*OpenMap{"x": {Name: "x"}})
}
