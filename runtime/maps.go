// ----------------------------------------------------------------------------
// FILE: runtime/maps.go
// ----------------------------------------------------------------------------
// PACKAGE: runtime
// PURPOSE: Opens the kernel maps codegen.Program.Maps names (via
//          github.com/cilium/ebpf) and renders them at shutdown, type
//          directed by the analyzer's recorded key/value SizedTypes.
// ----------------------------------------------------------------------------

package runtime

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cilium/ebpf"

	"bpftrace/codegen"
	"bpftrace/types"
)

// OpenMap is a thin wrapper around *ebpf.Map plus the SizedType metadata the
// printer needs to decode raw key/value bytes.
type OpenMap struct {
	Name       string
	Map        *ebpf.Map
	KeyTypes   []types.SizedType
	ValueType  types.SizedType
	IsQuantize bool
}

// KeySize is the packed byte width of one key tuple, matching codegen's
// packKey layout exactly (integers 8 bytes each, strings their full size,
// quantize buckets an extra trailing 8 bytes).
func (m *OpenMap) KeySize() int {
	size := 0
	for _, t := range m.KeyTypes {
		if t.Kind == types.KindString {
			size += t.Size
		} else {
			size += types.IntegerSize
		}
	}
	if m.IsQuantize {
		size += types.IntegerSize
	}
	return size
}

func (m *OpenMap) ValueSize() int {
	if m.ValueType.Kind == types.KindString {
		return m.ValueType.Size
	}
	return types.IntegerSize
}

// OpenMaps creates one ebpf.Map per entry in prog.Maps, plus the two reserved
// maps the code generator's lowering assumes exist: a perf-event array for
// printf output and a stack-trace map for stack()/ustack().
func OpenMaps(prog *codegen.Program) (map[string]*OpenMap, error) {
	out := make(map[string]*OpenMap, len(prog.Maps)+2)
	for _, spec := range prog.Maps {
		om := &OpenMap{Name: spec.Name, KeyTypes: spec.KeyTypes, ValueType: spec.ValueType, IsQuantize: spec.IsQuantize}
		m, err := ebpf.NewMap(&ebpf.MapSpec{
			Name:       mapObjName(spec.Name),
			Type:       ebpf.Hash,
			KeySize:    uint32(om.KeySize()),
			ValueSize:  uint32(om.ValueSize()),
			MaxEntries: 10240,
		})
		if err != nil {
			return nil, fmt.Errorf("opening map @%s: %w", spec.Name, err)
		}
		om.Map = m
		out[spec.Name] = om
	}

	ring, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "printf_ring",
		Type:       ebpf.PerfEventArray,
		KeySize:    4,
		ValueSize:  4,
		MaxEntries: 0, // sized per-CPU by NewMap from the host's NumCPU
	})
	if err != nil {
		return nil, fmt.Errorf("opening printf perf-event array: %w", err)
	}
	out["__printf_ring"] = &OpenMap{Name: "__printf_ring", Map: ring}

	stacks, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "stack_traces",
		Type:       ebpf.StackTrace,
		KeySize:    4,
		ValueSize:  127 * 8, // PERF_MAX_STACK_DEPTH
		MaxEntries: 10240,
	})
	if err != nil {
		return nil, fmt.Errorf("opening stack-trace map: %w", err)
	}
	out["__stack_traces"] = &OpenMap{Name: "__stack_traces", Map: stacks}

	return out, nil
}

// mapObjName keeps the kernel-visible map name within BPF's object-name
// limit and gives the reserved zero-length "@" map a stable name.
func mapObjName(name string) string {
	if name == "" {
		return "anon_map"
	}
	if len(name) > 15 {
		return name[:15]
	}
	return name
}

// CloseAll releases every map's kernel handle; called on every shutdown
// path so no file descriptor outlives the process.
func CloseAll(maps map[string]*OpenMap) {
	for _, m := range maps {
		if m.Map != nil {
			m.Map.Close()
		}
	}
}

// RenderAll formats every user-declared map (the two reserved maps are
// runtime plumbing, never printed) in a deterministic order, sorted by map
// name, each map's lines following the previous map's with no separator.
func RenderAll(maps map[string]*OpenMap) (string, error) {
	var names []string
	for name := range maps {
		if strings.HasPrefix(name, "__") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		s, err := renderOne(maps[name])
		if err != nil {
			return "", err
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

type mapEntry struct {
	key   []byte
	value []byte
}

func readAllEntries(m *OpenMap) ([]mapEntry, error) {
	var entries []mapEntry
	it := m.Map.Iterate()
	key := make([]byte, m.KeySize())
	value := make([]byte, m.ValueSize())
	for it.Next(&key, &value) {
		entries = append(entries, mapEntry{key: append([]byte{}, key...), value: append([]byte{}, value...)})
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("iterating @%s: %w", m.Name, err)
	}
	return entries, nil
}

func renderOne(m *OpenMap) (string, error) {
	entries, err := readAllEntries(m)
	if err != nil {
		return "", err
	}
	if m.IsQuantize {
		return renderQuantize(m, entries), nil
	}
	return renderScalar(m, entries), nil
}

// renderScalar prints "@name[key] = value" lines, sorted lexicographically
// by key, or numerically when the map's sole key slot is a plain integer
// (the "@name = value" zero-key form included, since a zero-key map packs
// a single integer<8> zero key).
func renderScalar(m *OpenMap, entries []mapEntry) string {
	type row struct {
		keyStr string
		keyNum int64
		isNum  bool
		value  string
	}
	rows := make([]row, 0, len(entries))
	for _, e := range entries {
		ks, kn, isNum := decodeKey(m.KeyTypes, e.key)
		rows = append(rows, row{keyStr: ks, keyNum: kn, isNum: isNum, value: decodeValue(m.ValueType, e.value)})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].isNum && rows[j].isNum {
			return rows[i].keyNum < rows[j].keyNum
		}
		return rows[i].keyStr < rows[j].keyStr
	})

	var sb strings.Builder
	anonZeroKey := len(m.KeyTypes) == 1 && m.KeyTypes[0].Kind == types.KindInteger && len(entries) == 1 && entries[0].key != nil && allZero(entries[0].key)
	for _, r := range rows {
		if anonZeroKey {
			fmt.Fprintf(&sb, "@%s = %s\n", m.Name, r.value)
			continue
		}
		fmt.Fprintf(&sb, "@%s[%s] = %s\n", m.Name, r.keyStr, r.value)
	}
	return sb.String()
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// renderQuantize prints a per-bucket histogram: bucket label "[2^i,
// 2^(i+1))" (bucket 0, which also holds 0, is labelled "[0, 2)"), count,
// and an ASCII bar whose width is proportional to count.
func renderQuantize(m *OpenMap, entries []mapEntry) string {
	buckets := map[int64]int64{}
	var maxCount int64
	for _, e := range entries {
		_, bucket := decodeQuantizeKey(m.KeyTypes, e.key)
		count := int64(decodeUint(e.value))
		buckets[bucket] += count
		if buckets[bucket] > maxCount {
			maxCount = buckets[bucket]
		}
	}
	var bucketNums []int64
	for b := range buckets {
		bucketNums = append(bucketNums, b)
	}
	sort.Slice(bucketNums, func(i, j int) bool { return bucketNums[i] < bucketNums[j] })

	var sb strings.Builder
	fmt.Fprintf(&sb, "@%s:\n", m.Name)
	for _, b := range bucketNums {
		count := buckets[b]
		lo := int64(1) << uint(b)
		hi := lo << 1
		if b == 0 {
			lo = 0
		}
		barWidth := 0
		if maxCount > 0 {
			barWidth = int(math.Round(float64(count) / float64(maxCount) * 40))
		}
		fmt.Fprintf(&sb, "[%d, %d)%s%d |%s|\n", lo, hi, strings.Repeat(" ", 6), count, strings.Repeat("@", barWidth))
	}
	return sb.String()
}

func decodeKey(keyTypes []types.SizedType, raw []byte) (str string, num int64, isNum bool) {
	if len(keyTypes) == 1 && keyTypes[0].Kind == types.KindInteger {
		n := decodeInt(raw)
		return fmt.Sprintf("%d", n), n, true
	}
	parts := make([]string, 0, len(keyTypes))
	off := 0
	for _, t := range keyTypes {
		if t.Kind == types.KindString {
			parts = append(parts, cString(raw[off:off+t.Size]))
			off += t.Size
		} else {
			parts = append(parts, fmt.Sprintf("%d", decodeInt(raw[off:off+types.IntegerSize])))
			off += types.IntegerSize
		}
	}
	return strings.Join(parts, ", "), 0, false
}

// decodeQuantizeKey splits a quantize map's key into its leading key tuple
// (ignored for single-map histograms) and the trailing log2 bucket.
func decodeQuantizeKey(keyTypes []types.SizedType, raw []byte) (prefix string, bucket int64) {
	off := 0
	for _, t := range keyTypes {
		if t.Kind == types.KindString {
			off += t.Size
		} else {
			off += types.IntegerSize
		}
	}
	return "", decodeInt(raw[off : off+types.IntegerSize])
}

func decodeValue(t types.SizedType, raw []byte) string {
	if t.Kind == types.KindString {
		return cString(raw)
	}
	return fmt.Sprintf("%d", decodeInt(raw))
}

func decodeInt(raw []byte) int64 {
	var n int64
	for i := 0; i < 8 && i < len(raw); i++ {
		n |= int64(raw[i]) << (8 * uint(i))
	}
	return n
}

func decodeUint(raw []byte) uint64 {
	var n uint64
	for i := 0; i < 8 && i < len(raw); i++ {
		n |= uint64(raw[i]) << (8 * uint(i))
	}
	return n
}

func cString(raw []byte) string {
	if i := strings.IndexByte(string(raw), 0); i >= 0 {
		return string(raw[:i])
	}
	return string(raw)
}
