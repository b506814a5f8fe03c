// ----------------------------------------------------------------------------
// FILE: runtime/wildcard.go
// ----------------------------------------------------------------------------
// PACKAGE: runtime
// PURPOSE: Expands a kprobe/kretprobe/tracepoint attach point's wildcard
//          (`*`, `[...]`) against enumerated kernel symbols and tracepoint
//          names; concretizing wildcards into real attach points is this
//          package's responsibility, not the parser's. Uprobe wildcards are
//          not expanded; they reach attachment as literal symbol names. Uses doublestar for
//          glob matching, since a bpftrace wildcard segment is an ordinary
//          shell-style glob, not a path glob, so doublestar.Match (no "**"
//          semantics needed here) is the right-sized piece of that library.
// ----------------------------------------------------------------------------

package runtime

import (
	"bufio"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	kallsymsPath   = "/proc/kallsyms"
	tracefsEvents  = "/sys/kernel/tracing/events"
	tracefsEventsC = "/sys/kernel/debug/tracing/events" // fallback mount point
)

// HasWildcard reports whether s contains a glob metacharacter bpftrace
// recognizes in an attach-point segment.
func HasWildcard(s string) bool {
	return strings.ContainsAny(s, "*[?")
}

// SymbolLister enumerates candidate names for wildcard expansion; the
// default implementation reads /proc/kallsyms and tracefs, but tests
// substitute an in-memory lister so expansion logic is exercised without a
// running kernel.
type SymbolLister interface {
	KernelSymbols() ([]string, error)
	Tracepoints(category string) ([]string, error)
}

// FSSymbolLister is the production SymbolLister, reading the real
// /proc/kallsyms and tracefs event directories.
type FSSymbolLister struct{}

func (FSSymbolLister) KernelSymbols() ([]string, error) {
	f, err := os.Open(kallsymsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		names = append(names, fields[2])
	}
	return names, sc.Err()
}

func (FSSymbolLister) Tracepoints(category string) ([]string, error) {
	root := tracefsEvents + "/" + category
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		entries, err = os.ReadDir(tracefsEventsC + "/" + category)
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// ExpandFuncWildcard matches pattern (a kprobe/uprobe function-name segment,
// possibly containing "*" or "[...]") against every candidate, returning
// the matches in sorted, de-duplicated order.
func ExpandFuncWildcard(pattern string, candidates []string) ([]string, error) {
	if !HasWildcard(pattern) {
		return []string{pattern}, nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, c := range candidates {
		ok, err := doublestar.Match(pattern, c)
		if err != nil {
			return nil, err
		}
		if ok && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out, nil
}
