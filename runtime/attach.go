// ----------------------------------------------------------------------------
// FILE: runtime/attach.go
// ----------------------------------------------------------------------------
// PACKAGE: runtime
// PURPOSE: Concretizes each ast.AttachPoint (expanding wildcards), loads its
//          codegen.LinkedProgram into the kernel, and binds it to the
//          matching hook via github.com/cilium/ebpf/link: enumerate
//          matching kernel symbols and tracepoints, then load each
//          per-probe code section and bind it to its hook.
// ----------------------------------------------------------------------------

package runtime

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/link"
	"github.com/hashicorp/go-hclog"

	"bpftrace/ast"
	"bpftrace/codegen"
)

// AttachedProbe is one live kernel attachment: the detacher that undoes it,
// kept for clean shutdown.
type AttachedProbe struct {
	Name   string
	Prog   *ebpf.Program
	Closer io.Closer // nil for BEGIN/END, which run via Program.Test instead of a live link
}

// Attacher loads and attaches every probe section in prog, expanding
// wildcards against lister. BEGIN probes are run immediately (bpftrace runs
// them via a synthetic invocation, not a kernel hook); END probes are saved
// and run during Detach.
type Attacher struct {
	log      hclog.Logger
	lister   SymbolLister
	maps     map[string]*OpenMap
	endProgs []*ebpf.Program
}

func NewAttacher(log hclog.Logger, lister SymbolLister, maps map[string]*OpenMap) *Attacher {
	return &Attacher{log: log, lister: lister, maps: maps}
}

// AttachAll loads every section codegen.Link produced and attaches it to
// every concrete attach point of probes, the program's parsed probe list.
func (a *Attacher) AttachAll(probes []*ast.Probe, linked []codegen.LinkedProgram) ([]*AttachedProbe, error) {
	bySection := make(map[string]codegen.LinkedProgram, len(linked))
	for _, lp := range linked {
		bySection[lp.Section] = lp
	}

	var attached []*AttachedProbe
	for _, probe := range probes {
		for _, ap := range probe.AttachPoints {
			lp, ok := bySection["s_"+ap.Name()]
			if !ok {
				return nil, fmt.Errorf("no lowered program for attach point %s", ap.Name())
			}
			targets, err := a.concretize(ap)
			if err != nil {
				return nil, err
			}
			for _, target := range targets {
				ab, err := a.attachOne(ap, target, lp)
				if err != nil {
					return nil, fmt.Errorf("attaching %s: %w", target, err)
				}
				attached = append(attached, ab)
			}
		}
	}
	return attached, nil
}

// concretize expands ap's wildcard segment (if any) into concrete names;
// BEGIN/END/profile attach points have nothing to expand.
func (a *Attacher) concretize(ap *ast.AttachPoint) ([]string, error) {
	switch ap.Provider {
	case "BEGIN", "END", "profile":
		return []string{ap.Name()}, nil
	case "kprobe", "kretprobe":
		if !HasWildcard(ap.Func) {
			return []string{ap.Func}, nil
		}
		syms, err := a.lister.KernelSymbols()
		if err != nil {
			return nil, err
		}
		return ExpandFuncWildcard(ap.Func, syms)
	case "uprobe", "uretprobe":
		if !HasWildcard(ap.Func) {
			return []string{ap.Func}, nil
		}
		// Wildcard uprobe function names are not expanded: the literal
		// pattern is passed on as the symbol name, and attachment fails
		// if the binary has no symbol of that name.
		return []string{ap.Func}, nil
	case "tracepoint":
		category, _ := splitTracepointTarget(ap.Target)
		event := ap.Func
		if !HasWildcard(event) {
			return []string{event}, nil
		}
		events, err := a.lister.Tracepoints(category)
		if err != nil {
			return nil, err
		}
		return ExpandFuncWildcard(event, events)
	default:
		return nil, fmt.Errorf("unknown attach provider %q", ap.Provider)
	}
}

func splitTracepointTarget(target string) (category, event string) {
	if i := strings.IndexByte(target, '/'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, target
}

func (a *Attacher) attachOne(ap *ast.AttachPoint, concreteName string, lp codegen.LinkedProgram) (*AttachedProbe, error) {
	if err := a.resolveMapReferences(lp.Insns); err != nil {
		return nil, err
	}
	progType, attachType := programTypeFor(ap.Provider)
	prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Name:         progObjName(concreteName),
		Type:         progType,
		AttachType:   attachType,
		Instructions: lp.Insns,
		License:      "GPL",
	})
	if err != nil {
		return nil, err
	}

	switch ap.Provider {
	case "BEGIN":
		if _, _, err := prog.Test(make([]byte, 16)); err != nil {
			return nil, fmt.Errorf("running BEGIN: %w", err)
		}
		a.log.Info("ran BEGIN probe")
		return &AttachedProbe{Name: ap.Name(), Prog: prog}, nil
	case "END":
		a.endProgs = append(a.endProgs, prog)
		return &AttachedProbe{Name: ap.Name(), Prog: prog}, nil
	case "kprobe":
		l, err := link.Kprobe(concreteName, prog, nil)
		if err != nil {
			return nil, err
		}
		a.log.Info("attached kprobe", "func", concreteName)
		return &AttachedProbe{Name: ap.Name(), Prog: prog, Closer: l}, nil
	case "kretprobe":
		l, err := link.Kretprobe(concreteName, prog, nil)
		if err != nil {
			return nil, err
		}
		a.log.Info("attached kretprobe", "func", concreteName)
		return &AttachedProbe{Name: ap.Name(), Prog: prog, Closer: l}, nil
	case "uprobe":
		ex, err := link.OpenExecutable(ap.Target)
		if err != nil {
			return nil, err
		}
		l, err := ex.Uprobe(concreteName, prog, nil)
		if err != nil {
			return nil, err
		}
		a.log.Info("attached uprobe", "path", ap.Target, "func", concreteName)
		return &AttachedProbe{Name: ap.Name(), Prog: prog, Closer: l}, nil
	case "uretprobe":
		ex, err := link.OpenExecutable(ap.Target)
		if err != nil {
			return nil, err
		}
		l, err := ex.Uretprobe(concreteName, prog, nil)
		if err != nil {
			return nil, err
		}
		a.log.Info("attached uretprobe", "path", ap.Target, "func", concreteName)
		return &AttachedProbe{Name: ap.Name(), Prog: prog, Closer: l}, nil
	case "tracepoint":
		category, _ := splitTracepointTarget(ap.Target)
		l, err := link.Tracepoint(category, concreteName, prog, nil)
		if err != nil {
			return nil, err
		}
		a.log.Info("attached tracepoint", "category", category, "event", concreteName)
		return &AttachedProbe{Name: ap.Name(), Prog: prog, Closer: l}, nil
	case "profile":
		freqHz, _ := strconv.Atoi(ap.Freq)
		l, err := attachProfile(prog, freqHz)
		if err != nil {
			return nil, err
		}
		a.log.Info("attached profile probe", "freq_hz", freqHz)
		return &AttachedProbe{Name: ap.Name(), Prog: prog, Closer: l}, nil
	default:
		return nil, fmt.Errorf("unknown attach provider %q", ap.Provider)
	}
}

// resolveMapReferences rewires every named map reference in insns to the fd
// of the corresponding opened map, the same association the collection
// loader performs for programs built from an object file. The reserved
// __printf_ring/__stack_traces maps resolve through the same table.
func (a *Attacher) resolveMapReferences(insns asm.Instructions) error {
	for i := range insns {
		ins := &insns[i]
		if !ins.IsLoadFromMap() {
			continue
		}
		name := ins.Reference()
		om, ok := a.maps[name]
		if !ok || om.Map == nil {
			return fmt.Errorf("no opened map for reference %q", name)
		}
		if err := ins.AssociateMap(om.Map); err != nil {
			return fmt.Errorf("associating map %q: %w", name, err)
		}
	}
	return nil
}

func programTypeFor(provider string) (ebpf.ProgramType, ebpf.AttachType) {
	switch provider {
	case "kprobe", "kretprobe", "uprobe", "uretprobe":
		return ebpf.Kprobe, ebpf.AttachNone
	case "tracepoint":
		return ebpf.TracePoint, ebpf.AttachNone
	case "profile":
		return ebpf.PerfEvent, ebpf.AttachNone
	default: // BEGIN, END
		return ebpf.SocketFilter, ebpf.AttachNone
	}
}

func progObjName(name string) string {
	clean := strings.NewReplacer(":", "_", "/", "_", "*", "_", "[", "_", "]", "_").Replace(name)
	if len(clean) > 15 {
		return clean[:15]
	}
	return clean
}

// Detach runs every saved END program then closes every live link, in that
// order: END must observe the maps' final state before any link is torn
// down.
func (a *Attacher) Detach(attached []*AttachedProbe) error {
	for _, p := range a.endProgs {
		if _, _, err := p.Test(make([]byte, 16)); err != nil {
			a.log.Warn("END probe failed", "error", err)
		}
	}
	var firstErr error
	for _, ab := range attached {
		if ab.Closer == nil {
			continue
		}
		if err := ab.Closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if ab.Prog != nil {
			ab.Prog.Close()
		}
	}
	return firstErr
}
