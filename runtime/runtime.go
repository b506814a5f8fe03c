// ----------------------------------------------------------------------------
// FILE: runtime/runtime.go
// ----------------------------------------------------------------------------
// PACKAGE: runtime
// PURPOSE: Orchestrates the full runtime lifecycle: open maps, link
//          and attach every probe, drain the printf ring until interrupted,
//          then detach and render maps on shutdown. One hclog.Logger is
//          threaded through every collaborator for phase narration (never
//          for the compiler's own diagnostics, which are data returned to
//          the caller, not log lines).
// ----------------------------------------------------------------------------

package runtime

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"

	"bpftrace/ast"
	"bpftrace/codegen"
)

// Run executes the full runtime lifecycle for prog (post-analysis,
// post-codegen) and returns nil iff every probe detached cleanly. It opens
// maps, attaches every probe, services printf
// output until ctx is canceled, then tears everything down in reverse
// order and writes the rendered maps to out.
func Run(ctx context.Context, log hclog.Logger, probes []*ast.Probe, prog *codegen.Program, out *os.File) error {
	maps, err := OpenMaps(prog)
	if err != nil {
		return fmt.Errorf("opening maps: %w", err)
	}
	defer CloseAll(maps)

	linked, err := codegen.Link(prog)
	if err != nil {
		return fmt.Errorf("linking probes: %w", err)
	}

	attacher := NewAttacher(log, FSSymbolLister{}, maps)
	attached, err := attacher.AttachAll(probes, linked)
	if err != nil {
		return fmt.Errorf("attaching probes: %w", err)
	}

	collector, err := NewCollector(log, maps["__printf_ring"].Map, prog.Printfs)
	if err != nil {
		_ = attacher.Detach(attached)
		return fmt.Errorf("starting printf collector: %w", err)
	}

	log.Info("probes attached, draining printf ring", "count", len(attached))
	drainErr := collector.Drain(ctx, func(rec PrintfRecord) {
		fmt.Fprintln(out, FormatPrintf(rec))
	})

	detachErr := attacher.Detach(attached)

	rendered, renderErr := RenderAll(maps)
	if renderErr == nil {
		fmt.Fprint(out, rendered)
	}

	switch {
	case drainErr != nil:
		return drainErr
	case detachErr != nil:
		return detachErr
	case renderErr != nil:
		return renderErr
	}
	return nil
}
