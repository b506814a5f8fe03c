// ----------------------------------------------------------------------------
// FILE: runtime/perf.go
// ----------------------------------------------------------------------------
// PACKAGE: runtime
// PURPOSE: Drains the printf perf-event ring and attaches
//          `profile:<unit>:<freq>` probes via a raw PERF_COUNT_SW_CPU_CLOCK
//          perf event, since that provider has no kprobe/tracepoint hook to
//          bind to. golang.org/x/sys/unix supplies the raw perf_event_open
//          syscall and the signal set the drain loop's cooperative
//          cancellation watches.
// ----------------------------------------------------------------------------

package runtime

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/perf"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"

	"bpftrace/codegen"
	"bpftrace/types"
)

// attachProfile opens one software CPU-clock perf event on CPU 0, covering
// every process there, sampling at freqHz, and
// attaches prog to it, the raw-perf-event path cilium/ebpf/link exposes for
// providers with no symbolic kernel hook.
func attachProfile(prog *ebpf.Program, freqHz int) (io.Closer, error) {
	if freqHz <= 0 {
		freqHz = 99
	}
	attr := unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_SOFTWARE,
		Config: unix.PERF_COUNT_SW_CPU_CLOCK,
		Sample: uint64(freqHz),
		Bits:   unix.PerfBitFreq,
	}
	fd, err := unix.PerfEventOpen(&attr, -1, 0, -1, 0)
	if err != nil {
		return nil, fmt.Errorf("perf_event_open: %w", err)
	}
	pe := os.NewFile(uintptr(fd), "profile-perf-event")
	l, err := link.AttachRawLink(link.RawLinkOptions{
		Target:  fd,
		Program: prog,
		Attach:  ebpf.AttachPerfEvent,
	})
	if err != nil {
		pe.Close()
		return nil, err
	}
	return &profileLink{file: pe, link: l}, nil
}

type profileLink struct {
	file *os.File
	link io.Closer
}

func (p *profileLink) Close() error {
	err := p.link.Close()
	p.file.Close()
	return err
}

// PrintfRecord is one decoded printf() call: Format plus already-stringified
// argument values, in the order the analyzer recorded them.
type PrintfRecord struct {
	ID     int
	Format string
	Values []string
}

// Collector drains the printf perf-event ring on a single goroutine until
// ctx is canceled, emitting one PrintfRecord per ring entry via emit.
type Collector struct {
	log     hclog.Logger
	reader  *perf.Reader
	printfs map[int]codegen.PrintfSpec
}

func NewCollector(log hclog.Logger, ringMap *ebpf.Map, printfs []codegen.PrintfSpec) (*Collector, error) {
	r, err := perf.NewReader(ringMap, 4096)
	if err != nil {
		return nil, fmt.Errorf("opening perf reader: %w", err)
	}
	byID := make(map[int]codegen.PrintfSpec, len(printfs))
	for _, pf := range printfs {
		byID[pf.ID] = pf
	}
	return &Collector{log: log, reader: r, printfs: byID}, nil
}

func (c *Collector) Close() error { return c.reader.Close() }

// Drain reads records until ctx is canceled or the reader is closed.
// Records are processed in arrival order per CPU, with no cross-CPU
// ordering guarantee. Cancellation closes the reader from a separate
// goroutine, which only interrupts a pending Read; a record already read is
// always decoded and emitted in full, so no partial record is ever dropped.
func (c *Collector) Drain(ctx context.Context, emit func(PrintfRecord)) error {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		c.reader.Close()
		close(done)
	}()

	for {
		rec, err := c.reader.Read()
		if err != nil {
			if errors.Is(err, perf.ErrClosed) {
				<-done
				return nil
			}
			c.log.Warn("perf read error", "error", err)
			continue
		}
		if rec.LostSamples > 0 {
			c.log.Warn("lost printf records", "count", rec.LostSamples, "cpu", rec.CPU)
			continue
		}
		pr, err := c.decode(rec.RawSample)
		if err != nil {
			c.log.Warn("failed to decode printf record", "error", err)
			continue
		}
		emit(pr)
	}
}

func (c *Collector) decode(raw []byte) (PrintfRecord, error) {
	if len(raw) < 8 {
		return PrintfRecord{}, fmt.Errorf("record too short: %d bytes", len(raw))
	}
	id := int(int64(binary.LittleEndian.Uint64(raw[:8])))
	pf, ok := c.printfs[id]
	if !ok {
		return PrintfRecord{}, fmt.Errorf("unknown printf id %d", id)
	}

	off := 8
	values := make([]string, 0, len(pf.ArgTypes))
	for _, t := range pf.ArgTypes {
		width := 8
		if t.Kind == types.KindString {
			width = t.Size
		}
		if off+width > len(raw) {
			return PrintfRecord{}, fmt.Errorf("record truncated for printf id %d", id)
		}
		field := raw[off : off+width]
		if t.Kind == types.KindString {
			values = append(values, cString(field))
		} else {
			values = append(values, fmt.Sprintf("%d", int64(binary.LittleEndian.Uint64(field))))
		}
		off += width
	}
	return PrintfRecord{ID: id, Format: pf.Format, Values: values}, nil
}

// FormatPrintf substitutes %d/%s/%lld/... conversions in order with
// already-stringified values; bpftrace's printf accepts C-style width/type
// modifiers the analyzer does not otherwise interpret, so substitution is
// purely positional here.
func FormatPrintf(rec PrintfRecord) string {
	var sb strings.Builder
	idx := 0
	s := rec.Format
	for i := 0; i < len(s); i++ {
		if s[i] != '%' || i+1 >= len(s) {
			sb.WriteByte(s[i])
			continue
		}
		j := i + 1
		for j < len(s) && strings.ContainsRune("0123456789lh.", rune(s[j])) {
			j++
		}
		if j >= len(s) {
			sb.WriteByte(s[i])
			continue
		}
		switch s[j] {
		case 'd', 'u', 's', 'x', 'c':
			if idx < len(rec.Values) {
				sb.WriteString(rec.Values[idx])
				idx++
			}
			i = j
		case '%':
			sb.WriteByte('%')
			i = j
		default:
			sb.WriteString(s[i : j+1])
			i = j
		}
	}
	return sb.String()
}

// WatchSignals returns a context canceled on SIGINT/SIGTERM, the drain
// loop's cooperative-cancellation source.
func WatchSignals(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

