// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package dumper prints the content of GC info blobs: their header, slot table,
// safe points, interruptible ranges and the live slots at given offsets.
package dumper // import "go.opentelemetry.io/dotnet-gcinfo/internal/dumper"

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/dotnet-gcinfo/gcinfo"
	"go.opentelemetry.io/dotnet-gcinfo/libpf"
	"go.opentelemetry.io/dotnet-gcinfo/methodcache"
	"go.opentelemetry.io/dotnet-gcinfo/regdisplay"
)

// Dumper prints blobs decoded for the architecture of its Config.
type Dumper struct {
	cfg   *Config
	abi   *regdisplay.ABI
	cache *methodcache.Cache
	dump  func(d *Dumper, w io.Writer, tok gcinfo.Token) error
}

// New validates cfg and returns a Dumper for it.
func New(cfg *Config) (*Dumper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cache, err := methodcache.New(uint32(cfg.CacheSize))
	if err != nil {
		return nil, err
	}
	d := &Dumper{cfg: cfg, cache: cache}

	switch cfg.Arch {
	case "amd64":
		d.dump = dumpBlob[gcinfo.AMD64]
	case "arm64":
		d.dump = dumpBlob[gcinfo.ARM64]
	case "arm":
		d.dump = dumpBlob[gcinfo.ARM]
	case "loongarch64":
		d.dump = dumpBlob[gcinfo.LoongArch64]
	case "riscv64":
		d.dump = dumpBlob[gcinfo.RISCV64]
	default:
		return nil, fmt.Errorf("unsupported architecture %q", cfg.Arch)
	}
	layout, _ := gcinfo.LayoutByName(cfg.Arch)
	abi, ok := regdisplay.ForLayout(layout, cfg.Windows)
	if !ok {
		return nil, fmt.Errorf("no calling convention for %q", cfg.Arch)
	}
	d.abi = abi
	return d, nil
}

// Run dumps every configured input to w. Inputs are decoded concurrently and
// printed in order. The first failure is returned after the output of the
// inputs that succeeded has been written.
func (d *Dumper) Run(ctx context.Context, w io.Writer) error {
	sources := d.cfg.sources()
	outputs := make([]bytes.Buffer, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, src := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			blob, err := src.load()
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", src.name, err)
			}
			if err = d.DumpBlob(&outputs[i], src.name, blob); err != nil {
				return fmt.Errorf("failed to decode %s: %w", src.name, err)
			}
			return nil
		})
	}
	err := g.Wait()

	for i := range outputs {
		if _, werr := w.Write(outputs[i].Bytes()); werr != nil {
			return werr
		}
	}
	stats := d.cache.Statistics()
	log.Debugf("summary cache: %d hits, %d misses, %d entries",
		stats.Hit, stats.Miss, d.cache.Len())
	return err
}

// DumpBlob prints the GC info in blob.
func (d *Dumper) DumpBlob(w io.Writer, name string, blob []byte) error {
	fmt.Fprintf(w, "== %s ==\n", name)
	return d.dump(d, w, gcinfo.Token{Image: blob, Version: uint32(d.cfg.FormatVersion)})
}

func dumpBlob[E gcinfo.Encoding](d *Dumper, w io.Writer, tok gcinfo.Token) error {
	s, err := methodcache.Lookup[E](d.cache, tok)
	if err != nil {
		return err
	}
	dec, err := gcinfo.NewDecoder[E](tok, gcinfo.DecodeEverything, 0)
	if err != nil {
		return err
	}

	d.writeHeader(w, &s)
	fmt.Fprintf(w, "header bytes:      %d\n", dec.NumBytesRead())

	var safePoints []uint32
	dec.EnumerateSafePoints(func(offset uint32) bool {
		safePoints = append(safePoints, offset)
		return false
	})
	fmt.Fprintf(w, "safe points (%d):", len(safePoints))
	for _, offset := range safePoints {
		fmt.Fprintf(w, " %#x", offset)
	}
	fmt.Fprintln(w)

	type codeRange struct{ start, stop uint32 }
	var ranges []codeRange
	dec.EnumerateInterruptibleRanges(func(start, stop uint32) bool {
		ranges = append(ranges, codeRange{start, stop})
		return false
	})
	fmt.Fprintf(w, "interruptible ranges (%d):", len(ranges))
	for _, r := range ranges {
		fmt.Fprintf(w, " [%#x,%#x)", r.start, r.stop)
	}
	fmt.Fprintln(w)

	var sd gcinfo.SlotDecoder
	dec.DecodeSlotTable(&sd)
	fmt.Fprintf(w, "slots (%d: %d registers, %d tracked stack, %d untracked):\n",
		sd.NumSlots(), sd.NumRegisters(), sd.NumTracked()-sd.NumRegisters(),
		sd.NumUntracked())
	for i := uint32(0); i < sd.NumSlots(); i++ {
		desc := sd.SlotDesc(i)
		var where string
		if sd.IsRegister(i) {
			where = d.abi.RegisterName(desc.RegisterNumber)
		} else {
			where = stackSlotName(desc.Base, desc.SpOffset)
		}
		fmt.Fprintf(w, "  #%-3d %-18s %s\n", i, where, desc.Flags)
	}

	if d.cfg.Offset != NoOffset {
		offset := uint32(d.cfg.Offset)
		if err := dumpLiveSlots[E](d, w, tok, offset, fmt.Sprintf("offset %#x", offset)); err != nil {
			return err
		}
	}
	if !d.cfg.All {
		return nil
	}
	for _, sp := range safePoints {
		// Safe points are looked up at the offset before the return address.
		if err := dumpLiveSlots[E](d, w, tok, sp-1, fmt.Sprintf("safe point %#x", sp)); err != nil {
			return err
		}
	}
	step := max(dec.Layout().DenormalizeCodeOffset(1), 1)
	if s.Version < gcinfo.CurrentVersion {
		step = 1
	}
	for _, r := range ranges {
		for offset := r.start; offset < r.stop; offset += step {
			if err := dumpLiveSlots[E](d, w, tok, offset, fmt.Sprintf("offset %#x", offset)); err != nil {
				return err
			}
		}
	}
	return nil
}

func dumpLiveSlots[E gcinfo.Encoding](d *Dumper, w io.Writer, tok gcinfo.Token, offset uint32,
	label string) error {
	dec, err := gcinfo.NewDecoder[E](tok, gcinfo.DecodeGCLifetimes, offset)
	if err != nil {
		return err
	}
	frame := newSymbolicFrame(d.abi, dec.StackBaseRegister(), dec.SizeOfStackParameterArea())

	var live []string
	dec.EnumerateLiveSlots(frame, d.cfg.Scratch, d.cfg.codeManagerFlags(),
		func(addr libpf.Address, flags gcinfo.ReportFlags) {
			name := describe(d.abi, addr)
			if flags&gcinfo.ReportInterior != 0 {
				name += " interior"
			}
			if flags&gcinfo.ReportPinned != 0 {
				name += " pinned"
			}
			live = append(live, name)
		})
	if len(live) == 0 {
		fmt.Fprintf(w, "live at %s: none\n", label)
		return nil
	}
	fmt.Fprintf(w, "live at %s: %s\n", label, strings.Join(live, ", "))
	return nil
}

func (d *Dumper) writeHeader(w io.Writer, s *gcinfo.Summary) {
	header := "fat"
	if s.SlimHeader {
		header = "slim"
	}
	fmt.Fprintf(w, "layout:            %s\n", s.Layout)
	fmt.Fprintf(w, "version:           %d\n", s.Version)
	fmt.Fprintf(w, "header:            %s flags %#x\n", header, uint32(s.HeaderFlags))
	fmt.Fprintf(w, "code length:       %#x\n", s.CodeLength)
	if s.ReturnKind != gcinfo.ReturnIllegal {
		fmt.Fprintf(w, "return kind:       %s\n", s.ReturnKind)
	}
	if s.GSCookieStackSlot != gcinfo.NoGSCookie {
		fmt.Fprintf(w, "gs cookie:         %+#x valid [%#x,%#x)\n", s.GSCookieStackSlot,
			s.GSCookieValidRangeStart, s.GSCookieValidRangeEnd)
	}
	if s.PSPSymStackSlot != gcinfo.NoPSPSym {
		fmt.Fprintf(w, "psp sym:           %+#x\n", s.PSPSymStackSlot)
	}
	if s.GenericsInstContextStackSlot != gcinfo.NoGenericsInstContext {
		kind := "this"
		switch s.HeaderFlags & gcinfo.HeaderGenericsInstContextMask {
		case gcinfo.HeaderGenericsInstContextMD:
			kind = "methoddesc"
		case gcinfo.HeaderGenericsInstContextMT:
			kind = "methodtable"
		}
		fmt.Fprintf(w, "generics context:  %s %+#x\n", kind, s.GenericsInstContextStackSlot)
	}
	if s.ReversePInvokeFrameStackSlot != gcinfo.NoReversePInvokeFrame {
		fmt.Fprintf(w, "reverse pinvoke:   %+#x\n", s.ReversePInvokeFrameStackSlot)
	}
	if s.StackBaseRegister != gcinfo.NoStackBaseRegister {
		fmt.Fprintf(w, "stack base:        %s\n", d.abi.RegisterName(s.StackBaseRegister))
	}
	if s.SizeOfEditAndContinuePreservedArea != gcinfo.NoSizeOfEditAndContinuePreservedArea {
		fmt.Fprintf(w, "edit and continue: preserved %#x fixed frame %#x\n",
			s.SizeOfEditAndContinuePreservedArea, s.SizeOfEditAndContinueFixedStackFrame)
	}
	fmt.Fprintf(w, "parameter area:    %#x\n", s.SizeOfStackParameterArea)
}
