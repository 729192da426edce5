// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfotest // import "go.opentelemetry.io/dotnet-gcinfo/internal/gcinfotest"

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/dotnet-gcinfo/bitstream"
	"go.opentelemetry.io/dotnet-gcinfo/gcinfo"
)

// Interval is a half open [Start, Stop) range of code offsets.
type Interval struct {
	Start, Stop uint32
}

func (i Interval) contains(offset uint32) bool {
	return offset >= i.Start && offset < i.Stop
}

// Slot is one entry of the slot table. Slots must be listed registers first,
// then tracked stack slots, then untracked stack slots. Within each group the
// slots with non-zero Flags come first, the others in increasing order.
type Slot struct {
	Register       bool
	RegisterNumber uint32
	Base           gcinfo.StackSlotBase
	SpOffset       int32
	Flags          gcinfo.SlotFlags
	Untracked      bool
}

// Method describes the GC info of one method. Zero values mean absent.
type Method struct {
	Layout  *gcinfo.Layout
	Version uint32 // defaults to gcinfo.CurrentVersion

	// ForceFatHeader disables the slim header for methods that qualify for it.
	ForceFatHeader bool

	CodeLength uint32
	IsVarArg   bool
	ArchBit    bool
	ReturnKind gcinfo.ReturnKind // legacy versions only

	HasGSCookie        bool
	GSCookieStackSlot  int32
	GSCookieValidRange Interval

	// GenericsInstContext is one of the HeaderGenericsInstContext kinds.
	GenericsInstContext          gcinfo.HeaderFlags
	GenericsInstContextStackSlot int32
	// PrologSize is used for methods with a generics context and no GS cookie.
	PrologSize uint32

	HasPSPSym       bool
	PSPSymStackSlot int32

	HasStackBaseRegister bool
	StackBaseRegister    uint32

	HasEditAndContinue                   bool
	SizeOfEditAndContinuePreservedArea   uint32
	SizeOfEditAndContinueFixedStackFrame uint32

	HasReversePInvokeFrame       bool
	ReversePInvokeFrameStackSlot int32

	SizeOfStackParameterArea uint32

	// SafePoints are the return addresses of the calls, increasing.
	SafePoints          []uint32
	InterruptibleRanges []Interval
	Slots               []Slot

	// SafePointLiveness[i][j] is the state of tracked slot j at safe point i.
	SafePointLiveness  [][]bool
	IndirectLiveStates bool
	RLELiveStates      bool

	// Lifetimes[j] lists the code ranges where tracked slot j is live in the
	// interruptible ranges.
	Lifetimes [][]Interval
}

func (m *Method) version() uint32 {
	if m.Version == 0 {
		return gcinfo.CurrentVersion
	}
	return m.Version
}

func (m *Method) legacy() bool {
	return m.version() < gcinfo.CurrentVersion
}

func (m *Method) normOffset(x uint32) uint32 {
	if m.legacy() {
		return x
	}
	return m.Layout.NormalizeCodeOffset(x)
}

func (m *Method) denormOffset(x uint32) uint32 {
	if m.legacy() {
		return x
	}
	return m.Layout.DenormalizeCodeOffset(x)
}

// HeaderFlags returns the fat header flags describing m.
func (m *Method) HeaderFlags() gcinfo.HeaderFlags {
	var f gcinfo.HeaderFlags
	if m.IsVarArg {
		f |= gcinfo.HeaderIsVarArg
	}
	if m.HasGSCookie {
		f |= gcinfo.HeaderHasGSCookie
	}
	if m.HasPSPSym {
		f |= gcinfo.HeaderHasPSPSym
	}
	f |= m.GenericsInstContext & gcinfo.HeaderGenericsInstContextMask
	if m.HasStackBaseRegister {
		f |= gcinfo.HeaderHasStackBaseRegister
	}
	if m.ArchBit {
		f |= gcinfo.HeaderArchBit
	}
	if m.HasEditAndContinue {
		f |= gcinfo.HeaderHasEditAndContinueInfo
	}
	if m.HasReversePInvokeFrame {
		f |= gcinfo.HeaderReversePInvokeFrame
	}
	return f
}

func (m *Method) slimHeader() bool {
	if m.ForceFatHeader || len(m.InterruptibleRanges) != 0 || m.SizeOfStackParameterArea != 0 {
		return false
	}
	flags := m.HeaderFlags()
	if flags&^gcinfo.HeaderHasStackBaseRegister != 0 {
		return false
	}
	return !m.HasStackBaseRegister ||
		m.StackBaseRegister == m.Layout.DenormalizeStackBaseRegister(0)
}

// Token returns a token for the encoded blob placed at byte offset pad.
func (m *Method) Token(pad uint) gcinfo.Token {
	w := m.Encode()
	return gcinfo.Token{Image: w.Image(pad), Offset: pad, Version: m.version()}
}

// Encode writes the GC info of m. It panics if m cannot be encoded.
func (m *Method) Encode() *BitWriter {
	l := m.Layout
	w := &BitWriter{}

	if m.slimHeader() {
		w.WriteBool(false)
		w.WriteBool(m.HasStackBaseRegister)
		if m.legacy() {
			w.Write(uint64(m.ReturnKind), 2)
		}
		w.EncodeVarLengthUnsigned(uint64(l.NormalizeCodeLength(m.CodeLength)), l.CodeLengthEncBase)
	} else {
		m.encodeFatHeader(w)
	}

	w.EncodeVarLengthUnsigned(uint64(len(m.SafePoints)), l.NumSafePointsEncBase)
	if !m.slimHeader() {
		w.EncodeVarLengthUnsigned(uint64(len(m.InterruptibleRanges)),
			l.NumInterruptibleRangesEncBase)
	}

	numBits := int(bitstream.CeilOfLog2(m.normOffset(m.CodeLength)))
	for _, sp := range m.SafePoints {
		w.Write(uint64(m.normOffset(sp-1)), numBits)
	}

	var lastStop uint32
	for _, r := range m.InterruptibleRanges {
		normStart, normStop := m.normOffset(r.Start), m.normOffset(r.Stop)
		if normStart < lastStop || normStop <= normStart {
			panic(fmt.Sprintf("interruptible range %v out of order", r))
		}
		w.EncodeVarLengthUnsigned(uint64(normStart-lastStop), l.InterruptibleRangeDelta1EncBase)
		w.EncodeVarLengthUnsigned(uint64(normStop-normStart-1), l.InterruptibleRangeDelta2EncBase)
		lastStop = normStop
	}

	numTracked := m.encodeSlotTable(w)
	if numTracked == 0 {
		return w
	}
	if len(m.SafePoints) > 0 {
		m.encodeSafePointLiveness(w, numTracked)
	}
	if len(m.InterruptibleRanges) > 0 {
		m.encodeLifetimes(w, numTracked)
	}
	return w
}

func (m *Method) encodeFatHeader(w *BitWriter) {
	l := m.Layout
	flags := m.HeaderFlags()

	w.WriteBool(true)
	if m.version() == 1 {
		w.Write(uint64(flags), 9)
	} else {
		w.Write(uint64(flags), 10)
	}
	if m.legacy() {
		w.Write(uint64(m.ReturnKind), 4)
	}
	w.EncodeVarLengthUnsigned(uint64(l.NormalizeCodeLength(m.CodeLength)), l.CodeLengthEncBase)

	switch {
	case m.HasGSCookie:
		normPrologSize := m.normOffset(m.GSCookieValidRange.Start)
		normEpilogSize := m.normOffset(m.CodeLength) - m.normOffset(m.GSCookieValidRange.Stop)
		w.EncodeVarLengthUnsigned(uint64(normPrologSize-1), l.NormPrologSizeEncBase)
		w.EncodeVarLengthUnsigned(uint64(normEpilogSize), l.NormEpilogSizeEncBase)
	case m.GenericsInstContext != gcinfo.HeaderGenericsInstContextNone:
		w.EncodeVarLengthUnsigned(uint64(m.normOffset(m.PrologSize)-1), l.NormPrologSizeEncBase)
	}

	if m.HasGSCookie {
		w.EncodeVarLengthSigned(l.NormalizeStackSlot(m.GSCookieStackSlot), l.GSCookieStackSlotEncBase)
	}
	if m.HasPSPSym {
		w.EncodeVarLengthSigned(l.NormalizeStackSlot(m.PSPSymStackSlot), l.PSPSymStackSlotEncBase)
	}
	if m.GenericsInstContext != gcinfo.HeaderGenericsInstContextNone {
		w.EncodeVarLengthSigned(l.NormalizeStackSlot(m.GenericsInstContextStackSlot),
			l.GenericsInstContextStackSlotEncBase)
	}
	if m.HasStackBaseRegister {
		w.EncodeVarLengthUnsigned(uint64(l.NormalizeStackBaseRegister(m.StackBaseRegister)),
			l.StackBaseRegisterEncBase)
	}
	if m.HasEditAndContinue {
		w.EncodeVarLengthUnsigned(uint64(m.SizeOfEditAndContinuePreservedArea),
			l.SizeOfEditAndContinuePreservedAreaEncBase)
		if l.HasEditAndContinueFixedStackFrame {
			w.EncodeVarLengthUnsigned(uint64(m.SizeOfEditAndContinueFixedStackFrame),
				l.SizeOfEditAndContinueFixedStackFrameEncBase)
		}
	}
	if m.HasReversePInvokeFrame {
		w.EncodeVarLengthSigned(l.NormalizeStackSlot(m.ReversePInvokeFrameStackSlot),
			l.ReversePInvokeFrameEncBase)
	}
	if l.HasStackParameterScratchArea {
		w.EncodeVarLengthUnsigned(uint64(l.NormalizeSizeOfStackArea(m.SizeOfStackParameterArea)),
			l.SizeOfStackAreaEncBase)
	}
}

// encodeSlotTable writes the slot table and returns the number of tracked slots.
func (m *Method) encodeSlotTable(w *BitWriter) uint32 {
	l := m.Layout
	var regs, tracked, untracked []Slot
	for _, s := range m.Slots {
		switch {
		case s.Register:
			if len(tracked)+len(untracked) != 0 || s.Untracked {
				panic("register slots must come first and be tracked")
			}
			regs = append(regs, s)
		case s.Untracked:
			untracked = append(untracked, s)
		default:
			if len(untracked) != 0 {
				panic("tracked stack slots must precede untracked ones")
			}
			tracked = append(tracked, s)
		}
	}

	w.WriteBool(len(regs) > 0)
	if len(regs) > 0 {
		w.EncodeVarLengthUnsigned(uint64(len(regs)), l.NumRegistersEncBase)
	}
	w.WriteBool(len(tracked)+len(untracked) > 0)
	if len(tracked)+len(untracked) > 0 {
		w.EncodeVarLengthUnsigned(uint64(len(tracked)), l.NumStackSlotsEncBase)
		w.EncodeVarLengthUnsigned(uint64(len(untracked)), l.NumUntrackedSlotsEncBase)
	}

	for i, s := range regs {
		if i == 0 || regs[i-1].Flags != 0 {
			w.EncodeVarLengthUnsigned(uint64(l.NormalizeRegister(s.RegisterNumber)), l.RegisterEncBase)
			w.Write(uint64(s.Flags), 2)
			continue
		}
		prev := regs[i-1]
		if s.Flags != 0 || s.RegisterNumber <= prev.RegisterNumber {
			panic(fmt.Sprintf("register slot %d out of order", i))
		}
		w.EncodeVarLengthUnsigned(uint64(l.NormalizeRegister(s.RegisterNumber)-
			l.NormalizeRegister(prev.RegisterNumber)-1), l.RegisterDeltaEncBase)
	}
	for _, group := range [][]Slot{tracked, untracked} {
		for i, s := range group {
			if l.DenormalizeStackSlot(l.NormalizeStackSlot(s.SpOffset)) != s.SpOffset {
				panic(fmt.Sprintf("misaligned stack slot %#x", s.SpOffset))
			}
			w.Write(uint64(s.Base), 2)
			if i == 0 || group[i-1].Flags != 0 {
				w.EncodeVarLengthSigned(l.NormalizeStackSlot(s.SpOffset), l.StackSlotEncBase)
				w.Write(uint64(s.Flags), 2)
				continue
			}
			delta := l.NormalizeStackSlot(s.SpOffset) - l.NormalizeStackSlot(group[i-1].SpOffset)
			if s.Flags != 0 || delta < 0 {
				panic(fmt.Sprintf("stack slot %#x out of order", s.SpOffset))
			}
			w.EncodeVarLengthUnsigned(uint64(delta), l.StackSlotDeltaEncBase)
		}
	}
	return uint32(len(regs) + len(tracked))
}

func (m *Method) safePointState(i int, numTracked uint32) []bool {
	state := make([]bool, numTracked)
	if i < len(m.SafePointLiveness) {
		copy(state, m.SafePointLiveness[i])
	}
	return state
}

func (m *Method) encodeSafePointLiveness(w *BitWriter, numTracked uint32) {
	w.WriteBool(m.IndirectLiveStates)
	if !m.IndirectLiveStates {
		for i := range m.SafePoints {
			for _, live := range m.safePointState(i, numTracked) {
				w.WriteBool(live)
			}
		}
		return
	}

	states := &BitWriter{}
	known := map[string]uint{}
	offsets := make([]uint, len(m.SafePoints))
	var maxOffset uint
	for i := range m.SafePoints {
		state := m.safePointState(i, numTracked)
		key := stateKey(state)
		offs, ok := known[key]
		if !ok {
			offs = states.Pos()
			known[key] = offs
			m.encodeLiveStateVector(states, state)
		}
		offsets[i] = offs
		maxOffset = max(maxOffset, offs)
	}

	numBitsPerOffset := max(1, int(bitstream.CeilOfLog2(uint32(maxOffset)+1)))
	w.EncodeVarLengthUnsigned(uint64(numBitsPerOffset-1), m.Layout.PointerSizeEncBase)
	for _, offs := range offsets {
		w.Write(uint64(offs), numBitsPerOffset)
	}
	w.AlignToByte()
	w.append(states)
}

func stateKey(state []bool) string {
	var sb strings.Builder
	for _, live := range state {
		if live {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// encodeLiveStateVector writes the RLE flag and the vector. A run length
// encoded vector uses whichever polarity of the chunk bases is shorter.
func (m *Method) encodeLiveStateVector(w *BitWriter, state []bool) {
	w.WriteBool(m.RLELiveStates)
	if !m.RLELiveStates {
		for _, live := range state {
			w.WriteBool(live)
		}
		return
	}

	l := m.Layout
	plain, negated := &BitWriter{}, &BitWriter{}
	encodeRLEChunks(plain, state, l.LiveStateRLESkipEncBase, l.LiveStateRLERunEncBase)
	encodeRLEChunks(negated, state, l.LiveStateRLERunEncBase, l.LiveStateRLESkipEncBase)
	if negated.Pos() < plain.Pos() {
		w.WriteBool(true)
		w.append(negated)
		return
	}
	w.WriteBool(false)
	w.append(plain)
}

// encodeRLEChunks writes the leading dead states, possibly none, followed by
// alternating runs of live and dead states.
func encodeRLEChunks(w *BitWriter, state []bool, skipBase, runBase int) {
	i := 0
	for i < len(state) && !state[i] {
		i++
	}
	w.EncodeVarLengthUnsigned(uint64(i), skipBase)
	for inRun := true; i < len(state); inRun = !inRun {
		j := i
		for j < len(state) && state[j] == inRun {
			j++
		}
		base := skipBase
		if inRun {
			base = runBase
		}
		w.EncodeVarLengthUnsigned(uint64(j-i-1), base)
		i = j
	}
}

func (m *Method) liveAt(slot uint32, offset uint32) bool {
	if int(slot) >= len(m.Lifetimes) {
		return false
	}
	for _, iv := range m.Lifetimes[slot] {
		if iv.contains(offset) {
			return true
		}
	}
	return false
}

func (m *Method) encodeLifetimes(w *BitWriter, numTracked uint32) {
	const chunkSize = 64

	// Code offsets of the pseudo offsets.
	var offsets []uint32
	for _, r := range m.InterruptibleRanges {
		for c := m.normOffset(r.Start); c < m.normOffset(r.Stop); c++ {
			offsets = append(offsets, m.denormOffset(c))
		}
	}
	numChunks := (len(offsets) + chunkSize - 1) / chunkSize

	chunks := &BitWriter{}
	pointers := make([]uint, numChunks)
	var maxPointer uint
	prevEnd := make([]bool, numTracked)
	for k := 0; k < numChunks; k++ {
		lo, hi := k*chunkSize, min((k+1)*chunkSize, len(offsets))
		couldBeLive := make([]bool, numTracked)
		var candidates []uint32
		for j := uint32(0); j < numTracked; j++ {
			couldBeLive[j] = prevEnd[j]
			for p := lo; p < hi && !couldBeLive[j]; p++ {
				couldBeLive[j] = m.liveAt(j, offsets[p])
			}
			if couldBeLive[j] {
				candidates = append(candidates, j)
			}
			prevEnd[j] = m.liveAt(j, offsets[hi-1])
		}
		if len(candidates) == 0 {
			continue
		}

		pointers[k] = chunks.Pos() + 1
		maxPointer = max(maxPointer, pointers[k])
		m.encodeLiveStateVector(chunks, couldBeLive)
		for _, j := range candidates {
			chunks.WriteBool(m.liveAt(j, offsets[hi-1]))
		}
		for _, j := range candidates {
			for t := 1; t < hi-lo; t++ {
				if m.liveAt(j, offsets[lo+t]) != m.liveAt(j, offsets[lo+t-1]) {
					chunks.WriteBool(true)
					chunks.Write(uint64(t), 6)
				}
			}
			chunks.WriteBool(false)
		}
	}

	numBitsPerPointer := int(bitstream.CeilOfLog2(uint32(maxPointer) + 1))
	w.EncodeVarLengthUnsigned(uint64(numBitsPerPointer), m.Layout.PointerSizeEncBase)
	if numBitsPerPointer == 0 {
		return
	}
	for _, p := range pointers {
		w.Write(uint64(p), numBitsPerPointer)
	}
	w.AlignToByte()
	w.append(chunks)
}

// append copies the bits written to o.
func (w *BitWriter) append(o *BitWriter) {
	for i := uint(0); i < o.pos; i++ {
		w.Write(uint64(o.buf[i/8]>>(i%8)&1), 1)
	}
}
