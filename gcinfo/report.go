// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo // import "go.opentelemetry.io/dotnet-gcinfo/gcinfo"

import (
	"go.opentelemetry.io/dotnet-gcinfo/bitstream"
	"go.opentelemetry.io/dotnet-gcinfo/internal/contract"
	"go.opentelemetry.io/dotnet-gcinfo/libpf"
)

// FrameResolver maps slots of the frame being enumerated to memory locations.
type FrameResolver interface {
	// RegisterSlot returns the location holding the value of register reg.
	RegisterSlot(reg uint32) libpf.Address
	// StackBase returns the address stack slot offsets with the given base are
	// relative to. stackBaseRegister is the frame register of the method.
	StackBase(base StackSlotBase, stackBaseRegister uint32) libpf.Address
	// IsScratchRegister reports whether reg is not preserved across calls.
	IsScratchRegister(reg uint32) bool
	// IsScratchStackSlot reports whether the slot at addr lies in the outgoing
	// argument and scratch area of the frame.
	IsScratchStackSlot(base StackSlotBase, spOffset int32, addr libpf.Address) bool
}

// ReportFunc receives the location of every live slot.
type ReportFunc func(addr libpf.Address, flags ReportFlags)

// EnumerateLiveSlots reports the slots holding live references at the instruction
// offset given to Init with DecodeGCLifetimes. Scratch registers and scratch
// stack slots are only reported with reportScratchSlots. Untracked slots are
// reported unless flags has ParentOfFuncletStackFrame or NoReportUntracked.
func (d *Decoder[E]) EnumerateLiveSlots(rd FrameResolver, reportScratchSlots bool,
	flags CodeManagerFlags, report ReportFunc) {
	d.assertTables()
	r := d.reader
	r.SetCurrentPos(d.rangesPos)

	executionAborted := flags&ExecutionAborted != 0
	atSafePoint := d.safePointIndex != d.numSafePoints && !executionAborted
	noTrackedRefs := false
	var pseudoBreakOffset, numInterruptibleLength uint32

	if atSafePoint {
		for i := uint32(0); i < d.numInterruptibleRanges; i++ {
			r.DecodeVarLengthUnsigned(d.layout.InterruptibleRangeDelta1EncBase)
			r.DecodeVarLengthUnsigned(d.layout.InterruptibleRangeDelta2EncBase)
		}
	} else {
		// Map the offset to a pseudo offset in the concatenation of the ranges.
		normBreakOffset := d.normalizeCodeOffset(d.instructionOffset)
		countIntersections := 0
		var lastNormStop uint32
		for i := uint32(0); i < d.numInterruptibleRanges; i++ {
			startDelta := uint32(r.DecodeVarLengthUnsigned(d.layout.InterruptibleRangeDelta1EncBase))
			stopDelta := uint32(r.DecodeVarLengthUnsigned(d.layout.InterruptibleRangeDelta2EncBase)) + 1
			normStart := lastNormStop + startDelta
			normStop := normStart + stopDelta
			if normBreakOffset >= normStart && normBreakOffset < normStop {
				contract.Assert(pseudoBreakOffset == 0 && countIntersections == 0,
					"interruptible ranges overlap")
				countIntersections++
				pseudoBreakOffset = numInterruptibleLength + normBreakOffset - normStart
			}
			numInterruptibleLength += stopDelta
			lastNormStop = normStop
		}
		if countIntersections == 0 {
			// Only an aborted frame may be stopped outside of any safe point
			// or interruptible range. Its tracked slots are dead.
			if contract.Enabled {
				d.tracef("offset %#x is not interruptible, skipping tracked slots",
					d.instructionOffset)
			}
			noTrackedRefs = true
		}
	}

	var sd SlotDecoder
	sd.Decode(&r, d.layout)

	if !noTrackedRefs && sd.NumTracked() > 0 {
		d.reportTracked(&r, &sd, atSafePoint, pseudoBreakOffset, numInterruptibleLength,
			rd, reportScratchSlots, flags, report)
	}
	if sd.NumUntracked() > 0 && flags&(ParentOfFuncletStackFrame|NoReportUntracked) == 0 {
		d.reportUntracked(&sd, rd, flags, report)
	}
}

// EnumerateUntrackedSlots reports the untracked slots of the method regardless
// of the instruction offset.
func (d *Decoder[E]) EnumerateUntrackedSlots(rd FrameResolver, flags CodeManagerFlags,
	report ReportFunc) {
	var sd SlotDecoder
	d.DecodeSlotTable(&sd)
	d.reportUntracked(&sd, rd, flags, report)
}

func (d *Decoder[E]) reportUntracked(sd *SlotDecoder, rd FrameResolver,
	flags CodeManagerFlags, report ReportFunc) {
	// Untracked slots never live in the scratch area.
	for i := sd.NumTracked(); i < sd.NumSlots(); i++ {
		d.reportSlot(sd, i, rd, true, flags, report)
	}
}

func (d *Decoder[E]) reportTracked(r *bitstream.Reader, sd *SlotDecoder, atSafePoint bool,
	pseudoBreakOffset, numInterruptibleLength uint32, rd FrameResolver,
	reportScratchSlots bool, flags CodeManagerFlags, report ReportFunc) {
	numTracked := sd.NumTracked()
	reportIndex := func(slotIndex uint32) {
		d.reportSlot(sd, slotIndex, rd, reportScratchSlots, flags, report)
	}

	var numBitsPerOffset int
	if d.numSafePoints > 0 && r.ReadBool() {
		numBitsPerOffset = int(r.DecodeVarLengthUnsigned(d.layout.PointerSizeEncBase)) + 1
	}

	if atSafePoint {
		if numBitsPerOffset != 0 {
			offsetTablePos := r.CurrentPos()
			r.Skip(int(d.safePointIndex) * numBitsPerOffset)
			liveStatesOffset := uint(r.Read(numBitsPerOffset))
			liveStatesStart := alignToByte(offsetTablePos +
				uint(d.numSafePoints)*uint(numBitsPerOffset))
			r.SetCurrentPos(liveStatesStart + liveStatesOffset)
			walkLiveStateVector(r, d.layout, numTracked, reportIndex)
			return
		}
		r.Skip(int(d.safePointIndex * numTracked))
		walkBitVector(r, numTracked, reportIndex)
		return
	}

	// Skip over the safe point live states.
	if d.numSafePoints > 0 {
		if numBitsPerOffset != 0 {
			d.skipIndirectLiveStates(r, numBitsPerOffset, numTracked)
		} else {
			r.Skip(int(d.numSafePoints * numTracked))
		}
	}
	if d.numInterruptibleRanges == 0 {
		return
	}
	contract.Assert(pseudoBreakOffset < numInterruptibleLength,
		"pseudo offset past the interruptible code")

	numChunks := (numInterruptibleLength + numNormCodeOffsetsPerChunk - 1) /
		numNormCodeOffsetsPerChunk
	breakChunk := pseudoBreakOffset / numNormCodeOffsetsPerChunk
	numBitsPerPointer := int(r.DecodeVarLengthUnsigned(d.layout.PointerSizeEncBase))
	if numBitsPerPointer == 0 {
		// No lifetime info at all.
		return
	}

	pointerTablePos := r.CurrentPos()
	chunk := breakChunk
	var chunkPointer uint
	for {
		r.SetCurrentPos(pointerTablePos + uint(chunk)*uint(numBitsPerPointer))
		chunkPointer = uint(r.Read(numBitsPerPointer))
		if chunkPointer != 0 {
			break
		}
		// An empty chunk has no transitions, its states are the final states
		// of the closest preceding chunk.
		if chunk == 0 {
			return
		}
		chunk--
	}
	chunksStartPos := alignToByte(pointerTablePos + uint(numChunks)*uint(numBitsPerPointer))
	r.SetCurrentPos(chunksStartPos + chunkPointer - 1)

	couldBeLive := *r
	numCouldBeLive := walkLiveStateVector(r, d.layout, numTracked, nil)
	finalState := *r
	r.Skip(int(numCouldBeLive))

	it := newLiveStateIterator(couldBeLive, d.layout)
	normBreakOffsetDelta := uint64(pseudoBreakOffset % numNormCodeOffsetsPerChunk)
	for i := uint32(0); i < numCouldBeLive; i++ {
		slotIndex := it.Next()
		isLive := finalState.ReadBool()
		if chunk == breakChunk {
			// Transitions after the offset are undone to get back to its state.
			for r.ReadBool() {
				transitionOffset := r.Read(numNormCodeOffsetsPerChunkLog2)
				contract.Assert(transitionOffset != 0, "transition at the chunk start")
				if transitionOffset > normBreakOffsetDelta {
					isLive = !isLive
				}
			}
		}
		if isLive {
			reportIndex(slotIndex)
		}
	}
}

// skipIndirectLiveStates moves r past the deduplicated live states of the
// safe points. The state with the largest offset is the last one.
func (d *Decoder[E]) skipIndirectLiveStates(r *bitstream.Reader, numBitsPerOffset int,
	numTracked uint32) {
	offsetTablePos := r.CurrentPos()
	var maxOffset uint
	for i := uint32(0); i < d.numSafePoints; i++ {
		maxOffset = max(maxOffset, uint(r.Read(numBitsPerOffset)))
	}
	liveStatesStart := alignToByte(offsetTablePos + uint(d.numSafePoints)*uint(numBitsPerOffset))
	r.SetCurrentPos(liveStatesStart + maxOffset)
	walkLiveStateVector(r, d.layout, numTracked, nil)
}

func alignToByte(pos uint) uint {
	return (pos + 7) &^ 7
}

// reportSlot applies the scratch and frame pointer filters to slot slotIndex and
// reports it.
func (d *Decoder[E]) reportSlot(sd *SlotDecoder, slotIndex uint32, rd FrameResolver,
	reportScratchSlots bool, flags CodeManagerFlags, report ReportFunc) {
	slot := sd.SlotDesc(slotIndex)
	reportFlags := ReportFlags(slot.Flags & (SlotInterior | SlotPinned))
	fpBasedOnly := flags&ReportFPBasedSlotsOnly != 0

	if sd.IsRegister(slotIndex) {
		reg := slot.RegisterNumber
		if fpBasedOnly || (!reportScratchSlots && rd.IsScratchRegister(reg)) {
			if contract.Enabled {
				d.tracef("skipping register slot %d (r%d)", slotIndex, reg)
			}
			return
		}
		addr := rd.RegisterSlot(reg)
		if contract.Enabled {
			d.tracef("reporting register slot %d (r%d) at %#x flags %s",
				slotIndex, reg, addr, slot.Flags)
		}
		report(addr, reportFlags)
		return
	}

	if fpBasedOnly && slot.Base != FrameRegRel {
		if contract.Enabled {
			d.tracef("skipping %s relative stack slot %d", slot.Base, slotIndex)
		}
		return
	}
	contract.Assert(slot.Base != FrameRegRel || d.stackBaseRegister != NoStackBaseRegister,
		"frame relative slot without a stack base register")
	addr := rd.StackBase(slot.Base, d.stackBaseRegister).Offset(slot.SpOffset)
	if !reportScratchSlots && rd.IsScratchStackSlot(slot.Base, slot.SpOffset, addr) {
		if contract.Enabled {
			d.tracef("skipping scratch stack slot %d at %#x", slotIndex, addr)
		}
		return
	}
	if contract.Enabled {
		d.tracef("reporting stack slot %d (%s%+#x) at %#x flags %s",
			slotIndex, slot.Base, slot.SpOffset, addr, slot.Flags)
	}
	report(addr, reportFlags)
}
