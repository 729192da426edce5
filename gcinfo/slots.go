// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo // import "go.opentelemetry.io/dotnet-gcinfo/gcinfo"

import (
	"go.opentelemetry.io/dotnet-gcinfo/bitstream"
	"go.opentelemetry.io/dotnet-gcinfo/internal/contract"
)

// SlotDesc describes one slot of the slot table. Register slots use
// RegisterNumber, stack slots use SpOffset and Base.
type SlotDesc struct {
	RegisterNumber uint32
	SpOffset       int32
	Base           StackSlotBase
	Flags          SlotFlags
}

// IsUntracked reports whether the slot is live for the whole method body.
func (s *SlotDesc) IsUntracked() bool {
	return s.Flags&SlotUntracked != 0
}

// SlotDecoder holds the decoded slot table of a method. The slot table lists
// register slots first, then tracked stack slots, then untracked stack slots.
// Up to MaxPredecodedSlots descriptors are decoded eagerly, the rest is decoded
// on demand by walking forward from the last decoded slot.
type SlotDecoder struct {
	layout *Layout

	numSlots      uint32
	numRegisters  uint32
	numUntracked  uint32
	numPredecoded uint32

	slotArray [MaxPredecodedSlots]SlotDesc

	// Lazy decoding state for the slots past slotArray. slotReader is
	// positioned right after lastSlot, the slot at numDecodedSlots-1.
	slotReader      bitstream.Reader
	numDecodedSlots uint32
	lastSlot        SlotDesc
}

// Decode reads the slot table at the position of r and leaves r right after it.
func (s *SlotDecoder) Decode(r *bitstream.Reader, layout *Layout) {
	s.decode(r, layout, MaxPredecodedSlots)
}

func (s *SlotDecoder) decode(r *bitstream.Reader, layout *Layout, limit uint32) {
	contract.Assert(limit <= MaxPredecodedSlots, "predecode limit exceeds the slot cache")
	*s = SlotDecoder{layout: layout}

	if r.ReadBool() {
		s.numRegisters = uint32(r.DecodeVarLengthUnsigned(layout.NumRegistersEncBase))
	}
	var numStackSlots uint32
	if r.ReadBool() {
		numStackSlots = uint32(r.DecodeVarLengthUnsigned(layout.NumStackSlotsEncBase))
		s.numUntracked = uint32(r.DecodeVarLengthUnsigned(layout.NumUntrackedSlotsEncBase))
	}
	s.numSlots = s.numRegisters + numStackSlots + s.numUntracked
	s.numPredecoded = min(s.numSlots, limit)

	var prev *SlotDesc
	for i := uint32(0); i < s.numPredecoded; i++ {
		s.slotArray[i] = s.decodeSlot(r, i, prev)
		prev = &s.slotArray[i]
	}
	s.numDecodedSlots = s.numPredecoded
	if s.numPredecoded == s.numSlots {
		return
	}

	// Save the state for decoding the remaining slots on demand, then let the
	// caller's reader walk past the end of the table.
	s.slotReader = *r
	if prev != nil {
		s.lastSlot = *prev
	}
	last := s.lastSlot
	for i := s.numPredecoded; i < s.numSlots; i++ {
		if i == 0 {
			last = s.decodeSlot(r, i, nil)
			continue
		}
		last = s.decodeSlot(r, i, &last)
	}
}

// decodeSlot reads slot i. prev is slot i-1, nil for the first slot.
func (s *SlotDecoder) decodeSlot(r *bitstream.Reader, i uint32, prev *SlotDesc) SlotDesc {
	layout := s.layout
	var slot SlotDesc

	if i < s.numRegisters {
		if i == 0 || prev.Flags != 0 {
			slot.RegisterNumber = layout.DenormalizeRegister(
				uint32(r.DecodeVarLengthUnsigned(layout.RegisterEncBase)))
			slot.Flags = SlotFlags(r.Read(slotFlagsBitSize))
			return slot
		}
		delta := uint32(r.DecodeVarLengthUnsigned(layout.RegisterDeltaEncBase)) + 1
		slot.RegisterNumber = layout.DenormalizeRegister(
			layout.NormalizeRegister(prev.RegisterNumber) + delta)
		slot.Flags = prev.Flags
		return slot
	}

	numTracked := s.NumTracked()
	slot.Base = StackSlotBase(r.Read(slotBaseBitSize))
	if i == s.numRegisters || i == numTracked || prev.Flags&^SlotUntracked != 0 {
		slot.SpOffset = layout.DenormalizeStackSlot(
			r.DecodeVarLengthSigned(layout.StackSlotEncBase))
		slot.Flags = SlotFlags(r.Read(slotFlagsBitSize))
	} else {
		delta := int64(r.DecodeVarLengthUnsigned(layout.StackSlotDeltaEncBase))
		slot.SpOffset = layout.DenormalizeStackSlot(
			layout.NormalizeStackSlot(prev.SpOffset) + delta)
		slot.Flags = prev.Flags &^ SlotUntracked
	}
	if i >= numTracked {
		slot.Flags |= SlotUntracked
	}
	return slot
}

func (s *SlotDecoder) NumSlots() uint32     { return s.numSlots }
func (s *SlotDecoder) NumRegisters() uint32 { return s.numRegisters }
func (s *SlotDecoder) NumUntracked() uint32 { return s.numUntracked }
func (s *SlotDecoder) NumTracked() uint32   { return s.numSlots - s.numUntracked }

// IsRegister reports whether slot i is a register slot.
func (s *SlotDecoder) IsRegister(i uint32) bool {
	return i < s.numRegisters
}

// SlotDesc returns the descriptor of slot i. Slots past the predecoded ones
// must be requested in non-decreasing index order.
func (s *SlotDecoder) SlotDesc(i uint32) SlotDesc {
	contract.Assert(i < s.numSlots, "slot index out of range")
	if i < s.numPredecoded {
		return s.slotArray[i]
	}

	contract.Assert(i+1 >= s.numDecodedSlots, "slot requested out of order")
	for s.numDecodedSlots <= i {
		if s.numDecodedSlots == 0 {
			s.lastSlot = s.decodeSlot(&s.slotReader, 0, nil)
		} else {
			s.lastSlot = s.decodeSlot(&s.slotReader, s.numDecodedSlots, &s.lastSlot)
		}
		s.numDecodedSlots++
	}
	return s.lastSlot
}
