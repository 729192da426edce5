// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.opentelemetry.io/dotnet-gcinfo/gcinfo"
	"go.opentelemetry.io/dotnet-gcinfo/internal/gcinfotest"
)

// The blobs below are assembled field by field for AMD64. The methods next to
// them describe the same GC info and must encode to the same bits.

// writeRegisters writes a slot table of six tracked registers r10 to r15.
func writeRegisters(w *gcinfotest.BitWriter, l *gcinfo.Layout) {
	w.WriteBool(true)
	w.EncodeVarLengthUnsigned(6, l.NumRegistersEncBase)
	w.WriteBool(false)
	w.EncodeVarLengthUnsigned(10, l.RegisterEncBase)
	w.Write(0, 2)
	for range 5 {
		w.EncodeVarLengthUnsigned(0, l.RegisterDeltaEncBase)
	}
}

func registerSlots() []gcinfotest.Slot {
	slots := make([]gcinfotest.Slot, 6)
	for i := range slots {
		slots[i] = gcinfotest.Slot{Register: true, RegisterNumber: 10 + uint32(i)}
	}
	return slots
}

// Two safe points share an indirect live state table. The first state has
// swapped RLE chunk bases, the second one plain bases.
func TestIndirectLiveStateReference(t *testing.T) {
	l := amd64()
	w := &gcinfotest.BitWriter{}
	w.WriteBool(false) // slim header
	w.WriteBool(false) // no stack base register
	w.EncodeVarLengthUnsigned(16, l.CodeLengthEncBase)
	w.EncodeVarLengthUnsigned(2, l.NumSafePointsEncBase)
	w.Write(3, 4)
	w.Write(7, 4)
	writeRegisters(w, l)

	w.WriteBool(true) // indirect
	w.EncodeVarLengthUnsigned(4-1, l.PointerSizeEncBase)
	w.Write(0, 4)
	w.Write(13, 4)
	w.AlignToByte()
	// L L D D D D: skip 0, run 2, skip 4 with the bases swapped.
	w.WriteBool(true)
	w.WriteBool(true)
	w.EncodeVarLengthUnsigned(0, l.LiveStateRLERunEncBase)
	w.EncodeVarLengthUnsigned(2-1, l.LiveStateRLESkipEncBase)
	w.EncodeVarLengthUnsigned(4-1, l.LiveStateRLERunEncBase)
	// D D D D L L: skip 4, run 2.
	w.WriteBool(true)
	w.WriteBool(false)
	w.EncodeVarLengthUnsigned(4, l.LiveStateRLESkipEncBase)
	w.EncodeVarLengthUnsigned(2-1, l.LiveStateRLERunEncBase)

	m := gcinfotest.Method{
		Layout:             l,
		CodeLength:         16,
		SafePoints:         []uint32{4, 8},
		Slots:              registerSlots(),
		IndirectLiveStates: true,
		RLELiveStates:      true,
		SafePointLiveness: [][]bool{
			{true, true, false, false, false, false},
			{false, false, false, false, true, true},
		},
	}
	assert.Equal(t, w.Bytes(), m.Encode().Bytes())

	tok := gcinfo.NewToken(w.Image(0))
	assert.Equal(t, []report{reg(10), reg(11)},
		liveSlots[gcinfo.AMD64](t, tok, 3, true, 0))
	assert.Equal(t, []report{reg(14), reg(15)},
		liveSlots[gcinfo.AMD64](t, tok, 7, true, 0))
}

// Two chunks of a fully interruptible method. The could-be-live vector of the
// first chunk has swapped RLE chunk bases, the one of the second chunk plain
// bases. Both chunks carry transitions.
func TestLifetimeChunkReference(t *testing.T) {
	l := amd64()
	w := &gcinfotest.BitWriter{}
	w.WriteBool(true) // fat header
	w.Write(0, 10)
	w.EncodeVarLengthUnsigned(128, l.CodeLengthEncBase)
	w.EncodeVarLengthUnsigned(0, l.SizeOfStackAreaEncBase)
	w.EncodeVarLengthUnsigned(0, l.NumSafePointsEncBase)
	w.EncodeVarLengthUnsigned(1, l.NumInterruptibleRangesEncBase)
	w.EncodeVarLengthUnsigned(0, l.InterruptibleRangeDelta1EncBase)
	w.EncodeVarLengthUnsigned(128-1, l.InterruptibleRangeDelta2EncBase)
	writeRegisters(w, l)

	// Chunk pointers are one past the bit offset of the chunk.
	w.EncodeVarLengthUnsigned(6, l.PointerSizeEncBase)
	w.Write(0+1, 6)
	w.Write(38+1, 6)
	w.AlignToByte()

	// Chunk 0 could be live L L D D D D: skip 0, run 2, skip 4 with the bases
	// swapped.
	w.WriteBool(true)
	w.WriteBool(true)
	w.EncodeVarLengthUnsigned(0, l.LiveStateRLERunEncBase)
	w.EncodeVarLengthUnsigned(2-1, l.LiveStateRLESkipEncBase)
	w.EncodeVarLengthUnsigned(4-1, l.LiveStateRLERunEncBase)
	// Both dead at the end of the chunk.
	w.WriteBool(false)
	w.WriteBool(false)
	// r10 dies at 20, r11 lives from 30 to 63.
	w.WriteBool(true)
	w.Write(20, 6)
	w.WriteBool(false)
	w.WriteBool(true)
	w.Write(30, 6)
	w.WriteBool(true)
	w.Write(63, 6)
	w.WriteBool(false)

	// Chunk 1 could be live D D D D L L: skip 4, run 2.
	w.WriteBool(true)
	w.WriteBool(false)
	w.EncodeVarLengthUnsigned(4, l.LiveStateRLESkipEncBase)
	w.EncodeVarLengthUnsigned(2-1, l.LiveStateRLERunEncBase)
	w.WriteBool(true)
	w.WriteBool(false)
	// r14 lives through the chunk, r15 from 100 to 110.
	w.WriteBool(false)
	w.WriteBool(true)
	w.Write(100-64, 6)
	w.WriteBool(true)
	w.Write(110-64, 6)
	w.WriteBool(false)

	m := gcinfotest.Method{
		Layout:              l,
		CodeLength:          128,
		InterruptibleRanges: []gcinfotest.Interval{{Start: 0, Stop: 128}},
		Slots:               registerSlots(),
		RLELiveStates:       true,
		Lifetimes: [][]gcinfotest.Interval{
			{{Start: 0, Stop: 20}},
			{{Start: 30, Stop: 63}},
			nil,
			nil,
			{{Start: 64, Stop: 128}},
			{{Start: 100, Stop: 110}},
		},
	}
	assert.Equal(t, w.Bytes(), m.Encode().Bytes())

	tok := gcinfo.NewToken(w.Image(0))
	tests := []struct {
		offset   uint32
		expected []report
	}{
		{offset: 0, expected: []report{reg(10)}},
		{offset: 19, expected: []report{reg(10)}},
		{offset: 20},
		{offset: 29},
		{offset: 30, expected: []report{reg(11)}},
		{offset: 62, expected: []report{reg(11)}},
		{offset: 63},
		{offset: 64, expected: []report{reg(14)}},
		{offset: 99, expected: []report{reg(14)}},
		{offset: 100, expected: []report{reg(14), reg(15)}},
		{offset: 109, expected: []report{reg(14), reg(15)}},
		{offset: 110, expected: []report{reg(14)}},
		{offset: 127, expected: []report{reg(14)}},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected,
			liveSlots[gcinfo.AMD64](t, tok, tc.offset, true, gcinfo.ExecutionAborted),
			"offset %d", tc.offset)
	}
}
