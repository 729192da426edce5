// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo

import "go.opentelemetry.io/dotnet-gcinfo/bitstream"

// DecodeWithLimit decodes the slot table predecoding at most limit slots.
func (s *SlotDecoder) DecodeWithLimit(r *bitstream.Reader, layout *Layout, limit uint32) {
	s.decode(r, layout, limit)
}

// SlotTableReader returns a reader positioned at the slot table.
func (d *Decoder[E]) SlotTableReader() bitstream.Reader {
	return d.slotTableReader()
}

// LiveStates returns the set states of the live state vector at the start of
// buf and the bit position following the vector.
func LiveStates(buf []byte, layout *Layout, numSlots uint32) ([]uint32, uint) {
	r := bitstream.NewReader(buf, 0)
	var set []uint32
	walkLiveStateVector(&r, layout, numSlots, func(i uint32) { set = append(set, i) })
	return set, r.CurrentPos()
}

// IterateLiveStates returns the first n set states of the live state vector at
// the start of buf, read one at a time.
func IterateLiveStates(buf []byte, layout *Layout, n int) []uint32 {
	it := newLiveStateIterator(bitstream.NewReader(buf, 0), layout)
	var set []uint32
	for range n {
		set = append(set, it.Next())
	}
	return set
}
