// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.opentelemetry.io/dotnet-gcinfo/gcinfo"
	"go.opentelemetry.io/dotnet-gcinfo/internal/gcinfotest"
)

func TestSafePoints(t *testing.T) {
	m := gcinfotest.Method{Layout: amd64(), CodeLength: 64, SafePoints: []uint32{5, 12, 30}}
	tok := m.Token(0)

	d := newDecoder[gcinfo.AMD64](t, tok, gcinfo.DecodeEverything, 0)
	var got []uint32
	d.EnumerateSafePoints(func(offset uint32) bool {
		got = append(got, offset)
		return false
	})
	assert.Equal(t, []uint32{5, 12, 30}, got)
	assert.Equal(t, uint32(3), d.NumSafePoints())

	got = got[:0]
	d.EnumerateSafePoints(func(offset uint32) bool {
		got = append(got, offset)
		return offset == 12
	})
	assert.Equal(t, []uint32{5, 12}, got)

	assert.True(t, d.IsSafePointAt(12))
	assert.False(t, d.IsSafePointAt(11))
	assert.False(t, d.IsSafePointAt(13))
	assert.False(t, d.IsSafePointAt(0))

	// Interruptibility lookups take the return address.
	d = newDecoder[gcinfo.AMD64](t, tok, gcinfo.DecodeInterruptibility, 12)
	assert.True(t, d.IsSafePoint())
	assert.True(t, d.CouldBeSafePoint())
	assert.False(t, d.IsInterruptible())

	// Lifetime lookups take the recorded offset as is.
	d = newDecoder[gcinfo.AMD64](t, tok, gcinfo.DecodeGCLifetimes, 11)
	assert.True(t, d.IsSafePoint())
	d = newDecoder[gcinfo.AMD64](t, tok, gcinfo.DecodeGCLifetimes, 12)
	assert.False(t, d.IsSafePoint())
	assert.False(t, d.CouldBeSafePoint())
}

func TestSafePointSearch(t *testing.T) {
	m := gcinfotest.Method{Layout: amd64(), CodeLength: 200}
	for i := uint32(0); i < 100; i++ {
		m.SafePoints = append(m.SafePoints, 2*i+2)
	}
	d := newDecoder[gcinfo.AMD64](t, m.Token(0), gcinfo.DecodeEverything, 0)

	for offset := uint32(0); offset <= 202; offset++ {
		expected := offset%2 == 0 && offset >= 2 && offset <= 200
		assert.Equal(t, expected, d.IsSafePointAt(offset), "offset %d", offset)
	}
}

func TestSafePointsARM64(t *testing.T) {
	m := gcinfotest.Method{Layout: arm64(), CodeLength: 64, SafePoints: []uint32{8, 16, 40}}
	tok := m.Token(0)

	d := newDecoder[gcinfo.ARM64](t, tok, gcinfo.DecodeEverything, 0)
	var got []uint32
	d.EnumerateSafePoints(func(offset uint32) bool {
		got = append(got, offset)
		return false
	})
	assert.Equal(t, []uint32{8, 16, 40}, got)
	assert.True(t, d.IsSafePointAt(16))
	assert.False(t, d.IsSafePointAt(20))

	d = newDecoder[gcinfo.ARM64](t, tok, gcinfo.DecodeGCLifetimes, 7)
	assert.True(t, d.IsSafePoint())
	// Even offsets never match a safe point recorded at return address - 1.
	d = newDecoder[gcinfo.ARM64](t, tok, gcinfo.DecodeGCLifetimes, 8)
	assert.False(t, d.IsSafePoint())
}

func TestNoSafePoints(t *testing.T) {
	m := gcinfotest.Method{Layout: amd64(), CodeLength: 64}
	d := newDecoder[gcinfo.AMD64](t, m.Token(0), gcinfo.DecodeGCLifetimes, 10)
	assert.False(t, d.IsSafePoint())
	assert.False(t, d.IsSafePointAt(10))
	d.EnumerateSafePoints(func(uint32) bool {
		assert.Fail(t, "unexpected safe point")
		return true
	})
}

func TestInterruptibleRanges(t *testing.T) {
	m := gcinfotest.Method{
		Layout:     amd64(),
		CodeLength: 64,
		InterruptibleRanges: []gcinfotest.Interval{
			{Start: 10, Stop: 20},
			{Start: 30, Stop: 45},
		},
	}
	tok := m.Token(0)

	d := newDecoder[gcinfo.AMD64](t, tok, gcinfo.DecodeEverything, 0)
	assert.True(t, d.HasInterruptibleRanges())
	assert.Equal(t, uint32(2), d.NumInterruptibleRanges())

	var got []gcinfotest.Interval
	d.EnumerateInterruptibleRanges(func(start, stop uint32) bool {
		got = append(got, gcinfotest.Interval{Start: start, Stop: stop})
		return false
	})
	assert.Equal(t, m.InterruptibleRanges, got)

	got = got[:0]
	d.EnumerateInterruptibleRanges(func(start, stop uint32) bool {
		got = append(got, gcinfotest.Interval{Start: start, Stop: stop})
		return true
	})
	assert.Equal(t, m.InterruptibleRanges[:1], got)

	tests := map[uint32]bool{
		0: false, 9: false, 10: true, 15: true, 19: true, 20: false,
		29: false, 30: true, 44: true, 45: false, 63: false,
	}
	for offset, expected := range tests {
		d := newDecoder[gcinfo.AMD64](t, tok, gcinfo.DecodeInterruptibility, offset)
		assert.Equal(t, expected, d.IsInterruptible(), "offset %d", offset)
		assert.Equal(t, expected, d.CouldBeSafePoint(), "offset %d", offset)
	}
}

func TestInterruptibleRangesARM64(t *testing.T) {
	m := gcinfotest.Method{
		Layout:              arm64(),
		CodeLength:          0x40,
		InterruptibleRanges: []gcinfotest.Interval{{Start: 8, Stop: 0x18}},
	}
	d := newDecoder[gcinfo.ARM64](t, m.Token(1), gcinfo.DecodeInterruptibility, 0x10)
	assert.True(t, d.IsInterruptible())

	var got []gcinfotest.Interval
	d.EnumerateInterruptibleRanges(func(start, stop uint32) bool {
		got = append(got, gcinfotest.Interval{Start: start, Stop: stop})
		return false
	})
	assert.Equal(t, m.InterruptibleRanges, got)
}
