// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/dotnet-gcinfo/gcinfo"
	"go.opentelemetry.io/dotnet-gcinfo/internal/gcinfotest"
	"go.opentelemetry.io/dotnet-gcinfo/libpf"
)

// Synthetic frame: every register is saved in a slot at regBase+8*reg and the
// stack bases are far apart so addresses identify their slot.
const (
	regBase      libpf.Address = 0x1000
	spBase       libpf.Address = 0x10000
	callerSPBase libpf.Address = 0x20000
	frameBase    libpf.Address = 0x30000
)

type testFrame struct {
	scratchArea uint32
}

func (f *testFrame) RegisterSlot(reg uint32) libpf.Address {
	return regBase + libpf.Address(reg)*8
}

func (f *testFrame) StackBase(base gcinfo.StackSlotBase, _ uint32) libpf.Address {
	switch base {
	case gcinfo.SPRel:
		return spBase
	case gcinfo.CallerSPRel:
		return callerSPBase
	default:
		return frameBase
	}
}

// IsScratchRegister follows the System V AMD64 ABI.
func (f *testFrame) IsScratchRegister(reg uint32) bool {
	switch reg {
	case 0, 1, 2, 6, 7, 8, 9, 10, 11:
		return true
	}
	return false
}

func (f *testFrame) IsScratchStackSlot(_ gcinfo.StackSlotBase, _ int32,
	addr libpf.Address) bool {
	return addr >= spBase && addr < spBase+libpf.Address(f.scratchArea)
}

type report struct {
	Addr  libpf.Address
	Flags gcinfo.ReportFlags
}

func reg(n uint32) report { return report{Addr: regBase + libpf.Address(n)*8} }
func sp(off int32) report { return report{Addr: spBase.Offset(off)} }
func callerSP(off int32) report { return report{Addr: callerSPBase.Offset(off)} }
func frame(off int32) report { return report{Addr: frameBase.Offset(off)} }
func (r report) with(f gcinfo.ReportFlags) report {
	r.Flags = f
	return r
}

func amd64() *gcinfo.Layout { return gcinfo.AMD64{}.Layout() }
func arm64() *gcinfo.Layout { return gcinfo.ARM64{}.Layout() }

func newDecoder[E gcinfo.Encoding](t *testing.T, tok gcinfo.Token, flags gcinfo.DecodeFlags,
	offset uint32) *gcinfo.Decoder[E] {
	t.Helper()
	d, err := gcinfo.NewDecoder[E](tok, flags, offset)
	require.NoError(t, err)
	return d
}

// liveSlots returns the slots reported live at offset, decoded with DecodeGCLifetimes.
func liveSlots[E gcinfo.Encoding](t *testing.T, tok gcinfo.Token, offset uint32,
	reportScratch bool, flags gcinfo.CodeManagerFlags) []report {
	t.Helper()
	d := newDecoder[E](t, tok, gcinfo.DecodeGCLifetimes, offset)
	var got []report
	d.EnumerateLiveSlots(&testFrame{scratchArea: d.SizeOfStackParameterArea()},
		reportScratch, flags, func(addr libpf.Address, f gcinfo.ReportFlags) {
			got = append(got, report{Addr: addr, Flags: f})
		})
	return got
}

// safePointMethod has three register slots, three tracked and two untracked
// stack slots, a 0x20 byte scratch area and four safe points.
func safePointMethod() gcinfotest.Method {
	return gcinfotest.Method{
		Layout:                   amd64(),
		CodeLength:               64,
		HasStackBaseRegister:     true,
		StackBaseRegister:        5,
		SizeOfStackParameterArea: 0x20,
		SafePoints:               []uint32{10, 20, 30, 40},
		Slots: []gcinfotest.Slot{
			{Register: true, RegisterNumber: 6, Flags: gcinfo.SlotInterior},
			{Register: true, RegisterNumber: 0},
			{Register: true, RegisterNumber: 3},
			{Base: gcinfo.SPRel, SpOffset: 0x10, Flags: gcinfo.SlotPinned},
			{Base: gcinfo.FrameRegRel, SpOffset: -0x18},
			{Base: gcinfo.SPRel, SpOffset: 0x20},
			{Base: gcinfo.FrameRegRel, SpOffset: -0x30, Flags: gcinfo.SlotInterior,
				Untracked: true},
			{Base: gcinfo.CallerSPRel, SpOffset: 0x8, Untracked: true},
		},
		SafePointLiveness: [][]bool{
			{true, false, true, true, false, false},
			{false, false, false, false, false, false},
			{true, false, true, true, false, false},
			{false, true, true, false, true, true},
		},
	}
}

var safePointUntracked = []report{
	frame(-0x30).with(gcinfo.ReportInterior),
	callerSP(0x8),
}
