// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package dumper // import "go.opentelemetry.io/dotnet-gcinfo/internal/dumper"

import (
	"fmt"

	"go.opentelemetry.io/dotnet-gcinfo/gcinfo"
	"go.opentelemetry.io/dotnet-gcinfo/libpf"
	"go.opentelemetry.io/dotnet-gcinfo/regdisplay"
)

// The symbolic frame places every base in its own window so that reported
// addresses can be mapped back to the slot they came from.
const (
	registerBase libpf.Address = 0x1000
	spBase       libpf.Address = 0x1000_0000
	callerSPBase libpf.Address = 0x2000_0000
	frameBase    libpf.Address = 0x3000_0000
	baseWindow   libpf.Address = 0x0800_0000
)

func newSymbolicFrame(abi *regdisplay.ABI, stackBaseRegister, scratchAreaSize uint32) *regdisplay.Frame {
	f := regdisplay.New(abi, spBase, callerSPBase)
	f.ScratchAreaSize = scratchAreaSize
	for reg := uint32(0); reg < regdisplay.MaxRegisters; reg++ {
		f.SetRegister(reg, registerBase+libpf.Address(reg)*8, 0)
	}
	if stackBaseRegister != gcinfo.NoStackBaseRegister {
		f.SetRegister(stackBaseRegister, registerBase+libpf.Address(stackBaseRegister)*8,
			uint64(frameBase))
	}
	return f
}

// describe names the slot a symbolic frame address belongs to.
func describe(abi *regdisplay.ABI, addr libpf.Address) string {
	if addr >= registerBase && addr < registerBase+regdisplay.MaxRegisters*8 {
		return abi.RegisterName(uint32((addr - registerBase) / 8))
	}
	for _, b := range []struct {
		base libpf.Address
		kind gcinfo.StackSlotBase
	}{
		{spBase, gcinfo.SPRel},
		{callerSPBase, gcinfo.CallerSPRel},
		{frameBase, gcinfo.FrameRegRel},
	} {
		if addr >= b.base-baseWindow && addr < b.base+baseWindow {
			return stackSlotName(b.kind, int32(int64(addr)-int64(b.base)))
		}
	}
	return fmt.Sprintf("%#x", uint64(addr))
}

func stackSlotName(base gcinfo.StackSlotBase, offset int32) string {
	return fmt.Sprintf("%s%+#x", base, offset)
}
