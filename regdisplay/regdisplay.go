// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package regdisplay describes the register state of one stack frame so the
// slots of its GC info can be resolved to memory locations.
package regdisplay // import "go.opentelemetry.io/dotnet-gcinfo/regdisplay"

import (
	"fmt"

	"go.opentelemetry.io/dotnet-gcinfo/gcinfo"
	"go.opentelemetry.io/dotnet-gcinfo/internal/contract"
	"go.opentelemetry.io/dotnet-gcinfo/libpf"
	"go.opentelemetry.io/dotnet-gcinfo/remotememory"
)

// MaxRegisters is the largest register file of the supported ABIs.
const MaxRegisters = 32

// ABI describes which registers a calling convention does not preserve.
type ABI struct {
	Name string
	// NumRegisters is the number of general purpose registers.
	NumRegisters uint32
	// scratch has bit n set for every call clobbered register n.
	scratch uint64
	names   []string
}

func mask(regs ...uint32) uint64 {
	var m uint64
	for _, r := range regs {
		m |= 1 << r
	}
	return m
}

func span(from, to uint32) uint64 {
	return (uint64(1)<<(to+1) - 1) &^ (uint64(1)<<from - 1)
}

var amd64Names = []string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}

var (
	// SysVAMD64 is the System V AMD64 ABI used by Linux and macOS.
	SysVAMD64 = ABI{Name: "sysv-amd64", NumRegisters: 16,
		scratch: mask(0, 1, 2, 6, 7) | span(8, 11), names: amd64Names}
	// WindowsAMD64 preserves rsi and rdi.
	WindowsAMD64 = ABI{Name: "windows-amd64", NumRegisters: 16,
		scratch: mask(0, 1, 2) | span(8, 11), names: amd64Names}
	// ARM64 treats x0-x17 and fp, lr and sp as scratch for GC reporting.
	ARM64 = ABI{Name: "arm64", NumRegisters: 32,
		scratch: span(0, 17) | span(29, 31)}
	// ARM has r0-r3, r12 and lr as scratch.
	ARM = ABI{Name: "arm", NumRegisters: 16,
		scratch: span(0, 3) | span(12, 15)}
	// LoongArch64 has ra and the argument and temporary registers as scratch.
	LoongArch64 = ABI{Name: "loongarch64", NumRegisters: 32,
		scratch: mask(1) | span(4, 21)}
	// RISCV64 has ra and the argument and temporary registers as scratch.
	RISCV64 = ABI{Name: "riscv64", NumRegisters: 32,
		scratch: mask(1) | span(5, 7) | span(10, 17) | span(28, 31)}
)

// ForLayout returns the ABI for frames of code using the GC info layout l.
func ForLayout(l *gcinfo.Layout, windows bool) (*ABI, bool) {
	switch l.Name {
	case "amd64":
		if windows {
			return &WindowsAMD64, true
		}
		return &SysVAMD64, true
	case "arm64":
		return &ARM64, true
	case "arm":
		return &ARM, true
	case "loongarch64":
		return &LoongArch64, true
	case "riscv64":
		return &RISCV64, true
	}
	return nil, false
}

// RegisterName returns the assembler name of reg.
func (a *ABI) RegisterName(reg uint32) string {
	if reg < uint32(len(a.names)) {
		return a.names[reg]
	}
	if a == &ARM64 {
		switch reg {
		case 29:
			return "fp"
		case 30:
			return "lr"
		case 31:
			return "sp"
		}
		return fmt.Sprintf("x%d", reg)
	}
	return fmt.Sprintf("r%d", reg)
}

// IsScratch reports whether reg is clobbered by calls.
func (a *ABI) IsScratch(reg uint32) bool {
	contract.Assert(reg < a.NumRegisters, "register number out of range")
	return reg < 64 && a.scratch&(1<<reg) != 0
}

// Frame is the register display of one frame. Register values are taken from
// the location they were saved at when Memory is set, from Values otherwise.
type Frame struct {
	abi *ABI

	SP       libpf.Address
	CallerSP libpf.Address
	// ScratchAreaSize is the size of the outgoing argument area above SP.
	ScratchAreaSize uint32

	Locations [MaxRegisters]libpf.Address
	Values    [MaxRegisters]uint64
	Memory    remotememory.RemoteMemory
}

var _ gcinfo.FrameResolver = (*Frame)(nil)

// New returns a Frame for the given ABI with the stack pointers set.
func New(abi *ABI, sp, callerSP libpf.Address) *Frame {
	return &Frame{abi: abi, SP: sp, CallerSP: callerSP}
}

// ABI returns the calling convention of the frame.
func (f *Frame) ABI() *ABI {
	return f.abi
}

// SetRegister records where register reg is saved and its value.
func (f *Frame) SetRegister(reg uint32, location libpf.Address, value uint64) {
	if reg >= MaxRegisters {
		return
	}
	f.Locations[reg] = location
	f.Values[reg] = value
}

// RegisterValue returns the value of register reg in the frame.
func (f *Frame) RegisterValue(reg uint32) uint64 {
	if reg >= MaxRegisters {
		return 0
	}
	if f.Memory.Valid() && f.Locations[reg] != 0 {
		return f.Memory.Uint64(f.Locations[reg])
	}
	return f.Values[reg]
}

func (f *Frame) RegisterSlot(reg uint32) libpf.Address {
	if reg >= MaxRegisters {
		return 0
	}
	return f.Locations[reg]
}

func (f *Frame) StackBase(base gcinfo.StackSlotBase, stackBaseRegister uint32) libpf.Address {
	switch base {
	case gcinfo.SPRel:
		return f.SP
	case gcinfo.CallerSPRel:
		return f.CallerSP
	default:
		return libpf.Address(f.RegisterValue(stackBaseRegister))
	}
}

func (f *Frame) IsScratchRegister(reg uint32) bool {
	return f.abi.IsScratch(reg)
}

// IsScratchStackSlot reports whether addr is within the outgoing argument area.
func (f *Frame) IsScratchStackSlot(_ gcinfo.StackSlotBase, _ int32, addr libpf.Address) bool {
	contract.Assert(addr >= f.SP, "stack slot below the stack pointer")
	return addr < f.SP+libpf.Address(f.ScratchAreaSize)
}
