// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package dumper

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/dotnet-gcinfo/gcinfo"
	"go.opentelemetry.io/dotnet-gcinfo/internal/gcinfotest"
	"go.opentelemetry.io/dotnet-gcinfo/regdisplay"
)

func testMethod() gcinfotest.Method {
	return gcinfotest.Method{
		Layout:                   gcinfo.AMD64{}.Layout(),
		CodeLength:               0x30,
		HasStackBaseRegister:     true,
		StackBaseRegister:        5,
		SizeOfStackParameterArea: 0x10,
		SafePoints:               []uint32{0x10, 0x20},
		Slots: []gcinfotest.Slot{
			{Register: true, RegisterNumber: 3},
			{Base: gcinfo.FrameRegRel, SpOffset: -0x18, Flags: gcinfo.SlotInterior},
			{Base: gcinfo.CallerSPRel, SpOffset: 0x8, Untracked: true},
		},
		SafePointLiveness: [][]bool{{true, false}, {true, true}},
	}
}

func testConfig() *Config {
	return &Config{
		Arch:          "amd64",
		FormatVersion: gcinfo.CurrentVersion,
		Offset:        NoOffset,
		Inputs:        []string{"blob"},
	}
}

// lines returns the output lines with runs of blanks collapsed.
func lines(out string) []string {
	var result []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			result = append(result, line)
		}
	}
	return result
}

func dump(t *testing.T, cfg *Config, blob []byte) []string {
	t.Helper()
	d, err := New(cfg)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, d.DumpBlob(&buf, "test", blob))
	return lines(buf.String())
}

func TestDumpBlob(t *testing.T) {
	m := testMethod()
	out := dump(t, testConfig(), m.Encode().Bytes())

	for _, expected := range []string{
		"== test ==",
		"layout: amd64",
		"version: 4",
		"header: fat flags 0x40",
		"code length: 0x30",
		"stack base: rbp",
		"parameter area: 0x10",
		"safe points (2): 0x10 0x20",
		"interruptible ranges (0):",
		"slots (3: 1 registers, 1 tracked stack, 1 untracked):",
		"#0 rbx base",
		"#1 frame-0x18 interior",
		"#2 caller.sp+0x8 base,untracked",
	} {
		assert.Contains(t, out, expected)
	}
	for _, line := range out {
		assert.NotContains(t, line, "live at")
		assert.NotContains(t, line, "gs cookie")
	}
}

func TestDumpLiveSlots(t *testing.T) {
	tests := map[string]struct {
		configure func(*Config)
		expected  []string
	}{
		"offset at safe point": {
			configure: func(c *Config) { c.Offset = 0x1f },
			expected:  []string{"live at offset 0x1f: rbx, frame-0x18 interior, caller.sp+0x8"},
		},
		"offset elsewhere": {
			configure: func(c *Config) { c.Offset = 0x5 },
			expected:  []string{"live at offset 0x5: caller.sp+0x8"},
		},
		"all": {
			configure: func(c *Config) { c.All = true },
			expected: []string{
				"live at safe point 0x10: rbx, caller.sp+0x8",
				"live at safe point 0x20: rbx, frame-0x18 interior, caller.sp+0x8",
			},
		},
		"no untracked": {
			configure: func(c *Config) {
				c.All = true
				c.NoUntracked = true
			},
			expected: []string{
				"live at safe point 0x10: rbx",
				"live at safe point 0x20: rbx, frame-0x18 interior",
			},
		},
		"fp only": {
			configure: func(c *Config) {
				c.All = true
				c.FPOnly = true
			},
			expected: []string{
				"live at safe point 0x10: none",
				"live at safe point 0x20: frame-0x18 interior",
			},
		},
	}

	m := testMethod()
	blob := m.Encode().Bytes()
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			tc.configure(cfg)
			out := dump(t, cfg, blob)
			var live []string
			for _, line := range out {
				if strings.HasPrefix(line, "live at") {
					live = append(live, line)
				}
			}
			assert.Equal(t, tc.expected, live)
		})
	}
}

func TestDumpInterruptible(t *testing.T) {
	m := gcinfotest.Method{
		Layout:              gcinfo.AMD64{}.Layout(),
		CodeLength:          0x10,
		InterruptibleRanges: []gcinfotest.Interval{{Start: 0x4, Stop: 0x8}},
		Slots:               []gcinfotest.Slot{{Register: true, RegisterNumber: 3}},
		Lifetimes:           [][]gcinfotest.Interval{{{Start: 0x5, Stop: 0x7}}},
	}
	cfg := testConfig()
	cfg.All = true
	out := dump(t, cfg, m.Encode().Bytes())

	assert.Contains(t, out, "interruptible ranges (1): [0x4,0x8)")
	assert.Contains(t, out, "live at offset 0x4: none")
	assert.Contains(t, out, "live at offset 0x5: rbx")
	assert.Contains(t, out, "live at offset 0x6: rbx")
	assert.Contains(t, out, "live at offset 0x7: none")
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	m := testMethod()
	plain := filepath.Join(dir, "plain.bin")
	require.NoError(t, os.WriteFile(plain, m.Encode().Bytes(), 0o600))

	other := testMethod()
	other.CodeLength = 0x40
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := filepath.Join(dir, "other.bin.zst")
	require.NoError(t, os.WriteFile(compressed, enc.EncodeAll(other.Encode().Bytes(), nil), 0o600))
	require.NoError(t, enc.Close())

	cfg := testConfig()
	cfg.Inputs = []string{plain, compressed, plain}
	d, err := New(cfg)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, d.Run(context.Background(), &buf))

	out := lines(buf.String())
	var order []string
	var lengths []string
	for _, line := range out {
		switch {
		case strings.HasPrefix(line, "== "):
			order = append(order, line)
		case strings.HasPrefix(line, "code length:"):
			lengths = append(lengths, line)
		}
	}
	assert.Equal(t, []string{"== " + plain + " ==", "== " + compressed + " ==",
		"== " + plain + " =="}, order)
	assert.Equal(t, []string{"code length: 0x30", "code length: 0x40", "code length: 0x30"},
		lengths)
	assert.Equal(t, 2, d.cache.Len())

	cfg.Inputs = []string{plain, filepath.Join(dir, "missing.bin")}
	d, err = New(cfg)
	require.NoError(t, err)
	buf.Reset()
	err = d.Run(context.Background(), &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		configure func(*Config)
		wantErr   string
	}{
		"valid":           {configure: func(*Config) {}},
		"unknown arch":    {configure: func(c *Config) { c.Arch = "mips" }, wantErr: "unknown architecture"},
		"version too new": {configure: func(c *Config) { c.FormatVersion = 5 }, wantErr: "format version"},
		"version zero":    {configure: func(c *Config) { c.FormatVersion = 0 }, wantErr: "format version"},
		"negative offset": {configure: func(c *Config) { c.Offset = -2 }, wantErr: "out of range"},
		"huge offset":     {configure: func(c *Config) { c.Offset = 1 << 32 }, wantErr: "out of range"},
		"huge cache": {
			configure: func(c *Config) { c.CacheSize = MaxCacheSize + 1 },
			wantErr:   "cache size",
		},
		"no input": {configure: func(c *Config) { c.Inputs = nil }, wantErr: "no input"},
		"pid without address": {
			configure: func(c *Config) {
				c.Inputs = nil
				c.PID = 42
			},
			wantErr: "address and a size",
		},
		"pid": {
			configure: func(c *Config) {
				c.Inputs = nil
				c.PID = 42
				c.Addr = 0x1000
				c.Size = 64
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			tc.configure(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestDescribe(t *testing.T) {
	f := newSymbolicFrame(&regdisplay.ARM64, 29, 0)
	assert.Equal(t, "x19", describe(&regdisplay.ARM64, f.RegisterSlot(19)))
	assert.Equal(t, "frame-0x10", describe(&regdisplay.ARM64, f.StackBase(gcinfo.FrameRegRel, 29)-0x10))
	assert.Equal(t, "sp+0x20", describe(&regdisplay.ARM64, f.SP+0x20))
	assert.Equal(t, "0x42", describe(&regdisplay.ARM64, 0x42))
}
