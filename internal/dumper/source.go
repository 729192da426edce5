// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package dumper // import "go.opentelemetry.io/dotnet-gcinfo/internal/dumper"

import (
	"fmt"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"go.opentelemetry.io/dotnet-gcinfo/libpf"
	"go.opentelemetry.io/dotnet-gcinfo/remotememory"
)

// source is one blob to dump.
type source struct {
	name string
	load func() ([]byte, error)
}

func (cfg *Config) sources() []source {
	sources := make([]source, 0, len(cfg.Inputs)+1)
	for _, path := range cfg.Inputs {
		sources = append(sources, source{
			name: path,
			load: func() ([]byte, error) { return readBlobFile(path) },
		})
	}
	if cfg.PID != 0 {
		pid, addr, size := libpf.PID(cfg.PID), libpf.Address(cfg.Addr), cfg.Size
		sources = append(sources, source{
			name: fmt.Sprintf("pid %d at %#x", pid, uint64(addr)),
			load: func() ([]byte, error) {
				return remotememory.NewProcessVirtualMemory(pid).Blob(addr, size)
			},
		})
	}
	return sources
}

// readBlobFile returns the content of path, decompressed if it ends in .zst.
func readBlobFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".zst") {
		return data, nil
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	defer dec.Close()
	blob, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
	}
	return blob, nil
}
