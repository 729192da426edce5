// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package remotememory

import (
	"bytes"
	"errors"
	"os"
	"runtime"
	"syscall"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/dotnet-gcinfo/libpf"
)

func remoteMemTests(t *testing.T, rm RemoteMemory) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0xaa}
	dataPtr := libpf.Address(unsafe.Pointer(&data[0]))

	foo := make([]byte, len(data))
	err := rm.Read(dataPtr, foo)
	if errors.Is(err, syscall.ENOSYS) || errors.Is(err, syscall.EPERM) {
		t.Skipf("skipping due to error: %v", err)
	}
	require.NoError(t, err)
	assert.Equal(t, data, foo)
	assert.Equal(t, uint64(0x0807060504030201), rm.Uint64(dataPtr))
	assert.Equal(t, libpf.Address(0x0807060504030201), rm.Ptr(dataPtr))

	blob, err := rm.Blob(dataPtr+1, 8)
	require.NoError(t, err)
	assert.Equal(t, data[1:], blob)

	_, err = rm.Blob(dataPtr, 0)
	assert.Error(t, err)
}

func TestProcessVirtualMemory(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skipf("unsupported os %s", runtime.GOOS)
	}
	remoteMemTests(t, NewProcessVirtualMemory(libpf.PID(os.Getpid())))
}

func TestReaderAtMemory(t *testing.T) {
	image := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99}
	rm := RemoteMemory{ReaderAt: bytes.NewReader(image), Bias: 0x10}
	assert.True(t, rm.Valid())
	assert.Equal(t, uint64(0x8877665544332211), rm.Uint64(0))
	assert.Equal(t, libpf.Address(0x9988776655443322-0x10), rm.Ptr(1))
	// Reads past the end fail and yield zero.
	assert.Zero(t, rm.Uint64(4))

	assert.False(t, RemoteMemory{}.Valid())
}
