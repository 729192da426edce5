// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo // import "go.opentelemetry.io/dotnet-gcinfo/gcinfo"

const (
	// MinVersion is the oldest format version known.
	MinVersion = 1
	// CurrentVersion is the version emitted by current runtimes. Starting with it,
	// code offsets are stored normalized.
	CurrentVersion = 4
)

// Token references the GC info of one method: the image holding it, the byte
// offset of the blob in the image and the format version recorded by the runtime
// for the image.
type Token struct {
	Image   []byte
	Offset  uint
	Version uint32
}

// NewToken returns a Token for a current version blob at offset 0 of b.
func NewToken(b []byte) Token {
	return Token{Image: b, Version: CurrentVersion}
}
