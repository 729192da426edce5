//go:build amd64

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo // import "go.opentelemetry.io/dotnet-gcinfo/gcinfo"

// Target is the encoding of the GC info produced for the build architecture.
type Target = AMD64
