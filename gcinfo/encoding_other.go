//go:build !amd64 && !arm64 && !arm && !loong64 && !riscv64

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo // import "go.opentelemetry.io/dotnet-gcinfo/gcinfo"

// Target defaults to AMD64 on architectures without a CoreCLR JIT.
type Target = AMD64
