//go:build !gcinfo_debug

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package contract // import "go.opentelemetry.io/dotnet-gcinfo/internal/contract"

// Enabled reports whether contract checks are compiled in.
const Enabled = false

// Assert is a no-op in release builds.
func Assert(bool, string) {}
