//go:build gcinfo_debug

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo // import "go.opentelemetry.io/dotnet-gcinfo/gcinfo"

// MaxPredecodedSlots is kept small in debug builds so the lazy decoding of the
// slots past the cache is exercised by ordinary methods.
const MaxPredecodedSlots = 4
