//go:build gcinfo_legacy

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo // import "go.opentelemetry.io/dotnet-gcinfo/gcinfo"

// LegacyFormats reports whether versions before CurrentVersion can be decoded.
const LegacyFormats = true
