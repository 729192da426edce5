//go:build !gcinfo_debug

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo // import "go.opentelemetry.io/dotnet-gcinfo/gcinfo"

// MaxPredecodedSlots is the number of slot descriptors decoded into the fixed
// array of a SlotDecoder.
const MaxPredecodedSlots = 64
