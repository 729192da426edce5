//go:build gcinfo_debug

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package contract // import "go.opentelemetry.io/dotnet-gcinfo/internal/contract"

// Enabled reports whether contract checks are compiled in.
const Enabled = true

// Assert panics with a Violation if cond does not hold.
func Assert(cond bool, msg string) {
	if !cond {
		panic(Violation{Msg: msg})
	}
}
