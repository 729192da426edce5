// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package contract holds the debug-build checks for caller contract violations
// of the GC info decoder. The checks are compiled in with the gcinfo_debug build
// tag; otherwise Assert is an empty function the compiler inlines away.
package contract // import "go.opentelemetry.io/dotnet-gcinfo/internal/contract"

import "fmt"

// Violation is the panic value raised by a failed assertion.
type Violation struct {
	Msg string
}

func (v Violation) Error() string {
	return fmt.Sprintf("gcinfo contract violation: %s", v.Msg)
}
