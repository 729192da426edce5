// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo // import "go.opentelemetry.io/dotnet-gcinfo/gcinfo"

import "errors"

var (
	// ErrUnsupportedVersion is returned for format versions this build cannot decode.
	ErrUnsupportedVersion = errors.New("unsupported GC info version")
	// ErrEmptyBlob is returned when the token does not reference any data.
	ErrEmptyBlob = errors.New("empty GC info blob")
	// ErrInvalidFlags is returned for DecodeFlags combinations that cannot be honored.
	ErrInvalidFlags = errors.New("invalid decode flags")
)
