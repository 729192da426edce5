//go:build !gcinfo_legacy

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.opentelemetry.io/dotnet-gcinfo/gcinfo"
	"go.opentelemetry.io/dotnet-gcinfo/internal/gcinfotest"
)

func TestLegacyRejected(t *testing.T) {
	m := gcinfotest.Method{Layout: amd64(), Version: 2, CodeLength: 0x20}
	_, err := gcinfo.NewDecoder[gcinfo.AMD64](m.Token(0), gcinfo.DecodeEverything, 0)
	assert.ErrorIs(t, err, gcinfo.ErrUnsupportedVersion)
}
