// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package freelru

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/dotnet-gcinfo/libpf/hash"
)

func TestStatistics(t *testing.T) {
	cache, err := New[uint64, string](8, hash.Uint32Of64)
	require.NoError(t, err)

	cache.Add(1, "one")
	cache.Add(2, "two")

	v, ok := cache.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "one", v)
	_, ok = cache.Get(3)
	assert.False(t, ok)
	assert.Equal(t, 2, cache.Len())

	stats := cache.GetAndResetStatistics()
	assert.Equal(t, Statistics{Hit: 1, Miss: 1, Added: 2}, stats)
	assert.Equal(t, Statistics{}, cache.GetAndResetStatistics())
}
