// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package methodcache caches the decoded header summaries of GC info blobs. Blobs
// are keyed by their content so that identical methods in different images share
// one entry.
package methodcache // import "go.opentelemetry.io/dotnet-gcinfo/methodcache"

import (
	"fmt"

	"github.com/zeebo/xxh3"

	"go.opentelemetry.io/dotnet-gcinfo/gcinfo"
	"go.opentelemetry.io/dotnet-gcinfo/libpf/freelru"
	"go.opentelemetry.io/dotnet-gcinfo/libpf/hash"
)

// DefaultSize is the number of summaries kept when no size is configured.
const DefaultSize = 1024

type key struct {
	sum     xxh3.Uint128
	version uint32
	layout  *gcinfo.Layout
}

func (k key) hash32() uint32 {
	return hash.Uint32Of64(k.sum.Lo ^ uint64(k.version))
}

// Cache is a concurrency safe LRU of method summaries.
type Cache struct {
	summaries *freelru.LRU[key, gcinfo.Summary]
}

// New returns a Cache holding up to size summaries.
func New(size uint32) (*Cache, error) {
	if size == 0 {
		size = DefaultSize
	}
	summaries, err := freelru.New[key, gcinfo.Summary](size, key.hash32)
	if err != nil {
		return nil, fmt.Errorf("failed to create the summary cache: %w", err)
	}
	return &Cache{summaries: summaries}, nil
}

// Lookup returns the summary of the blob referenced by token, decoding it with the
// encoding E on a miss. The blob is taken to extend to the end of the image.
func Lookup[E gcinfo.Encoding](c *Cache, token gcinfo.Token) (gcinfo.Summary, error) {
	if token.Offset >= uint(len(token.Image)) {
		return gcinfo.Summary{}, gcinfo.ErrEmptyBlob
	}
	var enc E
	k := key{
		sum:     xxh3.Hash128(token.Image[token.Offset:]),
		version: token.Version,
		layout:  enc.Layout(),
	}
	if s, ok := c.summaries.Get(k); ok {
		return s, nil
	}

	d, err := gcinfo.NewDecoder[E](token, gcinfo.DecodeEverything, 0)
	if err != nil {
		return gcinfo.Summary{}, err
	}
	s := d.Summary()
	c.summaries.Add(k, s)
	return s, nil
}

// Len returns the number of cached summaries.
func (c *Cache) Len() int {
	return c.summaries.Len()
}

// Statistics returns and resets the hit and miss counters of the cache.
func (c *Cache) Statistics() freelru.Statistics {
	return c.summaries.GetAndResetStatistics()
}
