// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package hash provides cheap integer hash primitives for cache keys.
package hash // import "go.opentelemetry.io/dotnet-gcinfo/libpf/hash"

// Uint64 computes a hash of a 64-bit uint using the finalizer function for Murmur3
// Via https://lemire.me/blog/2018/08/15/fast-strongly-universal-64-bit-hashing-everywhere/
func Uint64(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

// Uint32Of64 folds the 64-bit hash of x to 32 bits, as needed by LRU callbacks.
func Uint32Of64(x uint64) uint32 {
	h := Uint64(x)
	return uint32(h ^ (h >> 32))
}
