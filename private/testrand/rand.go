// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

// Package testrand implements randomness for tests.
package testrand

import (
	"encoding/hex"
	"io"
	"math/rand"
)

// Read reads pseudo-random data into data.
func Read(data []byte) {
	const newSourceThreshold = 64
	if len(data) < newSourceThreshold {
		_, _ = rand.Read(data)
		return
	}
	src := rand.NewSource(rand.Int63())
	r := rand.New(src)
	_, _ = r.Read(data)
}

// BytesN generates size amount of random data.
func BytesN(size int) []byte {
	data := make([]byte, size)
	Read(data)
	return data
}

// Reader creates a new random data reader.
func Reader() io.Reader {
	return rand.New(rand.NewSource(rand.Int63()))
}

// Hex returns a random lowercase hex string of n characters.
func Hex(n int) string {
	data := make([]byte, (n+1)/2)
	Read(data)
	return hex.EncodeToString(data)[:n]
}
