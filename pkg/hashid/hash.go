// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package hashid derives and encodes the 20-byte content hashes that
// identify every interned name, series and context in the schema. A hash
// is a pure function of its input bytes: the same bytes always produce the
// same hash, in any process, forever.
package hashid

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
)

// Size is the length in bytes of a content hash (SHA-1 digest size).
const Size = sha1.Size

// HexSize is the length of the canonical lowercase hex encoding of a Hash.
const HexSize = Size * 2

// ErrBadLength is returned by FromHex when the input is not HexSize bytes.
var ErrBadLength = errors.New("hashid: hex string has wrong length")

// Hash is a 20-byte SHA-1 content hash.
type Hash [Size]byte

// Zero is the all-zero hash, used as a sentinel for "no instance domain"
// and similar NULL-shaped fields in the data model.
var Zero Hash

// IsZero reports whether h is the all-zero sentinel.
func (h Hash) IsZero() bool {
	return h == Zero
}

// Sum computes the content hash of b. It is allocation-free beyond the
// returned value.
func Sum(b []byte) Hash {
	return Hash(sha1.Sum(b))
}

// SumAll computes the content hash of the concatenation of parts, without
// allocating an intermediate concatenated buffer.
func SumAll(parts ...[]byte) Hash {
	h := sha1.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	h.Sum(out[:0])
	return out
}

// String returns the canonical 40-character lowercase hex encoding.
func (h Hash) String() string {
	var buf [HexSize]byte
	hex.Encode(buf[:], h[:])
	return string(buf[:])
}

// AppendHex appends the canonical hex encoding of h to dst and returns the
// extended slice, for callers that want to avoid the allocation in String.
func (h Hash) AppendHex(dst []byte) []byte {
	var buf [HexSize]byte
	hex.Encode(buf[:], h[:])
	return append(dst, buf[:]...)
}

// FromHex decodes a 40-character lowercase (or uppercase) hex string into
// a Hash. It is constant-time per byte: the cost does not depend on the
// content of s, only its length.
func FromHex(s string) (Hash, error) {
	var h Hash
	if len(s) != HexSize {
		return h, ErrBadLength
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, err
	}
	return h, nil
}

// SeriesName derives the 20-byte series identifier from the tuple
// (metric-name hash, instance-name hash, context hash) per spec §4.1. The
// instance hash is omitted entirely (not zero-filled) when the metric has
// no instance domain, matching the data model's NULL instance case; the
// context hash is always present.
func SeriesName(metricName, contextHash Hash, instanceHash *Hash) Hash {
	h := sha1.New()
	h.Write(metricName[:])
	if instanceHash != nil {
		h.Write(instanceHash[:])
	}
	h.Write(contextHash[:])
	var out Hash
	h.Sum(out[:0])
	return out
}
