// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package clustermap

import "bytes"

// TotalSlots is the number of key-space partitions the backing store's
// cluster protocol divides the keyspace into.
const TotalSlots = 16384

// crc16 computes the CRC-16/XMODEM checksum the store's cluster mode uses
// to derive a key's slot. It is the bitwise definition (polynomial 0x1021,
// zero initial value, no reflection) rather than a precomputed table —
// slower per byte, but keys are short and this runs once per request.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// HashSlot returns the slot a key belongs to. If key contains a `{tag}`
// hash-tag — a '{' followed later by a non-adjacent '}' — only the bytes
// between the braces are hashed, so related keys can be pinned to the same
// node.
func HashSlot(key []byte) uint16 {
	if start := bytes.IndexByte(key, '{'); start != -1 {
		if end := bytes.IndexByte(key[start+1:], '}'); end > 0 {
			key = key[start+1 : start+1+end]
		}
	}
	return crc16(key) % TotalSlots
}
