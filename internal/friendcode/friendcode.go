/*
Copyright 2026 The ManifestHub Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package friendcode derives the deterministic branch index for an
// account from its 64-bit Steam id. The scheme is the CSGO friend-code
// algorithm and must stay bit-exact: the output doubles as the name of
// the Git branch holding the account record, so any drift would orphan
// every stored account.
package friendcode

import (
	"crypto/md5"
	"encoding/binary"
	"math/bits"
	"regexp"
)

// Alphabet is the 32-symbol charset of a friend code. Crockford-style:
// no I, O, 0 or 1.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Pattern matches a branch name produced by Encode.
var Pattern = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{5}-[A-HJ-NP-Z2-9]{4}$`)

// Encode returns the friend code for a Steam id, e.g. "SUCVS-FADA".
func Encode(steamID uint64) string {
	h := hashSteamID(steamID)

	// Interleave the id nibbles with the low hash bits under the fixed
	// rotation schedule.
	var r uint64
	for i := 0; i < 8; i++ {
		idNibble := uint32(steamID>>(i*4)) & 0xF
		hashNibble := uint32(h>>i) & 1
		a := uint32(r)<<4 | idNibble
		r = uint64(uint32(r>>28))<<32 | uint64(a)
		r = uint64(uint32(r>>31))<<32 | uint64(a<<1|hashNibble)
	}

	// Base-32 encode the byte-swapped value little-endian, 13 symbols
	// with dashes after the 4th and 9th. The first five characters are
	// a constant "AAAA-" prefix and are dropped.
	n := bits.ReverseBytes64(r)
	buf := make([]byte, 0, 15)
	for i := 0; i < 13; i++ {
		if i == 4 || i == 9 {
			buf = append(buf, '-')
		}
		buf = append(buf, Alphabet[n&0x1F])
		n >>= 5
	}
	return string(buf[5:])
}

// hashSteamID is the 32-bit MD5-based mixer: the account id is widened
// to 64 bits under an ASCII "CSGO" prefix, serialized little-endian,
// and the first four digest bytes are read back little-endian.
func hashSteamID(steamID uint64) uint32 {
	accountID := uint32(steamID)
	var in [8]byte
	binary.LittleEndian.PutUint64(in[:], uint64(accountID)|0x4353474F00000000)
	sum := md5.Sum(in[:])
	return binary.LittleEndian.Uint32(sum[:4])
}
