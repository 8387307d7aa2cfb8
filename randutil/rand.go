// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2025 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package randutil exposes a streamlined set of functions for generating
// random tokens from the operating system's cryptographic source.
package randutil

import (
	cryptorand "crypto/rand"
	"fmt"
	"io"
)

const letters = "BCDFGHJKLMNPQRSTVWXYbcdfghjklmnpqrstvwxy0123456789"

// Reader is the source of randomness; tests may replace it.
var Reader io.Reader = cryptorand.Reader

// CryptoToken returns a string of the given length with characters drawn
// uniformly from alphabet. The alphabet must hold between 1 and 256 bytes.
func CryptoToken(alphabet string, length int) (string, error) {
	n := len(alphabet)
	if n == 0 || n > 256 {
		return "", fmt.Errorf("internal error: invalid alphabet size %d", n)
	}
	// reject bytes past the largest multiple of n so every symbol is
	// equally likely
	limit := 256 - (256 % n)

	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := io.ReadFull(Reader, buf); err != nil {
			return "", fmt.Errorf("cannot read random bytes: %v", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%n])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// MakeRandomString returns a random string of length length.
//
// The vowels are omitted to avoid that words are created by pure
// chance. Numbers are included. It panics if the system has no source of
// randomness, which is not something we can recover from anyway.
func MakeRandomString(length int) string {
	s, err := CryptoToken(letters, length)
	if err != nil {
		panic(err)
	}
	return s
}
