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
// Package credential produces and checks crypt(3) password hashes as
// found in shadow files.
package credential

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/GehirnInc/crypt"
	"github.com/GehirnInc/crypt/md5_crypt"
	"github.com/GehirnInc/crypt/sha256_crypt"
	"github.com/GehirnInc/crypt/sha512_crypt"

	"github.com/padroot/padroot/randutil"
)

// Scheme names a crypt(3) hashing scheme.
type Scheme string

const (
	SHA256Crypt Scheme = "sha256-crypt"
	SHA512Crypt Scheme = "sha512-crypt"
	MD5Crypt    Scheme = "md5-crypt"
)

// DefaultScheme is what the device firmware verifies with.
const DefaultScheme = SHA256Crypt

const (
	// DefaultRounds is implied when a SHA hash carries no rounds= field.
	DefaultRounds = 5000
	MinRounds     = 1000
	MaxRounds     = 999999999

	saltLen       = 16
	md5MaxSaltLen = 8
)

// SaltAlphabet is the character set of crypt(3) salts.
const SaltAlphabet = "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var schemeIDs = map[Scheme]string{
	MD5Crypt:    "1",
	SHA256Crypt: "5",
	SHA512Crypt: "6",
}

func schemeFromID(id string) (Scheme, bool) {
	for s, sid := range schemeIDs {
		if sid == id {
			return s, true
		}
	}
	return "", false
}

// UnsupportedSchemeError is returned for a scheme this package cannot
// produce or verify.
type UnsupportedSchemeError struct {
	Scheme string
}

func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("unsupported password hashing scheme %q", e.Scheme)
}

// Hash is an encoded crypt(3) hash.
type Hash struct {
	Scheme Scheme
	// Rounds is zero when the encoding does not name it.
	Rounds int
	Salt   string
	Digest string
}

// String returns the hash in the $<id>$[rounds=<n>$]<salt>$<digest> form.
func (h *Hash) String() string {
	var b strings.Builder
	b.WriteString("$" + schemeIDs[h.Scheme] + "$")
	if h.Rounds != 0 {
		fmt.Fprintf(&b, "rounds=%d$", h.Rounds)
	}
	b.WriteString(h.Salt + "$" + h.Digest)
	return b.String()
}

// Options tune hash generation.
type Options struct {
	// Rounds for the SHA schemes, zero meaning the implicit default.
	Rounds int
}

func crypterFor(scheme Scheme) (crypt.Crypter, error) {
	switch scheme {
	case SHA256Crypt:
		return sha256_crypt.New(), nil
	case SHA512Crypt:
		return sha512_crypt.New(), nil
	case MD5Crypt:
		return md5_crypt.New(), nil
	}
	return nil, &UnsupportedSchemeError{Scheme: string(scheme)}
}

func validSalt(salt string) bool {
	for _, r := range salt {
		if !strings.ContainsRune(SaltAlphabet, r) {
			return false
		}
	}
	return salt != ""
}

// HashPassword hashes the plaintext with a fresh random salt, 16
// characters long for the SHA schemes and 8 for md5-crypt.
func HashPassword(plaintext string, scheme Scheme, opts *Options) (*Hash, error) {
	if _, err := crypterFor(scheme); err != nil {
		return nil, err
	}
	n := saltLen
	if scheme == MD5Crypt {
		n = md5MaxSaltLen
	}
	salt, err := randutil.CryptoToken(SaltAlphabet, n)
	if err != nil {
		return nil, fmt.Errorf("cannot generate salt: %v", err)
	}
	return HashWithSalt(plaintext, scheme, salt, opts)
}

// HashWithSalt hashes the plaintext with the given salt. The same inputs
// always produce the same hash.
func HashWithSalt(plaintext string, scheme Scheme, salt string, opts *Options) (*Hash, error) {
	crypter, err := crypterFor(scheme)
	if err != nil {
		return nil, err
	}
	if !validSalt(salt) {
		return nil, fmt.Errorf("invalid salt %q", salt)
	}
	rounds := 0
	if opts != nil {
		rounds = opts.Rounds
	}
	if rounds != 0 {
		if scheme == MD5Crypt {
			return nil, fmt.Errorf("cannot use rounds with %s", scheme)
		}
		if rounds < MinRounds || rounds > MaxRounds {
			return nil, fmt.Errorf("rounds must be between %d and %d, not %d", MinRounds, MaxRounds, rounds)
		}
	}

	setting := "$" + schemeIDs[scheme] + "$"
	if rounds != 0 {
		setting += "rounds=" + strconv.Itoa(rounds) + "$"
	}
	setting += salt
	encoded, err := crypter.Generate([]byte(plaintext), []byte(setting))
	if err != nil {
		return nil, fmt.Errorf("cannot hash password: %v", err)
	}
	return Parse(encoded)
}

// Parse decodes an encoded hash of a supported scheme.
func Parse(encoded string) (*Hash, error) {
	if !strings.HasPrefix(encoded, "$") {
		return nil, fmt.Errorf("invalid password hash: does not start with \"$\"")
	}
	fields := strings.Split(encoded[1:], "$")
	if len(fields) < 3 || len(fields) > 4 {
		return nil, fmt.Errorf("invalid password hash: expected 3 or 4 fields, got %d", len(fields))
	}
	scheme, ok := schemeFromID(fields[0])
	if !ok {
		return nil, &UnsupportedSchemeError{Scheme: "$" + fields[0] + "$"}
	}
	h := &Hash{Scheme: scheme}
	rest := fields[1:]
	if len(rest) == 3 {
		if scheme == MD5Crypt || !strings.HasPrefix(rest[0], "rounds=") {
			return nil, fmt.Errorf("invalid password hash: unexpected field %q", rest[0])
		}
		n, err := strconv.Atoi(strings.TrimPrefix(rest[0], "rounds="))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid password hash: bad rounds %q", rest[0])
		}
		h.Rounds = n
		rest = rest[1:]
	}
	h.Salt, h.Digest = rest[0], rest[1]
	if !validSalt(h.Salt) {
		return nil, fmt.Errorf("invalid password hash: bad salt %q", h.Salt)
	}
	if h.Digest == "" {
		return nil, fmt.Errorf("invalid password hash: empty digest")
	}
	return h, nil
}

// Verify reports whether the plaintext matches the encoded hash. Locked
// or unparsable hashes never match.
func Verify(encoded, plaintext string) bool {
	h, err := Parse(encoded)
	if err != nil {
		return false
	}
	var opts *Options
	if h.Rounds != 0 {
		opts = &Options{Rounds: h.Rounds}
	}
	again, err := HashWithSalt(plaintext, h.Scheme, h.Salt, opts)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(again.Digest), []byte(h.Digest)) == 1
}

// IsUnsupportedScheme returns true if err is an UnsupportedSchemeError.
func IsUnsupportedScheme(err error) bool {
	var e *UnsupportedSchemeError
	return errors.As(err, &e)
}
