// Package address normalizes and validates hex payee addresses and wallet handles.
package address

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	// Prefix starts every payee address.
	Prefix = "0x"
	// Length is the canonical length of a payee address including Prefix.
	Length = 42
)

// Normalize returns the canonical lowercase form of an address or handle.
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Valid reports whether s is 0x followed by 40 hex characters. Case is ignored.
func Valid(s string) bool {
	if len(s) != Length || !strings.HasPrefix(strings.ToLower(s[:2]), Prefix) {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

// Checksum renders a valid address in EIP-55 mixed case. Invalid input is
// returned normalized and unchanged otherwise.
func Checksum(s string) string {
	norm := Normalize(s)
	if !Valid(norm) {
		return norm
	}
	body := norm[2:]
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(body))
	digest := hex.EncodeToString(h.Sum(nil))

	var b strings.Builder
	b.Grow(Length)
	b.WriteString(Prefix)
	for i, c := range body {
		if c >= 'a' && c <= 'f' && digest[i] >= '8' {
			b.WriteRune(c - 'a' + 'A')
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// ValidChecksum reports whether a mixed-case address carries a correct EIP-55
// checksum. All-lowercase and all-uppercase bodies are accepted as unchecksummed.
func ValidChecksum(s string) bool {
	if !Valid(s) {
		return false
	}
	body := s[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return Checksum(s) == Prefix+body
}
