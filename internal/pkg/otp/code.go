package otp

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
)

// Charset selects the alphabet used for generated codes.
type Charset int

const (
	// CharsetDigits produces numeric codes (the common SMS form).
	CharsetDigits Charset = iota
	// CharsetAlphanumeric produces uppercase letter + digit codes, with the
	// ambiguous characters 0/O and 1/I removed.
	CharsetAlphanumeric
)

const (
	digits       = "0123456789"
	alphanumeric = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

	// MinCodeLength and MaxCodeLength bound configurable code lengths.
	MinCodeLength = 4
	MaxCodeLength = 10

	// tokenBytes is the entropy of a challenge token (128 bits minimum).
	tokenBytes = 24
)

// ErrCodeLength is returned when the requested length is out of bounds.
var ErrCodeLength = errors.New("otp: code length out of bounds")

// CharsetFromString maps a configuration value to a Charset.
// Unknown values fall back to digits.
func CharsetFromString(s string) Charset {
	if strings.EqualFold(strings.TrimSpace(s), "alphanumeric") {
		return CharsetAlphanumeric
	}
	return CharsetDigits
}

func (c Charset) alphabet() string {
	if c == CharsetAlphanumeric {
		return alphanumeric
	}
	return digits
}

// CodeGenerator produces one-time passcodes and challenge tokens.
type CodeGenerator interface {
	// GenerateCode returns a random code of the given length and charset.
	GenerateCode(length int, charset Charset) (string, error)
	// GenerateToken returns an unguessable URL-safe challenge token,
	// distinct from and unrelated to any code.
	GenerateToken() (string, error)
}

// CryptoCodeGenerator implements CodeGenerator using crypto/rand.
type CryptoCodeGenerator struct{}

// NewCodeGenerator returns a CryptoCodeGenerator.
func NewCodeGenerator() *CryptoCodeGenerator {
	return &CryptoCodeGenerator{}
}

// GenerateCode returns a uniformly random code of the given length.
func (g *CryptoCodeGenerator) GenerateCode(length int, charset Charset) (string, error) {
	if length < MinCodeLength || length > MaxCodeLength {
		return "", ErrCodeLength
	}

	alphabet := charset.alphabet()

	// Rejection sampling: discard bytes that would wrap around the
	// alphabet, otherwise low characters would be slightly favored.
	limit := 256 - 256%len(alphabet)

	var sb strings.Builder
	sb.Grow(length)

	buf := make([]byte, length*2)
	for sb.Len() < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			sb.WriteByte(alphabet[int(b)%len(alphabet)])
			if sb.Len() == length {
				break
			}
		}
	}

	return sb.String(), nil
}

// GenerateToken returns a 192-bit URL-safe opaque token.
func (g *CryptoCodeGenerator) GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
