package mfa

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// BackupCodeGenerator defines an interface for generating backup codes.
type BackupCodeGenerator interface {
	// Generate returns a slice of unique backup codes or an error if the
	// random source fails.
	Generate() ([]string, error)
}

// backupAlphabet is the character set used for backup code generation.
//
// It includes digits, uppercase letters, and lowercase letters for a total
// of 62 characters, providing high entropy while remaining user-friendly.
const backupAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// backupCodeCount is the number of codes issued per set.
const backupCodeCount = 10

// BackupCode generates cryptographically secure backup codes.
//
// It produces codes formatted as:
//
//	XXXX-XXXX-XXXX
//
// Each X is selected uniformly at random from the backupAlphabet constant.
type BackupCode struct{}

// NewBackupCode returns a new BackupCode generator.
func NewBackupCode() *BackupCode {
	return &BackupCode{}
}

// Generate produces a set of unique backup codes.
//
// It returns exactly 10 codes. Each code is randomly generated using
// crypto/rand for cryptographic security.
func (bc *BackupCode) Generate() ([]string, error) {
	out := make([]string, 0, backupCodeCount)
	seen := make(map[string]struct{}, backupCodeCount)

	for len(out) < backupCodeCount {
		code, err := bc.generateCode()
		if err != nil {
			return nil, err
		}

		// extremely unlikely, but prevents accidental duplicates
		if _, ok := seen[code]; ok {
			continue
		}

		seen[code] = struct{}{}
		out = append(out, code)
	}

	return out, nil
}

func (bc *BackupCode) generateCode() (string, error) {
	raw, err := bc.randomString(12)
	if err != nil {
		return "", err
	}
	return raw[0:4] + "-" + raw[4:8] + "-" + raw[8:12], nil
}

func (bc *BackupCode) randomString(n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)

	for i := 0; i < n; i++ {
		idx, err := bc.randInt(len(backupAlphabet))
		if err != nil {
			return "", err
		}
		sb.WriteByte(backupAlphabet[idx])
	}

	return sb.String(), nil
}

func (bc *BackupCode) randInt(max int) (int, error) {
	num, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(num.Int64()), nil
}
