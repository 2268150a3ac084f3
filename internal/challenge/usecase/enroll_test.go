package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/arvikon/otpgate/internal/pkg/goerror"
)

func TestEnrollBackupCodes(t *testing.T) {
	t.Run("IssuesFreshSet", func(t *testing.T) {
		// Arrange
		e := newEnv(t)

		// Act
		out, err := e.uc.EnrollBackupCodes(context.Background(), EnrollBackupCodesInput{
			Identifier: "user@example.com",
		})

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(out.Codes) != 10 {
			t.Fatalf("codes = %d, want 10", len(out.Codes))
		}
		if e.repo.backupSubject != "user@example.com" {
			t.Fatalf("stored subject = %q", e.repo.backupSubject)
		}
		if len(e.repo.backupCodes) != len(out.Codes) {
			t.Fatalf("stored hashes = %d, want %d", len(e.repo.backupCodes), len(out.Codes))
		}

		seen := make(map[string]bool, len(out.Codes))
		for i, code := range out.Codes {
			if seen[code] {
				t.Fatalf("code %d is a duplicate", i)
			}
			seen[code] = true

			stored := e.repo.backupCodes[i]
			if stored.ID == 0 {
				t.Fatalf("stored code %d has zero row id", i)
			}
			if !e.backup.Verify(string(stored.Hash), code) {
				t.Fatalf("stored hash %d does not match its plaintext", i)
			}
			if e.backup.Verify(string(stored.Hash), "XXXX-XXXX-XXXX") {
				t.Fatalf("stored hash %d matches an unrelated code", i)
			}
		}

		e.flush(t)
		if got := e.audit.eventNames(); len(got) != 1 || got[0] != "backup_codes_enrolled" {
			t.Fatalf("audit events = %v, want backup_codes_enrolled", got)
		}
	})

	t.Run("InvalidIdentifier", func(t *testing.T) {
		// Arrange
		e := newEnv(t)

		// Act
		_, err := e.uc.EnrollBackupCodes(context.Background(), EnrollBackupCodesInput{})

		// Assert
		assertCode(t, err, goerror.CodeInvalidInput)
	})

	t.Run("UnknownSubject", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		e.subjects.exists = false

		// Act
		_, err := e.uc.EnrollBackupCodes(context.Background(), EnrollBackupCodesInput{
			Identifier: "ghost@example.com",
		})

		// Assert
		assertCode(t, err, goerror.CodeNotFound)
		if e.repo.backupSubject != "" {
			t.Fatalf("nothing should be stored for an unknown subject")
		}
	})

	t.Run("StoreFailure", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		e.repo.backupErr = errors.New("db down")

		// Act
		_, err := e.uc.EnrollBackupCodes(context.Background(), EnrollBackupCodesInput{
			Identifier: "user@example.com",
		})

		// Assert
		assertCode(t, err, goerror.CodeInternal)
	})
}
