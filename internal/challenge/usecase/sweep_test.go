package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/arvikon/otpgate/internal/challenge/entity"
	"github.com/arvikon/otpgate/internal/pkg/goerror"
	"github.com/arvikon/otpgate/internal/pkg/idempotency"
)

func TestSweep(t *testing.T) {
	t.Run("DrainsInBatches", func(t *testing.T) {
		// Arrange: a full batch followed by a short one.
		e := newEnv(t)
		e.repo.sweepCounts = []int64{500, 120}

		// Act
		total, err := e.uc.Sweep(context.Background())

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if total != 620 {
			t.Errorf("expected 620 expired, got %d", total)
		}
	})

	t.Run("NothingToSweep", func(t *testing.T) {
		// Arrange
		e := newEnv(t)

		// Act
		total, err := e.uc.Sweep(context.Background())

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if total != 0 {
			t.Errorf("expected 0 expired, got %d", total)
		}
	})

	t.Run("StoreFailure", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		e.repo.sweepErr = errors.New("db down")

		// Act
		_, err := e.uc.Sweep(context.Background())

		// Assert
		assertCode(t, err, goerror.CodeInternal)
	})
}

func terminalChallenge(rowID int64, id string) entity.Challenge {
	return entity.Challenge{
		RowID:      rowID,
		ID:         id,
		Identifier: "user@example.com",
		Purpose:    entity.Purpose("login"),
		Channel:    entity.ChannelEmail,
		State:      entity.StateConsumed,
		CodeHash:   []byte("hash"),
		CodeSalt:   []byte("salt"),
	}
}

func TestPurge(t *testing.T) {
	t.Run("ArchivesAndDeletes", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		e.repo.terminal = [][]entity.Challenge{{
			terminalChallenge(1, "ch-a"),
			terminalChallenge(2, "ch-b"),
		}}
		e.repo.attempts = []entity.DeliveryAttempt{
			{RowID: 9, ChallengeRowID: 1, ProviderID: "email-smtp", Status: entity.AttemptStatusSent},
		}

		// Act
		err := e.uc.Purge(context.Background())

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if len(e.idemp.keys) != 1 || !strings.HasPrefix(e.idemp.keys[0], "retention_purge:") {
			t.Errorf("expected day-scoped idempotency key, got %v", e.idemp.keys)
		}

		if len(e.storage.puts) != 1 {
			t.Fatalf("expected 1 archive object, got %d", len(e.storage.puts))
		}
		obj := e.storage.puts[0]
		if obj.bucket != "otp-archive" || !strings.HasPrefix(obj.key, "archive/") {
			t.Errorf("unexpected archive location %s/%s", obj.bucket, obj.key)
		}
		if obj.contentType != "application/x-ndjson" {
			t.Errorf("unexpected content type %q", obj.contentType)
		}

		lines := bytes.Split(bytes.TrimSpace(obj.data), []byte("\n"))
		if len(lines) != 2 {
			t.Fatalf("expected 2 archive records, got %d", len(lines))
		}
		var rec archiveRecord
		if err := json.Unmarshal(lines[0], &rec); err != nil {
			t.Fatalf("failed to decode archive record: %v", err)
		}
		if rec.Challenge.ID != "ch-a" {
			t.Errorf("expected ch-a first, got %q", rec.Challenge.ID)
		}
		if rec.Challenge.CodeHash != nil || rec.Challenge.CodeSalt != nil {
			t.Error("expected code material stripped from the archive")
		}
		if len(rec.Attempts) != 1 || rec.Attempts[0].ProviderID != "email-smtp" {
			t.Errorf("expected attempt trail in archive, got %+v", rec.Attempts)
		}

		if len(e.repo.deleted) != 1 || len(e.repo.deleted[0]) != 2 {
			t.Errorf("expected both rows deleted, got %v", e.repo.deleted)
		}
	})

	t.Run("NoArchiveBucket", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		e.cfg.values["retention.archive_bucket"] = ""
		e.repo.terminal = [][]entity.Challenge{{terminalChallenge(1, "ch-a")}}

		// Act
		err := e.uc.Purge(context.Background())

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(e.storage.puts) != 0 {
			t.Error("expected no archive upload without a bucket")
		}
		if len(e.repo.deleted) != 1 {
			t.Errorf("expected deletion to proceed, got %v", e.repo.deleted)
		}
	})

	t.Run("NothingToPurge", func(t *testing.T) {
		// Arrange
		e := newEnv(t)

		// Act
		err := e.uc.Purge(context.Background())

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(e.repo.deleted) != 0 {
			t.Errorf("expected no deletions, got %v", e.repo.deleted)
		}
	})

	t.Run("AnotherInstanceHoldsLock", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		e.idemp.execErr = idempotency.ErrAlreadyInProgress

		// Act
		err := e.uc.Purge(context.Background())

		// Assert
		if err != nil {
			t.Errorf("expected lock contention to be silent, got %v", err)
		}
	})

	t.Run("ArchiveFailureAborts", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		e.repo.terminal = [][]entity.Challenge{{terminalChallenge(1, "ch-a")}}
		e.storage.putErr = errors.New("bucket unavailable")

		// Act
		err := e.uc.Purge(context.Background())

		// Assert
		if err == nil {
			t.Fatal("expected upload failure to abort the purge")
		}
		if len(e.repo.deleted) != 0 {
			t.Error("expected no deletion after a failed archive upload")
		}
	})
}
