package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arvikon/otpgate/internal/challenge/entity"
	"github.com/arvikon/otpgate/internal/pkg/goerror"
	"github.com/arvikon/otpgate/internal/pkg/idempotency"
	"github.com/arvikon/otpgate/internal/pkg/storage"
)

const sweepBatchSize int32 = 500

// Sweep marks pending challenges past their deadline as expired, in
// batches until none remain.
func (s *Usecase) Sweep(ctx context.Context) (total int64, err error) {
	ctx, span := s.startSpan(ctx, "Sweep")
	defer span.End()

	for {
		n, err := s.repoDB.SweepExpired(ctx, s.clock.Now(), sweepBatchSize)
		if err != nil {
			slog.ErrorContext(ctx, "expiry sweep failed", "error", err)
			return total, goerror.NewServer(err)
		}
		total += n
		if n < int64(sweepBatchSize) {
			break
		}
	}

	if total > 0 {
		slog.InfoContext(ctx, "expiry sweep finished", "expired", total)
	}
	return total, nil
}

// archiveRecord is one JSON line in the retention archive.
type archiveRecord struct {
	Challenge entity.Challenge         `json:"challenge"`
	Attempts  []entity.DeliveryAttempt `json:"attempts,omitempty"`
}

// Purge archives terminal challenges older than the retention window to
// object storage, then deletes them. A redis idempotency lock keyed by day
// keeps multiple instances from purging concurrently.
func (s *Usecase) Purge(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Purge")
	defer span.End()

	key := "retention_purge:" + s.clock.Now().UTC().Format("2006-01-02")

	err := s.idemp.Exec(ctx, key, s.purge,
		idempotency.WithLockDuration(30*time.Minute),
		idempotency.WithStateTTL(24*time.Hour),
	)
	if errors.Is(err, idempotency.ErrAlreadyInProgress) || errors.Is(err, idempotency.ErrAlreadyCompleted) {
		slog.InfoContext(ctx, "retention purge already handled", "key", key)
		return nil
	}
	return err
}

func (s *Usecase) purge(ctx context.Context) error {
	retention := s.cfg.GetDay("retention.days")
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	cutoff := s.clock.Now().Add(-retention)
	bucket := s.cfg.GetString("retention.archive_bucket")

	for {
		batch, err := s.repoDB.TerminalBefore(ctx, cutoff, sweepBatchSize)
		if err != nil {
			slog.ErrorContext(ctx, "failed to list purge candidates", "error", err)
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		rowIDs := make([]int64, 0, len(batch))
		for _, ch := range batch {
			rowIDs = append(rowIDs, ch.RowID)
		}

		attempts, err := s.repoDB.AttemptsFor(ctx, rowIDs)
		if err != nil {
			slog.ErrorContext(ctx, "failed to load attempts for purge", "error", err)
			return err
		}
		attemptsByRow := make(map[int64][]entity.DeliveryAttempt, len(batch))
		for _, att := range attempts {
			attemptsByRow[att.ChallengeRowID] = append(attemptsByRow[att.ChallengeRowID], att)
		}

		if bucket != "" {
			if err := s.archive(ctx, bucket, batch, attemptsByRow); err != nil {
				return err
			}
		}

		if err := s.repoDB.DeleteChallenges(ctx, rowIDs); err != nil {
			slog.ErrorContext(ctx, "failed to delete purged challenges", "error", err)
			return err
		}

		slog.InfoContext(ctx, "purged challenge batch", "count", len(batch))
		if int32(len(batch)) < sweepBatchSize {
			return nil
		}
	}
}

func (s *Usecase) archive(ctx context.Context, bucket string, batch []entity.Challenge,
	attemptsByRow map[int64][]entity.DeliveryAttempt,
) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ch := range batch {
		// Code material stays out of the archive.
		ch.CodeHash = nil
		ch.CodeSalt = nil
		if err := enc.Encode(archiveRecord{Challenge: ch, Attempts: attemptsByRow[ch.RowID]}); err != nil {
			return err
		}
	}

	key := fmt.Sprintf("archive/%s/%s.jsonl",
		s.clock.Now().UTC().Format("2006/01/02"), s.uuid.Generate())

	_, err := s.storage.PutObject(ctx, bucket, key, &buf, storage.PutOptions{
		Size:        int64(buf.Len()),
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to upload retention archive", "bucket", bucket, "key", key, "error", err)
		return err
	}

	slog.InfoContext(ctx, "uploaded retention archive", "bucket", bucket, "key", key, "records", len(batch))
	return nil
}
