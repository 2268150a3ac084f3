package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/arvikon/otpgate/internal/challenge/entity"
)

// Issue makes ch the single pending challenge for its (identifier, purpose)
// slot. Any prior pending row is expired in the same transaction; the
// partial unique index on pending rows backstops the invariant under races.
func (s *DB) Issue(ctx context.Context, ch entity.Challenge) (rowID int64, err error) {
	ctx, span := s.startSpan(ctx, "Issue")
	defer func() { s.endSpan(span, err) }()

	tx, err := s.conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if rErr := tx.Rollback(ctx); rErr != nil && !errors.Is(rErr, pgx.ErrTxClosed) {
			slog.ErrorContext(ctx, "failed to rolback", "error", rErr)
		}
	}()

	_, err = tx.Exec(ctx, `
		UPDATE challenges
		SET state = $1
		WHERE identifier = $2 AND purpose = $3 AND state = $4`,
		entity.StateExpired, ch.Identifier, ch.Purpose, entity.StatePending,
	)
	if err != nil {
		return 0, s.mapError(err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO challenges (
			row_id, id, identifier, purpose, channel, state,
			code_hash, code_salt, attempt_count, max_attempts, resend_count,
			resend_cooldown_until, created_at, expires_at, last_sent_at, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING row_id`,
		ch.RowID, ch.ID, ch.Identifier, ch.Purpose, ch.Channel, ch.State,
		ch.CodeHash, ch.CodeSalt, ch.Attempts, ch.MaxAttempts, ch.ResendCount,
		ch.CooldownAt, ch.CreatedAt, ch.ExpiresAt, ch.LastSentAt, ch.Metadata,
	).Scan(&rowID)
	if err != nil {
		return 0, s.mapError(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, s.mapError(err)
	}

	return rowID, nil
}
