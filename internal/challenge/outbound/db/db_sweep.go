package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arvikon/otpgate/internal/challenge/entity"
)

// SweepExpired marks up to limit pending rows past their deadline as
// expired and returns how many it touched. Callers loop until zero.
func (s *DB) SweepExpired(ctx context.Context, now time.Time, limit int32) (_ int64, err error) {
	ctx, span := s.startSpan(ctx, "SweepExpired")
	defer func() { s.endSpan(span, err) }()

	tag, err := s.conn.Exec(ctx, `
		UPDATE challenges SET state = $1
		WHERE row_id IN (
			SELECT row_id FROM challenges
			WHERE state = $2 AND expires_at <= $3
			LIMIT $4
		)`,
		entity.StateExpired, entity.StatePending, now, limit)
	if err != nil {
		return 0, s.mapError(err)
	}

	return tag.RowsAffected(), nil
}

// TerminalBefore lists terminal challenges created before the cutoff, the
// purge candidates for one archive batch.
func (s *DB) TerminalBefore(ctx context.Context, cutoff time.Time, limit int32) (_ []entity.Challenge, err error) {
	ctx, span := s.startSpan(ctx, "TerminalBefore")
	defer func() { s.endSpan(span, err) }()

	rows, err := s.conn.Query(ctx, `
		SELECT `+challengeColumns+` FROM challenges
		WHERE state != $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3`,
		entity.StatePending, cutoff, limit)
	if err != nil {
		return nil, s.mapError(err)
	}
	defer rows.Close()

	var out []entity.Challenge
	for rows.Next() {
		ch, err := scanChallenge(rows)
		if err != nil {
			return nil, s.mapError(err)
		}
		out = append(out, ch)
	}

	return out, s.mapError(rows.Err())
}

// DeleteChallenges removes challenges and their delivery attempts after
// they have been archived.
func (s *DB) DeleteChallenges(ctx context.Context, rowIDs []int64) (err error) {
	ctx, span := s.startSpan(ctx, "DeleteChallenges")
	defer func() { s.endSpan(span, err) }()

	if len(rowIDs) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if rErr := tx.Rollback(ctx); rErr != nil && !errors.Is(rErr, pgx.ErrTxClosed) {
			slog.ErrorContext(ctx, "failed to rolback", "error", rErr)
		}
	}()

	if _, err = tx.Exec(ctx,
		`DELETE FROM delivery_attempts WHERE challenge_row_id = ANY($1)`, rowIDs); err != nil {
		return s.mapError(err)
	}

	if _, err = tx.Exec(ctx,
		`DELETE FROM challenges WHERE row_id = ANY($1)`, rowIDs); err != nil {
		return s.mapError(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return s.mapError(err)
	}

	return nil
}
