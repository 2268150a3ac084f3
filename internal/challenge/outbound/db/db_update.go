package db

import (
	"context"

	"github.com/arvikon/otpgate/internal/challenge/entity"
	"github.com/arvikon/otpgate/internal/pkg/goerror"
)

// MarkExpired moves a pending challenge to expired. Rows already in a
// terminal state are left alone.
func (s *DB) MarkExpired(ctx context.Context, rowID int64) (err error) {
	ctx, span := s.startSpan(ctx, "MarkExpired")
	defer func() { s.endSpan(span, err) }()

	_, err = s.conn.Exec(ctx, `
		UPDATE challenges SET state = $1
		WHERE row_id = $2 AND state = $3`,
		entity.StateExpired, rowID, entity.StatePending)
	return s.mapError(err)
}

// RecordFailedAttempt increments the attempt counter and locks the
// challenge in the same statement when the budget is exhausted. The guard
// on state and attempt_count keeps the count below the maximum under
// concurrent verifies. It returns the new count and resulting state;
// ErrNotFound means another writer already moved the row out of pending.
func (s *DB) RecordFailedAttempt(ctx context.Context, rowID int64) (attempts int16, state entity.State, err error) {
	ctx, span := s.startSpan(ctx, "RecordFailedAttempt")
	defer func() { s.endSpan(span, err) }()

	err = s.conn.QueryRow(ctx, `
		UPDATE challenges
		SET attempt_count = attempt_count + 1,
		    state = CASE WHEN attempt_count + 1 >= max_attempts THEN $1 ELSE state END
		WHERE row_id = $2 AND state = $3 AND attempt_count < max_attempts
		RETURNING attempt_count, state`,
		entity.StateLocked, rowID, entity.StatePending,
	).Scan(&attempts, &state)
	if err != nil {
		return 0, entity.StateUnknown, s.mapError(err)
	}

	return attempts, state, nil
}

// Consume finalizes a successful verification, moving the row from pending
// through verified to consumed in a single guarded update so a code is
// usable exactly once. ErrConflict means a concurrent call won the race.
func (s *DB) Consume(ctx context.Context, rowID int64) (err error) {
	ctx, span := s.startSpan(ctx, "Consume")
	defer func() { s.endSpan(span, err) }()

	tag, err := s.conn.Exec(ctx, `
		UPDATE challenges SET state = $1
		WHERE row_id = $2 AND state = $3`,
		entity.StateConsumed, rowID, entity.StatePending)
	if err != nil {
		return s.mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return goerror.ErrConflict
	}

	return nil
}
