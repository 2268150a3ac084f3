package db

import (
	"context"
	"time"

	"github.com/arvikon/otpgate/internal/challenge/entity"
)

// RecordAttempt persists one delivery attempt row.
func (s *DB) RecordAttempt(ctx context.Context, att entity.DeliveryAttempt) (err error) {
	ctx, span := s.startSpan(ctx, "RecordAttempt")
	defer func() { s.endSpan(span, err) }()

	_, err = s.conn.Exec(ctx, `
		INSERT INTO delivery_attempts (
			row_id, challenge_row_id, provider_id, channel, status,
			error_kind, detail, elapsed_ms, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		att.RowID, att.ChallengeRowID, att.ProviderID, att.Channel, att.Status,
		att.ErrorKind, att.Detail, att.Elapsed.Milliseconds(), att.CreatedAt)
	return s.mapError(err)
}

// AttemptsFor lists the delivery attempts belonging to the given
// challenges, oldest first.
func (s *DB) AttemptsFor(ctx context.Context, challengeRowIDs []int64) (_ []entity.DeliveryAttempt, err error) {
	ctx, span := s.startSpan(ctx, "AttemptsFor")
	defer func() { s.endSpan(span, err) }()

	if len(challengeRowIDs) == 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx, `
		SELECT row_id, challenge_row_id, provider_id, channel, status,
		       error_kind, detail, elapsed_ms, created_at
		FROM delivery_attempts
		WHERE challenge_row_id = ANY($1)
		ORDER BY created_at`,
		challengeRowIDs)
	if err != nil {
		return nil, s.mapError(err)
	}
	defer rows.Close()

	var out []entity.DeliveryAttempt
	for rows.Next() {
		var att entity.DeliveryAttempt
		var elapsedMs int64
		if err := rows.Scan(
			&att.RowID, &att.ChallengeRowID, &att.ProviderID, &att.Channel, &att.Status,
			&att.ErrorKind, &att.Detail, &elapsedMs, &att.CreatedAt,
		); err != nil {
			return nil, s.mapError(err)
		}
		att.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		out = append(out, att)
	}

	return out, s.mapError(rows.Err())
}
