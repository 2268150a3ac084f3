package db

import (
	"context"

	"github.com/arvikon/otpgate/internal/challenge/entity"
)

// GetByID fetches a challenge by its public handle.
func (s *DB) GetByID(ctx context.Context, id string) (_ entity.Challenge, err error) {
	ctx, span := s.startSpan(ctx, "GetByID")
	defer func() { s.endSpan(span, err) }()

	row := s.conn.QueryRow(ctx,
		`SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, id)

	ch, err := scanChallenge(row)
	if err != nil {
		return entity.Challenge{}, s.mapError(err)
	}
	return ch, nil
}

// GetPending fetches the pending challenge for an (identifier, purpose)
// slot, if one exists.
func (s *DB) GetPending(ctx context.Context, identifier string, purpose entity.Purpose) (_ entity.Challenge, err error) {
	ctx, span := s.startSpan(ctx, "GetPending")
	defer func() { s.endSpan(span, err) }()

	row := s.conn.QueryRow(ctx,
		`SELECT `+challengeColumns+` FROM challenges
		WHERE identifier = $1 AND purpose = $2 AND state = $3`,
		identifier, purpose, entity.StatePending)

	ch, err := scanChallenge(row)
	if err != nil {
		return entity.Challenge{}, s.mapError(err)
	}
	return ch, nil
}
