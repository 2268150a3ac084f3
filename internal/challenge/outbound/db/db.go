package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/arvikon/otpgate/internal/challenge/entity"
	"github.com/arvikon/otpgate/internal/pkg/goerror"
	"github.com/arvikon/otpgate/internal/pkg/instrument"
)

const challengeColumns = `row_id, id, identifier, purpose, channel, state,
	code_hash, code_salt, attempt_count, max_attempts, resend_count,
	resend_cooldown_until, created_at, expires_at, last_sent_at, metadata`

type DB struct {
	conn *pgxpool.Pool
	ins  instrument.Instrumentation
}

func NewDB(conn *pgxpool.Pool, ins instrument.Instrumentation) *DB {
	return &DB{conn: conn, ins: ins}
}

// - 23505 unique violation → goerror.ErrConflict (pending slot already taken)
func (s *DB) mapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return goerror.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return goerror.ErrConflict
	}

	return err
}

func (s *DB) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.ins.Tracer("challenge.outbound.db").Start(ctx, name)
}

func (s *DB) endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, goerror.ErrNotFound) && !errors.Is(err, goerror.ErrConflict) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (entity.Challenge, error) {
	var ch entity.Challenge
	err := row.Scan(
		&ch.RowID, &ch.ID, &ch.Identifier, &ch.Purpose, &ch.Channel, &ch.State,
		&ch.CodeHash, &ch.CodeSalt, &ch.Attempts, &ch.MaxAttempts, &ch.ResendCount,
		&ch.CooldownAt, &ch.CreatedAt, &ch.ExpiresAt, &ch.LastSentAt, &ch.Metadata,
	)
	return ch, err
}
