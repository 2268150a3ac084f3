package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arvikon/otpgate/internal/pkg/goerror"
	"github.com/arvikon/otpgate/internal/stepup"
)

// EncryptedSeed returns the subject's TOTP seed ciphertext.
func (s *DB) EncryptedSeed(ctx context.Context, subject string) (_ []byte, err error) {
	ctx, span := s.startSpan(ctx, "EncryptedSeed")
	defer func() { s.endSpan(span, err) }()

	var seed []byte
	err = s.conn.QueryRow(ctx,
		`SELECT seed FROM stepup_totp_seeds WHERE identifier = $1`, subject,
	).Scan(&seed)
	if err != nil {
		if errors.Is(s.mapError(err), goerror.ErrNotFound) {
			return nil, stepup.ErrNotEnrolled
		}
		return nil, s.mapError(err)
	}

	return seed, nil
}

// Unused returns the subject's unspent backup code hashes.
func (s *DB) Unused(ctx context.Context, subject string) (_ []stepup.StoredBackupCode, err error) {
	ctx, span := s.startSpan(ctx, "Unused")
	defer func() { s.endSpan(span, err) }()

	rows, err := s.conn.Query(ctx, `
		SELECT row_id, code_hash FROM stepup_backup_codes
		WHERE identifier = $1 AND used_at IS NULL`, subject)
	if err != nil {
		return nil, s.mapError(err)
	}
	defer rows.Close()

	var out []stepup.StoredBackupCode
	for rows.Next() {
		var c stepup.StoredBackupCode
		if err := rows.Scan(&c.ID, &c.Hash); err != nil {
			return nil, s.mapError(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, s.mapError(err)
	}

	if len(out) == 0 {
		var total int64
		if err := s.conn.QueryRow(ctx,
			`SELECT COUNT(*) FROM stepup_backup_codes WHERE identifier = $1`, subject,
		).Scan(&total); err != nil {
			return nil, s.mapError(err)
		}
		if total == 0 {
			return nil, stepup.ErrNotEnrolled
		}
	}

	return out, nil
}

// MarkUsed spends a backup code. The used_at guard makes each code single
// use even under concurrent verifies.
func (s *DB) MarkUsed(ctx context.Context, subject string, id int64) (err error) {
	ctx, span := s.startSpan(ctx, "MarkUsed")
	defer func() { s.endSpan(span, err) }()

	tag, err := s.conn.Exec(ctx, `
		UPDATE stepup_backup_codes SET used_at = NOW()
		WHERE row_id = $1 AND identifier = $2 AND used_at IS NULL`,
		id, subject)
	if err != nil {
		return s.mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return stepup.ErrVerificationFailed
	}

	return nil
}

// EncryptedCredentials returns the subject's WebAuthn credential blobs.
func (s *DB) EncryptedCredentials(ctx context.Context, subject string) (_ []stepup.StoredCredential, err error) {
	ctx, span := s.startSpan(ctx, "EncryptedCredentials")
	defer func() { s.endSpan(span, err) }()

	rows, err := s.conn.Query(ctx, `
		SELECT row_id, blob FROM stepup_webauthn_credentials
		WHERE identifier = $1`, subject)
	if err != nil {
		return nil, s.mapError(err)
	}
	defer rows.Close()

	var out []stepup.StoredCredential
	for rows.Next() {
		var c stepup.StoredCredential
		if err := rows.Scan(&c.ID, &c.Blob); err != nil {
			return nil, s.mapError(err)
		}
		out = append(out, c)
	}

	return out, s.mapError(rows.Err())
}

// UpdateCredential replaces one credential blob after a counter update.
func (s *DB) UpdateCredential(ctx context.Context, subject string, id int64, blob []byte) (err error) {
	ctx, span := s.startSpan(ctx, "UpdateCredential")
	defer func() { s.endSpan(span, err) }()

	_, err = s.conn.Exec(ctx, `
		UPDATE stepup_webauthn_credentials SET blob = $1
		WHERE row_id = $2 AND identifier = $3`,
		blob, id, subject)
	return s.mapError(err)
}

// ReplaceBackupCodes swaps the subject's backup code set for a fresh one.
// Spent and unspent codes alike are discarded in the same transaction.
func (s *DB) ReplaceBackupCodes(ctx context.Context, subject string, codes []stepup.StoredBackupCode, issuedAt time.Time) (err error) {
	ctx, span := s.startSpan(ctx, "ReplaceBackupCodes")
	defer func() { s.endSpan(span, err) }()

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
		`DELETE FROM stepup_backup_codes WHERE identifier = $1`, subject,
	); err != nil {
		return s.mapError(err)
	}

	for _, c := range codes {
		if _, err = tx.Exec(ctx, `
			INSERT INTO stepup_backup_codes (row_id, identifier, code_hash, created_at)
			VALUES ($1,$2,$3,$4)`,
			c.ID, subject, c.Hash, issuedAt,
		); err != nil {
			return s.mapError(err)
		}
	}

	return s.mapError(tx.Commit(ctx))
}
