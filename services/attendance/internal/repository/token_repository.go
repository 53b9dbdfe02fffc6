package repository

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/checkin-refunds/pkg/database"
	"github.com/diagnosis/checkin-refunds/services/attendance/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TokenRepository interface {
	// Issue deactivates every active token of the occurrence and stores the
	// new one in the same transaction.
	Issue(ctx context.Context, occurrenceID int64, token string, validFrom, validUntil time.Time, createdBy *int64) (*domain.CheckInToken, error)
	FindByToken(ctx context.Context, token string) (*domain.CheckInToken, error)
	ListByOccurrence(ctx context.Context, occurrenceID int64) ([]domain.CheckInToken, error)
	DeactivateAll(ctx context.Context, occurrenceID int64) (int64, error)
}

type tokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) TokenRepository {
	return &tokenRepository{pool: pool}
}

const tokenCols = `id, token, occurrence_id, valid_from, valid_until, is_active, created_by, created_at`

func scanToken(row pgx.Row) (*domain.CheckInToken, error) {
	var t domain.CheckInToken
	err := row.Scan(&t.ID, &t.Token, &t.OccurrenceID, &t.ValidFrom, &t.ValidUntil, &t.IsActive, &t.CreatedBy, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tokenRepository) Issue(ctx context.Context, occurrenceID int64, token string, validFrom, validUntil time.Time, createdBy *int64) (*domain.CheckInToken, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var issued *domain.CheckInToken
	err := database.InTx(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		// Serializes concurrent regenerations for the same occurrence.
		var locked int64
		err := tx.QueryRow(ctx, `SELECT id FROM session_occurrences WHERE id=$1 FOR UPDATE`, occurrenceID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrOccurrenceNotFound
		}
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE checkin_tokens SET is_active=false WHERE occurrence_id=$1 AND is_active`,
			occurrenceID,
		); err != nil {
			return err
		}

		const q = `
			INSERT INTO checkin_tokens (token, occurrence_id, valid_from, valid_until, is_active, created_by)
			VALUES ($1,$2,$3,$4,true,$5)
			RETURNING ` + tokenCols
		issued, err = scanToken(tx.QueryRow(ctx, q, token, occurrenceID, validFrom, validUntil, createdBy))
		return err
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

func (r *tokenRepository) FindByToken(ctx context.Context, token string) (*domain.CheckInToken, error) {
	const q = `SELECT ` + tokenCols + ` FROM checkin_tokens WHERE token=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	t, err := scanToken(r.pool.QueryRow(ctx, q, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *tokenRepository) ListByOccurrence(ctx context.Context, occurrenceID int64) ([]domain.CheckInToken, error) {
	const q = `SELECT ` + tokenCols + ` FROM checkin_tokens WHERE occurrence_id=$1 ORDER BY created_at DESC, id DESC LIMIT 100`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, occurrenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CheckInToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *tokenRepository) DeactivateAll(ctx context.Context, occurrenceID int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `UPDATE checkin_tokens SET is_active=false WHERE occurrence_id=$1 AND is_active`, occurrenceID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
