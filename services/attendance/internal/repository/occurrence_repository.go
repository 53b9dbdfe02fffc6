package repository

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/checkin-refunds/services/attendance/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OccurrenceRepository interface {
	Get(ctx context.Context, id int64) (*domain.Occurrence, error)
	ListByProgram(ctx context.Context, programID int64) ([]domain.Occurrence, error)
}

type occurrenceRepository struct {
	pool *pgxpool.Pool
}

func NewOccurrenceRepository(pool *pgxpool.Pool) OccurrenceRepository {
	return &occurrenceRepository{pool: pool}
}

const occurrenceCols = `id, program_id, title, session_date, start_time`

func scanOccurrence(row pgx.Row) (*domain.Occurrence, error) {
	var (
		o     domain.Occurrence
		start pgtype.Time
	)
	if err := row.Scan(&o.ID, &o.ProgramID, &o.Title, &o.Date, &start); err != nil {
		return nil, err
	}
	if start.Valid {
		d := time.Duration(start.Microseconds) * time.Microsecond
		o.StartTime = &d
	}
	return &o, nil
}

func (r *occurrenceRepository) Get(ctx context.Context, id int64) (*domain.Occurrence, error) {
	const q = `SELECT ` + occurrenceCols + ` FROM session_occurrences WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	o, err := scanOccurrence(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

func (r *occurrenceRepository) ListByProgram(ctx context.Context, programID int64) ([]domain.Occurrence, error) {
	const q = `
		SELECT ` + occurrenceCols + `
		FROM session_occurrences
		WHERE program_id=$1
		ORDER BY session_date, start_time NULLS FIRST, id`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}
