package repository

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/checkin-refunds/services/attendance/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AttendanceRepository interface {
	Get(ctx context.Context, occurrenceID, participantID int64) (*domain.AttendanceRecord, error)
	// Upsert writes rec unless the pair is already PRESENT or LATE. When it
	// is, the stored record is returned with applied=false. The check and the
	// write are one statement, so concurrent scans cannot both insert.
	Upsert(ctx context.Context, rec domain.AttendanceRecord) (stored *domain.AttendanceRecord, applied bool, err error)
	// Correct overwrites the record unconditionally (staff corrections).
	Correct(ctx context.Context, rec domain.AttendanceRecord) (*domain.AttendanceRecord, error)
	ListByOccurrence(ctx context.Context, occurrenceID int64) ([]domain.AttendanceRecord, error)
}

type attendanceRepository struct {
	pool *pgxpool.Pool
}

func NewAttendanceRepository(pool *pgxpool.Pool) AttendanceRepository {
	return &attendanceRepository{pool: pool}
}

const attendanceCols = `occurrence_id, participant_id, status, checked_at, method, updated_at`

func scanAttendance(row pgx.Row) (*domain.AttendanceRecord, error) {
	var a domain.AttendanceRecord
	if err := row.Scan(&a.OccurrenceID, &a.ParticipantID, &a.Status, &a.CheckedAt, &a.Method, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *attendanceRepository) Get(ctx context.Context, occurrenceID, participantID int64) (*domain.AttendanceRecord, error) {
	const q = `SELECT ` + attendanceCols + ` FROM attendance_records WHERE occurrence_id=$1 AND participant_id=$2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	a, err := scanAttendance(r.pool.QueryRow(ctx, q, occurrenceID, participantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *attendanceRepository) Upsert(ctx context.Context, rec domain.AttendanceRecord) (*domain.AttendanceRecord, bool, error) {
	const q = `
		INSERT INTO attendance_records (occurrence_id, participant_id, status, checked_at, method, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (occurrence_id, participant_id) DO UPDATE SET
			status = EXCLUDED.status,
			checked_at = EXCLUDED.checked_at,
			method = EXCLUDED.method,
			updated_at = now()
		WHERE attendance_records.status NOT IN ('present', 'late')
		RETURNING ` + attendanceCols
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	stored, err := scanAttendance(r.pool.QueryRow(ctx, q,
		rec.OccurrenceID, rec.ParticipantID, rec.Status, rec.CheckedAt, rec.Method,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	// The WHERE clause skipped the update: someone is already checked in.
	existing, err := r.Get(ctx, rec.OccurrenceID, rec.ParticipantID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *attendanceRepository) Correct(ctx context.Context, rec domain.AttendanceRecord) (*domain.AttendanceRecord, error) {
	const q = `
		INSERT INTO attendance_records (occurrence_id, participant_id, status, checked_at, method, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (occurrence_id, participant_id) DO UPDATE SET
			status = EXCLUDED.status,
			checked_at = EXCLUDED.checked_at,
			method = EXCLUDED.method,
			updated_at = now()
		RETURNING ` + attendanceCols
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanAttendance(r.pool.QueryRow(ctx, q,
		rec.OccurrenceID, rec.ParticipantID, rec.Status, rec.CheckedAt, rec.Method,
	))
}

func (r *attendanceRepository) ListByOccurrence(ctx context.Context, occurrenceID int64) ([]domain.AttendanceRecord, error) {
	const q = `SELECT ` + attendanceCols + ` FROM attendance_records WHERE occurrence_id=$1 ORDER BY participant_id`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, occurrenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AttendanceRecord
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
