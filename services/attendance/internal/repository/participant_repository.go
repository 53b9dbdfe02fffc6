package repository

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/checkin-refunds/services/attendance/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ParticipantRepository interface {
	FindByID(ctx context.Context, id int64) (*domain.Participant, error)
	FindByUser(ctx context.Context, programID, userID int64) (*domain.Participant, error)
	ListActive(ctx context.Context, programID int64) ([]domain.Participant, error)
}

type participantRepository struct {
	pool *pgxpool.Pool
}

func NewParticipantRepository(pool *pgxpool.Pool) ParticipantRepository {
	return &participantRepository{pool: pool}
}

func (r *participantRepository) findOne(ctx context.Context, q string, args ...any) (*domain.Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var p domain.Participant
	err := r.pool.QueryRow(ctx, q, args...).Scan(&p.ID, &p.ProgramID, &p.UserID, &p.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *participantRepository) FindByID(ctx context.Context, id int64) (*domain.Participant, error) {
	return r.findOne(ctx, `SELECT id, program_id, user_id, status FROM participants WHERE id=$1`, id)
}

func (r *participantRepository) FindByUser(ctx context.Context, programID, userID int64) (*domain.Participant, error) {
	return r.findOne(ctx,
		`SELECT id, program_id, user_id, status FROM participants WHERE program_id=$1 AND user_id=$2`,
		programID, userID,
	)
}

func (r *participantRepository) ListActive(ctx context.Context, programID int64) ([]domain.Participant, error) {
	const q = `
		SELECT id, program_id, user_id, status
		FROM participants
		WHERE program_id=$1 AND status='active'
		ORDER BY id`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.ProgramID, &p.UserID, &p.Status); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
