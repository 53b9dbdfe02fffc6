package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/checkin-refunds/services/attendance/internal/domain"
	"github.com/diagnosis/checkin-refunds/services/attendance/internal/refund"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SettlementRepository interface {
	// LoadPolicy returns nil, nil when the program has no refund policy.
	LoadPolicy(ctx context.Context, programID int64) (*domain.ProgramPolicy, error)
	ParticipantStats(ctx context.Context, programID, participantID int64) (*domain.ParticipantStats, error)
	RecordDecision(ctx context.Context, s domain.Settlement) error
}

type settlementRepository struct {
	pool *pgxpool.Pool
}

func NewSettlementRepository(pool *pgxpool.Pool) SettlementRepository {
	return &settlementRepository{pool: pool}
}

func (r *settlementRepository) LoadPolicy(ctx context.Context, programID int64) (*domain.ProgramPolicy, error) {
	const q = `
		SELECT program_id, deposit_amount, policy_type, per_session, deposit_per_session,
		       require_report, survey_required, track_approvals, tiers
		FROM refund_policies
		WHERE program_id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var (
		p     domain.ProgramPolicy
		tiers []byte
	)
	err := r.pool.QueryRow(ctx, q, programID).Scan(
		&p.ProgramID, &p.DepositAmount, &p.PolicyType, &p.PerSession, &p.DepositPerSession,
		&p.RequireReport, &p.SurveyRequired, &p.TrackApprovals, &tiers,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if len(tiers) == 0 || string(tiers) == "null" {
		p.Table = refund.DefaultTable(p.PolicyType)
	} else if err := json.Unmarshal(tiers, &p.Table); err != nil {
		return nil, fmt.Errorf("%w: program %d: %v", refund.ErrInvalidPolicy, programID, err)
	}

	if err := p.Table.Validate(p.PolicyType); err != nil {
		return nil, fmt.Errorf("program %d: %w", programID, err)
	}
	return &p, nil
}

func (r *settlementRepository) ParticipantStats(ctx context.Context, programID, participantID int64) (*domain.ParticipantStats, error) {
	const sessionsQ = `
		SELECT o.id,
		       COALESCE(a.status IN ('present', 'late'), false) AS attended,
		       r.id IS NOT NULL AS report_submitted,
		       r.approved
		FROM session_occurrences o
		LEFT JOIN attendance_records a ON a.occurrence_id = o.id AND a.participant_id = $2
		LEFT JOIN report_submissions r ON r.occurrence_id = o.id AND r.participant_id = $2
		WHERE o.program_id = $1
		ORDER BY o.session_date, o.start_time NULLS FIRST, o.id`
	const surveyQ = `SELECT EXISTS (SELECT 1 FROM survey_responses WHERE program_id=$1 AND participant_id=$2)`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, sessionsQ, programID, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &domain.ParticipantStats{}
	for rows.Next() {
		var s refund.SessionOutcome
		if err := rows.Scan(&s.OccurrenceID, &s.Attended, &s.ReportSubmitted, &s.ReportApproved); err != nil {
			return nil, err
		}
		stats.Sessions = append(stats.Sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.pool.QueryRow(ctx, surveyQ, programID, participantID).Scan(&stats.SurveySubmitted); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *settlementRepository) RecordDecision(ctx context.Context, s domain.Settlement) error {
	const q = `
		INSERT INTO refund_decisions (program_id, participant_id, refund_rate, refund_amount, eligible, decision, settled_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, q, s.ProgramID, s.ParticipantID, s.RefundRate(), s.RefundAmount, s.Eligible, body, s.SettledAt)
	return err
}
