package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/checkin-refunds/pkg/config"
	"github.com/diagnosis/checkin-refunds/pkg/events"
	"github.com/diagnosis/checkin-refunds/pkg/logger"
	"github.com/diagnosis/checkin-refunds/services/attendance/internal/domain"
	"github.com/diagnosis/checkin-refunds/services/attendance/internal/refund"
	"github.com/diagnosis/checkin-refunds/services/attendance/internal/repository"
	"golang.org/x/sync/errgroup"
)

// DecisionCache holds computed settlements between invalidations. Counters
// are bumped on every invalidation; a cached decision is only served while
// the counters it was computed under are still current.
type DecisionCache interface {
	GetJSON(ctx context.Context, key string, v interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) (int64, error)
	Counter(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, key string) (int64, error)
}

type SettlementService interface {
	SettleParticipant(ctx context.Context, programID, participantID int64) (*domain.Settlement, error)
	// SettleProgram recomputes every active participant. Any failure, a
	// policy table bug included, fails the whole run.
	SettleProgram(ctx context.Context, programID int64) (*domain.ProgramSettlement, error)
	// Invalidate drops the cached decision of one participant. Writers call
	// it right after changing attendance so they do not depend on event delivery.
	Invalidate(ctx context.Context, programID, participantID int64) error
	// HandleInvalidation drops cached decisions affected by msg.
	HandleInvalidation(msg *events.Message)
}

type settlementService struct {
	settlementRepo  repository.SettlementRepository
	participantRepo repository.ParticipantRepository
	cache           DecisionCache
	publisher       events.Publisher
	config          *config.Config
	now             func() time.Time
}

func NewSettlementService(
	settlementRepo repository.SettlementRepository,
	participantRepo repository.ParticipantRepository,
	cache DecisionCache,
	publisher events.Publisher,
	config *config.Config,
	opts ...Option,
) SettlementService {
	o := buildOptions(opts)
	return &settlementService{
		settlementRepo:  settlementRepo,
		participantRepo: participantRepo,
		cache:           cache,
		publisher:       publisher,
		config:          config,
		now:             o.now,
	}
}

func cacheKey(programID, participantID int64) string {
	return fmt.Sprintf("settlement:%d:%d", programID, participantID)
}

func programGenKey(programID int64) string {
	return fmt.Sprintf("settlement-gen:%d", programID)
}

func participantGenKey(programID, participantID int64) string {
	return fmt.Sprintf("settlement-gen:%d:%d", programID, participantID)
}

// cachedSettlement tags a decision with the counters read before its inputs.
type cachedSettlement struct {
	ProgramGen     int64             `json:"program_gen"`
	ParticipantGen int64             `json:"participant_gen"`
	Settlement     domain.Settlement `json:"settlement"`
}

// counter returns ok=false when the cache cannot be trusted for this call.
func (s *settlementService) counter(ctx context.Context, key string) (int64, bool) {
	n, err := s.cache.Counter(ctx, key)
	if err != nil {
		logger.WarnContext(ctx, "Settlement cache counter read failed", "error", err, "key", key)
		return 0, false
	}
	return n, true
}

func (s *settlementService) SettleParticipant(ctx context.Context, programID, participantID int64) (*domain.Settlement, error) {
	key := cacheKey(programID, participantID)

	// read before the policy so a concurrent policy change cannot be cached
	programGen, cacheable := s.counter(ctx, programGenKey(programID))
	if cacheable {
		if participantGen, ok := s.counter(ctx, participantGenKey(programID, participantID)); ok {
			var cached cachedSettlement
			hit, err := s.cache.GetJSON(ctx, key, &cached)
			if err != nil {
				logger.WarnContext(ctx, "Settlement cache read failed", "error", err, "key", key)
			} else if hit && cached.ProgramGen == programGen && cached.ParticipantGen == participantGen {
				return &cached.Settlement, nil
			}
		}
	}

	policy, err := s.loadPolicy(ctx, programID)
	if err != nil {
		return nil, err
	}

	participant, err := s.participantRepo.FindByID(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participant: %w", err)
	}
	if participant == nil || participant.ProgramID != programID {
		return nil, domain.ErrNotParticipant
	}

	return s.settle(ctx, policy, participantID, programGen, cacheable)
}

func (s *settlementService) SettleProgram(ctx context.Context, programID int64) (*domain.ProgramSettlement, error) {
	programGen, cacheable := s.counter(ctx, programGenKey(programID))

	policy, err := s.loadPolicy(ctx, programID)
	if err != nil {
		return nil, err
	}

	participants, err := s.participantRepo.ListActive(ctx, programID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	results := make([]domain.Settlement, len(participants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.config.Settlement.Concurrency, 1))
	for i, p := range participants {
		g.Go(func() error {
			settled, err := s.settle(gctx, policy, p.ID, programGen, cacheable)
			if err != nil {
				return err
			}
			results[i] = *settled
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.ErrorContext(ctx, "Program settlement failed", "error", err, "program_id", programID)
		return nil, err
	}

	out := &domain.ProgramSettlement{ProgramID: programID, Settlements: results}
	for _, r := range results {
		out.TotalRefund += r.RefundAmount
	}

	logger.InfoContext(ctx, "Program settled",
		"program_id", programID,
		"participants", len(results),
		"total_refund", out.TotalRefund,
	)
	return out, nil
}

func (s *settlementService) loadPolicy(ctx context.Context, programID int64) (*domain.ProgramPolicy, error) {
	policy, err := s.settlementRepo.LoadPolicy(ctx, programID)
	if err != nil {
		return nil, fmt.Errorf("failed to load refund policy: %w", err)
	}
	if policy == nil {
		return nil, domain.ErrPolicyNotConfigured
	}
	return policy, nil
}

// settle computes, audits and announces one decision. It is cached under the
// counters seen before the inputs were read, so an invalidation racing the
// computation leaves an entry that is never served.
func (s *settlementService) settle(ctx context.Context, policy *domain.ProgramPolicy, participantID, programGen int64, cacheable bool) (*domain.Settlement, error) {
	var participantGen int64
	if cacheable {
		participantGen, cacheable = s.counter(ctx, participantGenKey(policy.ProgramID, participantID))
	}

	stats, err := s.settlementRepo.ParticipantStats(ctx, policy.ProgramID, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participant stats: %w", err)
	}

	settled, err := evaluate(policy, stats)
	if err != nil {
		return nil, fmt.Errorf("settle participant %d: %w", participantID, err)
	}
	settled.ParticipantID = participantID
	settled.Currency = s.config.Settlement.Currency
	settled.SettledAt = s.now()

	if err := s.settlementRepo.RecordDecision(ctx, *settled); err != nil {
		return nil, fmt.Errorf("failed to record refund decision: %w", err)
	}

	if cacheable {
		key := cacheKey(policy.ProgramID, participantID)
		entry := cachedSettlement{ProgramGen: programGen, ParticipantGen: participantGen, Settlement: *settled}
		if err := s.cache.SetJSON(ctx, key, entry, s.config.Settlement.CacheTTL); err != nil {
			logger.WarnContext(ctx, "Settlement cache write failed", "error", err, "key", key)
		}
	}

	event := events.RefundSettledEvent{
		ProgramID:     settled.ProgramID,
		ParticipantID: participantID,
		RefundAmount:  settled.RefundAmount,
		Eligible:      settled.Eligible,
		SettledAt:     settled.SettledAt,
	}
	if rate := settled.RefundRate(); rate != nil {
		event.RefundRate = *rate
	}
	if err := s.publisher.Publish(ctx, events.RefundSettled, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish refund settled event", "error", err, "participant_id", participantID)
	}

	return settled, nil
}

func evaluate(policy *domain.ProgramPolicy, stats *domain.ParticipantStats) (*domain.Settlement, error) {
	gate := refund.SurveyGate{Required: policy.SurveyRequired, Submitted: stats.SurveySubmitted}
	out := &domain.Settlement{ProgramID: policy.ProgramID}

	if policy.PerSession {
		res, err := refund.EvaluatePerSession(refund.PerSessionInput{
			DepositPerSession: policy.DepositPerSession,
			Sessions:          stats.Sessions,
			RequireReport:     policy.RequireReport,
			Survey:            gate,
		})
		if err != nil {
			return nil, err
		}
		out.PerSession = &res
		out.RefundAmount = res.TotalRefund
		out.Eligible = res.Eligible
		return out, nil
	}

	attended := stats.Attended()
	in := refund.DepositInput{
		DepositAmount:    policy.DepositAmount,
		PolicyType:       policy.PolicyType,
		Table:            policy.Table,
		TotalSessions:    len(stats.Sessions),
		AttendedSessions: attended,
		Attended:         attended > 0,
		SubmittedReports: stats.Submitted(),
		Survey:           gate,
	}
	if policy.TrackApprovals {
		approved := stats.Approved()
		in.ApprovedReports = &approved
	}

	d, err := refund.Evaluate(in)
	if err != nil {
		return nil, err
	}
	out.Decision = &d
	out.RefundAmount = d.RefundAmount
	out.Eligible = d.Eligible
	return out, nil
}

func (s *settlementService) Invalidate(ctx context.Context, programID, participantID int64) error {
	_, incrErr := s.cache.Incr(ctx, participantGenKey(programID, participantID))
	delErr := s.cache.Delete(ctx, cacheKey(programID, participantID))
	return errors.Join(incrErr, delErr)
}

func (s *settlementService) invalidateProgram(ctx context.Context, programID int64) error {
	_, incrErr := s.cache.Incr(ctx, programGenKey(programID))
	_, delErr := s.cache.DeletePattern(ctx, fmt.Sprintf("settlement:%d:*", programID))
	return errors.Join(incrErr, delErr)
}

func (s *settlementService) HandleInvalidation(msg *events.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var err error
	switch msg.Subject {
	case events.AttendanceRecord:
		var ev events.AttendanceRecordedEvent
		if err = msg.Decode(&ev); err == nil {
			err = s.Invalidate(ctx, ev.ProgramID, ev.ParticipantID)
		}
	case events.ReportUpdated:
		var ev events.ReportUpdatedEvent
		if err = msg.Decode(&ev); err == nil {
			err = s.Invalidate(ctx, ev.ProgramID, ev.ParticipantID)
		}
	case events.PolicyUpdated:
		var ev events.PolicyUpdatedEvent
		if err = msg.Decode(&ev); err == nil {
			err = s.invalidateProgram(ctx, ev.ProgramID)
		}
	default:
		logger.Warn("Ignoring unexpected event", "subject", msg.Subject, "id", msg.ID)
		return
	}

	if err != nil {
		logger.Error("Failed to invalidate settlement cache", "error", err, "subject", msg.Subject, "id", msg.ID)
	}
}
