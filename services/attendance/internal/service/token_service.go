package service

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/diagnosis/checkin-refunds/pkg/config"
	"github.com/diagnosis/checkin-refunds/pkg/events"
	"github.com/diagnosis/checkin-refunds/pkg/logger"
	"github.com/diagnosis/checkin-refunds/services/attendance/internal/domain"
	"github.com/diagnosis/checkin-refunds/services/attendance/internal/repository"
	"github.com/google/uuid"
)

type TokenService interface {
	Issue(ctx context.Context, req *domain.IssueTokenReq, issuedBy int64) (*domain.IssueTokenRes, error)
	// Validate returns the token if it is usable right now.
	Validate(ctx context.Context, token string) (*domain.CheckInToken, error)
	Revoke(ctx context.Context, occurrenceID, revokedBy int64) (int64, error)
	ListTokens(ctx context.Context, occurrenceID int64) ([]domain.CheckInToken, error)
}

type tokenService struct {
	tokenRepo      repository.TokenRepository
	occurrenceRepo repository.OccurrenceRepository
	publisher      events.Publisher
	config         *config.Config
	now            func() time.Time
}

func NewTokenService(
	tokenRepo repository.TokenRepository,
	occurrenceRepo repository.OccurrenceRepository,
	publisher events.Publisher,
	config *config.Config,
	opts ...Option,
) TokenService {
	o := buildOptions(opts)
	return &tokenService{
		tokenRepo:      tokenRepo,
		occurrenceRepo: occurrenceRepo,
		publisher:      publisher,
		config:         config,
		now:            o.now,
	}
}

func (s *tokenService) Issue(ctx context.Context, req *domain.IssueTokenReq, issuedBy int64) (*domain.IssueTokenRes, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// compare in minutes; multiplying first can overflow into a negative ttl
	maxMinutes := int(s.config.Attendance.MaxTokenTTL / time.Minute)
	if req.ValidMinutes > maxMinutes {
		return nil, domain.Invalid(fmt.Sprintf("validMinutes must not exceed %d", maxMinutes))
	}
	ttl := time.Duration(req.ValidMinutes) * time.Minute
	if ttl == 0 {
		ttl = s.config.Attendance.DefaultTokenTTL
	}
	if ttl <= 0 || ttl > s.config.Attendance.MaxTokenTTL {
		return nil, domain.Invalid(fmt.Sprintf("validMinutes must not exceed %d", maxMinutes))
	}

	occ, err := s.occurrenceRepo.Get(ctx, req.SessionOccurrenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load occurrence: %w", err)
	}
	if occ == nil {
		return nil, domain.ErrOccurrenceNotFound
	}

	validFrom := s.now()
	validUntil := validFrom.Add(ttl)

	var createdBy *int64
	if issuedBy > 0 {
		createdBy = &issuedBy
	}

	tok, err := s.tokenRepo.Issue(ctx, occ.ID, uuid.NewString(), validFrom, validUntil, createdBy)
	if err != nil {
		return nil, fmt.Errorf("failed to issue check-in token: %w", err)
	}

	checkInURL, err := s.checkInURL(tok.Token)
	if err != nil {
		return nil, err
	}

	event := events.TokenIssuedEvent{
		OccurrenceID: tok.OccurrenceID,
		TokenID:      tok.ID,
		ValidFrom:    tok.ValidFrom,
		ValidUntil:   tok.ValidUntil,
		IssuedBy:     issuedBy,
	}
	if err := s.publisher.Publish(ctx, events.TokenIssued, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish token issued event", "error", err, "occurrence_id", tok.OccurrenceID)
	}

	logger.InfoContext(ctx, "Check-in token issued",
		"occurrence_id", tok.OccurrenceID,
		"token_id", tok.ID,
		"valid_until", tok.ValidUntil,
	)

	return &domain.IssueTokenRes{
		Token:      tok.Token,
		CheckInURL: checkInURL,
		ValidFrom:  tok.ValidFrom,
		ValidUntil: tok.ValidUntil,
	}, nil
}

func (s *tokenService) checkInURL(token string) (string, error) {
	u, err := url.Parse(s.config.Attendance.CheckInBaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid check-in base URL: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *tokenService) Validate(ctx context.Context, token string) (*domain.CheckInToken, error) {
	tok, err := s.tokenRepo.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to look up check-in token: %w", err)
	}
	if tok == nil {
		return nil, domain.ErrInvalidToken
	}
	if err := tok.UsableAt(s.now()); err != nil {
		return nil, err
	}
	return tok, nil
}

func (s *tokenService) Revoke(ctx context.Context, occurrenceID, revokedBy int64) (int64, error) {
	if occurrenceID <= 0 {
		return 0, domain.Invalid("sessionOccurrenceId is required")
	}

	n, err := s.tokenRepo.DeactivateAll(ctx, occurrenceID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke check-in tokens: %w", err)
	}

	event := events.TokenRevokedEvent{OccurrenceID: occurrenceID, Revoked: n, RevokedAt: s.now()}
	if err := s.publisher.Publish(ctx, events.TokenRevoked, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish token revoked event", "error", err, "occurrence_id", occurrenceID)
	}

	logger.InfoContext(ctx, "Check-in closed", "occurrence_id", occurrenceID, "revoked", n, "revoked_by", revokedBy)
	return n, nil
}

func (s *tokenService) ListTokens(ctx context.Context, occurrenceID int64) ([]domain.CheckInToken, error) {
	return s.tokenRepo.ListByOccurrence(ctx, occurrenceID)
}
