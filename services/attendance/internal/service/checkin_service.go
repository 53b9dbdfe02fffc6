package service

import (
	"context"
	"fmt"
	"time"

	"github.com/diagnosis/checkin-refunds/pkg/config"
	"github.com/diagnosis/checkin-refunds/pkg/events"
	"github.com/diagnosis/checkin-refunds/pkg/logger"
	"github.com/diagnosis/checkin-refunds/services/attendance/internal/domain"
	"github.com/diagnosis/checkin-refunds/services/attendance/internal/repository"
)

type CheckInService interface {
	// CheckInWithToken checks in the participant that userID holds in the
	// token's program.
	CheckInWithToken(ctx context.Context, token string, userID int64) (*domain.CheckInOutcome, error)
	// CheckInDirect is the staff path for participants without a phone.
	CheckInDirect(ctx context.Context, occurrenceID, participantID int64) (*domain.CheckInOutcome, error)
	Correct(ctx context.Context, occurrenceID, participantID int64, status domain.AttendanceStatus) (*domain.AttendanceRecord, error)
	ListRecords(ctx context.Context, occurrenceID int64) ([]domain.AttendanceRecord, error)
	ListOccurrences(ctx context.Context, programID int64) ([]domain.Occurrence, error)
}

type checkInService struct {
	tokens          TokenService
	occurrenceRepo  repository.OccurrenceRepository
	participantRepo repository.ParticipantRepository
	attendanceRepo  repository.AttendanceRepository
	publisher       events.Publisher
	config          *config.Config
	invalidator     CacheInvalidator
	location        *time.Location
	now             func() time.Time
}

func NewCheckInService(
	tokens TokenService,
	occurrenceRepo repository.OccurrenceRepository,
	participantRepo repository.ParticipantRepository,
	attendanceRepo repository.AttendanceRepository,
	publisher events.Publisher,
	config *config.Config,
	opts ...Option,
) CheckInService {
	o := buildOptions(opts)
	return &checkInService{
		tokens:          tokens,
		occurrenceRepo:  occurrenceRepo,
		participantRepo: participantRepo,
		attendanceRepo:  attendanceRepo,
		publisher:       publisher,
		config:          config,
		invalidator:     o.invalidator,
		location:        config.Attendance.Location(),
		now:             o.now,
	}
}

func (s *checkInService) CheckInWithToken(ctx context.Context, token string, userID int64) (*domain.CheckInOutcome, error) {
	tok, err := s.tokens.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	occ, err := s.occurrence(ctx, tok.OccurrenceID)
	if err != nil {
		return nil, err
	}

	participant, err := s.participantRepo.FindByUser(ctx, occ.ProgramID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participant: %w", err)
	}
	if err := participant.CanCheckIn(occ.ProgramID); err != nil {
		logger.WarnContext(ctx, "Check-in refused", "reason", err.Error(), "occurrence_id", occ.ID, "user_id", userID)
		return nil, err
	}

	return s.checkIn(ctx, occ, participant, domain.MethodQR)
}

func (s *checkInService) CheckInDirect(ctx context.Context, occurrenceID, participantID int64) (*domain.CheckInOutcome, error) {
	if occurrenceID <= 0 || participantID <= 0 {
		return nil, domain.Invalid("sessionOccurrenceId and participantId are both required")
	}

	occ, err := s.occurrence(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}

	participant, err := s.participantRepo.FindByID(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participant: %w", err)
	}
	if err := participant.CanCheckIn(occ.ProgramID); err != nil {
		return nil, err
	}

	return s.checkIn(ctx, occ, participant, domain.MethodManual)
}

// checkIn is shared by both entry points. Whichever path arrives first wins;
// later attempts report the stored record with AlreadyCheckedIn set.
func (s *checkInService) checkIn(ctx context.Context, occ *domain.Occurrence, participant *domain.Participant, method domain.CheckInMethod) (*domain.CheckInOutcome, error) {
	existing, err := s.attendanceRepo.Get(ctx, occ.ID, participant.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attendance: %w", err)
	}
	if existing != nil && existing.Status.CheckedIn() {
		return outcome(occ, existing, true), nil
	}

	now := s.now()
	status, err := s.classify(ctx, occ, now)
	if err != nil {
		return nil, err
	}

	stored, applied, err := s.attendanceRepo.Upsert(ctx, domain.AttendanceRecord{
		OccurrenceID:  occ.ID,
		ParticipantID: participant.ID,
		Status:        status,
		CheckedAt:     &now,
		Method:        method,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record attendance: %w", err)
	}
	if !applied {
		if stored == nil {
			return nil, fmt.Errorf("attendance for occurrence %d participant %d was not written", occ.ID, participant.ID)
		}
		return outcome(occ, stored, true), nil
	}

	s.invalidate(ctx, occ.ProgramID, participant.ID)
	s.publishRecorded(ctx, occ.ProgramID, stored, false)

	logger.InfoContext(ctx, "Participant checked in",
		"occurrence_id", occ.ID,
		"participant_id", participant.ID,
		"status", stored.Status,
		"method", stored.Method,
	)
	return outcome(occ, stored, false), nil
}

func (s *checkInService) classify(ctx context.Context, occ *domain.Occurrence, now time.Time) (domain.AttendanceStatus, error) {
	start, ok := occ.ScheduledStart(s.location)
	if !ok {
		if s.config.Attendance.RequireStartTime {
			return "", domain.ErrStartTimeRequired
		}
		logger.WarnContext(ctx, "Occurrence has no start time, recording as present", "occurrence_id", occ.ID)
		return domain.StatusPresent, nil
	}
	return domain.ClassifyArrival(start, s.config.Attendance.LateGrace, now), nil
}

func (s *checkInService) Correct(ctx context.Context, occurrenceID, participantID int64, status domain.AttendanceStatus) (*domain.AttendanceRecord, error) {
	parsed, ok := domain.ParseAttendanceStatus(string(status))
	if !ok {
		return nil, domain.Invalid("status must be one of PRESENT, LATE, ABSENT, EXCUSED")
	}

	occ, err := s.occurrence(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}

	participant, err := s.participantRepo.FindByID(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participant: %w", err)
	}
	if participant == nil || participant.ProgramID != occ.ProgramID {
		return nil, domain.ErrNotParticipant
	}

	existing, err := s.attendanceRepo.Get(ctx, occ.ID, participant.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attendance: %w", err)
	}

	rec := domain.AttendanceRecord{
		OccurrenceID:  occ.ID,
		ParticipantID: participant.ID,
		Status:        parsed,
		Method:        domain.MethodManual,
	}
	if parsed.CheckedIn() {
		// keep the original arrival time when only the classification changes
		if existing != nil && existing.CheckedAt != nil {
			rec.CheckedAt = existing.CheckedAt
			rec.Method = existing.Method
		} else {
			now := s.now()
			rec.CheckedAt = &now
		}
	}

	stored, err := s.attendanceRepo.Correct(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to correct attendance: %w", err)
	}

	s.invalidate(ctx, occ.ProgramID, participant.ID)
	s.publishRecorded(ctx, occ.ProgramID, stored, true)

	logger.InfoContext(ctx, "Attendance corrected",
		"occurrence_id", occ.ID,
		"participant_id", participant.ID,
		"status", stored.Status,
	)
	return stored, nil
}

func (s *checkInService) ListRecords(ctx context.Context, occurrenceID int64) ([]domain.AttendanceRecord, error) {
	if _, err := s.occurrence(ctx, occurrenceID); err != nil {
		return nil, err
	}
	return s.attendanceRepo.ListByOccurrence(ctx, occurrenceID)
}

func (s *checkInService) ListOccurrences(ctx context.Context, programID int64) ([]domain.Occurrence, error) {
	return s.occurrenceRepo.ListByProgram(ctx, programID)
}

func (s *checkInService) occurrence(ctx context.Context, id int64) (*domain.Occurrence, error) {
	occ, err := s.occurrenceRepo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load occurrence: %w", err)
	}
	if occ == nil {
		return nil, domain.ErrOccurrenceNotFound
	}
	return occ, nil
}

func (s *checkInService) invalidate(ctx context.Context, programID, participantID int64) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, programID, participantID); err != nil {
		logger.ErrorContext(ctx, "Failed to invalidate settlement cache", "error", err, "participant_id", participantID)
	}
}

func (s *checkInService) publishRecorded(ctx context.Context, programID int64, rec *domain.AttendanceRecord, correction bool) {
	event := events.AttendanceRecordedEvent{
		ProgramID:     programID,
		OccurrenceID:  rec.OccurrenceID,
		ParticipantID: rec.ParticipantID,
		Status:        string(rec.Status),
		Method:        string(rec.Method),
		CheckedAt:     rec.CheckedAt,
		Correction:    correction,
	}
	if err := s.publisher.Publish(ctx, events.AttendanceRecord, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish attendance recorded event", "error", err, "occurrence_id", rec.OccurrenceID)
	}
}

func outcome(occ *domain.Occurrence, rec *domain.AttendanceRecord, already bool) *domain.CheckInOutcome {
	return &domain.CheckInOutcome{
		ProgramID:        occ.ProgramID,
		OccurrenceID:     rec.OccurrenceID,
		ParticipantID:    rec.ParticipantID,
		Status:           rec.Status,
		CheckedAt:        rec.CheckedAt,
		Method:           rec.Method,
		AlreadyCheckedIn: already,
	}
}
