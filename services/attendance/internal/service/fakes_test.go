package service_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/diagnosis/checkin-refunds/pkg/config"
	"github.com/diagnosis/checkin-refunds/services/attendance/internal/domain"
)

// ---------- Mocks ----------

type mockTokenRepo struct {
	mu     sync.Mutex
	nextID int64
	tokens map[string]*domain.CheckInToken
}

func newMockTokenRepo() *mockTokenRepo {
	return &mockTokenRepo{nextID: 1, tokens: make(map[string]*domain.CheckInToken)}
}

func (m *mockTokenRepo) Issue(_ context.Context, occurrenceID int64, token string, validFrom, validUntil time.Time, createdBy *int64) (*domain.CheckInToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.OccurrenceID == occurrenceID {
			t.IsActive = false
		}
	}
	t := &domain.CheckInToken{
		ID:           m.nextID,
		Token:        token,
		OccurrenceID: occurrenceID,
		ValidFrom:    validFrom,
		ValidUntil:   validUntil,
		IsActive:     true,
		CreatedBy:    createdBy,
		CreatedAt:    validFrom,
	}
	m.nextID++
	m.tokens[token] = t
	cp := *t
	return &cp, nil
}

func (m *mockTokenRepo) FindByToken(_ context.Context, token string) (*domain.CheckInToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *mockTokenRepo) ListByOccurrence(_ context.Context, occurrenceID int64) ([]domain.CheckInToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CheckInToken
	for _, t := range m.tokens {
		if t.OccurrenceID == occurrenceID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockTokenRepo) DeactivateAll(_ context.Context, occurrenceID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tokens {
		if t.OccurrenceID == occurrenceID && t.IsActive {
			t.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *mockTokenRepo) activeCount(occurrenceID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tokens {
		if t.OccurrenceID == occurrenceID && t.IsActive {
			n++
		}
	}
	return n
}

type mockOccurrenceRepo struct {
	occurrences map[int64]*domain.Occurrence
}

func (m *mockOccurrenceRepo) Get(_ context.Context, id int64) (*domain.Occurrence, error) {
	o, ok := m.occurrences[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (m *mockOccurrenceRepo) ListByProgram(_ context.Context, programID int64) ([]domain.Occurrence, error) {
	var out []domain.Occurrence
	for _, o := range m.occurrences {
		if o.ProgramID == programID {
			out = append(out, *o)
		}
	}
	return out, nil
}

type mockParticipantRepo struct {
	participants map[int64]*domain.Participant
}

func (m *mockParticipantRepo) FindByID(_ context.Context, id int64) (*domain.Participant, error) {
	p, ok := m.participants[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *mockParticipantRepo) FindByUser(_ context.Context, programID, userID int64) (*domain.Participant, error) {
	for _, p := range m.participants {
		if p.ProgramID == programID && p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockParticipantRepo) ListActive(_ context.Context, programID int64) ([]domain.Participant, error) {
	var out []domain.Participant
	for _, p := range m.participants {
		if p.ProgramID == programID && p.Status == domain.MembershipActive {
			out = append(out, *p)
		}
	}
	return out, nil
}

type attendanceKey struct{ occurrence, participant int64 }

type mockAttendanceRepo struct {
	mu      sync.Mutex
	records map[attendanceKey]*domain.AttendanceRecord
	writes  int
}

func newMockAttendanceRepo() *mockAttendanceRepo {
	return &mockAttendanceRepo{records: make(map[attendanceKey]*domain.AttendanceRecord)}
}

func (m *mockAttendanceRepo) Get(_ context.Context, occurrenceID, participantID int64) (*domain.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[attendanceKey{occurrenceID, participantID}]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *mockAttendanceRepo) Upsert(_ context.Context, rec domain.AttendanceRecord) (*domain.AttendanceRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := attendanceKey{rec.OccurrenceID, rec.ParticipantID}
	if existing, ok := m.records[key]; ok && existing.Status.CheckedIn() {
		cp := *existing
		return &cp, false, nil
	}
	rec.UpdatedAt = time.Now()
	m.records[key] = &rec
	m.writes++
	cp := rec
	return &cp, true, nil
}

func (m *mockAttendanceRepo) Correct(_ context.Context, rec domain.AttendanceRecord) (*domain.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.UpdatedAt = time.Now()
	m.records[attendanceKey{rec.OccurrenceID, rec.ParticipantID}] = &rec
	m.writes++
	cp := rec
	return &cp, nil
}

func (m *mockAttendanceRepo) ListByOccurrence(_ context.Context, occurrenceID int64) ([]domain.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AttendanceRecord
	for k, r := range m.records {
		if k.occurrence == occurrenceID {
			out = append(out, *r)
		}
	}
	return out, nil
}

type mockSettlementRepo struct {
	mu        sync.Mutex
	policy    *domain.ProgramPolicy
	policyErr error
	stats     map[int64]*domain.ParticipantStats
	decisions []domain.Settlement
	statCalls int
}

func (m *mockSettlementRepo) LoadPolicy(_ context.Context, programID int64) (*domain.ProgramPolicy, error) {
	if m.policyErr != nil {
		return nil, m.policyErr
	}
	if m.policy == nil || m.policy.ProgramID != programID {
		return nil, nil
	}
	cp := *m.policy
	return &cp, nil
}

func (m *mockSettlementRepo) ParticipantStats(_ context.Context, _, participantID int64) (*domain.ParticipantStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statCalls++
	s, ok := m.stats[participantID]
	if !ok {
		return &domain.ParticipantStats{}, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockSettlementRepo) RecordDecision(_ context.Context, s domain.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, s)
	return nil
}

type published struct {
	subject string
	data    interface{}
}

type mockPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, subject string, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, published{subject, data})
	return m.err
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) count(subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.subject == subject {
			n++
		}
	}
	return n
}

type mockCache struct {
	mu       sync.Mutex
	items    map[string][]byte
	counters map[string]int64
}

func newMockCache() *mockCache {
	return &mockCache{items: make(map[string][]byte), counters: make(map[string]int64)}
}

func (m *mockCache) Counter(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key], nil
}

func (m *mockCache) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

func (m *mockCache) GetJSON(_ context.Context, key string, v interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.items[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, v)
}

func (m *mockCache) SetJSON(_ context.Context, key string, v interface{}, _ time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = b
	return nil
}

func (m *mockCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

func (m *mockCache) DeletePattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			delete(m.items, k)
			n++
		}
	}
	return n, nil
}

func (m *mockCache) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[key]
	return ok
}

type invalidation struct{ program, participant int64 }

type mockInvalidator struct {
	mu    sync.Mutex
	calls []invalidation
	err   error
}

func (m *mockInvalidator) Invalidate(_ context.Context, programID, participantID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, invalidation{programID, participantID})
	return m.err
}

func (m *mockInvalidator) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// ---------- Helpers ----------

// clock is a settable time source shared by a test and the services under test.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func testConfig() *config.Config {
	return &config.Config{
		Attendance: config.AttendanceConfig{
			LateGrace:       15 * time.Minute,
			DefaultTokenTTL: 10 * time.Minute,
			MaxTokenTTL:     3 * time.Hour,
			CheckInBaseURL:  "https://app.example.com/attendance/check",
			Timezone:        "UTC",
		},
		Settlement: config.SettlementConfig{
			Concurrency: 4,
			CacheTTL:    time.Hour,
			Currency:    "KRW",
		},
	}
}

func durationPtr(d time.Duration) *time.Duration { return &d }
