package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/checkin-refunds/pkg/auth"
	"github.com/diagnosis/checkin-refunds/pkg/config"
	"github.com/diagnosis/checkin-refunds/pkg/events"
	"github.com/diagnosis/checkin-refunds/services/attendance/internal/domain"
	"github.com/diagnosis/checkin-refunds/services/attendance/internal/handlers"
	"github.com/diagnosis/checkin-refunds/services/attendance/internal/refund"
)

const secret = "test-secret"

// ---------- Mocks ----------

type mockTokenService struct {
	issued   int
	issueErr error
	revoked  int64
}

func (m *mockTokenService) Issue(_ context.Context, req *domain.IssueTokenReq, issuedBy int64) (*domain.IssueTokenRes, error) {
	if m.issueErr != nil {
		return nil, m.issueErr
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m.issued++
	now := time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC)
	token := fmt.Sprintf("tok-%d", m.issued)
	return &domain.IssueTokenRes{
		Token:      token,
		CheckInURL: "https://app.example.com/attendance/check?token=" + token,
		ValidFrom:  now,
		ValidUntil: now.Add(10 * time.Minute),
	}, nil
}

func (m *mockTokenService) Validate(context.Context, string) (*domain.CheckInToken, error) {
	return nil, domain.ErrInvalidToken
}

func (m *mockTokenService) Revoke(_ context.Context, occurrenceID, _ int64) (int64, error) {
	m.revoked = occurrenceID
	return 1, nil
}

func (m *mockTokenService) ListTokens(context.Context, int64) ([]domain.CheckInToken, error) {
	return nil, nil
}

type mockCheckInService struct {
	checkedIn map[string]bool // "occurrence:participant"
	tokenErr  error
	corrected domain.AttendanceStatus
}

func (m *mockCheckInService) record(occurrenceID, participantID int64, method domain.CheckInMethod) *domain.CheckInOutcome {
	key := fmt.Sprintf("%d:%d", occurrenceID, participantID)
	at := time.Date(2026, 3, 2, 19, 3, 0, 0, time.UTC)
	out := &domain.CheckInOutcome{
		OccurrenceID:     occurrenceID,
		ParticipantID:    participantID,
		Status:           domain.StatusPresent,
		CheckedAt:        &at,
		Method:           method,
		AlreadyCheckedIn: m.checkedIn[key],
	}
	m.checkedIn[key] = true
	return out
}

func (m *mockCheckInService) CheckInWithToken(_ context.Context, token string, userID int64) (*domain.CheckInOutcome, error) {
	if m.tokenErr != nil {
		return nil, m.tokenErr
	}
	return m.record(7, userID, domain.MethodQR), nil
}

func (m *mockCheckInService) CheckInDirect(_ context.Context, occurrenceID, participantID int64) (*domain.CheckInOutcome, error) {
	return m.record(occurrenceID, participantID, domain.MethodManual), nil
}

func (m *mockCheckInService) Correct(_ context.Context, occurrenceID, participantID int64, status domain.AttendanceStatus) (*domain.AttendanceRecord, error) {
	m.corrected = status
	return &domain.AttendanceRecord{OccurrenceID: occurrenceID, ParticipantID: participantID, Status: status, Method: domain.MethodManual}, nil
}

func (m *mockCheckInService) ListRecords(context.Context, int64) ([]domain.AttendanceRecord, error) {
	return nil, nil
}

func (m *mockCheckInService) ListOccurrences(context.Context, int64) ([]domain.Occurrence, error) {
	return nil, domain.ErrNotFound
}

type mockSettlementService struct {
	programErr error
}

func (m *mockSettlementService) SettleParticipant(_ context.Context, programID, participantID int64) (*domain.Settlement, error) {
	return &domain.Settlement{ProgramID: programID, ParticipantID: participantID, RefundAmount: 80000, Eligible: true}, nil
}

func (m *mockSettlementService) SettleProgram(_ context.Context, programID int64) (*domain.ProgramSettlement, error) {
	if m.programErr != nil {
		return nil, m.programErr
	}
	return &domain.ProgramSettlement{ProgramID: programID}, nil
}

func (m *mockSettlementService) Invalidate(context.Context, int64, int64) error { return nil }

func (m *mockSettlementService) HandleInvalidation(*events.Message) {}

// ---------- Helpers ----------

type testServer struct {
	*httptest.Server
	tokens      *mockTokenService
	checkIns    *mockCheckInService
	settlements *mockSettlementService
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		tokens:      &mockTokenService{},
		checkIns:    &mockCheckInService{checkedIn: make(map[string]bool)},
		settlements: &mockSettlementService{},
	}
	cfg := &config.Config{Auth: config.AuthConfig{JWTSecret: secret}}
	h := handlers.New(ts.tokens, ts.checkIns, ts.settlements, cfg)

	r := chi.NewRouter()
	h.Mount(r, nil)
	ts.Server = httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func bearer(t *testing.T, sub int64, role string) string {
	t.Helper()
	tok, err := auth.NewAccessToken(sub, "user@example.com", role, secret, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + tok
}

func do(t *testing.T, method, url, authz string, body interface{}, expectedStatus int) map[string]interface{} {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		t.Fatalf("%s %s: expected status %d, got %d", method, url, expectedStatus, resp.StatusCode)
	}
	out := map[string]interface{}{}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return out
}

// ---------- Tests ----------

func TestGenerateQR(t *testing.T) {
	ts := setupTestServer(t)
	staff := bearer(t, 1, auth.RoleStaff)

	res := do(t, http.MethodPost, ts.URL+"/attendance/qr/generate", staff,
		map[string]interface{}{"sessionOccurrenceId": 7, "validMinutes": 10}, http.StatusCreated)
	if res["token"] != "tok-1" || res["checkInUrl"] == "" || res["validUntil"] == nil {
		t.Fatalf("unexpected body %v", res)
	}

	res = do(t, http.MethodPost, ts.URL+"/attendance/qr/generate", staff,
		map[string]interface{}{"validMinutes": 10}, http.StatusBadRequest)
	if res["code"] != domain.CodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %v", res)
	}
}

func TestGenerateQR_Auth(t *testing.T) {
	ts := setupTestServer(t)
	body := map[string]interface{}{"sessionOccurrenceId": 7}

	do(t, http.MethodPost, ts.URL+"/attendance/qr/generate", "", body, http.StatusUnauthorized)
	do(t, http.MethodPost, ts.URL+"/attendance/qr/generate", "Bearer garbage", body, http.StatusUnauthorized)
	do(t, http.MethodPost, ts.URL+"/attendance/qr/generate", bearer(t, 2, auth.RoleMember), body, http.StatusForbidden)
	do(t, http.MethodPost, ts.URL+"/attendance/qr/generate", bearer(t, 3, auth.RoleAdmin), body, http.StatusCreated)

	if ts.tokens.issued != 1 {
		t.Fatalf("only the admin request should issue, got %d", ts.tokens.issued)
	}
}

func TestRevokeQR(t *testing.T) {
	ts := setupTestServer(t)
	do(t, http.MethodPost, ts.URL+"/attendance/qr/revoke", bearer(t, 1, auth.RoleStaff),
		map[string]interface{}{"sessionOccurrenceId": 7}, http.StatusNoContent)
	if ts.tokens.revoked != 7 {
		t.Fatalf("expected occurrence 7 revoked, got %d", ts.tokens.revoked)
	}
}

func TestCheckIn_TokenIsIdempotent(t *testing.T) {
	ts := setupTestServer(t)
	member := bearer(t, 10, auth.RoleMember)

	first := do(t, http.MethodPost, ts.URL+"/attendance/check", member, map[string]string{"token": "abc"}, http.StatusOK)
	if first["status"] != "PRESENT" || first["alreadyCheckedIn"] != false {
		t.Fatalf("unexpected first response %v", first)
	}

	second := do(t, http.MethodPost, ts.URL+"/attendance/check", member, map[string]string{"token": "abc"}, http.StatusOK)
	if second["alreadyCheckedIn"] != true || second["status"] != "PRESENT" {
		t.Fatalf("repeat must be a success with alreadyCheckedIn, got %v", second)
	}
}

func TestCheckIn_DirectRequiresStaff(t *testing.T) {
	ts := setupTestServer(t)
	body := map[string]int64{"sessionOccurrenceId": 7, "participantId": 10}

	res := do(t, http.MethodPost, ts.URL+"/attendance/check", bearer(t, 10, auth.RoleMember), body, http.StatusForbidden)
	if res["code"] != handlers.CodeForbidden {
		t.Fatalf("expected FORBIDDEN, got %v", res)
	}
	res = do(t, http.MethodPost, ts.URL+"/attendance/check", bearer(t, 1, auth.RoleStaff), body, http.StatusOK)
	if res["sessionOccurrenceId"] != float64(7) {
		t.Fatalf("unexpected body %v", res)
	}
}

func TestCheckIn_BadBodies(t *testing.T) {
	ts := setupTestServer(t)
	member := bearer(t, 10, auth.RoleMember)

	for _, body := range []string{
		`{"token":"abc","sessionOccurrenceId":7,"participantId":10}`,
		`{}`,
		`{"sessionOccurrenceId":7}`,
		`not json`,
	} {
		res := do(t, http.MethodPost, ts.URL+"/attendance/check", member, body, http.StatusBadRequest)
		if res["code"] != domain.CodeInvalidInput {
			t.Fatalf("body %s: expected INVALID_INPUT, got %v", body, res)
		}
	}
}

func TestCheckIn_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unknown token", domain.ErrInvalidToken, http.StatusNotFound, domain.CodeInvalidToken},
		{"replaced token", domain.ErrTokenInactive, http.StatusGone, domain.CodeExpiredToken},
		{"outside window", domain.ErrTokenOutOfWindow, http.StatusGone, domain.CodeExpiredToken},
		{"not a participant", domain.ErrNotParticipant, http.StatusForbidden, domain.CodeNotParticipant},
		{"inactive member", domain.ErrParticipantInactive, http.StatusForbidden, domain.CodeParticipantInactive},
		{"no start time", domain.ErrStartTimeRequired, http.StatusConflict, domain.CodeStartTimeRequired},
		{"wrapped domain error", fmt.Errorf("lookup: %w", domain.ErrOccurrenceNotFound), http.StatusNotFound, domain.CodeNotFound},
		{"store failure", fmt.Errorf("failed to record attendance: connection reset"), http.StatusInternalServerError, handlers.CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestServer(t)
			ts.checkIns.tokenErr = tt.err

			res := do(t, http.MethodPost, ts.URL+"/attendance/check", bearer(t, 10, auth.RoleMember),
				map[string]string{"token": "abc"}, tt.wantStatus)
			if res["code"] != tt.wantCode {
				t.Fatalf("expected code %s, got %v", tt.wantCode, res)
			}
		})
	}
}

func TestExpiredTokenCarriesReason(t *testing.T) {
	ts := setupTestServer(t)
	ts.checkIns.tokenErr = domain.ErrTokenInactive

	res := do(t, http.MethodPost, ts.URL+"/attendance/check", bearer(t, 10, auth.RoleMember),
		map[string]string{"token": "abc"}, http.StatusGone)
	if res["details"] != "INACTIVE" {
		t.Fatalf("expected INACTIVE detail, got %v", res)
	}
}

func TestCorrectAttendance(t *testing.T) {
	ts := setupTestServer(t)
	staff := bearer(t, 1, auth.RoleStaff)
	url := ts.URL + "/attendance/occurrences/7/participants/10"

	res := do(t, http.MethodPatch, url, staff, map[string]string{"status": "EXCUSED"}, http.StatusOK)
	if res["status"] != "EXCUSED" || ts.checkIns.corrected != domain.StatusExcused {
		t.Fatalf("unexpected body %v", res)
	}

	do(t, http.MethodPatch, url, staff, map[string]string{"status": "ON_LEAVE"}, http.StatusBadRequest)
	do(t, http.MethodPatch, ts.URL+"/attendance/occurrences/x/participants/10", staff, map[string]string{"status": "LATE"}, http.StatusBadRequest)
	do(t, http.MethodPatch, url, bearer(t, 10, auth.RoleMember), map[string]string{"status": "PRESENT"}, http.StatusForbidden)
}

func TestListRecords_EmptyIsArray(t *testing.T) {
	ts := setupTestServer(t)
	res := do(t, http.MethodGet, ts.URL+"/attendance/occurrences/7/records", bearer(t, 1, auth.RoleStaff), nil, http.StatusOK)
	if records, ok := res["records"].([]interface{}); !ok || len(records) != 0 {
		t.Fatalf("expected an empty array, got %v", res)
	}
}

func TestSettlements(t *testing.T) {
	ts := setupTestServer(t)
	staff := bearer(t, 1, auth.RoleStaff)

	res := do(t, http.MethodGet, ts.URL+"/settlements/programs/1/participants/10", staff, nil, http.StatusOK)
	if res["refundAmount"] != float64(80000) || res["eligible"] != true {
		t.Fatalf("unexpected settlement %v", res)
	}

	do(t, http.MethodPost, ts.URL+"/settlements/programs/1", staff, nil, http.StatusOK)

	ts.settlements.programErr = fmt.Errorf("settle participant 4: %w", refund.ErrPolicyNoMatch)
	res = do(t, http.MethodPost, ts.URL+"/settlements/programs/1", staff, nil, http.StatusInternalServerError)
	if res["code"] != handlers.CodePolicyNoMatch {
		t.Fatalf("expected POLICY_NO_MATCH, got %v", res)
	}

	ts.settlements.programErr = domain.ErrPolicyNotConfigured
	do(t, http.MethodPost, ts.URL+"/settlements/programs/1", staff, nil, http.StatusNotFound)

	do(t, http.MethodGet, ts.URL+"/settlements/programs/1/participants/10", bearer(t, 10, auth.RoleMember), nil, http.StatusForbidden)
}
