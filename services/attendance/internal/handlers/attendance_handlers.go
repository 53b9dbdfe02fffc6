package handlers

import (
	"net/http"

	"github.com/diagnosis/checkin-refunds/services/attendance/internal/domain"
)

// GenerateQR issues a fresh check-in token, replacing any active one.
func (h *Handlers) GenerateQR(w http.ResponseWriter, r *http.Request) {
	var req domain.IssueTokenReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format", domain.CodeInvalidInput)
		return
	}

	res, err := h.tokens.Issue(r.Context(), &req, getClaims(r).Sub)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// RevokeQR closes check-in for an occurrence without issuing a new token.
func (h *Handlers) RevokeQR(w http.ResponseWriter, r *http.Request) {
	var req domain.RevokeTokenReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format", domain.CodeInvalidInput)
		return
	}

	if _, err := h.tokens.Revoke(r.Context(), req.SessionOccurrenceID, getClaims(r).Sub); err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListTokens(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid occurrence ID", domain.CodeInvalidInput)
		return
	}

	tokens, err := h.tokens.ListTokens(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if tokens == nil {
		tokens = []domain.CheckInToken{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"tokens": tokens})
}

// CheckIn accepts either a scanned token or, from staff, an explicit
// occurrence and participant. A repeat is a 200 with alreadyCheckedIn set.
func (h *Handlers) CheckIn(w http.ResponseWriter, r *http.Request) {
	req, err := domain.DecodeCheckInRequest(r.Body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	claims := getClaims(r)

	var out *domain.CheckInOutcome
	switch req := req.(type) {
	case domain.TokenCheckIn:
		out, err = h.checkIns.CheckInWithToken(r.Context(), req.Token, claims.Sub)
	case domain.DirectCheckIn:
		if !claims.IsStaff() {
			writeError(w, http.StatusForbidden, "Staff access required for direct check-in", CodeForbidden)
			return
		}
		out, err = h.checkIns.CheckInDirect(r.Context(), req.OccurrenceID, req.ParticipantID)
	default:
		writeError(w, http.StatusBadRequest, "Unsupported check-in request", domain.CodeInvalidInput)
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.CheckInRes{
		Status:           out.Status,
		AlreadyCheckedIn: out.AlreadyCheckedIn,
		CheckedAt:        out.CheckedAt,
		SessionID:        out.OccurrenceID,
	})
}

// CorrectAttendance lets staff overwrite one record, including EXCUSED and ABSENT.
func (h *Handlers) CorrectAttendance(w http.ResponseWriter, r *http.Request) {
	occurrenceID, ok := parseID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid occurrence ID", domain.CodeInvalidInput)
		return
	}
	participantID, ok := parseID(r, "pid")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid participant ID", domain.CodeInvalidInput)
		return
	}

	var req domain.CorrectionReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "status must be one of PRESENT, LATE, ABSENT, EXCUSED", domain.CodeInvalidInput)
		return
	}
	if err := req.Validate(); err != nil {
		writeServiceError(w, r, err)
		return
	}

	rec, err := h.checkIns.Correct(r.Context(), occurrenceID, participantID, req.Status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid occurrence ID", domain.CodeInvalidInput)
		return
	}

	records, err := h.checkIns.ListRecords(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []domain.AttendanceRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

func (h *Handlers) ListOccurrences(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid program ID", domain.CodeInvalidInput)
		return
	}

	occurrences, err := h.checkIns.ListOccurrences(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if occurrences == nil {
		occurrences = []domain.Occurrence{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"occurrences": occurrences})
}
