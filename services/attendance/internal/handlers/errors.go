package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/diagnosis/checkin-refunds/pkg/logger"
	"github.com/diagnosis/checkin-refunds/services/attendance/internal/domain"
	"github.com/diagnosis/checkin-refunds/services/attendance/internal/refund"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Codes that do not come from domain errors.
const (
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeInternalError = "INTERNAL_ERROR"
	CodePolicyNoMatch = "POLICY_NO_MATCH"
	CodeInvalidPolicy = "INVALID_POLICY"
)

func writeError(w http.ResponseWriter, statusCode int, message, code string) {
	writeErrorWithDetails(w, statusCode, message, code, "")
}

func writeErrorWithDetails(w http.ResponseWriter, statusCode int, message, code, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code, Details: details}); err != nil {
		logger.Error("Failed to encode error response", "error", err)
	}
}

func statusFor(code string) int {
	switch code {
	case domain.CodeInvalidInput:
		return http.StatusBadRequest
	case domain.CodeNotFound, domain.CodeInvalidToken:
		return http.StatusNotFound
	case domain.CodeExpiredToken:
		return http.StatusGone
	case domain.CodeNotParticipant, domain.CodeParticipantInactive:
		return http.StatusForbidden
	case domain.CodeStartTimeRequired:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps an error returned by a service onto the response.
// Only domain errors reach the client verbatim.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	switch {
	case errors.As(err, &de):
		writeErrorWithDetails(w, statusFor(de.Code), de.Message, de.Code, de.Reason)
	case errors.Is(err, refund.ErrPolicyNoMatch):
		logger.ErrorContext(r.Context(), "Refund policy matched no tier", "error", err)
		writeError(w, http.StatusInternalServerError, "Refund policy table has no matching tier", CodePolicyNoMatch)
	case errors.Is(err, refund.ErrInvalidPolicy):
		logger.ErrorContext(r.Context(), "Refund policy table is invalid", "error", err)
		writeError(w, http.StatusInternalServerError, "Refund policy table is invalid", CodeInvalidPolicy)
	default:
		logger.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "Internal server error", CodeInternalError)
	}
}
