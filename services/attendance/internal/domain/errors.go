package domain

// Error codes shared with the HTTP layer. They are stable and safe to show to clients.
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeExpiredToken        = "EXPIRED_TOKEN"
	CodeNotParticipant      = "NOT_PARTICIPANT"
	CodeParticipantInactive = "PARTICIPANT_INACTIVE"
	CodeStartTimeRequired   = "START_TIME_REQUIRED"
)

// Error is an expected, user-facing outcome. Code selects the HTTP mapping;
// Reason refines it (e.g. why a token counts as expired).
type Error struct {
	Code    string
	Reason  string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches on Code, and on Reason too when the target names one, so
// errors.Is(ErrTokenInactive, ErrExpiredToken) holds.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

var (
	ErrInvalidInput = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrNotFound     = &Error{Code: CodeNotFound, Message: "not found"}

	ErrInvalidToken = &Error{
		Code:    CodeInvalidToken,
		Reason:  "NOT_FOUND",
		Message: "check-in code not recognised, please scan a fresh code",
	}
	ErrExpiredToken = &Error{
		Code:    CodeExpiredToken,
		Message: "check-in code has expired, ask staff to show a new one",
	}
	ErrTokenInactive = &Error{
		Code:    CodeExpiredToken,
		Reason:  "INACTIVE",
		Message: "check-in code was replaced, ask staff to show the new one",
	}
	ErrTokenOutOfWindow = &Error{
		Code:    CodeExpiredToken,
		Reason:  "OUT_OF_WINDOW",
		Message: "check-in code is outside its validity window",
	}

	ErrNotParticipant = &Error{
		Code:    CodeNotParticipant,
		Message: "you are not registered for this program, please contact staff",
	}
	ErrParticipantInactive = &Error{
		Code:    CodeParticipantInactive,
		Message: "your membership for this program is not active",
	}

	ErrOccurrenceNotFound  = &Error{Code: CodeNotFound, Reason: "OCCURRENCE", Message: "session not found"}
	ErrPolicyNotConfigured = &Error{Code: CodeNotFound, Reason: "POLICY", Message: "program has no refund policy"}
	ErrStartTimeRequired   = &Error{
		Code:    CodeStartTimeRequired,
		Message: "session has no start time, lateness cannot be determined",
	}
)

// Invalid builds an INVALID_INPUT error with a specific message.
func Invalid(message string) *Error {
	return &Error{Code: CodeInvalidInput, Message: message}
}
