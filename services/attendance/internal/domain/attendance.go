package domain

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"time"
)

type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusLate    AttendanceStatus = "late"
	StatusAbsent  AttendanceStatus = "absent"
	StatusExcused AttendanceStatus = "excused"
)

func ParseAttendanceStatus(s string) (AttendanceStatus, bool) {
	switch AttendanceStatus(strings.ToLower(s)) {
	case StatusPresent, StatusLate, StatusAbsent, StatusExcused:
		return AttendanceStatus(strings.ToLower(s)), true
	default:
		return "", false
	}
}

// CheckedIn reports whether the status counts as a completed check-in.
func (s AttendanceStatus) CheckedIn() bool {
	return s == StatusPresent || s == StatusLate
}

// MarshalJSON emits the upper-case form the check-in contract uses.
func (s AttendanceStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.ToUpper(string(s)))
}

func (s *AttendanceStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, ok := ParseAttendanceStatus(raw)
	if !ok {
		return Invalid("unknown attendance status " + raw)
	}
	*s = parsed
	return nil
}

type CheckInMethod string

const (
	MethodQR     CheckInMethod = "qr"
	MethodManual CheckInMethod = "manual"
)

// AttendanceRecord is keyed by (OccurrenceID, ParticipantID). No record at
// settlement time means ABSENT.
type AttendanceRecord struct {
	OccurrenceID  int64            `json:"sessionOccurrenceId"`
	ParticipantID int64            `json:"participantId"`
	Status        AttendanceStatus `json:"status"`
	CheckedAt     *time.Time       `json:"checkedAt,omitempty"`
	Method        CheckInMethod    `json:"method"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// CheckInOutcome is the successful result of a check-in attempt, including
// the idempotent repeat case.
type CheckInOutcome struct {
	ProgramID        int64            `json:"-"`
	OccurrenceID     int64            `json:"sessionOccurrenceId"`
	ParticipantID    int64            `json:"participantId"`
	Status           AttendanceStatus `json:"status"`
	CheckedAt        *time.Time       `json:"checkedAt,omitempty"`
	Method           CheckInMethod    `json:"method"`
	AlreadyCheckedIn bool             `json:"alreadyCheckedIn"`
}

// CheckInRequest is either a TokenCheckIn or a DirectCheckIn.
type CheckInRequest interface {
	isCheckInRequest()
}

// TokenCheckIn is a scanned QR code; the participant comes from the caller's identity.
type TokenCheckIn struct {
	Token string
}

// DirectCheckIn names the occurrence and participant explicitly (staff path).
type DirectCheckIn struct {
	OccurrenceID  int64
	ParticipantID int64
}

func (TokenCheckIn) isCheckInRequest()  {}
func (DirectCheckIn) isCheckInRequest() {}

type checkInBody struct {
	Token               *string `json:"token"`
	SessionOccurrenceID *int64  `json:"sessionOccurrenceId"`
	ParticipantID       *int64  `json:"participantId"`
}

// DecodeCheckInRequest reads exactly one of the two request shapes from r.
// Mixed or partial bodies are rejected.
func DecodeCheckInRequest(r io.Reader) (CheckInRequest, error) {
	raw, err := io.ReadAll(io.LimitReader(r, 1<<16))
	if err != nil {
		return nil, Invalid("could not read request body")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var body checkInBody
	if err := dec.Decode(&body); err != nil {
		return nil, Invalid("invalid JSON format")
	}

	hasDirect := body.SessionOccurrenceID != nil || body.ParticipantID != nil
	switch {
	case body.Token != nil && hasDirect:
		return nil, Invalid("send either token or sessionOccurrenceId/participantId, not both")
	case body.Token != nil:
		token := strings.TrimSpace(*body.Token)
		if token == "" {
			return nil, Invalid("token is required")
		}
		return TokenCheckIn{Token: token}, nil
	case hasDirect:
		if body.SessionOccurrenceID == nil || body.ParticipantID == nil ||
			*body.SessionOccurrenceID <= 0 || *body.ParticipantID <= 0 {
			return nil, Invalid("sessionOccurrenceId and participantId are both required")
		}
		return DirectCheckIn{OccurrenceID: *body.SessionOccurrenceID, ParticipantID: *body.ParticipantID}, nil
	default:
		return nil, Invalid("token or sessionOccurrenceId/participantId is required")
	}
}

type CheckInRes struct {
	Status           AttendanceStatus `json:"status"`
	AlreadyCheckedIn bool             `json:"alreadyCheckedIn"`
	CheckedAt        *time.Time       `json:"checkedAt,omitempty"`
	SessionID        int64            `json:"sessionOccurrenceId"`
}

// CorrectionReq is a staff override of one attendance record.
type CorrectionReq struct {
	Status AttendanceStatus `json:"status"`
}

func (r *CorrectionReq) Validate() error {
	if _, ok := ParseAttendanceStatus(string(r.Status)); !ok {
		return Invalid("status must be one of PRESENT, LATE, ABSENT, EXCUSED")
	}
	return nil
}
