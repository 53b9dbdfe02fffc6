package domain

import "time"

// CheckInToken is a short-lived capability bound to one session occurrence.
// Possession grants the right to attempt a check-in; it says nothing about who
// is checking in. Replaced tokens are deactivated, never deleted.
type CheckInToken struct {
	ID           int64     `json:"id"`
	Token        string    `json:"token"`
	OccurrenceID int64     `json:"sessionOccurrenceId"`
	ValidFrom    time.Time `json:"validFrom"`
	ValidUntil   time.Time `json:"validUntil"`
	IsActive     bool      `json:"isActive"`
	CreatedBy    *int64    `json:"createdBy,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UsableAt checks the token at now. Both window bounds are inclusive.
func (t *CheckInToken) UsableAt(now time.Time) error {
	if !t.IsActive {
		return ErrTokenInactive
	}
	if now.Before(t.ValidFrom) || now.After(t.ValidUntil) {
		return ErrTokenOutOfWindow
	}
	return nil
}

type IssueTokenReq struct {
	SessionOccurrenceID int64 `json:"sessionOccurrenceId"`
	ValidMinutes        int   `json:"validMinutes"`
}

func (r *IssueTokenReq) Validate() error {
	if r.SessionOccurrenceID <= 0 {
		return Invalid("sessionOccurrenceId is required")
	}
	if r.ValidMinutes < 0 {
		return Invalid("validMinutes must not be negative")
	}
	return nil
}

type IssueTokenRes struct {
	Token      string    `json:"token"`
	CheckInURL string    `json:"checkInUrl"`
	ValidFrom  time.Time `json:"validFrom"`
	ValidUntil time.Time `json:"validUntil"`
}

type RevokeTokenReq struct {
	SessionOccurrenceID int64 `json:"sessionOccurrenceId"`
}
