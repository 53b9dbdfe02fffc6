package domain

import (
	"time"

	"github.com/diagnosis/checkin-refunds/services/attendance/internal/refund"
)

// ProgramPolicy is a program's refund configuration. Table is validated when
// the policy is loaded.
type ProgramPolicy struct {
	ProgramID         int64              `json:"programId"`
	DepositAmount     int64              `json:"depositAmount"`
	PolicyType        refund.PolicyType  `json:"policyType"`
	Table             refund.PolicyTable `json:"table"`
	PerSession        bool               `json:"perSession"`
	DepositPerSession int64              `json:"depositPerSession"`
	RequireReport     bool               `json:"requireReport"`
	SurveyRequired    bool               `json:"surveyRequired"`

	// TrackApprovals makes reviewed report counts authoritative over submissions.
	TrackApprovals bool `json:"trackApprovals"`
}

// ParticipantStats is everything settlement reads about one participant,
// one entry per occurrence of the program.
type ParticipantStats struct {
	Sessions        []refund.SessionOutcome
	SurveySubmitted bool
}

func (s ParticipantStats) Attended() int {
	n := 0
	for _, o := range s.Sessions {
		if o.Attended {
			n++
		}
	}
	return n
}

func (s ParticipantStats) Submitted() int {
	n := 0
	for _, o := range s.Sessions {
		if o.ReportSubmitted {
			n++
		}
	}
	return n
}

func (s ParticipantStats) Approved() int {
	n := 0
	for _, o := range s.Sessions {
		if o.ReportApproved != nil && *o.ReportApproved {
			n++
		}
	}
	return n
}

// Settlement is the refund outcome for one participant. Exactly one of
// Decision and PerSession is set, depending on the program's policy.
type Settlement struct {
	ProgramID     int64                    `json:"programId"`
	ParticipantID int64                    `json:"participantId"`
	RefundAmount  int64                    `json:"refundAmount"`
	Currency      string                   `json:"currency"`
	Eligible      bool                     `json:"eligible"`
	Decision      *refund.Decision         `json:"decision,omitempty"`
	PerSession    *refund.PerSessionResult `json:"perSession,omitempty"`
	SettledAt     time.Time                `json:"settledAt"`
}

// RefundRate is the aggregate rate, or nil for per-session settlements.
func (s *Settlement) RefundRate() *int {
	if s.Decision == nil {
		return nil
	}
	rate := s.Decision.RefundRate
	return &rate
}

type ProgramSettlement struct {
	ProgramID   int64        `json:"programId"`
	Settlements []Settlement `json:"settlements"`
	TotalRefund int64        `json:"totalRefund"`
}
