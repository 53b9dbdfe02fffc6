package refund

import "fmt"

// SessionOutcome is what settlement knows about one occurrence for one participant.
type SessionOutcome struct {
	OccurrenceID    int64 `json:"sessionOccurrenceId"`
	Attended        bool  `json:"attended"`
	ReportSubmitted bool  `json:"reportSubmitted"`
	// ReportApproved is nil while unreviewed. Only an explicit false rejects.
	ReportApproved *bool `json:"reportApproved,omitempty"`
}

type PerSessionInput struct {
	DepositPerSession int64            `json:"depositPerSession"`
	Sessions          []SessionOutcome `json:"sessions"`
	RequireReport     bool             `json:"requireReport"`
	Survey            SurveyGate       `json:"survey"`
}

type SessionRefund struct {
	OccurrenceID int64  `json:"sessionOccurrenceId"`
	Amount       int64  `json:"amount"`
	Refunded     bool   `json:"refunded"`
	Reason       string `json:"reason"`
}

type PerSessionResult struct {
	TotalRefund int64           `json:"totalRefund"`
	Sessions    []SessionRefund `json:"sessions"`
	Eligible    bool            `json:"eligible"`
	Reason      string          `json:"reason"`
}

const (
	ReasonAbsent         = "결석 (absent)"
	ReasonReportMissing  = "보고서 미제출 (report missing)"
	ReasonReportRejected = "보고서 미승인 (report rejected)"
	ReasonRefunded       = "환급 (refunded)"
)

// EvaluatePerSession refunds each session on its own merits and sums the
// amounts. The total is never derived from a rate, so it always equals the
// sum of the listed sessions.
func EvaluatePerSession(in PerSessionInput) (PerSessionResult, error) {
	if in.DepositPerSession < 0 {
		return PerSessionResult{}, fmt.Errorf("%w: negative deposit per session", ErrInvalidInput)
	}

	res := PerSessionResult{Sessions: make([]SessionRefund, 0, len(in.Sessions))}

	if in.Survey.Blocks() {
		for _, s := range in.Sessions {
			res.Sessions = append(res.Sessions, SessionRefund{OccurrenceID: s.OccurrenceID, Reason: ReasonSurveyMissing})
		}
		res.Reason = ReasonSurveyMissing
		return res, nil
	}

	refunded := 0
	for _, s := range in.Sessions {
		sr := SessionRefund{OccurrenceID: s.OccurrenceID}
		switch {
		case !s.Attended:
			sr.Reason = ReasonAbsent
		case s.ReportApproved != nil && !*s.ReportApproved:
			// a review outcome implies a submission, whatever ReportSubmitted says
			sr.Reason = ReasonReportRejected
		case in.RequireReport && !s.ReportSubmitted:
			sr.Reason = ReasonReportMissing
		default:
			sr.Amount = in.DepositPerSession
			sr.Refunded = true
			sr.Reason = ReasonRefunded
			refunded++
		}
		res.TotalRefund += sr.Amount
		res.Sessions = append(res.Sessions, sr)
	}

	res.Eligible = res.TotalRefund > 0
	res.Reason = fmt.Sprintf("%d/%d sessions refunded (%s)", refunded, len(in.Sessions), FormatAmount(res.TotalRefund))
	return res, nil
}
