package refund

import (
	"fmt"
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// SurveyGate blocks every refund while a required satisfaction survey is missing.
type SurveyGate struct {
	Required  bool `json:"required"`
	Submitted bool `json:"submitted"`
}

func (g SurveyGate) Blocks() bool {
	return g.Required && !g.Submitted
}

// DepositInput is the aggregate settlement input for one participant.
type DepositInput struct {
	DepositAmount int64       `json:"depositAmount"`
	PolicyType    PolicyType  `json:"policyType"`
	Table         PolicyTable `json:"table"`

	TotalSessions    int `json:"totalSessions"`
	AttendedSessions int `json:"attendedSessions"`
	// Attended is the only attendance signal for one-time programs.
	Attended bool `json:"attended"`

	SubmittedReports int `json:"submittedReports"`
	// ApprovedReports is nil when approval counts are not tracked. A non-nil
	// zero is a real count and still wins over SubmittedReports.
	ApprovedReports *int `json:"approvedReports,omitempty"`

	Survey SurveyGate `json:"survey"`
}

func (in DepositInput) validate() error {
	switch {
	case in.DepositAmount < 0:
		return fmt.Errorf("%w: negative deposit", ErrInvalidInput)
	case in.TotalSessions < 0 || in.AttendedSessions < 0 || in.SubmittedReports < 0:
		return fmt.Errorf("%w: negative count", ErrInvalidInput)
	case in.ApprovedReports != nil && *in.ApprovedReports < 0:
		return fmt.Errorf("%w: negative approved reports", ErrInvalidInput)
	case in.AttendedSessions > in.TotalSessions && in.PolicyType != PolicyOneTime:
		return fmt.Errorf("%w: attended %d of %d sessions", ErrInvalidInput, in.AttendedSessions, in.TotalSessions)
	}
	if _, ok := ParsePolicyType(string(in.PolicyType)); !ok {
		return fmt.Errorf("%w: unknown policy type %q", ErrInvalidInput, in.PolicyType)
	}
	return nil
}

// Decision is derived from its input and never mutated; settle again to change it.
type Decision struct {
	AttendanceRate int             `json:"attendanceRate"`
	ReportRate     int             `json:"reportRate"`
	RefundRate     int             `json:"refundRate"`
	RefundAmount   int64           `json:"refundAmount"`
	Eligible       bool            `json:"eligible"`
	MatchedPolicy  *PolicyCriteria `json:"matchedPolicy"`
	Reason         string          `json:"reason"`
}

const ReasonSurveyMissing = "만족도 조사 미제출 (satisfaction survey not submitted)"

// Evaluate picks the best tier the participant qualifies for and prices it.
// It returns ErrPolicyNoMatch only for tables that skipped Validate.
func Evaluate(in DepositInput) (Decision, error) {
	if err := in.validate(); err != nil {
		return Decision{}, err
	}

	if in.Survey.Blocks() {
		return Decision{
			AttendanceRate: attendanceRate(in),
			ReportRate:     reportRate(in),
			Reason:         ReasonSurveyMissing,
		}, nil
	}

	tiers := in.Table.sorted()

	if in.PolicyType == PolicyOneTime {
		return evaluateOneTime(in, tiers)
	}

	d := Decision{AttendanceRate: attendanceRate(in)}
	if in.PolicyType == PolicyAttendanceAndReport {
		d.ReportRate = reportRate(in)
	}

	for i := range tiers {
		tier := tiers[i]
		if d.AttendanceRate < tier.MinAttendanceRate {
			continue
		}
		if in.PolicyType == PolicyAttendanceAndReport && d.ReportRate < tier.MinReportRate {
			continue
		}
		return price(d, in.DepositAmount, tier), nil
	}
	return Decision{}, fmt.Errorf("%w: attendance %d%%, report %d%%", ErrPolicyNoMatch, d.AttendanceRate, d.ReportRate)
}

func evaluateOneTime(in DepositInput, tiers PolicyTable) (Decision, error) {
	if len(tiers) == 0 {
		return Decision{}, fmt.Errorf("%w: empty table", ErrPolicyNoMatch)
	}
	if in.Attended {
		return price(Decision{AttendanceRate: 100}, in.DepositAmount, tiers[0]), nil
	}
	floor, ok := tiers.floor()
	if !ok {
		return Decision{}, fmt.Errorf("%w: no zero-threshold tier", ErrPolicyNoMatch)
	}
	return price(Decision{}, in.DepositAmount, floor), nil
}

func price(d Decision, deposit int64, tier PolicyCriteria) Decision {
	matched := tier
	d.RefundRate = tier.RefundRate
	d.RefundAmount = percentOf(deposit, tier.RefundRate)
	d.Eligible = d.RefundAmount > 0
	d.MatchedPolicy = &matched
	d.Reason = describe(d, tier)
	return d
}

func attendanceRate(in DepositInput) int {
	if in.PolicyType == PolicyOneTime {
		if in.Attended {
			return 100
		}
		return 0
	}
	return ratio(in.AttendedSessions, in.TotalSessions)
}

func reportRate(in DepositInput) int {
	reports := in.SubmittedReports
	if in.ApprovedReports != nil {
		reports = *in.ApprovedReports
	}
	return ratio(reports, in.TotalSessions)
}

// ratio is part/total as a rounded percentage, 0 when total is 0.
func ratio(part, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

// percentOf rounds half up, in integer arithmetic.
func percentOf(amount int64, rate int) int64 {
	return (amount*int64(rate) + 50) / 100
}

var printer = message.NewPrinter(language.Korean)

// FormatAmount renders an amount with digit grouping, e.g. 80000 -> "80,000".
func FormatAmount(amount int64) string {
	return printer.Sprintf("%d", amount)
}

func describe(d Decision, tier PolicyCriteria) string {
	label := tier.Label
	if label == "" {
		label = fmt.Sprintf("%d%% tier", tier.MinAttendanceRate)
	}
	return fmt.Sprintf("%s: refund %d%% (%s)", label, d.RefundRate, FormatAmount(d.RefundAmount))
}
