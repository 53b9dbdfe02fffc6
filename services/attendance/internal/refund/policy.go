// Package refund turns attendance and report statistics into deposit refund
// decisions. Everything here is pure: no I/O, no clock, safe to call
// concurrently for many participants.
package refund

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrPolicyNoMatch means no tier accepted the input. A validated table
	// always ends in a zero-threshold tier, so this is a data bug and must fail
	// the settlement rather than read as "not eligible".
	ErrPolicyNoMatch = errors.New("refund policy: no tier matched")
	ErrInvalidPolicy = errors.New("refund policy: invalid table")
	ErrInvalidInput  = errors.New("refund: invalid input")
)

type PolicyType string

const (
	PolicyOneTime             PolicyType = "one_time"
	PolicyAttendanceOnly      PolicyType = "attendance_only"
	PolicyAttendanceAndReport PolicyType = "attendance_and_report"
)

func ParsePolicyType(s string) (PolicyType, bool) {
	switch PolicyType(s) {
	case PolicyOneTime, PolicyAttendanceOnly, PolicyAttendanceAndReport:
		return PolicyType(s), true
	default:
		return "", false
	}
}

// PolicyCriteria is one tier: meeting every threshold earns RefundRate percent.
type PolicyCriteria struct {
	MinAttendanceRate int    `json:"minAttendanceRate"`
	MinReportRate     int    `json:"minReportRate,omitempty"`
	RefundRate        int    `json:"refundRate"`
	Label             string `json:"label"`
}

func (c PolicyCriteria) isFloor() bool {
	return c.MinAttendanceRate == 0 && c.MinReportRate == 0
}

// PolicyTable is an ordered staircase of tiers ending in a 0/0 floor.
type PolicyTable []PolicyCriteria

// Validate checks a table once, when it is loaded. Evaluation assumes a
// validated table and does not repeat these checks.
func (t PolicyTable) Validate(pt PolicyType) error {
	if _, ok := ParsePolicyType(string(pt)); !ok {
		return fmt.Errorf("%w: unknown policy type %q", ErrInvalidPolicy, pt)
	}
	if len(t) == 0 {
		return fmt.Errorf("%w: no tiers", ErrInvalidPolicy)
	}

	type pair struct{ att, rep int }
	seen := make(map[pair]bool, len(t))
	for i, c := range t {
		if !inPercent(c.MinAttendanceRate) || !inPercent(c.MinReportRate) || !inPercent(c.RefundRate) {
			return fmt.Errorf("%w: tier %d has a rate outside 0-100", ErrInvalidPolicy, i)
		}
		if pt != PolicyAttendanceAndReport && c.MinReportRate != 0 {
			return fmt.Errorf("%w: tier %d sets minReportRate on a %s policy", ErrInvalidPolicy, i, pt)
		}
		key := pair{c.MinAttendanceRate, c.MinReportRate}
		if seen[key] {
			return fmt.Errorf("%w: tier %d duplicates thresholds %d/%d", ErrInvalidPolicy, i, key.att, key.rep)
		}
		seen[key] = true

		if i == 0 {
			continue
		}
		prev := t[i-1]
		switch pt {
		case PolicyAttendanceAndReport:
			// equal attendance thresholds are allowed; table order breaks the tie
			if c.MinAttendanceRate > prev.MinAttendanceRate {
				return fmt.Errorf("%w: tier %d raises minAttendanceRate", ErrInvalidPolicy, i)
			}
		default:
			if c.MinAttendanceRate >= prev.MinAttendanceRate {
				return fmt.Errorf("%w: tier %d does not lower minAttendanceRate", ErrInvalidPolicy, i)
			}
			if c.RefundRate > prev.RefundRate {
				return fmt.Errorf("%w: tier %d raises refundRate", ErrInvalidPolicy, i)
			}
		}
	}

	if !t[len(t)-1].isFloor() {
		return fmt.Errorf("%w: last tier must have zero thresholds", ErrInvalidPolicy)
	}
	return nil
}

// sorted returns a copy ordered by MinAttendanceRate descending. The sort is
// stable so tiers sharing a threshold keep their table order.
func (t PolicyTable) sorted() PolicyTable {
	out := make(PolicyTable, len(t))
	copy(out, t)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MinAttendanceRate > out[j].MinAttendanceRate
	})
	return out
}

func (t PolicyTable) floor() (PolicyCriteria, bool) {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].isFloor() {
			return t[i], true
		}
	}
	return PolicyCriteria{}, false
}

// DefaultTable is used for programs that never configured their own tiers.
func DefaultTable(pt PolicyType) PolicyTable {
	switch pt {
	case PolicyOneTime:
		return PolicyTable{
			{MinAttendanceRate: 100, RefundRate: 100, Label: "참석"},
			{MinAttendanceRate: 0, RefundRate: 0, Label: "불참"},
		}
	case PolicyAttendanceAndReport:
		return PolicyTable{
			{MinAttendanceRate: 100, MinReportRate: 100, RefundRate: 100, Label: "전체 출석 및 보고서 제출"},
			{MinAttendanceRate: 80, MinReportRate: 80, RefundRate: 80, Label: "80% 이상"},
			{MinAttendanceRate: 60, MinReportRate: 60, RefundRate: 50, Label: "60% 이상"},
			{MinAttendanceRate: 0, MinReportRate: 0, RefundRate: 0, Label: "미달"},
		}
	default:
		return PolicyTable{
			{MinAttendanceRate: 100, RefundRate: 100, Label: "전체 출석"},
			{MinAttendanceRate: 80, RefundRate: 80, Label: "80% 이상 출석"},
			{MinAttendanceRate: 60, RefundRate: 50, Label: "60% 이상 출석"},
			{MinAttendanceRate: 0, RefundRate: 0, Label: "미달"},
		}
	}
}

func inPercent(v int) bool {
	return v >= 0 && v <= 100
}
