package refund_test

import (
	"errors"
	"testing"

	"github.com/diagnosis/checkin-refunds/services/attendance/internal/refund"
)

func TestDefaultTables_AreValid(t *testing.T) {
	for _, pt := range []refund.PolicyType{refund.PolicyOneTime, refund.PolicyAttendanceOnly, refund.PolicyAttendanceAndReport} {
		if err := refund.DefaultTable(pt).Validate(pt); err != nil {
			t.Fatalf("default table for %s is invalid: %v", pt, err)
		}
	}
}

func TestPolicyTable_Validate(t *testing.T) {
	tests := []struct {
		name  string
		pt    refund.PolicyType
		table refund.PolicyTable
	}{
		{"empty", refund.PolicyAttendanceOnly, nil},
		{"unknown type", refund.PolicyType("weekly"), refund.DefaultTable(refund.PolicyAttendanceOnly)},
		{"missing floor", refund.PolicyAttendanceOnly, refund.PolicyTable{
			{MinAttendanceRate: 100, RefundRate: 100},
			{MinAttendanceRate: 50, RefundRate: 50},
		}},
		{"floor not last", refund.PolicyAttendanceOnly, refund.PolicyTable{
			{MinAttendanceRate: 0, RefundRate: 0},
			{MinAttendanceRate: 80, RefundRate: 80},
		}},
		{"equal attendance thresholds", refund.PolicyAttendanceOnly, refund.PolicyTable{
			{MinAttendanceRate: 80, RefundRate: 80},
			{MinAttendanceRate: 80, RefundRate: 70},
			{MinAttendanceRate: 0, RefundRate: 0},
		}},
		{"refund rises down the staircase", refund.PolicyAttendanceOnly, refund.PolicyTable{
			{MinAttendanceRate: 90, RefundRate: 50},
			{MinAttendanceRate: 60, RefundRate: 70},
			{MinAttendanceRate: 0, RefundRate: 0},
		}},
		{"rate over 100", refund.PolicyAttendanceOnly, refund.PolicyTable{
			{MinAttendanceRate: 100, RefundRate: 120},
			{MinAttendanceRate: 0, RefundRate: 0},
		}},
		{"report threshold on attendance policy", refund.PolicyAttendanceOnly, refund.PolicyTable{
			{MinAttendanceRate: 100, MinReportRate: 50, RefundRate: 100},
			{MinAttendanceRate: 0, RefundRate: 0},
		}},
		{"duplicate pair", refund.PolicyAttendanceAndReport, refund.PolicyTable{
			{MinAttendanceRate: 80, MinReportRate: 80, RefundRate: 80},
			{MinAttendanceRate: 80, MinReportRate: 80, RefundRate: 60},
			{MinAttendanceRate: 0, MinReportRate: 0, RefundRate: 0},
		}},
		{"attendance rises", refund.PolicyAttendanceAndReport, refund.PolicyTable{
			{MinAttendanceRate: 60, MinReportRate: 60, RefundRate: 50},
			{MinAttendanceRate: 80, MinReportRate: 80, RefundRate: 80},
			{MinAttendanceRate: 0, MinReportRate: 0, RefundRate: 0},
		}},
		{"combined floor with report threshold", refund.PolicyAttendanceAndReport, refund.PolicyTable{
			{MinAttendanceRate: 80, MinReportRate: 80, RefundRate: 80},
			{MinAttendanceRate: 0, MinReportRate: 10, RefundRate: 0},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.table.Validate(tt.pt)
			if !errors.Is(err, refund.ErrInvalidPolicy) {
				t.Fatalf("expected ErrInvalidPolicy, got %v", err)
			}
		})
	}
}

func TestParsePolicyType(t *testing.T) {
	if pt, ok := refund.ParsePolicyType("attendance_and_report"); !ok || pt != refund.PolicyAttendanceAndReport {
		t.Fatalf("got %q %v", pt, ok)
	}
	if _, ok := refund.ParsePolicyType("ATTENDANCE_ONLY"); ok {
		t.Fatal("policy types are lower-case")
	}
}
