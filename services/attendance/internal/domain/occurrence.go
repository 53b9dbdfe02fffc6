package domain

import "time"

// Occurrence is one scheduled meeting of a program.
type Occurrence struct {
	ID        int64  `json:"id"`
	ProgramID int64  `json:"programId"`
	Title     string `json:"title"`
	// Date carries only the calendar day; its clock and zone are ignored.
	Date time.Time `json:"date"`
	// StartTime is the offset from midnight, nil when the schedule has none.
	StartTime *time.Duration `json:"startTime,omitempty"`
}

// ScheduledStart combines Date and StartTime in loc. The bool is false when
// there is no start time, in which case midnight of the day is returned.
func (o *Occurrence) ScheduledStart(loc *time.Location) (time.Time, bool) {
	y, m, d := o.Date.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if o.StartTime == nil {
		return midnight, false
	}
	return midnight.Add(*o.StartTime), true
}

// ClassifyArrival returns LATE only when now is strictly after start+grace,
// so a check-in at exactly the threshold is still PRESENT.
func ClassifyArrival(start time.Time, grace time.Duration, now time.Time) AttendanceStatus {
	if now.After(start.Add(grace)) {
		return StatusLate
	}
	return StatusPresent
}
