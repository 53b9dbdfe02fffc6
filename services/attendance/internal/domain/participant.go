package domain

type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "active"
	MembershipInactive  MembershipStatus = "inactive"
	MembershipPending   MembershipStatus = "pending"
	MembershipWithdrawn MembershipStatus = "withdrawn"
)

type Participant struct {
	ID        int64            `json:"id"`
	ProgramID int64            `json:"programId"`
	UserID    int64            `json:"userId"`
	Status    MembershipStatus `json:"status"`
}

// CanCheckIn reports whether the membership allows attending occurrences of programID.
func (p *Participant) CanCheckIn(programID int64) error {
	if p == nil || p.ProgramID != programID {
		return ErrNotParticipant
	}
	if p.Status != MembershipActive {
		return ErrParticipantInactive
	}
	return nil
}
