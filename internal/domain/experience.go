package domain

import "time"

// Experience represents a bookable nature experience with a fixed number of
// seats. CurrentParticipants counts consumed seats and is mutated only
// through the capacity ledger's conditional updates.
type Experience struct {
	ID                  string
	Name                string
	Location            string
	Description         string
	TotalCapacity       int
	CurrentParticipants int
	CreatedAt           time.Time
}

// Available returns the number of seats still open.
func (e Experience) Available() int {
	return e.TotalCapacity - e.CurrentParticipants
}
