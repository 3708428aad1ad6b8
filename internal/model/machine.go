package model

import "time"

// Machine is a monitored machine registered with the condition server.
type Machine struct {
	ID          string `gorm:"primaryKey;size:64"`
	DisplayName string `gorm:"size:256;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MachineIDs converts configured machine names.
func MachineIDs(names []string) []MachineID {
	ids := make([]MachineID, len(names))
	for i, n := range names {
		ids[i] = MachineID(n)
	}
	return ids
}
