package provider

import "fmt"

// Status is the normalized lifecycle state of a remote instance.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether the instance has finished and will not run again.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// Rank orders statuses along the lifecycle. Statuses only move toward a
// higher rank; unknown has rank 0 and is never treated as a regression.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusRunning:
		return 2
	case StatusSucceeded, StatusFailed, StatusStopped:
		return 3
	default:
		return 0
	}
}

// InstanceView is an immutable snapshot of a remote instance. Backends
// create a fresh value on every launch and poll.
type InstanceView struct {
	// ID is assigned by the provider and stable for the instance lifetime.
	ID string `json:"id"`
	// Name is a human label and need not be unique.
	Name   string `json:"name"`
	Status Status `json:"status"`
}

func (v InstanceView) String() string {
	if v.Name == "" || v.Name == v.ID {
		return fmt.Sprintf("%s (%s)", v.ID, v.Status)
	}
	return fmt.Sprintf("%s/%s (%s)", v.Name, v.ID, v.Status)
}
