package domain

import "fmt"

// JobStatus is the job lifecycle state. VERIFIED is terminal.
type JobStatus string

const (
	StatusPending        JobStatus = "PENDING"
	StatusEnRoute        JobStatus = "EN_ROUTE"
	StatusOnSite         JobStatus = "ON_SITE"
	StatusWorkInProgress JobStatus = "WORK_IN_PROGRESS"
	StatusCompleted      JobStatus = "COMPLETED"
	StatusVerified       JobStatus = "VERIFIED"
)

// validJobTransitions lists the allowed forward edges. EN_ROUTE and ON_SITE
// carry no gating logic; they are informational stops between PENDING and
// WORK_IN_PROGRESS.
var validJobTransitions = map[JobStatus][]JobStatus{
	StatusPending:        {StatusEnRoute, StatusOnSite, StatusWorkInProgress},
	StatusEnRoute:        {StatusOnSite, StatusWorkInProgress},
	StatusOnSite:         {StatusWorkInProgress},
	StatusWorkInProgress: {StatusCompleted},
	StatusCompleted:      {StatusVerified},
	StatusVerified:       {},
}

// ParseJobStatus validates a raw status string.
func ParseJobStatus(raw string) (JobStatus, error) {
	s := JobStatus(raw)
	if _, ok := validJobTransitions[s]; !ok {
		return "", fmt.Errorf("unknown job status %q", raw)
	}
	return s, nil
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to JobStatus) bool {
	for _, next := range validJobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EnsureTransition returns a StateConflictError when from -> to is not an
// allowed edge. Skipping forward and moving backward are both rejected.
func EnsureTransition(from, to JobStatus) error {
	if !CanTransition(from, to) {
		return StateConflict(fmt.Sprintf("invalid job transition %s -> %s", from, to))
	}
	return nil
}
