package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further status transitions are permitted.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// RefundState tracks whether a job has already triggered a refund. It is
// the authoritative marker of refund completion; nothing is ever derived
// from the human-readable failure reason.
type RefundState string

const (
	RefundStateNone          RefundState = "none"
	RefundStateRefunded      RefundState = "refunded"
	RefundStateNotApplicable RefundState = "refund_not_applicable"
)

// Job is one video-generation request tracked from creation to terminal
// outcome. CreditsReserved is debited at creation and immutable afterwards.
type Job struct {
	TaskID          string
	AccountID       string
	Status          JobStatus
	CreditsReserved int
	RefundState     RefundState
	ResultReference string
	FailureReason   string
	Metadata        []byte
	CreatedAt       time.Time
	LastStatusCheck time.Time
	CompletedAt     *time.Time
}

// CanTransition reports whether moving from to next is a legal status
// transition. Re-observing the current status is allowed (pollers report
// the same state more than once); any move out of a terminal state is not.
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing || to.IsTerminal()
	case JobStatusProcessing:
		return to.IsTerminal()
	}
	return false
}

// RefundEligible reports whether the job's current state owes the account
// a refund: terminal, not completed, and not yet reconciled.
func (j *Job) RefundEligible() bool {
	return j.Status.IsTerminal() &&
		j.Status != JobStatusCompleted &&
		j.RefundState == RefundStateNone
}
