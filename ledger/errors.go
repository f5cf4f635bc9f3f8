package ledger

import "errors"

var (
	ErrInvalidTimestamp    = errors.New("invalid timestamp provided")
	ErrInvalidPollDuration = errors.New("poll start time must be before end time")
	ErrPollEndedInPast     = errors.New("poll end time must be in the future")
	ErrPollNotStarted      = errors.New("the poll has not started yet")
	ErrPollEnded           = errors.New("the poll has already ended")
	ErrAlreadyVoted        = errors.New("this address has already voted for this poll")
	ErrAlreadyExists       = errors.New("record already exists")
	ErrNotFound            = errors.New("record not found")

	ErrDescriptionTooLong   = errors.New("poll description exceeds 200 bytes")
	ErrInvalidCandidateName = errors.New("candidate name must be 1 to 32 bytes")
	ErrIdentityRequired     = errors.New("caller identity is required")

	// ErrConflict reports a concurrent write to a record read by the
	// transaction. The operation can be retried.
	ErrConflict     = errors.New("concurrent modification, retry the operation")
	ErrKindMismatch = errors.New("stored record has a different kind")
	ErrReadOnly     = errors.New("write in read-only transaction")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidTimestamp, "InvalidTimestamp"},
	{ErrInvalidPollDuration, "InvalidPollDuration"},
	{ErrPollEndedInPast, "PollEndedInPast"},
	{ErrPollNotStarted, "PollNotStarted"},
	{ErrPollEnded, "PollEnded"},
	{ErrAlreadyVoted, "AlreadyVoted"},
	{ErrAlreadyExists, "AlreadyExists"},
	{ErrNotFound, "NotFound"},
	{ErrDescriptionTooLong, "DescriptionTooLong"},
	{ErrInvalidCandidateName, "InvalidCandidateName"},
	{ErrIdentityRequired, "IdentityRequired"},
	{ErrConflict, "Conflict"},
	{ErrKindMismatch, "KindMismatch"},
	{ErrReadOnly, "ReadOnly"},
}

// Kind names the ledger error wrapped by err, or "Internal".
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// IsRetryable reports whether retrying the same operation may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
