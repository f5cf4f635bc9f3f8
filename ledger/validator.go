package ledger

import (
	"fmt"

	"poll-ledger-backend/models"
)

// MaxTimestamp bounds accepted poll timestamps (2030-01-01T00:00:00Z).
const MaxTimestamp uint64 = 1_893_456_000

func ValidateTimestamp(ts uint64) error {
	if ts == 0 || ts >= MaxTimestamp {
		return fmt.Errorf("%w: %d", ErrInvalidTimestamp, ts)
	}
	return nil
}

// ValidatePollWindow checks both bounds and then their ordering.
func ValidatePollWindow(start, end uint64) error {
	if err := ValidateTimestamp(start); err != nil {
		return err
	}
	if err := ValidateTimestamp(end); err != nil {
		return err
	}
	if start >= end {
		return ErrInvalidPollDuration
	}
	return nil
}

func ValidateDescription(description string) error {
	if len(description) > models.MaxDescriptionLen {
		return ErrDescriptionTooLong
	}
	return nil
}

func ValidateCandidateName(name string) error {
	if name == "" || len(name) > models.MaxCandidateNameLen {
		return ErrInvalidCandidateName
	}
	return nil
}

func ValidateIdentity(identity string) error {
	if identity == "" {
		return ErrIdentityRequired
	}
	return nil
}

// CheckNotVoted rejects a voter record that has already been used.
func CheckNotVoted(rec *models.VoterRecord) error {
	if rec.Voted {
		return ErrAlreadyVoted
	}
	return nil
}

// CheckEndNotPast rejects polls whose end is at or before now.
func CheckEndNotPast(end uint64, now int64) error {
	if now >= 0 && end <= uint64(now) {
		return ErrPollEndedInPast
	}
	return nil
}

// CheckVotingWindow requires poll.PollStart <= now <= poll.PollEnd.
func CheckVotingWindow(poll *models.Poll, now int64) error {
	if now < 0 || uint64(now) < poll.PollStart {
		return ErrPollNotStarted
	}
	if uint64(now) > poll.PollEnd {
		return ErrPollEnded
	}
	return nil
}
