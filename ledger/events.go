package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"poll-ledger-backend/models"
)

type EventType string

const (
	EventPollInitialized      EventType = "poll.initialized"
	EventCandidateInitialized EventType = "candidate.initialized"
	EventVoteCast             EventType = "vote.cast"
)

// Event is emitted after an operation commits. It is informational and is
// never read back by the ledger.
type Event struct {
	ID              string    `json:"id"`
	Type            EventType `json:"type"`
	PollID          uint64    `json:"poll_id"`
	Address         Address   `json:"address"`
	CandidateName   string    `json:"candidate_name,omitempty"`
	CandidateVotes  uint64    `json:"candidate_votes"`
	CandidateAmount uint64    `json:"candidate_amount"`
	TotalVotes      uint64    `json:"total_votes"`
	Identity        string    `json:"identity,omitempty"`
	// AllocatedBytes is the fixed record space created by the operation.
	AllocatedBytes  int       `json:"allocated_bytes"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func newEvent(typ EventType, pollID uint64, addr Address, identity string, at time.Time) Event {
	return Event{
		ID:             uuid.NewString(),
		Type:           typ,
		PollID:         pollID,
		Address:        addr,
		Identity:       identity,
		AllocatedBytes: allocatedBytes(typ),
		OccurredAt:     at.UTC(),
	}
}

func allocatedBytes(typ EventType) int {
	switch typ {
	case EventPollInitialized:
		return models.PollSpace
	case EventCandidateInitialized:
		return models.CandidateSpace
	case EventVoteCast:
		return models.VoterRecordSpace
	}
	return 0
}

type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

type EmitterFunc func(ctx context.Context, ev Event) error

func (f EmitterFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// MultiEmitter fans an event out to every emitter and joins their errors.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogEmitter writes events to a structured logger.
type LogEmitter struct {
	Logger *slog.Logger
}

func (l LogEmitter) Emit(ctx context.Context, ev Event) error {
	logger := ResolveLogger(l.Logger)
	attrs := []any{
		"event", string(ev.Type),
		"module", "ledger",
		"poll_id", ev.PollID,
		"address", ev.Address.String(),
	}
	switch ev.Type {
	case EventVoteCast:
		attrs = append(attrs,
			"candidate_name", ev.CandidateName,
			"candidate_votes", ev.CandidateVotes,
			"total_votes", ev.TotalVotes,
		)
		logger.InfoContext(ctx, "voted for candidate", attrs...)
	case EventCandidateInitialized:
		attrs = append(attrs, "candidate_name", ev.CandidateName, "candidate_amount", ev.CandidateAmount)
		logger.InfoContext(ctx, "candidate initialized", attrs...)
	default:
		logger.InfoContext(ctx, "poll initialized", attrs...)
	}
	return nil
}

// ResolveLogger returns logger, or slog.Default when nil.
func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
