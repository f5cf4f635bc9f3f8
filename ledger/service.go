package ledger

import (
	"context"
	"log/slog"
	"time"

	"poll-ledger-backend/models"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// RetryPolicy controls how often an operation is re-run after ErrConflict.
// Attempt n waits n*Backoff before running.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 10 * time.Millisecond}

type Config struct {
	// Namespace prefixes every derived address.
	Namespace string
	// EnforcePollWindow turns on PollEndedInPast, PollNotStarted and
	// PollEnded checks against the service clock.
	EnforcePollWindow bool
	Retry             RetryPolicy
}

type Option func(*Service)

func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }

func WithEmitter(e Emitter) Option { return func(s *Service) { s.emitter = e } }

func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// Service runs the poll, candidate and vote operations against a Store.
type Service struct {
	cfg     Config
	deriver Deriver
	store   Store
	locker  Locker
	emitter Emitter
	clock   Clock
	logger  *slog.Logger
}

func NewService(store Store, cfg Config, opts ...Option) *Service {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	s := &Service{
		cfg:     cfg,
		deriver: NewDeriver(cfg.Namespace),
		store:   store,
		clock:   systemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = ResolveLogger(s.logger).With("module", "ledger")
	return s
}

func (s *Service) Deriver() Deriver { return s.deriver }

func (s *Service) Store() Store { return s.store }

type PollView struct {
	Address Address `json:"address"`
	models.Poll
}

type CandidateView struct {
	Address         Address `json:"address"`
	PollID          uint64  `json:"poll_id"`
	CandidateAmount uint64  `json:"candidate_amount"`
	models.Candidate
}

type VoterView struct {
	Address Address `json:"address"`
	Voter   string  `json:"voter"`
	PollID  uint64  `json:"poll_id"`
	models.VoterRecord
}

// VoteReceipt carries the counters right after a vote committed.
type VoteReceipt struct {
	PollID         uint64  `json:"poll_id"`
	Voter          string  `json:"voter"`
	VoterRecord    Address `json:"voter_record"`
	CandidateName  string  `json:"candidate_name"`
	CandidateVotes uint64  `json:"candidate_votes"`
	TotalVotes     uint64  `json:"total_votes"`
}

// InitializePoll creates poll pollID with zero counters.
func (s *Service) InitializePoll(ctx context.Context, payer string, pollID uint64, description string, start, end uint64) (PollView, error) {
	if err := ValidateIdentity(payer); err != nil {
		return PollView{}, err
	}
	if err := ValidateDescription(description); err != nil {
		return PollView{}, err
	}
	if err := ValidatePollWindow(start, end); err != nil {
		return PollView{}, err
	}
	if s.cfg.EnforcePollWindow {
		if err := CheckEndNotPast(end, s.clock.Now().Unix()); err != nil {
			return PollView{}, err
		}
	}

	addr := s.deriver.Poll(pollID)
	var poll models.Poll
	err := s.run(ctx, []Address{addr}, func(tx Tx) error {
		poll = models.Poll{
			PollID:      pollID,
			Description: description,
			PollStart:   start,
			PollEnd:     end,
		}
		return tx.CreateIfAbsent(addr, &poll)
	})
	if err != nil {
		return PollView{}, err
	}

	s.logger.InfoContext(ctx, "poll initialized",
		"event", "poll_initialized", "poll_id", pollID, "address", addr.String(), "payer", payer)
	s.emit(ctx, newEvent(EventPollInitialized, pollID, addr, payer, s.clock.Now()))
	return PollView{Address: addr, Poll: poll}, nil
}

// InitializeCandidate registers name under poll pollID and bumps the poll's
// candidate amount.
func (s *Service) InitializeCandidate(ctx context.Context, signer string, pollID uint64, name string) (CandidateView, error) {
	if err := ValidateIdentity(signer); err != nil {
		return CandidateView{}, err
	}
	if err := ValidateCandidateName(name); err != nil {
		return CandidateView{}, err
	}

	pollAddr := s.deriver.Poll(pollID)
	candAddr := s.deriver.Candidate(pollID, name)
	var (
		poll models.Poll
		cand models.Candidate
	)
	err := s.run(ctx, []Address{pollAddr, candAddr}, func(tx Tx) error {
		poll = models.Poll{}
		if err := tx.Load(pollAddr, &poll); err != nil {
			return err
		}
		cand = models.Candidate{CandidateName: name}
		if err := tx.CreateIfAbsent(candAddr, &cand); err != nil {
			return err
		}
		poll.CandidateAmount++
		return tx.Save(pollAddr, &poll)
	})
	if err != nil {
		return CandidateView{}, err
	}

	s.logger.InfoContext(ctx, "candidate initialized",
		"event", "candidate_initialized", "poll_id", pollID, "candidate_name", name,
		"candidate_amount", poll.CandidateAmount)
	ev := newEvent(EventCandidateInitialized, pollID, candAddr, signer, s.clock.Now())
	ev.CandidateName = name
	ev.CandidateAmount = poll.CandidateAmount
	ev.TotalVotes = poll.TotalVotes
	s.emit(ctx, ev)

	return CandidateView{
		Address:         candAddr,
		PollID:          pollID,
		CandidateAmount: poll.CandidateAmount,
		Candidate:       cand,
	}, nil
}

// CastVote records voter's single vote in poll pollID for candidate name.
func (s *Service) CastVote(ctx context.Context, voter string, pollID uint64, name string) (VoteReceipt, error) {
	if err := ValidateIdentity(voter); err != nil {
		return VoteReceipt{}, err
	}
	if err := ValidateCandidateName(name); err != nil {
		return VoteReceipt{}, err
	}

	pollAddr := s.deriver.Poll(pollID)
	candAddr := s.deriver.Candidate(pollID, name)
	voterAddr := s.deriver.VoterRecord(voter, pollID)
	var (
		poll models.Poll
		cand models.Candidate
	)
	err := s.run(ctx, []Address{voterAddr, pollAddr, candAddr}, func(tx Tx) error {
		rec := models.VoterRecord{}
		if _, err := tx.GetOrCreate(voterAddr, &rec); err != nil {
			return err
		}
		if err := CheckNotVoted(&rec); err != nil {
			return err
		}

		poll = models.Poll{}
		if err := tx.Load(pollAddr, &poll); err != nil {
			return err
		}
		if s.cfg.EnforcePollWindow {
			if err := CheckVotingWindow(&poll, s.clock.Now().Unix()); err != nil {
				return err
			}
		}
		cand = models.Candidate{}
		if err := tx.Load(candAddr, &cand); err != nil {
			return err
		}

		cand.CandidateVotes++
		poll.TotalVotes++
		rec.Voted = true
		rec.Poll = pollAddr.String()

		if err := tx.Save(candAddr, &cand); err != nil {
			return err
		}
		if err := tx.Save(pollAddr, &poll); err != nil {
			return err
		}
		return tx.Save(voterAddr, &rec)
	})
	if err != nil {
		return VoteReceipt{}, err
	}

	s.logger.InfoContext(ctx, "vote cast",
		"event", "vote_cast", "poll_id", pollID, "candidate_name", cand.CandidateName,
		"candidate_votes", cand.CandidateVotes, "total_votes", poll.TotalVotes)
	ev := newEvent(EventVoteCast, pollID, candAddr, voter, s.clock.Now())
	ev.CandidateName = cand.CandidateName
	ev.CandidateVotes = cand.CandidateVotes
	ev.CandidateAmount = poll.CandidateAmount
	ev.TotalVotes = poll.TotalVotes
	s.emit(ctx, ev)

	return VoteReceipt{
		PollID:         pollID,
		Voter:          voter,
		VoterRecord:    voterAddr,
		CandidateName:  cand.CandidateName,
		CandidateVotes: cand.CandidateVotes,
		TotalVotes:     poll.TotalVotes,
	}, nil
}

func (s *Service) Poll(ctx context.Context, pollID uint64) (PollView, error) {
	addr := s.deriver.Poll(pollID)
	var poll models.Poll
	err := s.store.View(ctx, func(tx Tx) error {
		return tx.Load(addr, &poll)
	})
	if err != nil {
		return PollView{}, err
	}
	return PollView{Address: addr, Poll: poll}, nil
}

func (s *Service) Candidate(ctx context.Context, pollID uint64, name string) (CandidateView, error) {
	pollAddr := s.deriver.Poll(pollID)
	candAddr := s.deriver.Candidate(pollID, name)
	var (
		poll models.Poll
		cand models.Candidate
	)
	err := s.store.View(ctx, func(tx Tx) error {
		if err := tx.Load(pollAddr, &poll); err != nil {
			return err
		}
		return tx.Load(candAddr, &cand)
	})
	if err != nil {
		return CandidateView{}, err
	}
	return CandidateView{
		Address:         candAddr,
		PollID:          pollID,
		CandidateAmount: poll.CandidateAmount,
		Candidate:       cand,
	}, nil
}

func (s *Service) VoterRecord(ctx context.Context, voter string, pollID uint64) (VoterView, error) {
	addr := s.deriver.VoterRecord(voter, pollID)
	var rec models.VoterRecord
	err := s.store.View(ctx, func(tx Tx) error {
		return tx.Load(addr, &rec)
	})
	if err != nil {
		return VoterView{}, err
	}
	return VoterView{Address: addr, Voter: voter, PollID: pollID, VoterRecord: rec}, nil
}

// run executes fn in a store transaction, holding locks on addrs when a
// Locker is configured, and retries on ErrConflict.
func (s *Service) run(ctx context.Context, addrs []Address, fn func(tx Tx) error) error {
	keys := make([]string, len(addrs))
	for i, a := range addrs {
		keys[i] = a.String()
	}
	for attempt := 1; ; attempt++ {
		err := s.runOnce(ctx, keys, fn)
		if err == nil || !IsRetryable(err) || attempt >= s.cfg.Retry.MaxAttempts {
			return err
		}
		s.logger.DebugContext(ctx, "retrying after conflict", "event", "tx_conflict", "attempt", attempt)
		select {
		case <-time.After(time.Duration(attempt) * s.cfg.Retry.Backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Service) runOnce(ctx context.Context, keys []string, fn func(tx Tx) error) error {
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, keys)
		if err != nil {
			return err
		}
		defer unlock()
	}
	return s.store.Update(ctx, fn)
}

func (s *Service) emit(ctx context.Context, ev Event) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "event emission failed",
			"event", "emit_failed", "type", string(ev.Type), "poll_id", ev.PollID, "error", err)
	}
}
