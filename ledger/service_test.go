package ledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poll-ledger-backend/ledger"
	"poll-ledger-backend/ledger/ledgertest"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (r *recordingEmitter) Emit(_ context.Context, ev ledger.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEmitter) all() []ledger.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ledger.Event(nil), r.events...)
}

func TestMemoryStoreContract(t *testing.T) {
	ledgertest.RunStoreSuite(t, func(t *testing.T) ledger.Store {
		return ledger.NewMemoryStore()
	})
}

func TestScenarioWithLocalLocker(t *testing.T) {
	svc := ledger.NewService(ledger.NewMemoryStore(), ledger.Config{}, ledger.WithLocker(ledger.NewLocalLocker()))
	ledgertest.RunScenario(t, svc)
}

func TestConcurrentDoubleVoteWithLocker(t *testing.T) {
	svc := ledger.NewService(ledger.NewMemoryStore(), ledger.Config{}, ledger.WithLocker(ledger.NewLocalLocker()))
	ledgertest.RunConcurrentDoubleVote(t, svc, 64)
}

func TestInitializePollValidation(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(ledger.NewMemoryStore(), ledger.Config{})

	tests := []struct {
		name       string
		payer      string
		start, end uint64
		want       error
	}{
		{"missing payer", "", 1000, 2000, ledger.ErrIdentityRequired},
		{"zero start", "alice", 0, 2000, ledger.ErrInvalidTimestamp},
		{"end beyond bound", "alice", 1000, ledger.MaxTimestamp, ledger.ErrInvalidTimestamp},
		{"start equals end", "alice", 1500, 1500, ledger.ErrInvalidPollDuration},
		{"start after end", "alice", 2000, 1000, ledger.ErrInvalidPollDuration},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.InitializePoll(ctx, tt.payer, uint64(100+i), "q", tt.start, tt.end)
			assert.ErrorIs(t, err, tt.want)

			_, err = svc.Poll(ctx, uint64(100+i))
			assert.ErrorIs(t, err, ledger.ErrNotFound)
		})
	}
}

func TestInitializeCandidateRequiresPoll(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	svc := ledger.NewService(store, ledger.Config{})

	_, err := svc.InitializeCandidate(ctx, "alice", 404, "Apple")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestFailedVoteLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	svc := ledger.NewService(store, ledger.Config{})

	_, err := svc.InitializePoll(ctx, "alice", 1, "q", 1000, 2000)
	require.NoError(t, err)
	_, err = svc.InitializeCandidate(ctx, "alice", 1, "Apple")
	require.NoError(t, err)

	_, err = svc.CastVote(ctx, "bob", 1, "Cherry")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = svc.CastVote(ctx, "bob", 2, "Apple")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = svc.VoterRecord(ctx, "bob", 1)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	ledgertest.AssertTally(t, svc, 1, map[string]uint64{"Apple": 0})

	// bob can still vote once the mistake is fixed
	_, err = svc.CastVote(ctx, "bob", 1, "Apple")
	require.NoError(t, err)
	ledgertest.AssertTally(t, svc, 1, map[string]uint64{"Apple": 1})
}

func TestVoterRecordsArePerPoll(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(ledger.NewMemoryStore(), ledger.Config{})
	for _, id := range []uint64{1, 2} {
		_, err := svc.InitializePoll(ctx, "alice", id, "q", 1000, 2000)
		require.NoError(t, err)
		_, err = svc.InitializeCandidate(ctx, "alice", id, "Apple")
		require.NoError(t, err)
	}

	_, err := svc.CastVote(ctx, "carol", 1, "Apple")
	require.NoError(t, err)
	_, err = svc.CastVote(ctx, "carol", 2, "Apple")
	require.NoError(t, err)

	ledgertest.AssertTally(t, svc, 1, map[string]uint64{"Apple": 1})
	ledgertest.AssertTally(t, svc, 2, map[string]uint64{"Apple": 1})
}

func TestPollWindowEnforcement(t *testing.T) {
	ctx := context.Background()
	var now atomic.Int64
	now.Store(1500)
	clock := ledger.ClockFunc(func() time.Time { return time.Unix(now.Load(), 0) })
	svc := ledger.NewService(ledger.NewMemoryStore(), ledger.Config{EnforcePollWindow: true}, ledger.WithClock(clock))

	_, err := svc.InitializePoll(ctx, "alice", 9, "past", 1000, 1400)
	assert.ErrorIs(t, err, ledger.ErrPollEndedInPast)
	_, err = svc.InitializePoll(ctx, "alice", 9, "now", 1000, 1500)
	assert.ErrorIs(t, err, ledger.ErrPollEndedInPast)

	_, err = svc.InitializePoll(ctx, "alice", 1, "open", 1000, 2000)
	require.NoError(t, err)
	_, err = svc.InitializePoll(ctx, "alice", 2, "later", 1600, 1700)
	require.NoError(t, err)
	for _, id := range []uint64{1, 2} {
		_, err = svc.InitializeCandidate(ctx, "alice", id, "Apple")
		require.NoError(t, err)
	}

	_, err = svc.CastVote(ctx, "bob", 2, "Apple")
	assert.ErrorIs(t, err, ledger.ErrPollNotStarted)
	_, err = svc.CastVote(ctx, "bob", 1, "Apple")
	require.NoError(t, err)

	now.Store(2001)
	_, err = svc.CastVote(ctx, "carol", 1, "Apple")
	assert.ErrorIs(t, err, ledger.ErrPollEnded)

	// the rejected voter record must not have been persisted
	_, err = svc.VoterRecord(ctx, "carol", 1)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	ledgertest.AssertTally(t, svc, 1, map[string]uint64{"Apple": 1})
}

func TestPollWindowDisabledByDefault(t *testing.T) {
	ctx := context.Background()
	clock := ledger.ClockFunc(func() time.Time { return time.Unix(1_800_000_000, 0) })
	svc := ledger.NewService(ledger.NewMemoryStore(), ledger.Config{}, ledger.WithClock(clock))

	_, err := svc.InitializePoll(ctx, "alice", 1, "long gone", 1000, 2000)
	require.NoError(t, err)
	_, err = svc.InitializeCandidate(ctx, "alice", 1, "Apple")
	require.NoError(t, err)
	_, err = svc.CastVote(ctx, "bob", 1, "Apple")
	assert.NoError(t, err)
}

func TestEventsFollowCommits(t *testing.T) {
	ctx := context.Background()
	rec := &recordingEmitter{}
	svc := ledger.NewService(ledger.NewMemoryStore(), ledger.Config{},
		ledger.WithEmitter(ledger.MultiEmitter{rec, ledger.LogEmitter{}}))

	_, err := svc.InitializePoll(ctx, "alice", 1, "Best fruit", 1000, 2000)
	require.NoError(t, err)
	_, err = svc.InitializeCandidate(ctx, "alice", 1, "Apple")
	require.NoError(t, err)
	_, err = svc.CastVote(ctx, "alice", 1, "Apple")
	require.NoError(t, err)
	_, err = svc.CastVote(ctx, "alice", 1, "Apple")
	require.ErrorIs(t, err, ledger.ErrAlreadyVoted)

	events := rec.all()
	require.Len(t, events, 3)
	assert.Equal(t, ledger.EventPollInitialized, events[0].Type)
	assert.Equal(t, 252, events[0].AllocatedBytes)
	assert.Equal(t, ledger.EventCandidateInitialized, events[1].Type)
	assert.Equal(t, uint64(1), events[1].CandidateAmount)
	assert.Equal(t, 52, events[1].AllocatedBytes)

	vote := events[2]
	assert.Equal(t, ledger.EventVoteCast, vote.Type)
	assert.Equal(t, "Apple", vote.CandidateName)
	assert.Equal(t, uint64(1), vote.CandidateVotes)
	assert.Equal(t, uint64(1), vote.TotalVotes)
	assert.Equal(t, "alice", vote.Identity)
	assert.Equal(t, 41, vote.AllocatedBytes)
	assert.NotEmpty(t, vote.ID)
	assert.Equal(t, svc.Deriver().Candidate(1, "Apple"), vote.Address)
}

func TestEmitterFailureDoesNotFailOperation(t *testing.T) {
	failing := ledger.EmitterFunc(func(context.Context, ledger.Event) error { return errors.New("sink down") })
	svc := ledger.NewService(ledger.NewMemoryStore(), ledger.Config{}, ledger.WithEmitter(failing))

	_, err := svc.InitializePoll(context.Background(), "alice", 1, "q", 1000, 2000)
	assert.NoError(t, err)
}

// conflictingStore fails the first n updates with ErrConflict.
type conflictingStore struct {
	*ledger.MemoryStore
	remaining atomic.Int32
	calls     atomic.Int32
}

func (c *conflictingStore) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	c.calls.Add(1)
	if c.remaining.Add(-1) >= 0 {
		return ledger.ErrConflict
	}
	return c.MemoryStore.Update(ctx, fn)
}

func TestConflictsAreRetried(t *testing.T) {
	store := &conflictingStore{MemoryStore: ledger.NewMemoryStore()}
	store.remaining.Store(2)
	svc := ledger.NewService(store, ledger.Config{Retry: ledger.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}})

	_, err := svc.InitializePoll(context.Background(), "alice", 1, "q", 1000, 2000)
	require.NoError(t, err)
	assert.Equal(t, int32(3), store.calls.Load())
}

func TestConflictsGiveUpAfterMaxAttempts(t *testing.T) {
	store := &conflictingStore{MemoryStore: ledger.NewMemoryStore()}
	store.remaining.Store(10)
	svc := ledger.NewService(store, ledger.Config{Retry: ledger.RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond}})

	_, err := svc.InitializePoll(context.Background(), "alice", 1, "q", 1000, 2000)
	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.True(t, ledger.IsRetryable(err))
	assert.Equal(t, int32(2), store.calls.Load())
}

func TestManyVotersKeepInvariant(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(ledger.NewMemoryStore(), ledger.Config{
		Retry: ledger.RetryPolicy{MaxAttempts: 1000, Backoff: 0},
	})
	_, err := svc.InitializePoll(ctx, "owner", 1, "q", 1000, 2000)
	require.NoError(t, err)
	names := []string{"Apple", "Banana", "Cherry"}
	for _, n := range names {
		_, err = svc.InitializeCandidate(ctx, "owner", 1, n)
		require.NoError(t, err)
	}

	voters := ledgertest.Voters(60)
	var wg sync.WaitGroup
	for i, v := range voters {
		wg.Add(1)
		go func(i int, v string) {
			defer wg.Done()
			_, err := svc.CastVote(ctx, v, 1, names[i%len(names)])
			assert.NoError(t, err)
		}(i, v)
	}
	wg.Wait()

	ledgertest.AssertTally(t, svc, 1, map[string]uint64{"Apple": 20, "Banana": 20, "Cherry": 20})
}
