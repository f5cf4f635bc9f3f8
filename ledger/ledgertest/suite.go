// Package ledgertest holds behaviour checks shared by every ledger.Store
// implementation.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poll-ledger-backend/ledger"
	"poll-ledger-backend/models"
)

// RunStoreSuite exercises the transactional contract of the store returned by
// newStore. Each subtest gets a fresh store.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Run("CreateIfAbsent", func(t *testing.T) { testCreateIfAbsent(t, newStore(t)) })
	t.Run("GetOrCreate", func(t *testing.T) { testGetOrCreate(t, newStore(t)) })
	t.Run("LoadMissing", func(t *testing.T) { testLoadMissing(t, newStore(t)) })
	t.Run("KindMismatch", func(t *testing.T) { testKindMismatch(t, newStore(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("ViewIsReadOnly", func(t *testing.T) { testViewReadOnly(t, newStore(t)) })
	t.Run("Scenario", func(t *testing.T) { testScenario(t, newStore(t)) })
	t.Run("ConcurrentDoubleVote", func(t *testing.T) { testConcurrentDoubleVote(t, newStore(t)) })
}

var addrA = ledger.NewDeriver("ledgertest").Derive("t", []byte("a"))

func testCreateIfAbsent(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	err := store.Update(ctx, func(tx ledger.Tx) error {
		return tx.CreateIfAbsent(addrA, &models.Candidate{CandidateName: "Apple"})
	})
	require.NoError(t, err)

	err = store.Update(ctx, func(tx ledger.Tx) error {
		return tx.CreateIfAbsent(addrA, &models.Candidate{CandidateName: "Other"})
	})
	assert.ErrorIs(t, err, ledger.ErrAlreadyExists)

	var got models.Candidate
	require.NoError(t, store.View(ctx, func(tx ledger.Tx) error { return tx.Load(addrA, &got) }))
	assert.Equal(t, "Apple", got.CandidateName)
}

func testGetOrCreate(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	var created bool
	err := store.Update(ctx, func(tx ledger.Tx) error {
		rec := models.VoterRecord{}
		var err error
		created, err = tx.GetOrCreate(addrA, &rec)
		if err != nil {
			return err
		}
		rec.Voted = true
		return tx.Save(addrA, &rec)
	})
	require.NoError(t, err)
	assert.True(t, created)

	err = store.Update(ctx, func(tx ledger.Tx) error {
		rec := models.VoterRecord{}
		var err error
		created, err = tx.GetOrCreate(addrA, &rec)
		if err != nil {
			return err
		}
		if !rec.Voted {
			return errors.New("stored record was not returned")
		}
		return nil
	})
	require.NoError(t, err)
	assert.False(t, created)
}

func testLoadMissing(t *testing.T, store ledger.Store) {
	err := store.View(context.Background(), func(tx ledger.Tx) error {
		return tx.Load(addrA, &models.Poll{})
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	err = store.Update(context.Background(), func(tx ledger.Tx) error {
		return tx.Save(addrA, &models.Poll{})
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testKindMismatch(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	require.NoError(t, store.Update(ctx, func(tx ledger.Tx) error {
		return tx.CreateIfAbsent(addrA, &models.Poll{PollID: 1})
	}))
	err := store.View(ctx, func(tx ledger.Tx) error {
		return tx.Load(addrA, &models.Candidate{})
	})
	assert.ErrorIs(t, err, ledger.ErrKindMismatch)
}

func testRollback(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := store.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.CreateIfAbsent(addrA, &models.Poll{PollID: 9}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = store.View(ctx, func(tx ledger.Tx) error { return tx.Load(addrA, &models.Poll{}) })
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testViewReadOnly(t *testing.T, store ledger.Store) {
	err := store.View(context.Background(), func(tx ledger.Tx) error {
		return tx.CreateIfAbsent(addrA, &models.Poll{})
	})
	assert.ErrorIs(t, err, ledger.ErrReadOnly)
}

func testScenario(t *testing.T, store ledger.Store) {
	svc := ledger.NewService(store, ledger.Config{Namespace: "ledgertest"})
	RunScenario(t, svc)
}

// RunScenario drives the create, register and vote flow against svc and
// checks counters after every step.
func RunScenario(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()

	poll, err := svc.InitializePoll(ctx, "alice", 1, "Best fruit", 1000, 2000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), poll.CandidateAmount)
	assert.Equal(t, uint64(0), poll.TotalVotes)

	_, err = svc.InitializePoll(ctx, "alice", 1, "Best fruit", 1000, 2000)
	assert.ErrorIs(t, err, ledger.ErrAlreadyExists)

	apple, err := svc.InitializeCandidate(ctx, "alice", 1, "Apple")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), apple.CandidateAmount)
	banana, err := svc.InitializeCandidate(ctx, "alice", 1, "Banana")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), banana.CandidateAmount)

	_, err = svc.InitializeCandidate(ctx, "bob", 1, "Apple")
	assert.ErrorIs(t, err, ledger.ErrAlreadyExists)

	receipt, err := svc.CastVote(ctx, "alice", 1, "Apple")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), receipt.CandidateVotes)
	assert.Equal(t, uint64(1), receipt.TotalVotes)

	_, err = svc.CastVote(ctx, "alice", 1, "Apple")
	assert.ErrorIs(t, err, ledger.ErrAlreadyVoted)
	_, err = svc.CastVote(ctx, "alice", 1, "Banana")
	assert.ErrorIs(t, err, ledger.ErrAlreadyVoted)

	receipt, err = svc.CastVote(ctx, "bob", 1, "Banana")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), receipt.CandidateVotes)
	assert.Equal(t, uint64(2), receipt.TotalVotes)

	AssertTally(t, svc, 1, map[string]uint64{"Apple": 1, "Banana": 1})

	voter, err := svc.VoterRecord(ctx, "alice", 1)
	require.NoError(t, err)
	assert.True(t, voter.Voted)
	assert.Equal(t, poll.Address.String(), voter.Poll)
}

// AssertTally checks candidate votes and that the poll total equals their sum.
func AssertTally(t *testing.T, svc *ledger.Service, pollID uint64, want map[string]uint64) {
	t.Helper()
	ctx := context.Background()
	poll, err := svc.Poll(ctx, pollID)
	require.NoError(t, err)

	var sum uint64
	for name, votes := range want {
		c, err := svc.Candidate(ctx, pollID, name)
		require.NoError(t, err)
		assert.Equal(t, votes, c.CandidateVotes, "votes for %s", name)
		sum += c.CandidateVotes
	}
	assert.Equal(t, uint64(len(want)), poll.CandidateAmount)
	assert.Equal(t, sum, poll.TotalVotes)
}

func testConcurrentDoubleVote(t *testing.T, store ledger.Store) {
	svc := ledger.NewService(store, ledger.Config{
		Namespace: "ledgertest",
		Retry:     ledger.RetryPolicy{MaxAttempts: 20, Backoff: 0},
	})
	RunConcurrentDoubleVote(t, svc, 16)
}

// RunConcurrentDoubleVote fires n votes from the same identity at once and
// requires exactly one of them to land.
func RunConcurrentDoubleVote(t *testing.T, svc *ledger.Service, n int) {
	ctx := context.Background()
	_, err := svc.InitializePoll(ctx, "owner", 5, "race", 1000, 2000)
	require.NoError(t, err)
	_, err = svc.InitializeCandidate(ctx, "owner", 5, "Apple")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CastVote(ctx, "mallory", 5, "Apple")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range failures {
		if !errors.Is(err, ledger.ErrAlreadyVoted) && !errors.Is(err, ledger.ErrConflict) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	AssertTally(t, svc, 5, map[string]uint64{"Apple": 1})
}

// Voters returns n distinct identities.
func Voters(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("voter-%03d", i)
	}
	return out
}
