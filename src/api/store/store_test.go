package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stake-plus/stakegate/src/api/store"
	"github.com/stake-plus/stakegate/src/api/store/storetest"
	"github.com/stake-plus/stakegate/src/api/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestBindWalletFirstVerifierWins(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)

	w, created, err := s.BindWallet(ctx, 1, "axm1abc", "TX1", t0)
	require.NoError(t, err)
	require.True(t, created)
	require.True(t, w.IsPrimary)

	again, created, err := s.BindWallet(ctx, 1, "axm1abc", "TX2", t0)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, w.ID, again.ID)
	require.Equal(t, "TX1", again.TxRef)

	_, _, err = s.BindWallet(ctx, 2, "axm1abc", "TX3", t0)
	require.ErrorIs(t, err, store.ErrWalletTaken)

	second, _, err := s.BindWallet(ctx, 1, "axm1def", "TX4", t0)
	require.NoError(t, err)
	require.False(t, second.IsPrimary)
}

func TestDeletePrimaryPromotesOldest(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)

	_, _, err := s.BindWallet(ctx, 1, "axm1a", "", t0)
	require.NoError(t, err)
	_, _, err = s.BindWallet(ctx, 1, "axm1b", "", t0)
	require.NoError(t, err)
	_, _, err = s.BindWallet(ctx, 1, "axm1c", "", t0)
	require.NoError(t, err)

	require.NoError(t, s.DeleteWallet(ctx, 1, "axm1a"))
	ws, err := s.ListWallets(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ws, 2)
	require.Equal(t, "axm1b", ws[0].Address)
	require.True(t, ws[0].IsPrimary)
	require.False(t, ws[1].IsPrimary)

	require.ErrorIs(t, s.DeleteWallet(ctx, 2, "axm1b"), store.ErrWalletNotFound)
}

func TestDeleteWalletWithActiveLock(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	_, _, err := s.BindWallet(ctx, 1, "axm1a", "", t0)
	require.NoError(t, err)

	l := newLock("axm1a")
	require.NoError(t, s.CreateLock(ctx, l))
	err = s.DeleteWallet(ctx, 1, "axm1a")
	require.ErrorIs(t, err, store.ErrWalletLocked)
	_, err = s.GetWallet(ctx, "axm1a")
	require.NoError(t, err)

	ok, err := s.UnlockLock(ctx, l.ID, []types.LockStatus{types.LockActive})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.DeleteWallet(ctx, 1, "axm1a"))
}

func TestConcurrentBindsSinglePrimary(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)

	addrs := []string{"axm1a", "axm1b", "axm1c", "axm1d", "axm1e", "axm1f"}
	var wg sync.WaitGroup
	for _, a := range addrs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.BindWallet(ctx, 1, a, "", t0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ws, err := s.ListWallets(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ws, len(addrs))
	primaries := 0
	for _, w := range ws {
		if w.IsPrimary {
			primaries++
		}
	}
	require.Equal(t, 1, primaries)
}

func TestUpdateWalletSinglePrimary(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	_, _, _ = s.BindWallet(ctx, 1, "axm1a", "", t0)
	_, _, _ = s.BindWallet(ctx, 1, "axm1b", "", t0)

	label := "cold"
	w, err := s.UpdateWallet(ctx, 1, "axm1b", &label, true)
	require.NoError(t, err)
	require.True(t, w.IsPrimary)
	require.Equal(t, "cold", w.Label)

	ws, err := s.ListWallets(ctx, 1)
	require.NoError(t, err)
	primaries := 0
	for _, w := range ws {
		if w.IsPrimary {
			primaries++
		}
	}
	require.Equal(t, 1, primaries)
}

func newLock(addr string) *types.Lock {
	return &types.Lock{
		UserID:         1,
		WalletAddress:  addr,
		Amount:         1000,
		Tier:           types.TierBronze,
		DurationDays:   30,
		LockStartDate:  t0,
		LockEndDate:    t0.AddDate(0, 0, 30),
		LastVerifiedAt: t0,
	}
}

func TestOneActiveLockPerWallet(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)

	first := newLock("axm1a")
	require.NoError(t, s.CreateLock(ctx, first))
	require.ErrorIs(t, s.CreateLock(ctx, newLock("axm1a")), store.ErrActiveLockExists)

	ok, err := s.ViolateLock(ctx, first.ID, t0)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.CreateLock(ctx, newLock("axm1a")))
}

func TestConcurrentCreateLockSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.CreateLock(ctx, newLock("axm1race")); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestExpireLocksIdempotent(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	l := newLock("axm1a")
	require.NoError(t, s.CreateLock(ctx, l))

	later := t0.AddDate(0, 0, 31)
	n, err := s.ExpireLocks(ctx, later)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = s.ExpireLocks(ctx, later)
	require.NoError(t, err)
	require.Zero(t, n)

	got, err := s.GetLock(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, types.LockExpired, got.Status)
	require.Nil(t, got.ActiveWallet)
}

func newProposal() *types.Proposal {
	return &types.Proposal{
		AuthorID:    9,
		Title:       "Feature it",
		Description: "Because",
		Type:        types.ProposalPlatformChange,
		Quorum:      10,
		Threshold:   50,
		StartDate:   t0,
		EndDate:     t0.AddDate(0, 0, 7),
		Status:      types.ProposalActive,
	}
}

func TestInsertVoteUpdatesTallyOnce(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	p := newProposal()
	require.NoError(t, s.CreateProposal(ctx, p))

	require.NoError(t, s.InsertVote(ctx, &types.Vote{ProposalID: p.ID, UserID: 1, InFavor: true, VotingPower: 60}, t0))
	require.NoError(t, s.InsertVote(ctx, &types.Vote{ProposalID: p.ID, UserID: 2, InFavor: false, VotingPower: 40}, t0))
	err := s.InsertVote(ctx, &types.Vote{ProposalID: p.ID, UserID: 1, InFavor: false, VotingPower: 60}, t0)
	require.ErrorIs(t, err, store.ErrAlreadyVoted)

	got, err := s.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	require.EqualValues(t, 60, got.VotesFor)
	require.EqualValues(t, 40, got.VotesAgainst)
}

func TestInsertVoteRejectsClosedProposal(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	p := newProposal()
	require.NoError(t, s.CreateProposal(ctx, p))

	err := s.InsertVote(ctx, &types.Vote{ProposalID: p.ID, UserID: 1, InFavor: true, VotingPower: 5}, p.EndDate.Add(time.Second))
	require.ErrorIs(t, err, store.ErrProposalClosed)
	n, err := s.CountVotes(ctx, p.ID)
	require.NoError(t, err)
	require.Zero(t, n)

	err = s.InsertVote(ctx, &types.Vote{ProposalID: p.ID + 100, UserID: 1, InFavor: true, VotingPower: 5}, t0)
	require.ErrorIs(t, err, store.ErrProposalNotFound)
}

func TestResolveProposalOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	p := newProposal()
	require.NoError(t, s.CreateProposal(ctx, p))

	ok, err := s.ResolveProposal(ctx, p.ID, types.ProposalPassed, t0)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.ResolveProposal(ctx, p.ID, types.ProposalRejected, t0)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.MarkExecuted(ctx, p.ID, "", t0)
	require.NoError(t, err)
	require.True(t, ok)
}
