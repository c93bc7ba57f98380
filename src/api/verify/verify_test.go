package verify_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stake-plus/stakegate/src/api/challenge"
	"github.com/stake-plus/stakegate/src/api/errs"
	"github.com/stake-plus/stakegate/src/api/ledger"
	"github.com/stake-plus/stakegate/src/api/ledger/ledgertest"
	"github.com/stake-plus/stakegate/src/api/store"
	"github.com/stake-plus/stakegate/src/api/store/storetest"
	"github.com/stake-plus/stakegate/src/api/verify"
)

var (
	secret   = []byte("0123456789abcdef0123456789abcdef")
	platform = ledgertest.Address("platform")
	alice    = ledgertest.Address("alice")
	t0       = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type env struct {
	svc   *verify.Service
	fake  *ledgertest.Fake
	store *store.Store
	now   time.Time
}

func newEnv(t *testing.T, timeout time.Duration) *env {
	e := &env{fake: ledgertest.NewFake(), store: storetest.New(t), now: t0}
	clock := func() time.Time { return e.now }
	codec := challenge.NewCodec(secret, challenge.WithClock(clock))
	matcher := verify.NewMatcher(e.fake, platform, timeout, 50, nil, nil)
	e.svc = verify.NewService(verify.Config{
		AddressPrefix:       ledgertest.Prefix,
		VerificationAddress: platform,
		ChallengeTTL:        15 * time.Minute,
	}, codec, matcher, e.store, nil, nil, nil)
	e.svc.SetClock(clock)
	return e
}

func payment(ref, from, to, memo string, at time.Time, ok bool) ledger.Transaction {
	return ledger.Transaction{
		Reference:    ref,
		Success:      ok,
		Timestamp:    at,
		Memo:         memo,
		Instructions: []ledger.Transfer{{Sender: from, Recipient: to, Denom: "uaxm", Amount: 1}},
	}
}

func TestMatchesPredicate(t *testing.T) {
	tx := payment("T", alice, platform, " z9k2 ", t0, true)
	require.True(t, verify.Matches(tx, strings.ToUpper(alice), "Z9K2", platform))

	failed := tx
	failed.Success = false
	require.False(t, verify.Matches(failed, alice, "Z9K2", platform))

	require.False(t, verify.Matches(tx, alice, "OTHER", platform))
	require.False(t, verify.Matches(tx, ledgertest.Address("mallory"), "Z9K2", platform))
	require.False(t, verify.Matches(tx, alice, "Z9K2", ledgertest.Address("elsewhere")))

	noTransfer := tx
	noTransfer.Instructions = nil
	require.False(t, verify.Matches(noTransfer, alice, "Z9K2", platform))
}

func TestEndToEndVerificationBindsOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, time.Second)

	issued, err := e.svc.CreateChallenge(ctx, 1, strings.ToUpper(alice))
	require.NoError(t, err)
	require.Equal(t, alice, issued.Address)
	require.Equal(t, platform, issued.VerificationAddress)

	res, err := e.svc.Poll(ctx, 1, issued.Token)
	require.NoError(t, err)
	require.Equal(t, verify.StatusPending, res.Status)

	e.fake.AddTx(payment("TX1", alice, platform, strings.ToLower(issued.Code), t0.Add(time.Minute), true))

	var wg sync.WaitGroup
	results := make([]verify.Result, 2)
	errsOut := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errsOut[i] = e.svc.Poll(ctx, 1, issued.Token)
		}(i)
	}
	wg.Wait()
	for i := 0; i < 2; i++ {
		require.NoError(t, errsOut[i])
		require.Equal(t, verify.StatusVerified, results[i].Status)
		require.Equal(t, "TX1", results[i].TxRef)
	}

	ws, err := e.store.ListWallets(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ws, 1)
	require.True(t, ws[0].IsPrimary)
}

func TestFirstMatchNewestWins(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, time.Second)
	issued, err := e.svc.CreateChallenge(ctx, 1, alice)
	require.NoError(t, err)

	e.fake.AddTx(payment("OLD", alice, platform, issued.Code, t0.Add(time.Minute), true))
	e.fake.AddTx(payment("NEW", alice, platform, issued.Code, t0.Add(2*time.Minute), true))
	e.fake.AddTx(payment("FAILED", alice, platform, issued.Code, t0.Add(3*time.Minute), false))

	res, err := e.svc.Poll(ctx, 1, issued.Token)
	require.NoError(t, err)
	require.Equal(t, "NEW", res.TxRef)
}

func TestFallbackToSenderQuery(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, time.Second)
	issued, err := e.svc.CreateChallenge(ctx, 1, alice)
	require.NoError(t, err)

	e.fake.RecipientErr = errors.New("index unavailable")
	e.fake.AddTx(payment("TX1", alice, platform, issued.Code, t0, true))

	res, err := e.svc.Poll(ctx, 1, issued.Token)
	require.NoError(t, err)
	require.Equal(t, verify.StatusVerified, res.Status)
	require.Equal(t, 1, e.fake.CallCount("list:recipient"))
	require.Equal(t, 1, e.fake.CallCount("list:sender"))
}

func TestTimeoutIsPending(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 20*time.Millisecond)
	issued, err := e.svc.CreateChallenge(ctx, 1, alice)
	require.NoError(t, err)

	e.fake.AddTx(payment("TX1", alice, platform, issued.Code, t0, true))
	e.fake.Delay = 200 * time.Millisecond

	res, err := e.svc.Poll(ctx, 1, issued.Token)
	require.NoError(t, err)
	require.Equal(t, verify.StatusPending, res.Status)

	ws, err := e.store.ListWallets(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, ws)
}

func TestGatewayFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, time.Second)
	issued, err := e.svc.CreateChallenge(ctx, 1, alice)
	require.NoError(t, err)

	e.fake.ListErr = errors.New("connection refused")
	_, err = e.svc.Poll(ctx, 1, issued.Token)
	require.ErrorIs(t, err, verify.ErrLedgerUnavailable)
	require.True(t, errs.Retryable(err))
}

func TestConfirmByHash(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, time.Second)
	issued, err := e.svc.CreateChallenge(ctx, 1, alice)
	require.NoError(t, err)

	e.fake.AddTx(payment("WRONG", alice, platform, "NOPE", t0, true))
	e.fake.AddTx(payment("RIGHT", alice, platform, issued.Code, t0, true))

	res, err := e.svc.Confirm(ctx, 1, issued.Token, "MISSING")
	require.NoError(t, err)
	require.Equal(t, verify.StatusPending, res.Status)

	res, err = e.svc.Confirm(ctx, 1, issued.Token, "WRONG")
	require.NoError(t, err)
	require.Equal(t, verify.StatusPending, res.Status)

	res, err = e.svc.Confirm(ctx, 1, issued.Token, "RIGHT")
	require.NoError(t, err)
	require.Equal(t, verify.StatusVerified, res.Status)
	require.Equal(t, "RIGHT", res.Wallet.TxRef)
}

func TestExpiredChallengeFailsClosed(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, time.Second)
	issued, err := e.svc.CreateChallenge(ctx, 1, alice)
	require.NoError(t, err)
	e.fake.AddTx(payment("TX1", alice, platform, issued.Code, t0, true))

	e.now = t0.Add(16 * time.Minute)
	res, err := e.svc.Poll(ctx, 1, issued.Token)
	require.ErrorIs(t, err, challenge.ErrExpired)
	require.Equal(t, verify.StatusExpired, res.Status)
	require.Equal(t, errs.KindTerminal, errs.KindOf(err))

	_, err = e.store.GetWallet(ctx, alice)
	require.ErrorIs(t, err, store.ErrWalletNotFound)
}

func TestChallengeBoundToUser(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, time.Second)
	issued, err := e.svc.CreateChallenge(ctx, 1, alice)
	require.NoError(t, err)

	_, err = e.svc.Poll(ctx, 2, issued.Token)
	require.ErrorIs(t, err, verify.ErrWrongUser)
}

func TestCreateChallengeRejectsBoundWallet(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, time.Second)
	_, _, err := e.store.BindWallet(ctx, 1, alice, "TX", t0)
	require.NoError(t, err)

	_, err = e.svc.CreateChallenge(ctx, 1, alice)
	require.ErrorIs(t, err, verify.ErrAlreadyVerified)
	_, err = e.svc.CreateChallenge(ctx, 2, alice)
	require.ErrorIs(t, err, verify.ErrWalletTaken)

	_, err = e.svc.CreateChallenge(ctx, 1, "not-an-address")
	require.Equal(t, errs.KindValidation, errs.KindOf(err))
}
