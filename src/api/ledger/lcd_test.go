package ledger_test

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/stake-plus/stakegate/src/api/ledger"
	"github.com/stake-plus/stakegate/src/api/ledger/ledgertest"
)

const searchBody = `{
  "tx_responses": [
    {
      "txhash": "AA11",
      "code": 0,
      "timestamp": "2026-03-01T12:00:00Z",
      "tx": {"body": {"memo": "Z9K2", "messages": [
        {"@type": "/cosmos.bank.v1beta1.MsgSend", "from_address": "axm1from", "to_address": "axm1to",
         "amount": [{"denom": "uaxm", "amount": "1"}]}
      ]}}
    },
    {
      "txhash": "BB22",
      "code": 5,
      "timestamp": "2026-03-01T11:00:00Z",
      "tx": {"body": {"memo": "", "messages": [
        {"@type": "/cosmos.staking.v1beta1.MsgDelegate"}
      ]}}
    }
  ]
}`

func TestLCDListTransactions(t *testing.T) {
	var gotQuery, gotOrder string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cosmos/tx/v1beta1/txs", r.URL.Path)
		gotQuery = r.URL.Query().Get("query")
		gotOrder = r.URL.Query().Get("order_by")
		_, _ = w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	c := ledger.NewLCD(srv.URL, time.Second)
	txs, err := c.ListTransactions(context.Background(), ledger.Filter{Recipient: "axm1to"}, ledger.OrderDesc, 10)
	require.NoError(t, err)
	require.Equal(t, "transfer.recipient='axm1to'", gotQuery)
	require.Equal(t, "ORDER_BY_DESC", gotOrder)
	require.Len(t, txs, 2)

	first := txs[0]
	require.Equal(t, "AA11", first.Reference)
	require.True(t, first.Success)
	require.Equal(t, "Z9K2", first.Memo)
	tr, ok := first.FirstTransfer()
	require.True(t, ok)
	require.Equal(t, "axm1from", tr.Sender)
	require.Equal(t, "axm1to", tr.Recipient)
	require.EqualValues(t, 1, tr.Amount)

	require.False(t, txs[1].Success)
	_, ok = txs[1].FirstTransfer()
	require.False(t, ok)
}

func TestLCDSenderFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "message.sender='axm1from'", r.URL.Query().Get("query"))
		_, _ = w.Write([]byte(`{"tx_responses": []}`))
	}))
	defer srv.Close()

	txs, err := ledger.NewLCD(srv.URL, time.Second).ListTransactions(context.Background(), ledger.Filter{Sender: "axm1from"}, ledger.OrderDesc, 5)
	require.NoError(t, err)
	require.Empty(t, txs)
}

func TestLCDGetTransactionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := ledger.NewLCD(srv.URL, time.Second).GetTransaction(context.Background(), "NOPE")
	require.ErrorIs(t, err, ledger.ErrTxNotFound)
}

func TestLCDBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cosmos/bank/v1beta1/balances/axm1holder/by_denom", r.URL.Path)
		require.Equal(t, "uaxm", r.URL.Query().Get("denom"))
		if r.URL.Query().Get("denom") == "uaxm" {
			_, _ = w.Write([]byte(`{"balance": {"denom": "uaxm", "amount": "123456789012345678901234567890"}}`))
		}
	}))
	defer srv.Close()

	bal, err := ledger.NewLCD(srv.URL, time.Second).GetFungibleBalance(context.Background(), "uaxm", "axm1holder")
	require.NoError(t, err)
	require.EqualValues(t, math.MaxInt64, bal)
}

func TestLCDServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := ledger.NewLCD(srv.URL, time.Second).GetFungibleBalance(context.Background(), "uaxm", "axm1holder")
	require.Error(t, err)
}

func TestNormalizeAddress(t *testing.T) {
	addr := ledgertest.Address("alice")
	got, err := ledger.NormalizeAddress("axm", "  "+addr+" ")
	require.NoError(t, err)
	require.Equal(t, addr, got)

	_, err = ledger.NormalizeAddress("cosmos", addr)
	require.Error(t, err)
	_, err = ledger.NormalizeAddress("axm", "axm1notbech32!")
	require.Error(t, err)
	_, err = ledger.NormalizeAddress("axm", "")
	require.Error(t, err)
}

func TestCachedPassesThroughWithoutRedis(t *testing.T) {
	fake := ledgertest.NewFake()
	to := ledgertest.Address("platform")
	fake.AddTx(ledger.Transaction{Reference: "T1", Success: true, Instructions: []ledger.Transfer{{Sender: "x", Recipient: to}}})

	c := ledger.NewCached(fake, nil, time.Second)
	txs, err := c.ListTransactions(context.Background(), ledger.Filter{Recipient: to}, ledger.OrderDesc, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	_, err = c.GetFungibleBalance(context.Background(), "uaxm", to)
	require.NoError(t, err)
	require.Equal(t, 1, fake.CallCount("balance"))
}

func TestCachedSharesListingsUntilTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	fake := ledgertest.NewFake()
	to := ledgertest.Address("platform")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake.AddTx(ledger.Transaction{Reference: "T1", Success: true, Timestamp: at, Memo: "Z9K2",
		Instructions: []ledger.Transfer{{Sender: "x", Recipient: to, Denom: "uaxm", Amount: 1}}})

	c := ledger.NewCached(fake, rdb, 3*time.Second)
	f := ledger.Filter{Recipient: to}
	first, err := c.ListTransactions(ctx, f, ledger.OrderDesc, 10)
	require.NoError(t, err)
	second, err := c.ListTransactions(ctx, f, ledger.OrderDesc, 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, first[0].Reference, second[0].Reference)
	require.Equal(t, "Z9K2", second[0].Memo)
	require.True(t, second[0].Timestamp.Equal(at))
	require.Equal(t, 1, fake.CallCount("list:recipient"))

	// A different page size is a different listing.
	_, err = c.ListTransactions(ctx, f, ledger.OrderDesc, 5)
	require.NoError(t, err)
	require.Equal(t, 2, fake.CallCount("list:recipient"))

	mr.FastForward(4 * time.Second)
	_, err = c.ListTransactions(ctx, f, ledger.OrderDesc, 10)
	require.NoError(t, err)
	require.Equal(t, 3, fake.CallCount("list:recipient"))

	// Balances always go to the ledger.
	fake.SetBalance(to, 5)
	for i := 0; i < 2; i++ {
		_, err = c.GetFungibleBalance(ctx, "uaxm", to)
		require.NoError(t, err)
	}
	require.Equal(t, 2, fake.CallCount("balance"))
}
