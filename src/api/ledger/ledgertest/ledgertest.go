// Package ledgertest provides a scriptable in-memory ledger gateway.
package ledgertest

import (
	"context"
	"crypto/sha256"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/stake-plus/stakegate/src/api/ledger"
)

const Prefix = "axm"

// Address derives a valid bech32 address from seed.
func Address(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	conv, err := bech32.ConvertBits(sum[:20], 8, 5, true)
	if err != nil {
		panic(err)
	}
	addr, err := bech32.Encode(Prefix, conv)
	if err != nil {
		panic(err)
	}
	return addr
}

// Fake is a ledger.Gateway whose answers, failures and latency are set by
// the test.
type Fake struct {
	mu       sync.Mutex
	txs      []ledger.Transaction
	balances map[string]int64

	ListErr      error
	RecipientErr error
	SenderErr    error
	BalanceErr   map[string]error
	Delay        time.Duration

	Calls map[string]int
}

func NewFake() *Fake {
	return &Fake{
		balances:   make(map[string]int64),
		BalanceErr: make(map[string]error),
		Calls:      make(map[string]int),
	}
}

func (f *Fake) AddTx(tx ledger.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs = append(f.txs, tx)
}

func (f *Fake) SetBalance(address string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[address] = amount
}

func (f *Fake) FailBalance(address string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BalanceErr[address] = err
}

func (f *Fake) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[name]
}

func (f *Fake) wait(ctx context.Context) error {
	if f.Delay <= 0 {
		return nil
	}
	t := time.NewTimer(f.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (f *Fake) ListTransactions(ctx context.Context, filter ledger.Filter, order ledger.Order, limit int) ([]ledger.Transaction, error) {
	f.mu.Lock()
	f.Calls["list:"+filterKind(filter)]++
	err := f.ListErr
	if filter.Recipient != "" && f.RecipientErr != nil {
		err = f.RecipientErr
	}
	if filter.Sender != "" && f.SenderErr != nil {
		err = f.SenderErr
	}
	var out []ledger.Transaction
	for _, tx := range f.txs {
		for _, in := range tx.Instructions {
			if (filter.Recipient != "" && ledger.EqualAddress(in.Recipient, filter.Recipient)) ||
				(filter.Sender != "" && ledger.EqualAddress(in.Sender, filter.Sender)) {
				out = append(out, tx)
				break
			}
		}
	}
	f.mu.Unlock()

	if werr := f.wait(ctx); werr != nil {
		return nil, werr
	}
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if order == ledger.OrderAsc {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) GetTransaction(ctx context.Context, ref string) (ledger.Transaction, error) {
	f.mu.Lock()
	f.Calls["get"]++
	var (
		found ledger.Transaction
		ok    bool
	)
	for _, tx := range f.txs {
		if tx.Reference == ref {
			found, ok = tx, true
			break
		}
	}
	err := f.ListErr
	f.mu.Unlock()

	if werr := f.wait(ctx); werr != nil {
		return ledger.Transaction{}, werr
	}
	if err != nil {
		return ledger.Transaction{}, err
	}
	if !ok {
		return ledger.Transaction{}, ledger.ErrTxNotFound
	}
	return found, nil
}

func (f *Fake) GetFungibleBalance(ctx context.Context, denom, address string) (int64, error) {
	f.mu.Lock()
	f.Calls["balance"]++
	bal := f.balances[address]
	err := f.BalanceErr[address]
	f.mu.Unlock()

	if werr := f.wait(ctx); werr != nil {
		return 0, werr
	}
	if err != nil {
		return 0, err
	}
	return bal, nil
}

func filterKind(f ledger.Filter) string {
	if f.Recipient != "" {
		return "recipient"
	}
	return "sender"
}
