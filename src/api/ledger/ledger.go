// Package ledger is the read-only view of the chain: transaction search and
// fungible balances. The service never submits transactions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

var ErrTxNotFound = errors.New("transaction not found")

type Order int

const (
	OrderDesc Order = iota
	OrderAsc
)

// Filter selects transactions by the address on one side of a transfer.
// Exactly one field must be set.
type Filter struct {
	Recipient string
	Sender    string
}

func (f Filter) String() string {
	if f.Recipient != "" {
		return "recipient=" + f.Recipient
	}
	return "sender=" + f.Sender
}

// Transfer is a single value-transfer instruction inside a transaction.
type Transfer struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Denom     string `json:"denom"`
	Amount    int64  `json:"amount"`
}

type Transaction struct {
	Reference    string     `json:"reference"`
	Success      bool       `json:"success"`
	Timestamp    time.Time  `json:"timestamp"`
	Memo         string     `json:"memo"`
	Instructions []Transfer `json:"instructions"`
}

// FirstTransfer returns the first value-transfer instruction, if any.
func (t Transaction) FirstTransfer() (Transfer, bool) {
	if len(t.Instructions) == 0 {
		return Transfer{}, false
	}
	return t.Instructions[0], true
}

type Gateway interface {
	ListTransactions(ctx context.Context, f Filter, order Order, limit int) ([]Transaction, error)
	// GetTransaction returns ErrTxNotFound for unknown references.
	GetTransaction(ctx context.Context, ref string) (Transaction, error)
	// GetFungibleBalance returns the balance in the denom's smallest unit.
	GetFungibleBalance(ctx context.Context, denom, address string) (int64, error)
}

// NormalizeAddress lower-cases and trims raw and checks that it is a valid
// bech32 address with the given human-readable prefix.
func NormalizeAddress(prefix, raw string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(raw))
	if addr == "" {
		return "", errors.New("address is required")
	}
	hrp, data, err := bech32.Decode(addr)
	if err != nil {
		return "", fmt.Errorf("invalid address: %w", err)
	}
	if hrp != prefix {
		return "", fmt.Errorf("invalid address: expected prefix %q, got %q", prefix, hrp)
	}
	if len(data) == 0 {
		return "", errors.New("invalid address: empty payload")
	}
	return addr, nil
}

// EqualAddress compares two addresses case-insensitively.
func EqualAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
