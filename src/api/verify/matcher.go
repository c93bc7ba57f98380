package verify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/stake-plus/stakegate/src/api/challenge"
	"github.com/stake-plus/stakegate/src/api/errs"
	"github.com/stake-plus/stakegate/src/api/ledger"
	"github.com/stake-plus/stakegate/src/api/metrics"
	"github.com/stake-plus/stakegate/src/logging"
)

var ErrLedgerUnavailable = errs.Unavailable(nil, "ledger unavailable, try again")

// Match is the outcome of one scan. Matched=false is "not yet", not a failure.
type Match struct {
	Matched bool
	TxRef   string
}

// Matcher looks for the verification payment on the ledger.
type Matcher struct {
	gw        ledger.Gateway
	recipient string
	timeout   time.Duration
	limit     int
	log       *zap.Logger
	metrics   *metrics.Metrics
}

func NewMatcher(gw ledger.Gateway, verificationAddress string, timeout time.Duration, limit int, log *zap.Logger, m *metrics.Metrics) *Matcher {
	if limit <= 0 {
		limit = 50
	}
	return &Matcher{
		gw:        gw,
		recipient: verificationAddress,
		timeout:   timeout,
		limit:     limit,
		log:       logging.OrNop(log),
		metrics:   metrics.OrNew(m),
	}
}

// Matches is the single predicate both the polling and the confirm-by-hash
// paths use.
func Matches(tx ledger.Transaction, address, code, recipient string) bool {
	if !tx.Success {
		return false
	}
	if challenge.NormalizeCode(tx.Memo) != challenge.NormalizeCode(code) {
		return false
	}
	tr, ok := tx.FirstTransfer()
	if !ok {
		return false
	}
	return ledger.EqualAddress(tr.Sender, address) && ledger.EqualAddress(tr.Recipient, recipient)
}

// firstMatch scans txs in the order given and stops at the first match.
func (m *Matcher) firstMatch(txs []ledger.Transaction, address, code string) Match {
	for _, tx := range txs {
		if Matches(tx, address, code, m.recipient) {
			return Match{Matched: true, TxRef: tx.Reference}
		}
	}
	return Match{}
}

func (m *Matcher) list(ctx context.Context, f ledger.Filter) ([]ledger.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.gw.ListTransactions(ctx, f, ledger.OrderDesc, m.limit)
}

// CheckVerification scans recent payments to the verification account,
// newest first, for one from address carrying code. If that query fails it
// retries once indexed by sender. Timeouts read as "no match yet".
func (m *Matcher) CheckVerification(ctx context.Context, address, code string) (Match, error) {
	txs, err := m.list(ctx, ledger.Filter{Recipient: m.recipient})
	if err == nil {
		return m.firstMatch(txs, address, code), nil
	}
	m.metrics.LedgerFailures.WithLabelValues("list_by_recipient").Inc()
	m.log.Warn("recipient-indexed query failed, falling back to sender",
		zap.String("address", address), zap.Error(err))

	txs, err = m.list(ctx, ledger.Filter{Sender: address})
	if err == nil {
		return m.firstMatch(txs, address, code), nil
	}
	m.metrics.LedgerFailures.WithLabelValues("list_by_sender").Inc()
	if logging.IsTimeout(err) && ctx.Err() == nil {
		return Match{}, nil
	}
	return Match{}, errs.Wrap(ErrLedgerUnavailable, err)
}

// CheckTransaction evaluates one transaction the client points at. An
// unknown or slow reference is "not yet".
func (m *Matcher) CheckTransaction(ctx context.Context, address, code, ref string) (Match, error) {
	qctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	tx, err := m.gw.GetTransaction(qctx, ref)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrTxNotFound):
		return Match{}, nil
	case logging.IsTimeout(err) && ctx.Err() == nil:
		m.metrics.LedgerFailures.WithLabelValues("get_tx").Inc()
		return Match{}, nil
	default:
		m.metrics.LedgerFailures.WithLabelValues("get_tx").Inc()
		return Match{}, errs.Wrap(ErrLedgerUnavailable, err)
	}
	if Matches(tx, address, code, m.recipient) {
		return Match{Matched: true, TxRef: tx.Reference}, nil
	}
	return Match{}, nil
}
