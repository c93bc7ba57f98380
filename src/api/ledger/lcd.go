package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/holiman/uint256"

	"github.com/stake-plus/stakegate/src/webclient"
)

const msgSendType = "/cosmos.bank.v1beta1.MsgSend"

// LCD talks to a Cosmos-SDK REST (LCD) endpoint.
type LCD struct {
	base     string
	hc       *http.Client
	attempts int
}

func NewLCD(baseURL string, timeout time.Duration) *LCD {
	return &LCD{
		base:     baseURL,
		hc:       webclient.NewDefault(timeout),
		attempts: 2,
	}
}

type lcdCoin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

type lcdMsg struct {
	Type        string    `json:"@type"`
	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address"`
	Amount      []lcdCoin `json:"amount"`
}

type lcdTxResponse struct {
	TxHash    string `json:"txhash"`
	Code      uint32 `json:"code"`
	Timestamp string `json:"timestamp"`
	Tx        struct {
		Body struct {
			Memo     string   `json:"memo"`
			Messages []lcdMsg `json:"messages"`
		} `json:"body"`
	} `json:"tx"`
}

type lcdSearchResponse struct {
	TxResponses []lcdTxResponse `json:"tx_responses"`
}

type lcdGetTxResponse struct {
	TxResponse lcdTxResponse `json:"tx_response"`
}

type lcdBalanceResponse struct {
	Balance lcdCoin `json:"balance"`
}

func (c *LCD) get(ctx context.Context, path string, q url.Values, out interface{}) (int, error) {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	status, body, err := webclient.DoWithRetry(ctx, c.attempts, 200*time.Millisecond, func(ctx context.Context) (int, []byte, error) {
		return webclient.Get(ctx, c.hc, u)
	})
	if err != nil {
		return status, fmt.Errorf("ledger GET %s: %w", path, err)
	}
	if status != http.StatusOK {
		return status, fmt.Errorf("ledger GET %s: status %d", path, status)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return status, fmt.Errorf("ledger GET %s: decode: %w", path, err)
	}
	return status, nil
}

func (c *LCD) ListTransactions(ctx context.Context, f Filter, order Order, limit int) ([]Transaction, error) {
	var query string
	switch {
	case f.Recipient != "":
		query = fmt.Sprintf("transfer.recipient='%s'", f.Recipient)
	case f.Sender != "":
		query = fmt.Sprintf("message.sender='%s'", f.Sender)
	default:
		return nil, fmt.Errorf("ledger: empty filter")
	}
	orderBy := "ORDER_BY_DESC"
	if order == OrderAsc {
		orderBy = "ORDER_BY_ASC"
	}
	q := url.Values{}
	q.Set("query", query)
	q.Set("order_by", orderBy)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp lcdSearchResponse
	if _, err := c.get(ctx, "/cosmos/tx/v1beta1/txs", q, &resp); err != nil {
		return nil, err
	}
	out := make([]Transaction, 0, len(resp.TxResponses))
	for _, r := range resp.TxResponses {
		out = append(out, r.toTransaction())
	}
	return out, nil
}

func (c *LCD) GetTransaction(ctx context.Context, ref string) (Transaction, error) {
	var resp lcdGetTxResponse
	status, err := c.get(ctx, "/cosmos/tx/v1beta1/txs/"+url.PathEscape(ref), nil, &resp)
	if status == http.StatusNotFound {
		return Transaction{}, ErrTxNotFound
	}
	if err != nil {
		return Transaction{}, err
	}
	return resp.TxResponse.toTransaction(), nil
}

func (c *LCD) GetFungibleBalance(ctx context.Context, denom, address string) (int64, error) {
	q := url.Values{}
	q.Set("denom", denom)
	var resp lcdBalanceResponse
	if _, err := c.get(ctx, "/cosmos/bank/v1beta1/balances/"+url.PathEscape(address)+"/by_denom", q, &resp); err != nil {
		return 0, err
	}
	if resp.Balance.Amount == "" {
		return 0, nil
	}
	return parseAmount(resp.Balance.Amount)
}

func (r lcdTxResponse) toTransaction() Transaction {
	tx := Transaction{
		Reference: r.TxHash,
		Success:   r.Code == 0,
		Memo:      r.Tx.Body.Memo,
	}
	if ts, err := time.Parse(time.RFC3339, r.Timestamp); err == nil {
		tx.Timestamp = ts
	}
	for _, m := range r.Tx.Body.Messages {
		if m.Type != msgSendType {
			continue
		}
		t := Transfer{Sender: m.FromAddress, Recipient: m.ToAddress}
		if len(m.Amount) > 0 {
			t.Denom = m.Amount[0].Denom
			t.Amount, _ = parseAmount(m.Amount[0].Amount)
		}
		tx.Instructions = append(tx.Instructions, t)
	}
	return tx
}

// parseAmount reads a decimal integer. Values beyond int64 saturate, which
// is larger than any amount a lock can require.
func parseAmount(s string) (int64, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if !v.IsUint64() || v.Uint64() > math.MaxInt64 {
		return math.MaxInt64, nil
	}
	return int64(v.Uint64()), nil
}
