// Query a ledger LCD endpoint the way the API talks to it.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/stake-plus/stakegate/src/api/ledger"
)

func main() {
	url := os.Getenv("LEDGER_URL")
	addr := os.Getenv("WALLET_ADDRESS")
	denom := os.Getenv("STAKE_DENOM")
	if url == "" || addr == "" {
		log.Fatal("LEDGER_URL and WALLET_ADDRESS are required")
	}
	if denom == "" {
		denom = "uaxm"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client := ledger.NewLCD(url, 10*time.Second)

	bal, err := client.GetFungibleBalance(ctx, denom, addr)
	if err != nil {
		log.Fatalf("balance: %v", err)
	}
	log.Printf("Balance of %s: %d %s", addr, bal, denom)

	txs, err := client.ListTransactions(ctx, ledger.Filter{Sender: addr}, ledger.OrderDesc, 5)
	if err != nil {
		log.Fatalf("transactions: %v", err)
	}
	log.Printf("Latest %d transactions sent:", len(txs))
	for _, tx := range txs {
		log.Printf("  %s  %s  success=%t  memo=%q", tx.Timestamp.Format(time.RFC3339), tx.Reference, tx.Success, tx.Memo)
		if tr, ok := tx.FirstTransfer(); ok {
			log.Printf("    -> %s %d %s", tr.Recipient, tr.Amount, tr.Denom)
		}
	}
}
