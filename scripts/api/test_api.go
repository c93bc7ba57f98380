// Minimal end-to-end smoke test against a running stakegate API.
//
// Run from repo root:
//
//	go run ./scripts/api
//
// Environment:
//
//	API_URL        - base URL (default http://localhost:8080/v1)
//	JWT_SECRET     - the API's session secret, used to mint a token
//	WALLET_ADDRESS - address to request a challenge for
//	USER_ID        - session user (default 1)
//
// Flow:
//
//  1. GET  /tiers             -> four tiers
//  2. POST /wallets/challenge -> challenge token and memo code
//  3. POST /wallets/verify    -> current status, usually pending
//  4. GET  /me/tier           -> tier and voting power
//  5. GET  /proposals         -> active proposals
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/stake-plus/stakegate/src/api/webserver"
)

var (
	baseURL   = getenv("API_URL", "http://localhost:8080/v1")
	jwtSecret = getenv("JWT_SECRET", "")
	addr      = getenv("WALLET_ADDRESS", "")
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	if jwtSecret == "" || addr == "" {
		log.Fatal("JWT_SECRET and WALLET_ADDRESS are required")
	}
	uid, _ := strconv.ParseUint(getenv("USER_ID", "1"), 10, 64)
	token, err := webserver.IssueSession(uid, []byte(jwtSecret), 10*time.Minute)
	if err != nil {
		log.Fatalf("session: %v", err)
	}

	checkTiers()
	ch := challenge(token)
	poll(token, ch)
	myTier(token)
	listProposals(token)

	fmt.Println("✓ all endpoints passed")
}

// ----------------------------- public

func checkTiers() {
	var resp struct{ Tiers []struct{ Tier string } }
	doJSON("GET", "/tiers", nil, &resp, http.StatusOK)
	if len(resp.Tiers) != 4 {
		log.Fatalf("tiers: want 4 got %d", len(resp.Tiers))
	}
}

// ----------------------------- wallets

func challenge(tok string) string {
	var resp struct {
		Challenge           string
		Code                string
		VerificationAddress string
	}
	doAuth(tok, "POST", "/wallets/challenge", map[string]any{"address": addr}, &resp, http.StatusOK)
	if resp.Challenge == "" || resp.Code == "" {
		log.Fatal("challenge: empty token or code")
	}
	fmt.Printf("send any amount to %s with memo %q\n", resp.VerificationAddress, resp.Code)
	return resp.Challenge
}

func poll(tok, ch string) {
	var resp struct{ Status string }
	doAuth(tok, "POST", "/wallets/verify", map[string]any{"challenge": ch}, &resp, http.StatusOK)
	if resp.Status == "" {
		log.Fatal("verify: empty status")
	}
	fmt.Println("verification status:", resp.Status)
}

// ----------------------------- locks and governance

func myTier(tok string) {
	var resp struct {
		Tier        string
		VotingPower int64
	}
	doAuth(tok, "GET", "/me/tier", nil, &resp, http.StatusOK)
	fmt.Printf("tier %s, voting power %d\n", resp.Tier, resp.VotingPower)
}

func listProposals(tok string) {
	var resp struct{ Proposals []struct{ ID uint64 } }
	doAuth(tok, "GET", "/proposals?status=ACTIVE", nil, &resp, http.StatusOK)
	fmt.Println("active proposals:", len(resp.Proposals))
}

// ----------------------------- helpers

func doAuth(token, method, path string, body, out any, want int) {
	doReq(method, path, token, body, out, want)
}

func doJSON(method, path string, body, out any, want int) {
	doReq(method, path, "", body, out, want)
}

func doReq(method, path, token string, body, out any, want int) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			log.Fatalf("%s %s encode: %v", method, path, err)
		}
	}
	req, _ := http.NewRequest(method, baseURL+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	if res.StatusCode != want {
		log.Fatalf("%s %s: want %d got %d", method, path, want, res.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			log.Fatalf("%s %s decode: %v", method, path, err)
		}
	}
}
