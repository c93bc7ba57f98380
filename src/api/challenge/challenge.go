// Package challenge issues self-contained wallet verification challenges.
// A challenge is an HS256 token over {address, code, uid, exp}; decoding it
// needs only the secret, so no pending-request table exists anywhere.
package challenge

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stake-plus/stakegate/src/api/errs"
)

const (
	issuer   = "stakegate"
	audience = "wallet-verification"

	codeLength   = 6
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var (
	ErrInvalid = errs.Validation("invalid challenge")
	ErrExpired = errs.Terminal("challenge expired, request a new one")
)

type Challenge struct {
	Address   string    `json:"address"`
	Code      string    `json:"code"`
	UserID    uint64    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type claims struct {
	Code string `json:"code"`
	UID  uint64 `json:"uid"`
	jwt.RegisteredClaims
}

type Codec struct {
	secret []byte
	now    func() time.Time
}

type Option func(*Codec)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

func NewCodec(secret []byte, opts ...Option) *Codec {
	c := &Codec{secret: secret, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Create issues a challenge for address on behalf of userID. The code is the
// memo the wallet must attach to its verification payment.
func (c *Codec) Create(userID uint64, address string, ttl time.Duration) (Challenge, string, error) {
	code, err := newCode()
	if err != nil {
		return Challenge{}, "", err
	}
	now := c.now()
	ch := Challenge{
		Address:   address,
		Code:      code,
		UserID:    userID,
		ExpiresAt: now.Add(ttl).Truncate(time.Second),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Code: code,
		UID:  userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			Subject:   address,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(ch.ExpiresAt),
		},
	})
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return Challenge{}, "", fmt.Errorf("sign challenge: %w", err)
	}
	return ch, signed, nil
}

// Decode verifies token and returns its content. A token with a valid
// signature but past its expiry returns the content together with
// ErrExpired; anything else unverifiable is ErrInvalid.
func (c *Codec) Decode(token string) (Challenge, error) {
	var cl claims
	_, err := jwt.ParseWithClaims(token, &cl, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
		// exp is whole seconds and jwt rejects now == exp; the exact
		// comparison happens below.
		jwt.WithLeeway(time.Second),
	)
	ch := Challenge{Address: cl.Subject, Code: cl.Code, UserID: cl.UID}
	if cl.ExpiresAt != nil {
		ch.ExpiresAt = cl.ExpiresAt.Time
	}
	switch {
	case err == nil:
		if c.now().After(ch.ExpiresAt) {
			return ch, ErrExpired
		}
	case errors.Is(err, jwt.ErrTokenExpired):
		return ch, ErrExpired
	default:
		return Challenge{}, errs.Wrap(ErrInvalid, err)
	}
	if ch.Address == "" || ch.Code == "" {
		return Challenge{}, ErrInvalid
	}
	return ch, nil
}

// NormalizeCode is the one canonical form used for every memo comparison.
func NormalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func newCode() (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		sb.WriteByte(codeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}
