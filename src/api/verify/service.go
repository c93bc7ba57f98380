// Package verify proves wallet ownership by a memo-tagged micro-payment and
// binds the wallet to the user once the payment shows up on the ledger.
package verify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stake-plus/stakegate/src/api/challenge"
	"github.com/stake-plus/stakegate/src/api/data"
	"github.com/stake-plus/stakegate/src/api/errs"
	"github.com/stake-plus/stakegate/src/api/ledger"
	"github.com/stake-plus/stakegate/src/api/metrics"
	"github.com/stake-plus/stakegate/src/api/store"
	"github.com/stake-plus/stakegate/src/api/types"
	"github.com/stake-plus/stakegate/src/logging"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusExpired  Status = "expired"
)

var (
	ErrAlreadyVerified = errs.Conflict("wallet already verified")
	ErrWrongUser       = errs.Forbidden("challenge was issued to another user")
	ErrWalletTaken     = store.ErrWalletTaken
)

type Result struct {
	Status    Status        `json:"status"`
	Address   string        `json:"address"`
	TxRef     string        `json:"txRef,omitempty"`
	ExpiresAt time.Time     `json:"expiresAt"`
	Wallet    *types.Wallet `json:"wallet,omitempty"`
}

// Issued is what a client needs to perform the verification payment.
type Issued struct {
	Challenge           challenge.Challenge `json:"-"`
	Token               string              `json:"challenge"`
	Code                string              `json:"code"`
	Address             string              `json:"address"`
	ExpiresAt           time.Time           `json:"expiresAt"`
	VerificationAddress string              `json:"verificationAddress"`
}

type Config struct {
	AddressPrefix       string
	VerificationAddress string
	ChallengeTTL        time.Duration
}

type Service struct {
	cfg     Config
	codec   *challenge.Codec
	matcher *Matcher
	store   *store.Store
	rdb     *redis.Client
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(cfg Config, codec *challenge.Codec, matcher *Matcher, st *store.Store, rdb *redis.Client, log *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		cfg:     cfg,
		codec:   codec,
		matcher: matcher,
		store:   st,
		rdb:     rdb,
		log:     logging.OrNop(log),
		metrics: metrics.OrNew(m),
		now:     time.Now,
	}
}

// SetClock replaces time.Now; tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) publish(ctx context.Context, kind string, payload map[string]interface{}) {
	if err := data.PublishEvent(ctx, s.rdb, kind, payload); err != nil {
		s.log.Warn("publish event", zap.String("event", kind), zap.Error(err))
	}
}

// markAttempt updates the tracking row; it is informational, so a failure
// is only logged.
func (s *Service) markAttempt(ctx context.Context, ch challenge.Challenge, st Status, txRef string) {
	if err := s.store.MarkAttempt(ctx, ch.Address, ch.Code, string(st), txRef); err != nil {
		s.log.Warn("update verification attempt", zap.String("address", ch.Address), zap.Error(err))
	}
}

// CreateChallenge issues a challenge for rawAddress.
func (s *Service) CreateChallenge(ctx context.Context, userID uint64, rawAddress string) (Issued, error) {
	addr, err := ledger.NormalizeAddress(s.cfg.AddressPrefix, rawAddress)
	if err != nil {
		return Issued{}, errs.Validation("%s", err.Error())
	}
	if ledger.EqualAddress(addr, s.cfg.VerificationAddress) {
		return Issued{}, errs.Validation("cannot verify the platform verification account")
	}
	w, err := s.store.GetWallet(ctx, addr)
	switch {
	case err == nil && w.UserID == userID:
		return Issued{}, ErrAlreadyVerified
	case err == nil:
		return Issued{}, ErrWalletTaken
	case !errors.Is(err, store.ErrWalletNotFound):
		return Issued{}, err
	}

	ch, token, err := s.codec.Create(userID, addr, s.cfg.ChallengeTTL)
	if err != nil {
		return Issued{}, err
	}
	if err := s.store.RecordAttempt(ctx, &types.VerificationAttempt{
		UserID:    userID,
		Address:   addr,
		Code:      ch.Code,
		Status:    string(StatusPending),
		ExpiresAt: ch.ExpiresAt,
	}); err != nil {
		s.log.Warn("record verification attempt", zap.String("address", addr), zap.Error(err))
	}
	return Issued{
		Challenge:           ch,
		Token:               token,
		Code:                ch.Code,
		Address:             addr,
		ExpiresAt:           ch.ExpiresAt,
		VerificationAddress: s.cfg.VerificationAddress,
	}, nil
}

// Poll answers "is it verified yet" by scanning the ledger.
func (s *Service) Poll(ctx context.Context, userID uint64, token string) (Result, error) {
	return s.check(ctx, userID, token, func(ch challenge.Challenge) (Match, error) {
		return s.matcher.CheckVerification(ctx, ch.Address, ch.Code)
	})
}

// Confirm checks the specific transaction the client names.
func (s *Service) Confirm(ctx context.Context, userID uint64, token, txRef string) (Result, error) {
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return Result{}, errs.Validation("txHash is required")
	}
	return s.check(ctx, userID, token, func(ch challenge.Challenge) (Match, error) {
		return s.matcher.CheckTransaction(ctx, ch.Address, ch.Code, txRef)
	})
}

func (s *Service) check(ctx context.Context, userID uint64, token string, find func(challenge.Challenge) (Match, error)) (Result, error) {
	ch, err := s.codec.Decode(token)
	if errors.Is(err, challenge.ErrExpired) {
		s.metrics.VerificationChecks.WithLabelValues(string(StatusExpired)).Inc()
		if ch.Address != "" {
			s.markAttempt(ctx, ch, StatusExpired, "")
		}
		return Result{Status: StatusExpired, Address: ch.Address, ExpiresAt: ch.ExpiresAt}, err
	}
	if err != nil {
		return Result{}, err
	}
	if ch.UserID != userID {
		return Result{}, ErrWrongUser
	}
	res := Result{Status: StatusPending, Address: ch.Address, ExpiresAt: ch.ExpiresAt}

	// A repeat check after success answers from the record store.
	w, err := s.store.GetWallet(ctx, ch.Address)
	switch {
	case err == nil && w.UserID == userID:
		res.Status, res.TxRef, res.Wallet = StatusVerified, w.TxRef, &w
		return res, nil
	case err == nil:
		return Result{}, ErrWalletTaken
	case !errors.Is(err, store.ErrWalletNotFound):
		return Result{}, err
	}

	m, err := find(ch)
	if err != nil {
		s.metrics.VerificationChecks.WithLabelValues("error").Inc()
		return Result{}, err
	}
	if !m.Matched {
		s.metrics.VerificationChecks.WithLabelValues(string(StatusPending)).Inc()
		return res, nil
	}

	wallet, created, err := s.store.BindWallet(ctx, userID, ch.Address, m.TxRef, s.now())
	if err != nil {
		return Result{}, err
	}
	s.metrics.VerificationChecks.WithLabelValues(string(StatusVerified)).Inc()
	if created {
		s.log.Info("wallet verified",
			zap.Uint64("user", userID), zap.String("address", ch.Address), zap.String("tx", m.TxRef))
		s.markAttempt(ctx, ch, StatusVerified, m.TxRef)
		s.publish(ctx, "wallet.verified", map[string]interface{}{
			"user":    userID,
			"address": ch.Address,
			"tx":      m.TxRef,
		})
	}
	res.Status, res.TxRef, res.Wallet = StatusVerified, wallet.TxRef, &wallet
	return res, nil
}
