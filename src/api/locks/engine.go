// Package locks gates tiers behind live on-chain custody and keeps lock status
// in line with the ledger over time.
package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stake-plus/stakegate/src/api/data"
	"github.com/stake-plus/stakegate/src/api/errs"
	"github.com/stake-plus/stakegate/src/api/ledger"
	"github.com/stake-plus/stakegate/src/api/metrics"
	"github.com/stake-plus/stakegate/src/api/store"
	"github.com/stake-plus/stakegate/src/api/types"
	"github.com/stake-plus/stakegate/src/logging"
)

const maxDurationDays = 3650

var (
	ErrNoTier              = errs.Validation("amount and duration do not qualify for any tier")
	ErrNotOwner            = errs.Forbidden("wallet is not verified for this user")
	ErrInsufficientBalance = errs.Validation("wallet balance is below the requested amount")
	ErrLedgerUnavailable   = errs.Unavailable(nil, "could not read wallet balance, try again")
	ErrLockStillActive     = errs.Conflict("lock is still active and cannot be unlocked before its term")
	ErrAlreadyUnlocked     = errs.Terminal("lock is already unlocked")
	ErrActiveLockExists    = store.ErrActiveLockExists
	ErrLockNotFound        = store.ErrLockNotFound
)

type Config struct {
	AddressPrefix string
	Denom         string
	LedgerTimeout time.Duration
	// Parallelism bounds concurrent balance queries in VerifyActiveLocks.
	Parallelism int
}

type Engine struct {
	cfg     Config
	store   *store.Store
	gw      ledger.Gateway
	rdb     *redis.Client
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewEngine(cfg Config, st *store.Store, gw ledger.Gateway, rdb *redis.Client, log *zap.Logger, m *metrics.Metrics) *Engine {
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = 5 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	return &Engine{
		cfg:     cfg,
		store:   st,
		gw:      gw,
		rdb:     rdb,
		log:     logging.OrNop(log),
		metrics: metrics.OrNew(m),
		now:     time.Now,
	}
}

// SetClock replaces time.Now; tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

func (e *Engine) publish(ctx context.Context, kind string, payload map[string]interface{}) {
	if err := data.PublishEvent(ctx, e.rdb, kind, payload); err != nil {
		e.log.Warn("publish event", zap.String("event", kind), zap.Error(err))
	}
}

func (e *Engine) balance(ctx context.Context, address string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.LedgerTimeout)
	defer cancel()
	return e.gw.GetFungibleBalance(ctx, e.cfg.Denom, address)
}

// CreateLock locks amount in a wallet the user has verified, provided the
// wallet's live balance covers it.
func (e *Engine) CreateLock(ctx context.Context, userID uint64, rawAddress string, amount int64, durationDays int) (types.Lock, error) {
	if amount <= 0 {
		return types.Lock{}, errs.Validation("amount must be positive")
	}
	if durationDays <= 0 || durationDays > maxDurationDays {
		return types.Lock{}, errs.Validation("durationDays must be between 1 and %d", maxDurationDays)
	}
	addr, err := ledger.NormalizeAddress(e.cfg.AddressPrefix, rawAddress)
	if err != nil {
		return types.Lock{}, errs.Validation("%s", err.Error())
	}
	tier := CalculateTier(amount, durationDays)
	if tier == types.TierNone {
		return types.Lock{}, ErrNoTier
	}

	w, err := e.store.GetWallet(ctx, addr)
	if errors.Is(err, store.ErrWalletNotFound) || (err == nil && w.UserID != userID) {
		return types.Lock{}, ErrNotOwner
	}
	if err != nil {
		return types.Lock{}, err
	}

	bal, err := e.balance(ctx, addr)
	if err != nil {
		e.metrics.LedgerFailures.WithLabelValues("balance").Inc()
		e.log.Warn("balance query failed", zap.String("address", addr), zap.Error(err))
		return types.Lock{}, errs.Wrap(ErrLedgerUnavailable, err)
	}
	if bal < amount {
		return types.Lock{}, ErrInsufficientBalance
	}

	now := e.now().UTC()
	l := types.Lock{
		UserID:         userID,
		WalletAddress:  addr,
		Amount:         amount,
		Tier:           tier,
		DurationDays:   durationDays,
		LockStartDate:  now,
		LockEndDate:    now.AddDate(0, 0, durationDays),
		LastVerifiedAt: now,
	}
	if err := e.store.CreateLock(ctx, &l); err != nil {
		return types.Lock{}, err
	}
	e.metrics.LockTransitions.WithLabelValues(string(types.LockActive)).Inc()
	e.log.Info("lock created",
		zap.Uint64("lock", l.ID), zap.Uint64("user", userID), zap.String("address", addr),
		zap.Int64("amount", amount), zap.Stringer("tier", tier))
	e.publish(ctx, "lock.created", map[string]interface{}{
		"lock": l.ID, "user": userID, "address": addr, "tier": tier.String(),
	})
	return l, nil
}

// GetUserLocks returns every lock the user holds, newest first.
func (e *Engine) GetUserLocks(ctx context.Context, userID uint64) ([]types.Lock, error) {
	return e.store.ListLocks(ctx, userID)
}

// GetLock returns a lock only to its owner.
func (e *Engine) GetLock(ctx context.Context, userID, lockID uint64) (types.Lock, error) {
	l, err := e.store.GetLock(ctx, lockID)
	if err != nil {
		return types.Lock{}, err
	}
	if l.UserID != userID {
		return types.Lock{}, ErrLockNotFound
	}
	return l, nil
}

// GetUserTier is the highest tier among the user's ACTIVE locks.
func (e *Engine) GetUserTier(ctx context.Context, userID uint64) (types.Tier, error) {
	ls, err := e.store.ActiveLocksForUser(ctx, userID)
	if err != nil {
		return types.TierNone, err
	}
	best := types.TierNone
	for _, l := range ls {
		if l.Tier > best {
			best = l.Tier
		}
	}
	return best, nil
}

// ActiveLocks exposes the user's ACTIVE locks for voting power.
func (e *Engine) ActiveLocks(ctx context.Context, userID uint64) ([]types.Lock, error) {
	return e.store.ActiveLocksForUser(ctx, userID)
}

// UnlockLock releases an EXPIRED or VIOLATED lock. Active locks cannot be
// broken early.
func (e *Engine) UnlockLock(ctx context.Context, userID, lockID uint64) (types.Lock, error) {
	l, err := e.GetLock(ctx, userID, lockID)
	if err != nil {
		return types.Lock{}, err
	}
	if err := unlockable(l.Status); err != nil {
		return types.Lock{}, err
	}
	ok, err := e.store.UnlockLock(ctx, lockID, []types.LockStatus{types.LockExpired, types.LockViolated})
	if err != nil {
		return types.Lock{}, err
	}
	if !ok {
		// Lost a race with another unlock.
		if l, err = e.store.GetLock(ctx, lockID); err != nil {
			return types.Lock{}, err
		}
		if err := unlockable(l.Status); err != nil {
			return types.Lock{}, err
		}
		return types.Lock{}, errs.Conflict("lock changed state, try again")
	}
	e.metrics.LockTransitions.WithLabelValues(string(types.LockUnlocked)).Inc()
	e.log.Info("lock unlocked", zap.Uint64("lock", lockID), zap.Uint64("user", userID))
	e.publish(ctx, "lock.unlocked", map[string]interface{}{"lock": lockID, "user": userID})
	l.Status = types.LockUnlocked
	return l, nil
}

func unlockable(s types.LockStatus) error {
	switch s {
	case types.LockExpired, types.LockViolated:
		return nil
	case types.LockActive:
		return ErrLockStillActive
	case types.LockUnlocked:
		return ErrAlreadyUnlocked
	default:
		return fmt.Errorf("lock in unknown status %q", s)
	}
}
