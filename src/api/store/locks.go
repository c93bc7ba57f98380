package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/stake-plus/stakegate/src/api/types"
)

// CreateLock inserts l as ACTIVE unless the wallet already has an active
// lock. The pre-check and the unique active_wallet index both guard the
// invariant; either one firing yields ErrActiveLockExists.
func (s *Store) CreateLock(ctx context.Context, l *types.Lock) error {
	addr := l.WalletAddress
	l.Status = types.LockActive
	l.ActiveWallet = &addr
	err := s.Tx(ctx, func(tx *Store) error {
		var n int64
		if err := tx.conn(ctx).Model(&types.Lock{}).
			Where("wallet_address = ? AND status = ?", addr, types.LockActive).
			Count(&n).Error; err != nil {
			return fmt.Errorf("count active locks: %w", err)
		}
		if n > 0 {
			return ErrActiveLockExists
		}
		return tx.conn(ctx).Create(l).Error
	})
	if isDuplicate(err) {
		return ErrActiveLockExists
	}
	if err != nil && !errors.Is(err, ErrActiveLockExists) {
		return fmt.Errorf("create lock: %w", err)
	}
	return err
}

func (s *Store) GetLock(ctx context.Context, id uint64) (types.Lock, error) {
	var l types.Lock
	err := s.conn(ctx).First(&l, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return l, ErrLockNotFound
	}
	if err != nil {
		return l, fmt.Errorf("get lock %d: %w", id, err)
	}
	return l, nil
}

// ListLocks returns all of a user's locks, newest first.
func (s *Store) ListLocks(ctx context.Context, userID uint64) ([]types.Lock, error) {
	var out []types.Lock
	if err := s.conn(ctx).Where("user_id = ?", userID).Order("created_at desc, id desc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	return out, nil
}

// ActiveLocksForUser returns the user's ACTIVE locks.
func (s *Store) ActiveLocksForUser(ctx context.Context, userID uint64) ([]types.Lock, error) {
	var out []types.Lock
	if err := s.conn(ctx).Where("user_id = ? AND status = ?", userID, types.LockActive).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("active locks: %w", err)
	}
	return out, nil
}

// ActiveLocks returns every ACTIVE lock in id order.
func (s *Store) ActiveLocks(ctx context.Context) ([]types.Lock, error) {
	var out []types.Lock
	if err := s.conn(ctx).Where("status = ?", types.LockActive).Order("id asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("active locks: %w", err)
	}
	return out, nil
}

// TouchLock refreshes last_verified_at on a lock that is still ACTIVE.
func (s *Store) TouchLock(ctx context.Context, id uint64, now time.Time) (bool, error) {
	res := s.conn(ctx).Model(&types.Lock{}).
		Where("id = ? AND status = ?", id, types.LockActive).
		Update("last_verified_at", now)
	if res.Error != nil {
		return false, fmt.Errorf("touch lock %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ViolateLock moves an ACTIVE lock to VIOLATED. It reports false when the
// lock had already left ACTIVE.
func (s *Store) ViolateLock(ctx context.Context, id uint64, now time.Time) (bool, error) {
	res := s.conn(ctx).Model(&types.Lock{}).
		Where("id = ? AND status = ?", id, types.LockActive).
		Updates(map[string]interface{}{
			"status":           types.LockViolated,
			"active_wallet":    nil,
			"last_verified_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("violate lock %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ExpireLocks moves every ACTIVE lock whose end date is before now to
// EXPIRED and returns how many moved.
func (s *Store) ExpireLocks(ctx context.Context, now time.Time) (int64, error) {
	res := s.conn(ctx).Model(&types.Lock{}).
		Where("status = ? AND lock_end_date < ?", types.LockActive, now).
		Updates(map[string]interface{}{
			"status":        types.LockExpired,
			"active_wallet": nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("expire locks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// UnlockLock moves a lock from one of the given statuses to UNLOCKED.
// It reports false when the lock was in none of them.
func (s *Store) UnlockLock(ctx context.Context, id uint64, from []types.LockStatus) (bool, error) {
	res := s.conn(ctx).Model(&types.Lock{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]interface{}{"status": types.LockUnlocked, "active_wallet": nil})
	if res.Error != nil {
		return false, fmt.Errorf("unlock lock %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}
