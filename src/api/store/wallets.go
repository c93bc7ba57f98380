package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/stake-plus/stakegate/src/api/types"
)

func (s *Store) GetWallet(ctx context.Context, address string) (types.Wallet, error) {
	var w types.Wallet
	err := s.conn(ctx).First(&w, "address = ?", address).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return w, ErrWalletNotFound
	}
	if err != nil {
		return w, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

// ListWallets returns the user's wallets, oldest first.
func (s *Store) ListWallets(ctx context.Context, userID uint64) ([]types.Wallet, error) {
	var out []types.Wallet
	if err := s.conn(ctx).Where("user_id = ?", userID).Order("created_at asc, id asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	return out, nil
}

// BindWallet records a verified wallet for userID. Binding the same wallet to
// the same user again returns the existing row; a wallet owned by anyone
// else is ErrWalletTaken. The first wallet a user binds becomes primary.
func (s *Store) BindWallet(ctx context.Context, userID uint64, address, txRef string, now time.Time) (types.Wallet, bool, error) {
	var (
		out     types.Wallet
		created bool
	)
	err := s.Tx(ctx, func(tx *Store) error {
		existing, err := tx.GetWallet(ctx, address)
		switch {
		case err == nil:
			if existing.UserID != userID {
				return ErrWalletTaken
			}
			out = existing
			return nil
		case !errors.Is(err, ErrWalletNotFound):
			return err
		}

		if err := tx.lockUser(ctx, userID); err != nil {
			return err
		}
		var owned int64
		if err := tx.conn(ctx).Model(&types.Wallet{}).Where("user_id = ?", userID).Count(&owned).Error; err != nil {
			return fmt.Errorf("count wallets: %w", err)
		}
		out = types.Wallet{
			Address:    address,
			UserID:     userID,
			IsPrimary:  owned == 0,
			TxRef:      txRef,
			VerifiedAt: now,
		}
		if err := tx.conn(ctx).Create(&out).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if isDuplicate(err) {
		// Lost a race with a concurrent confirmation; report whoever won.
		existing, gerr := s.GetWallet(ctx, address)
		if gerr != nil {
			return types.Wallet{}, false, gerr
		}
		if existing.UserID != userID {
			return types.Wallet{}, false, ErrWalletTaken
		}
		return existing, false, nil
	}
	if err != nil {
		return types.Wallet{}, false, err
	}
	return out, created, nil
}

// UpdateWallet changes the label and, when primary is true, makes this the
// user's only primary wallet.
func (s *Store) UpdateWallet(ctx context.Context, userID uint64, address string, label *string, primary bool) (types.Wallet, error) {
	var out types.Wallet
	err := s.Tx(ctx, func(tx *Store) error {
		w, err := tx.GetWallet(ctx, address)
		if err != nil {
			return err
		}
		if w.UserID != userID {
			return ErrWalletNotFound
		}
		if label != nil {
			w.Label = *label
		}
		if primary && !w.IsPrimary {
			if err := tx.conn(ctx).Model(&types.Wallet{}).
				Where("user_id = ? AND id <> ?", userID, w.ID).
				Update("is_primary", false).Error; err != nil {
				return fmt.Errorf("clear primary: %w", err)
			}
			w.IsPrimary = true
		}
		if err := tx.conn(ctx).Save(&w).Error; err != nil {
			return fmt.Errorf("save wallet: %w", err)
		}
		out = w
		return nil
	})
	return out, err
}

// DeleteWallet removes a wallet that has no active lock. Removing the
// primary promotes the oldest remaining wallet.
func (s *Store) DeleteWallet(ctx context.Context, userID uint64, address string) error {
	return s.Tx(ctx, func(tx *Store) error {
		w, err := tx.GetWallet(ctx, address)
		if err != nil {
			return err
		}
		if w.UserID != userID {
			return ErrWalletNotFound
		}
		var active int64
		if err := tx.conn(ctx).Model(&types.Lock{}).
			Where("wallet_address = ? AND status = ?", address, types.LockActive).
			Count(&active).Error; err != nil {
			return fmt.Errorf("count active locks: %w", err)
		}
		if active > 0 {
			return ErrWalletLocked
		}
		if err := tx.conn(ctx).Delete(&w).Error; err != nil {
			return fmt.Errorf("delete wallet: %w", err)
		}
		if !w.IsPrimary {
			return nil
		}
		var next types.Wallet
		err = tx.conn(ctx).Where("user_id = ?", userID).Order("created_at asc, id asc").First(&next).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find next primary: %w", err)
		}
		return tx.conn(ctx).Model(&next).Update("is_primary", true).Error
	})
}

// RecordAttempt stores an operator-facing trace of a verification challenge.
func (s *Store) RecordAttempt(ctx context.Context, a *types.VerificationAttempt) error {
	return s.conn(ctx).Create(a).Error
}

// MarkAttempt updates the trace rows for (address, code).
func (s *Store) MarkAttempt(ctx context.Context, address, code, status, txRef string) error {
	cols := map[string]interface{}{"status": status}
	if txRef != "" {
		cols["tx_ref"] = txRef
	}
	return s.conn(ctx).Model(&types.VerificationAttempt{}).
		Where("address = ? AND code = ?", address, code).
		Updates(cols).Error
}
