// Package store is the record store: users, wallets, locks, proposals and
// votes on top of gorm. Every check-then-insert runs inside a transaction and
// is backed by a unique index.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stake-plus/stakegate/src/api/errs"
	"github.com/stake-plus/stakegate/src/api/types"
)

var (
	ErrWalletNotFound   = errs.NotFound("wallet not found")
	ErrWalletTaken      = errs.Conflict("wallet already bound to another user")
	ErrWalletLocked     = errs.Conflict("wallet has an active lock")
	ErrLockNotFound     = errs.NotFound("lock not found")
	ErrActiveLockExists = errs.Conflict("wallet already has an active lock")
	ErrProposalNotFound = errs.NotFound("proposal not found")
	ErrProposalClosed   = errs.Terminal("proposal is no longer accepting votes")
	ErrAlreadyVoted     = errs.Conflict("already voted on this proposal")
	ErrProjectNotFound  = errs.NotFound("project not found")
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for migrations and health checks.
func (s *Store) DB() *gorm.DB { return s.db }

// Tx runs fn inside one database transaction.
func (s *Store) Tx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// EnsureUser creates the user row on first sight.
func (s *Store) EnsureUser(ctx context.Context, userID uint64) error {
	u := types.User{ID: userID}
	if err := s.conn(ctx).Where(types.User{ID: userID}).FirstOrCreate(&u).Error; err != nil {
		return fmt.Errorf("ensure user %d: %w", userID, err)
	}
	return nil
}

// lockUser takes a row lock on the user for the rest of the transaction,
// creating the row if needed, so per-user decisions made from counts are
// serialized.
func (s *Store) lockUser(ctx context.Context, userID uint64) error {
	var u types.User
	err := s.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", userID).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&types.User{ID: userID}).Error
	}
	if err != nil {
		return fmt.Errorf("lock user %d: %w", userID, err)
	}
	return nil
}

func (s *Store) CreateProject(ctx context.Context, p *types.Project) error {
	if err := s.conn(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, id uint64) (types.Project, error) {
	var p types.Project
	err := s.conn(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return p, ErrProjectNotFound
	}
	if err != nil {
		return p, fmt.Errorf("get project %d: %w", id, err)
	}
	return p, nil
}

// UpdateProject sets columns on an existing project; a missing row is
// ErrProjectNotFound.
func (s *Store) UpdateProject(ctx context.Context, id uint64, cols map[string]interface{}) error {
	res := s.conn(ctx).Model(&types.Project{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("update project %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// isDuplicate recognizes unique violations from either driver, translated
// or not.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}
