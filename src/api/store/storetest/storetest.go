// Package storetest opens throwaway record stores for tests.
package storetest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stake-plus/stakegate/src/api/data"
	"github.com/stake-plus/stakegate/src/api/store"
)

// New returns a migrated store backed by a private in-memory sqlite database.
func New(t testing.TB) *store.Store {
	t.Helper()
	db, err := data.ConnectSQLite("")
	require.NoError(t, err)
	require.NoError(t, data.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return store.New(db)
}
