package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/audittrail/pkg/storage"
)

func TestCachedStore_Get(t *testing.T) {
	db := setupSQLiteDB(t)
	ctx := context.Background()

	insertRecord(t, db, LogTableName, 5, "users", ActionModified, "u-1", testTime)
	insertRecord(t, db, ArchiveTableName, 1, "roles", ActionCreated, "u-1", testTime.Add(-48*time.Hour))

	inner, err := NewDBStore(db, storage.SQLite)
	require.NoError(t, err)
	store := NewCachedStore(inner, 0, 0)

	rec, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "roles", rec.TableName)
	assert.Equal(t, CacheStats{Hits: 0, Misses: 1, Size: 1}, store.Stats())

	// Served from memory once the row is gone from the database
	_, err = db.Exec("DELETE FROM audit_log_archives")
	require.NoError(t, err)

	rec.TableName = "mutated"
	again, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "roles", again.TableName)
	assert.Equal(t, int64(1), store.Stats().Hits)

	hot, err := store.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "users", hot.TableName)
	assert.Equal(t, 1, store.Stats().Size, "hot records are not cached")

	_, err = store.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	store.Purge()
	_, err = store.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachedStore_Eviction(t *testing.T) {
	db := setupSQLiteDB(t)
	ctx := context.Background()

	for id := int64(1); id <= 3; id++ {
		insertRecord(t, db, ArchiveTableName, id, "users", ActionCreated, "", testTime.Add(-72*time.Hour))
	}

	inner, err := NewDBStore(db, storage.SQLite)
	require.NoError(t, err)
	store := NewCachedStore(inner, 2, time.Minute)

	for id := int64(1); id <= 3; id++ {
		_, err := store.Get(ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, store.Stats().Size)

	// Delegated methods reach the wrapped store
	n, err := store.Count(ctx, SearchFilter{Scope: ScopeArchive})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
