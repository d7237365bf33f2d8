package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/audittrail/pkg/storage"
)

func insertRecord(t *testing.T, db *sql.DB, table string, id int64, tableName string, action Action, userID string, ts time.Time) {
	t.Helper()
	uid := sql.NullString{String: userID, Valid: userID != ""}
	_, err := db.Exec(
		"INSERT INTO "+table+" (id, table_name, key_values, old_values, new_values, action, user_id, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		id, tableName, `{"id":1}`, nil, `{"name":"x"}`, string(action), uid, ts,
	)
	require.NoError(t, err)
}

func TestNewDBStore(t *testing.T) {
	t.Run("nil database", func(t *testing.T) {
		store, err := NewDBStore(nil, storage.Postgres)
		assert.Error(t, err)
		assert.Nil(t, store)
		assert.Contains(t, err.Error(), "database connection is required")
	})

	t.Run("nil dialect", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		_, err = NewDBStore(db, nil)
		assert.Error(t, err)
	})
}

func TestDBStore_EnsureSchema(t *testing.T) {
	t.Run("postgres", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs \\(\\s+id BIGSERIAL PRIMARY KEY").WillReturnResult(sqlmock.NewResult(0, 0))
		for i := 0; i < 3; i++ {
			mock.ExpectExec("CREATE INDEX IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
		}
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_log_archives \\(\\s+id BIGINT PRIMARY KEY").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("CREATE INDEX IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))

		store, err := NewDBStore(db, storage.Postgres)
		require.NoError(t, err)
		require.NoError(t, store.EnsureSchema(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").WillReturnError(errors.New("permission denied"))

		store, err := NewDBStore(db, storage.Postgres)
		require.NoError(t, err)
		err = store.EnsureSchema(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to ensure audit tables")
	})
}

func TestDBStore_SearchQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewDBStore(db, storage.Postgres)
	require.NoError(t, err)

	start := testTime.Add(-time.Hour)
	columns := []string{"id", "table_name", "key_values", "old_values", "new_values", "action", "user_id", "timestamp"}
	mock.ExpectQuery(`SELECT id, table_name, key_values, old_values, new_values, action, user_id, timestamp FROM audit_log_archives WHERE timestamp >= \$1 AND table_name = \$2 AND user_id = \$3 AND action IN \(\$4, \$5\) ORDER BY timestamp ASC, id ASC LIMIT \$6 OFFSET \$7`).
		WithArgs(start, "users", "u-1", "Created", "Deleted", 10, 20).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(int64(4), "users", `{"id":1}`, nil, `{"a":1}`, "Created", "u-1", testTime))

	records, err := store.Search(context.Background(), SearchFilter{
		Scope:     ScopeArchive,
		StartTime: &start,
		TableName: "users",
		UserID:    "u-1",
		Actions:   []Action{ActionCreated, ActionDeleted},
		Limit:     10,
		Offset:    20,
		SortOrder: "asc",
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(4), records[0].ID)
	assert.Equal(t, ActionCreated, records[0].Action)
	assert.False(t, records[0].OldValues.Valid)
	assert.Equal(t, "u-1", records[0].UserID.String)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStore_SearchError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewDBStore(db, storage.Postgres)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .* FROM audit_logs ORDER BY timestamp DESC, id DESC").WillReturnError(errors.New("db down"))

	_, err = store.Search(context.Background(), SearchFilter{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to search audit logs")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStore_SQLite(t *testing.T) {
	db := setupSQLiteDB(t)
	ctx := context.Background()

	insertRecord(t, db, LogTableName, 1, "users", ActionCreated, "u-1", testTime.Add(-3*time.Hour))
	insertRecord(t, db, LogTableName, 2, "roles", ActionModified, "u-2", testTime.Add(-2*time.Hour))
	insertRecord(t, db, LogTableName, 3, "users", ActionDeleted, "", testTime.Add(-time.Hour))
	insertRecord(t, db, ArchiveTableName, 0, "users", ActionCreated, "u-1", testTime.Add(-48*time.Hour))

	store, err := NewDBStore(db, storage.SQLite)
	require.NoError(t, err)

	t.Run("search newest first", func(t *testing.T) {
		records, err := store.Search(ctx, SearchFilter{})
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, []int64{3, 2, 1}, []int64{records[0].ID, records[1].ID, records[2].ID})
	})

	t.Run("time range", func(t *testing.T) {
		start := testTime.Add(-150 * time.Minute)
		records, err := store.Search(ctx, SearchFilter{StartTime: &start})
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("offset without limit", func(t *testing.T) {
		records, err := store.Search(ctx, SearchFilter{Offset: 1, SortOrder: "asc"})
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, int64(2), records[0].ID)
	})

	t.Run("archive scope", func(t *testing.T) {
		records, err := store.Search(ctx, SearchFilter{Scope: ScopeArchive})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, int64(0), records[0].ID)
	})

	t.Run("count", func(t *testing.T) {
		n, err := store.Count(ctx, SearchFilter{TableName: "users"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("get", func(t *testing.T) {
		rec, err := store.Get(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, "roles", rec.TableName)

		rec, err = store.Get(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, "users", rec.TableName)

		_, err = store.Get(ctx, 99)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := store.GetStats(ctx, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.HotRecords)
		assert.Equal(t, int64(1), stats.ArchivedRecords)
		assert.Equal(t, int64(1), stats.RecordsByAction[ActionModified])
		assert.Equal(t, int64(2), stats.RecordsByTable["users"])
		require.NotNil(t, stats.OldestHot)
		assert.True(t, stats.OldestHot.Equal(testTime.Add(-3*time.Hour)))
		require.NotNil(t, stats.LastArchivedAt)
		assert.True(t, stats.LastArchivedAt.Equal(testTime.Add(-48*time.Hour)))
	})

	t.Run("export", func(t *testing.T) {
		data, err := store.Export(ctx, SearchFilter{}, ExportFormatNDJSON)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"table_name":"roles"`)
	})
}

func TestDBStore_LastArchivedAtEmpty(t *testing.T) {
	db := setupSQLiteDB(t)
	store, err := NewDBStore(db, storage.SQLite)
	require.NoError(t, err)

	ts, err := store.LastArchivedAt(context.Background())
	require.NoError(t, err)
	assert.Nil(t, ts)
}

func TestDBStore_UsesContextTransaction(t *testing.T) {
	db := setupSQLiteDB(t)
	store, err := NewDBStore(db, storage.SQLite)
	require.NoError(t, err)

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.Exec(
		"INSERT INTO audit_logs (table_name, key_values, action, timestamp) VALUES (?, ?, ?, ?)",
		"users", `{"id":1}`, "Created", testTime,
	)
	require.NoError(t, err)

	// The pool holds a single connection, so this only succeeds through tx.
	n, err := store.Count(storage.WithTx(ctx, tx), SearchFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, tx.Rollback())

	n, err = store.Count(ctx, SearchFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}
