package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockKV(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresKVStore) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresKVStore(db, "")
}

func TestPostgresKVStore_EnsureSchema(t *testing.T) {
	db, mock, kv := setupMockKV(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS alarm_kv`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, kv.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKVStore_Get(t *testing.T) {
	db, mock, kv := setupMockKV(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"value"}).AddRow(`[{"id":"a"}]`)
	mock.ExpectQuery(`SELECT value FROM alarm_kv WHERE key = \$1`).
		WithArgs(DefaultPersistKey).
		WillReturnRows(rows)

	value, err := kv.Get(context.Background(), DefaultPersistKey)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a"}]`, value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKVStore_GetMissing(t *testing.T) {
	db, mock, kv := setupMockKV(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT value FROM alarm_kv`).
		WithArgs("absent").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, err := kv.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKVStore_GetError(t *testing.T) {
	db, mock, kv := setupMockKV(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT value FROM alarm_kv`).
		WithArgs("k").
		WillReturnError(errors.New("connection reset"))

	_, err := kv.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
	assert.Contains(t, err.Error(), "failed to query kv")
}

func TestPostgresKVStore_SetUpserts(t *testing.T) {
	db, mock, kv := setupMockKV(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO alarm_kv .* ON CONFLICT \(key\) DO UPDATE`).
		WithArgs(DefaultPersistKey, "[]").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, kv.Set(context.Background(), DefaultPersistKey, "[]", 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKVStore_CustomTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	kv := NewPostgresKVStore(db, "ops_alarm_buffer")

	mock.ExpectExec(`INSERT INTO ops_alarm_buffer`).
		WithArgs("k", "v").
		WillReturnError(errors.New("read-only transaction"))

	err = kv.Set(context.Background(), "k", "v", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upsert kv")
}

func TestMemoryKVStore(t *testing.T) {
	kv := NewMemoryKVStore()
	ctx := context.Background()

	_, err := kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, kv.Set(ctx, "k", "v1", 0))
	require.NoError(t, kv.Set(ctx, "k", "v2", 0))

	v, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}
