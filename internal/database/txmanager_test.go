package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/batchdonations/internal/testutil"
)

func newMockTxManager(t *testing.T) (TxManager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return NewTxManager(db), mock
}

func TestNewTxManager(t *testing.T) {
	db := &sql.DB{}

	txManager := NewTxManager(db)
	assert.NotNil(t, txManager)
	assert.IsType(t, &sqlTxManager{}, txManager)
}

func TestWithTx_Mocked(t *testing.T) {
	ctx := context.Background()

	t.Run("Commit", func(t *testing.T) {
		txManager, mock := newMockTxManager(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		err := txManager.WithTx(ctx, func(ctx context.Context) error {
			assert.IsType(t, &sql.Tx{}, ctx.Value(txKey{}))
			return nil
		})

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("BeginError", func(t *testing.T) {
		txManager, mock := newMockTxManager(t)
		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		err := txManager.WithTx(ctx, func(ctx context.Context) error {
			t.Fatal("callback must not run without a transaction")
			return nil
		})

		assert.EqualError(t, err, "too many connections")
	})

	t.Run("CommitError", func(t *testing.T) {
		txManager, mock := newMockTxManager(t)
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(sql.ErrConnDone)

		err := txManager.WithTx(ctx, func(ctx context.Context) error { return nil })

		assert.ErrorIs(t, err, sql.ErrConnDone)
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		txManager, mock := newMockTxManager(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		err := txManager.WithTx(ctx, func(ctx context.Context) error { return assert.AnError })

		assert.Equal(t, assert.AnError, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RollbackError", func(t *testing.T) {
		txManager, mock := newMockTxManager(t)
		mock.ExpectBegin()
		mock.ExpectRollback().WillReturnError(sql.ErrTxDone)

		err := txManager.WithTx(ctx, func(ctx context.Context) error { return assert.AnError })

		assert.ErrorIs(t, err, sql.ErrTxDone)
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("NestedCallJoinsOuterTransaction", func(t *testing.T) {
		txManager, mock := newMockTxManager(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		err := txManager.WithTx(ctx, func(outer context.Context) error {
			return txManager.WithTx(outer, func(inner context.Context) error {
				assert.Same(t, outer.Value(txKey{}), inner.Value(txKey{}))
				return nil
			})
		})

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("PanicRollsBack", func(t *testing.T) {
		txManager, mock := newMockTxManager(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.PanicsWithValue(t, "boom", func() {
			_ = txManager.WithTx(ctx, func(ctx context.Context) error { panic("boom") })
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInTx(t *testing.T) {
	assert.False(t, InTx(context.Background()))
	assert.True(t, InTx(context.WithValue(context.Background(), txKey{}, &sql.Tx{})))
}

func TestGetTx_WithoutTransaction(t *testing.T) {
	db := &sql.DB{}

	querier := GetTx(context.Background(), db)

	assert.Equal(t, db, querier)
}

func TestWithTx_RollsBackBatchInsert(t *testing.T) {
	testutil.SkipIfNoPostgres(t)

	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	txManager := NewTxManager(db)
	ctx := context.Background()

	err := txManager.WithTx(ctx, func(ctx context.Context) error {
		querier := GetTx(ctx, db)
		assert.IsType(t, &sql.Tx{}, querier)
		_, err := querier.ExecContext(ctx,
			`INSERT INTO batch_operations (id, operation_type, status, batch_size, max_retries, created_by,
				configuration, error_log, created_at, last_updated_at)
			 VALUES ($1, 'donations', 'queued', 50, 3, 'admin', '{}', '[]', NOW(), NOW())`,
			uuid.Must(uuid.NewV7()),
		)
		require.NoError(t, err)
		return assert.AnError
	})

	assert.Equal(t, assert.AnError, err)
	assert.Equal(t, 0, testutil.CountRows(t, db, "batch_operations"))
}
