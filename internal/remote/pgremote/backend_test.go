package pgremote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/remote"
	"github.com/dmitrijs2005/gophvault/internal/remote/remotetest"
	"github.com/dmitrijs2005/gophvault/internal/vclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	qEnsureTenant = `(?s)^INSERT\s+INTO\s+vault_sync_metadata\s*\(tenant_id\)\s*VALUES\s*\(\$1\)\s*ON\s+CONFLICT`
	qLockTenant   = `(?s)^SELECT\s+current_seq\s+FROM\s+vault_sync_metadata\s+WHERE\s+tenant_id\s*=\s*\$1\s+FOR\s+UPDATE`
	qGetRecord    = `(?s)^SELECT\s+body\s+FROM\s+vault_records\s+WHERE\s+tenant_id\s*=\s*\$1\s+AND\s+id\s*=\s*\$2`
	qPutRecord    = `(?s)INSERT\s+INTO\s+vault_records\s*\(tenant_id,\s*id,\s*seq,\s*body\)`
	qSetSeq       = `(?s)^UPDATE\s+vault_sync_metadata\s+SET\s+current_seq\s*=\s*\$2`
	qAfter        = `(?s)SELECT\s+seq,\s*body\s+FROM\s+vault_records\s+WHERE\s+tenant_id\s*=\s*\$1\s+AND\s+seq\s*>\s*\$2`
)

func newBackendWithMock(t *testing.T) (*Backend, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func body(t *testing.T, r remote.Record) []byte {
	t.Helper()
	b, err := json.Marshal(r)
	require.NoError(t, err)
	return b
}

func TestPush_AssignsSequenceAndSkipsCovered(t *testing.T) {
	b, mock := newBackendWithMock(t)

	fresh := remotetest.Rec("default", "db", 1, vclock.Clock{"a": 1}, "v1")
	stale := remotetest.Rec("default", "api", 1, vclock.Clock{"a": 1}, "old")
	stored := remotetest.Rec("default", "api", 2, vclock.Clock{"a": 2}, "new")

	mock.ExpectBegin()
	mock.ExpectExec(qEnsureTenant).WithArgs("t1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(qLockTenant).WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"current_seq"}).AddRow(int64(4)))

	mock.ExpectQuery(qGetRecord).WithArgs("t1", "default/db").
		WillReturnRows(sqlmock.NewRows([]string{"body"}))
	mock.ExpectExec(qPutRecord).WithArgs("t1", "default/db", int64(5), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(qGetRecord).WithArgs("t1", "default/api").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(body(t, stored)))

	mock.ExpectExec(qSetSeq).WithArgs("t1", int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := b.Push(context.Background(), "t1", []remote.Record{fresh, stale})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, []string{"default/api"}, res.Skipped)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPush_NothingAcceptedLeavesSequence(t *testing.T) {
	b, mock := newBackendWithMock(t)
	stored := remotetest.Rec("default", "db", 1, vclock.Clock{"a": 1}, "v1")

	mock.ExpectBegin()
	mock.ExpectExec(qEnsureTenant).WithArgs("t1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(qLockTenant).WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"current_seq"}).AddRow(int64(1)))
	mock.ExpectQuery(qGetRecord).WithArgs("t1", "default/db").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(body(t, stored)))
	mock.ExpectCommit()

	res, err := b.Push(context.Background(), "t1", []remote.Record{stored})
	require.NoError(t, err)
	assert.Zero(t, res.Accepted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPush_DBErrorRollsBackAsSyncError(t *testing.T) {
	b, mock := newBackendWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(qEnsureTenant).WithArgs("t1").WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	_, err := b.Push(context.Background(), "t1", []remote.Record{
		remotetest.Rec("default", "db", 1, vclock.Clock{"a": 1}, "v1"),
	})
	require.ErrorIs(t, err, common.ErrSync)
	assert.Contains(t, err.Error(), "db down")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPush_CorruptStoredBody(t *testing.T) {
	b, mock := newBackendWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(qEnsureTenant).WithArgs("t1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(qLockTenant).WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"current_seq"}).AddRow(int64(1)))
	mock.ExpectQuery(qGetRecord).WithArgs("t1", "default/db").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow([]byte("{not json")))
	mock.ExpectRollback()

	_, err := b.Push(context.Background(), "t1", []remote.Record{
		remotetest.Rec("default", "db", 2, vclock.Clock{"a": 2}, "v2"),
	})
	require.ErrorIs(t, err, common.ErrSyncCorruption)
}

func TestPull_PagesBySequence(t *testing.T) {
	b, mock := newBackendWithMock(t)

	r1 := remotetest.Rec("default", "a", 1, vclock.Clock{"a": 1}, "1")
	r2 := remotetest.Rec("default", "b", 1, vclock.Clock{"a": 2}, "2")
	r3 := remotetest.Rec("default", "c", 1, vclock.Clock{"a": 3}, "3")

	mock.ExpectQuery(qAfter).WithArgs("t1", int64(3), 3).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "body"}).
			AddRow(int64(4), body(t, r1)).
			AddRow(int64(6), body(t, r2)).
			AddRow(int64(9), body(t, r3)))

	batch, err := b.Pull(context.Background(), "t1", "3", 2)
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	assert.Equal(t, "default/a", batch.Records[0].ID())
	assert.Equal(t, int64(6), batch.Records[1].Seq)
	assert.Equal(t, "6", batch.Cursor)
	assert.True(t, batch.More)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPull_EmptyKeepsCursor(t *testing.T) {
	b, mock := newBackendWithMock(t)
	mock.ExpectQuery(qAfter).WithArgs("t1", int64(7), remote.DefaultPullLimit+1).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "body"}))

	batch, err := b.Pull(context.Background(), "t1", "7", 0)
	require.NoError(t, err)
	assert.Empty(t, batch.Records)
	assert.Equal(t, "7", batch.Cursor)
	assert.False(t, batch.More)
}

func TestPull_BadCursor(t *testing.T) {
	b, _ := newBackendWithMock(t)
	_, err := b.Pull(context.Background(), "t1", "x", 10)
	require.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestPull_QueryError(t *testing.T) {
	b, mock := newBackendWithMock(t)
	mock.ExpectQuery(qAfter).WillReturnError(sql.ErrConnDone)

	_, err := b.Pull(context.Background(), "t1", "", 10)
	require.ErrorIs(t, err, common.ErrSync)
}

// TestContract runs against a live server when GOPHVAULT_TEST_PG_DSN is set.
func TestContract(t *testing.T) {
	dsn := os.Getenv("GOPHVAULT_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("GOPHVAULT_TEST_PG_DSN not set")
	}
	remotetest.Run(t, func(t *testing.T) remote.Backend {
		b, err := Open(context.Background(), dsn)
		require.NoError(t, err)
		_, err = b.db.Exec(`TRUNCATE vault_records, vault_sync_metadata`)
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}
