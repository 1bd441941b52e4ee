package sqldb

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/newsletter/internal/apperror"
	"github.com/sakif/newsletter/internal/config"
	"github.com/sakif/newsletter/internal/correlation"
	"github.com/sakif/newsletter/internal/model"
)

// newTestDB opens an in-memory sqlite store with the schema in place. The
// pool has a single connection and a short acquire timeout.
func newTestDB(t *testing.T) (*DB, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(correlation.NewHandler(slog.NewJSONHandler(&buf, nil)))

	db, err := Open(context.Background(), config.DatabaseSettings{
		Driver:         config.DriverSQLite,
		DatabaseName:   ":memory:",
		MaxConnections: 1,
		AcquireTimeout: 100 * time.Millisecond,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.EnsureSchema(context.Background()))
	buf.Reset()
	return db, &buf
}

func newSubscriber(email, name string) *model.Subscriber {
	return &model.Subscriber{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		SubscribedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	return lines
}

func requirePersistenceKind(t *testing.T, err error, kinds ...string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrPersistence))

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, kinds, appErr.Kind)
	assert.Equal(t, "failed to save subscription", appErr.Error())
}

func TestInsert(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()
	sub := newSubscriber("felipe_acosta@gmail.com", "felipe acosta")

	require.NoError(t, db.Insert(ctx, sub))

	var (
		id, email, name string
		subscribedAt    time.Time
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, email, name, subscribed_at FROM subscriptions`,
	).Scan(&id, &email, &name, &subscribedAt)
	require.NoError(t, err)

	assert.Equal(t, sub.ID.String(), id)
	assert.Equal(t, "felipe_acosta@gmail.com", email)
	assert.Equal(t, "felipe acosta", name)
	assert.True(t, sub.SubscribedAt.Equal(subscribedAt), "subscribed_at = %v, want %v", subscribedAt, sub.SubscribedAt)
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	db, _ := newTestDB(t)
	require.NoError(t, db.EnsureSchema(context.Background()))
	require.NoError(t, db.EnsureSchema(context.Background()))

	n, err := db.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestInsert_LogsStartAndCompletion(t *testing.T) {
	db, buf := newTestDB(t)
	ctx, c := correlation.Begin(context.Background())

	require.NoError(t, db.Insert(ctx, newSubscriber("a@example.com", "a")))

	lines := logLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "saving new subscriber", lines[0]["msg"])
	assert.Equal(t, "new subscriber saved", lines[1]["msg"])
	for _, l := range lines {
		assert.Equal(t, c.RequestID(), l[correlation.RequestIDKey])
		assert.Equal(t, "sqldb", l["component"])
	}
	assert.Contains(t, lines[1], "elapsed")
}

func TestInsert_DuplicateEmail(t *testing.T) {
	db, buf := newTestDB(t)
	ctx, c := correlation.Begin(context.Background())

	require.NoError(t, db.Insert(ctx, newSubscriber("dup@example.com", "first")))
	buf.Reset()

	err := db.Insert(ctx, newSubscriber("dup@example.com", "second"))
	requirePersistenceKind(t, err, KindUniqueViolation, KindConstraintViolation)

	n, err := db.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	lines := logLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "failed to save subscriber", lines[1]["msg"])
	assert.Equal(t, "ERROR", lines[1]["level"])
	assert.Equal(t, c.RequestID(), lines[1][correlation.RequestIDKey])
	assert.NotEmpty(t, lines[1]["error"])
}

func TestInsert_PoolExhausted(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	// Hold the only connection.
	held, err := db.conn.Conn(ctx)
	require.NoError(t, err)

	err = db.Insert(ctx, newSubscriber("a@example.com", "a"))
	requirePersistenceKind(t, err, KindAcquireTimeout)

	require.NoError(t, held.Close())

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestInsert_ReleasesConnection(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	// With a single connection, a leaked one would make the second insert
	// time out.
	require.NoError(t, db.Insert(ctx, newSubscriber("a@example.com", "a")))
	require.Error(t, db.Insert(ctx, newSubscriber("a@example.com", "dup")))
	require.NoError(t, db.Insert(ctx, newSubscriber("b@example.com", "b")))

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestInsert_CanceledContext(t *testing.T) {
	db, _ := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.Insert(ctx, newSubscriber("a@example.com", "a"))
	requirePersistenceKind(t, err, KindCanceled)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseSettings{
		Driver:         "oracle",
		DatabaseName:   "x",
		AcquireTimeout: time.Second,
	}, slog.Default())
	assert.ErrorContains(t, err, "unsupported driver")
}

func TestNew_RejectsUnboundedPool(t *testing.T) {
	for _, n := range []int{0, -1} {
		conn, _, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })

		_, err = New(conn, config.DatabaseSettings{
			Driver:         config.DriverPostgres,
			MaxConnections: n,
			AcquireTimeout: time.Second,
		}, slog.New(slog.NewTextHandler(io.Discard, nil)))
		assert.ErrorContains(t, err, "max connections must be positive", "max connections %d", n)
	}
}

func TestNew_RejectsNonPositiveAcquireTimeout(t *testing.T) {
	conn, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = New(conn, config.DatabaseSettings{
		Driver:         config.DriverPostgres,
		MaxConnections: 2,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "acquire timeout must be positive")
}

// =========================================================================
// POSTGRES DIALECT (sqlmock)
// =========================================================================

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := New(conn, config.DatabaseSettings{
		Driver:             config.DriverPostgres,
		MaxConnections:     2,
		MaxIdleConnections: 1,
		AcquireTimeout:     time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return db, mock
}

var insertPattern = regexp.QuoteMeta(`INSERT INTO subscriptions (id, email, name, subscribed_at)`) + `\s+` +
	regexp.QuoteMeta(`VALUES ($1, $2, $3, $4)`)

func TestPostgresInsert(t *testing.T) {
	db, mock := newMockDB(t)
	sub := newSubscriber("felipe_acosta@gmail.com", "felipe acosta")

	mock.ExpectExec(insertPattern).
		WithArgs(sub.ID.String(), sub.Email, sub.Name, sub.SubscribedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, db.Insert(context.Background(), sub))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsert_Failures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind string
	}{
		{
			name:     "unique violation",
			err:      &pq.Error{Code: "23505", Message: `duplicate key value violates unique constraint "subscriptions_email_key"`},
			wantKind: KindUniqueViolation,
		},
		{
			name:     "not null violation",
			err:      &pq.Error{Code: "23502", Message: "null value in column"},
			wantKind: KindConstraintViolation,
		},
		{
			name:     "connection failure reported by server",
			err:      &pq.Error{Code: "08006", Message: "connection failure"},
			wantKind: KindConnection,
		},
		{
			name:     "statement timeout",
			err:      &pq.Error{Code: "57014", Message: "canceling statement due to statement timeout"},
			wantKind: KindTimeout,
		},
		{
			name:     "network error",
			err:      &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")},
			wantKind: KindConnection,
		},
		{
			name:     "anything else",
			err:      errors.New("boom"),
			wantKind: KindOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectExec(insertPattern).WillReturnError(tt.err)

			err := db.Insert(context.Background(), newSubscriber("a@example.com", "a"))
			requirePersistenceKind(t, err, tt.wantKind)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestClassify_IsDeterministic(t *testing.T) {
	err := &pq.Error{Code: "23505"}
	for i := 0; i < 3; i++ {
		assert.Equal(t, KindUniqueViolation, classify(err))
	}
	assert.Equal(t, KindAcquireTimeout, classify(errors.Join(errAcquire, context.DeadlineExceeded)))
	assert.Equal(t, KindTimeout, classify(context.DeadlineExceeded))
}
