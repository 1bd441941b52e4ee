package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/newsletter/internal/apperror"
	"github.com/sakif/newsletter/internal/model"
	"github.com/sakif/newsletter/internal/repository"
)

var _ repository.SubscriptionRepository = (*DB)(nil)

// Persistence failure kinds. They only ever reach logs.
const (
	KindUniqueViolation     = "unique_violation"
	KindConstraintViolation = "constraint_violation"
	KindAcquireTimeout      = "acquire_timeout"
	KindTimeout             = "timeout"
	KindCanceled            = "canceled"
	KindConnection          = "connection"
	KindOther               = "other"
)

var errAcquire = errors.New("acquiring connection")

// Insert stores sub with a single INSERT.
//
// It borrows one connection from the pool, waiting at most the acquire
// timeout, and returns it whatever the outcome. One log line marks the start
// and one the outcome; both are logged with ctx so they carry the request's
// correlation data. Every failure is returned as apperror.ErrPersistence.
func (db *DB) Insert(ctx context.Context, sub *model.Subscriber) error {
	start := time.Now()
	db.logger.InfoContext(ctx, "saving new subscriber")

	err := db.insert(ctx, sub)
	elapsed := time.Since(start)
	if err != nil {
		kind := classify(err)
		db.logger.ErrorContext(ctx, "failed to save subscriber",
			slog.String("kind", kind),
			slog.Any("error", err),
			slog.Duration("elapsed", elapsed),
		)
		return apperror.PersistenceFailed(kind, err)
	}

	db.logger.InfoContext(ctx, "new subscriber saved", slog.Duration("elapsed", elapsed))
	return nil
}

func (db *DB) insert(ctx context.Context, sub *model.Subscriber) error {
	acquireCtx, cancel := context.WithTimeout(ctx, db.acquireTimeout)
	conn, err := db.conn.Conn(acquireCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("sqldb: %w: %w", errAcquire, err)
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, db.dialect.insertSQL,
		sub.ID.String(),
		sub.Email,
		sub.Name,
		sub.SubscribedAt,
	)
	if err != nil {
		return fmt.Errorf("sqldb: inserting subscriber: %w", err)
	}
	return nil
}

// classify maps a driver error to a failure kind. The mapping is
// deterministic: the same error always yields the same kind.
func classify(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return KindUniqueViolation
		case pqErr.Code.Class() == "23":
			return KindConstraintViolation
		case pqErr.Code.Class() == "08":
			return KindConnection
		case pqErr.Code == "57014":
			return KindTimeout
		}
		return KindOther
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return KindUniqueViolation
		}
		if liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
			return KindConstraintViolation
		}
		return KindOther
	}

	var netErr net.Error
	switch {
	case errors.Is(err, errAcquire) && errors.Is(err, context.DeadlineExceeded):
		return KindAcquireTimeout
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone), errors.As(err, &netErr):
		return KindConnection
	}
	return KindOther
}
