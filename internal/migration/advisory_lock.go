package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
)

var errLockHeld = errors.New("another payhub migration holds the advisory lock")

// migrateLockKey is stable across releases so old and new binaries exclude
// each other during a rolling deploy.
var migrateLockKey = func() int64 {
	h := fnv.New64a()
	h.Write([]byte("payhub/schema-migrate"))
	return int64(h.Sum64())
}()

// sessionLock is a Postgres session advisory lock. It pins one pooled
// connection, since the lock belongs to the session that took it.
type sessionLock struct {
	conn *sql.Conn
}

func acquireAdvisoryLock(ctx context.Context, db *sql.DB) (*sessionLock, error) {
	if db == nil {
		return nil, errors.New("advisory lock requires a database handle")
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("pin lock connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", migrateLockKey).Scan(&locked); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !locked {
		_ = conn.Close()
		return nil, errLockHeld
	}
	return &sessionLock{conn: conn}, nil
}

// release unlocks and returns the connection to the pool. Closing the
// connection alone would also drop the lock once Postgres sees the session end.
func (l *sessionLock) release(ctx context.Context) error {
	defer l.conn.Close()

	var released bool
	if err := l.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", migrateLockKey).Scan(&released); err != nil {
		return fmt.Errorf("release advisory lock: %w", err)
	}
	if !released {
		return errors.New("advisory lock was not held by this session")
	}
	return nil
}
