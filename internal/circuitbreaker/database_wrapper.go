package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"
)

// DatabaseWrapper guards a *sql.DB with a breaker. sql.ErrNoRows is an
// answer, not an outage.
type DatabaseWrapper struct {
	db     *sql.DB
	guard  guard
	logger *zap.Logger
}

// NewDatabaseWrapper wraps db using DatabaseSettings
func NewDatabaseWrapper(db *sql.DB, logger *zap.Logger) *DatabaseWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DatabaseWrapper{
		db:     db,
		guard:  newGuard("postgresql", "citation-store", DatabaseSettings(), classifySQL, logger),
		logger: logger,
	}
}

func classifySQL(err error) Verdict {
	if errors.Is(err, sql.ErrNoRows) {
		return VerdictSuccess
	}
	return DefaultClassifier(err)
}

// PingContext checks connectivity
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.guard.run(ctx, func() error {
		return dw.db.PingContext(ctx)
	})
}

// QueryContext runs a query returning rows
func (dw *DatabaseWrapper) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	err := dw.guard.run(ctx, func() error {
		var qErr error
		rows, qErr = dw.db.QueryContext(ctx, query, args...)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// QueryRowScan runs a single-row query and scans it into dest. The scan
// happens inside the breaker so that row errors are accounted for.
func (dw *DatabaseWrapper) QueryRowScan(ctx context.Context, query string, args []interface{}, dest ...interface{}) error {
	return dw.Do(ctx, func(ctx context.Context) error {
		return dw.db.QueryRowContext(ctx, query, args...).Scan(dest...)
	})
}

// ExecContext runs a statement without returning rows
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	err := dw.guard.run(ctx, func() error {
		var eErr error
		result, eErr = dw.db.ExecContext(ctx, query, args...)
		return eErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Do runs fn through the breaker. It lets callers use higher-level query
// helpers such as sqlx while keeping breaker accounting.
func (dw *DatabaseWrapper) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return dw.guard.run(ctx, func() error {
		return fn(ctx)
	})
}

// IsOpen reports whether calls are currently rejected
func (dw *DatabaseWrapper) IsOpen() bool {
	return dw.guard.cb.State() == StateOpen
}

// Stats returns pool statistics
func (dw *DatabaseWrapper) Stats() sql.DBStats {
	return dw.db.Stats()
}

// DB returns the underlying handle
func (dw *DatabaseWrapper) DB() *sql.DB {
	return dw.db
}

// Close closes the underlying handle
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}
