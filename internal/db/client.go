package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/leapgeo/citetrack/internal/circuitbreaker"
)

// ErrUnavailable means the database could not be reached at all
var ErrUnavailable = errors.New("database unavailable")

// Config holds database configuration
type Config struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

// DSN renders the lib/pq connection string
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Client is the Postgres citation store
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	sqlx   *sqlx.DB
	logger *zap.Logger
	now    func() time.Time

	hookMu  sync.RWMutex
	onSaved []func(projectID string)

	stopCh   chan struct{}
	stopOnce sync.Once
	healthWg sync.WaitGroup
}

// NewClient opens and pings the database, then starts a background health check.
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 25
	}
	if config.IdleConnections == 0 {
		config.IdleConnections = 5
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 5 * time.Minute
	}
	if config.SSLMode == "" {
		config.SSLMode = "require"
	}

	rawDB, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	rawDB.SetMaxOpenConns(config.MaxConnections)
	rawDB.SetMaxIdleConns(config.IdleConnections)
	rawDB.SetConnMaxLifetime(config.MaxLifetime)

	client := NewClientFromDB(rawDB, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.db.PingContext(ctx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client.healthWg.Add(1)
	go client.healthCheck(30 * time.Second)

	logger.Info("Database client initialized",
		zap.String("host", config.Host),
		zap.String("database", config.Database),
		zap.Int("max_connections", config.MaxConnections),
	)
	return client, nil
}

// NewClientFromDB wraps an already opened handle without pinging it
func NewClientFromDB(rawDB *sql.DB, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		db:     circuitbreaker.NewDatabaseWrapper(rawDB, logger),
		sqlx:   sqlx.NewDb(rawDB, "postgres"),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		stopCh: make(chan struct{}),
	}
}

// OnSaved registers fn to run after citations were written for a project
func (c *Client) OnSaved(fn func(projectID string)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.onSaved = append(c.onSaved, fn)
}

func (c *Client) notifySaved(projectID string) {
	c.hookMu.RLock()
	hooks := c.onSaved
	c.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(projectID)
	}
}

func (c *Client) healthCheck(interval time.Duration) {
	defer c.healthWg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.db.PingContext(ctx); err != nil {
				c.logger.Error("Database health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Close stops the health check and closes the pool
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.healthWg.Wait()

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	c.logger.Info("Database client closed")
	return nil
}

// Wrapper returns the breaker-guarded handle for health checks
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}
