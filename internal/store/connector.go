package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connector hands out database connections.
type Connector struct {
	cfg    Config
	active atomic.Int64

	mu   sync.Mutex
	pool *gorm.DB
}

// NewConnector creates a Connector for cfg. No connection is opened until
// the first Acquire.
func NewConnector(cfg Config) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	slog.Info("Database configured", "config", cfg.String())
	return &Connector{cfg: cfg}, nil
}

// Config returns the connector's configuration.
func (c *Connector) Config() Config { return c.cfg }

// Active reports how many acquired connections have not been released.
func (c *Connector) Active() int { return int(c.active.Load()) }

// Acquire returns a connection. In direct mode a new physical connection is
// opened; in pooled mode the shared pool is handed out. Acquisition is
// bounded by ConnectTimeout.
func (c *Connector) Acquire(ctx context.Context) (*Conn, error) {
	var (
		db      *gorm.DB
		release func() error
		err     error
	)
	if c.cfg.Pooled {
		db, err = c.sharedPool(ctx)
		release = func() error { return nil }
	} else {
		db, err = c.open(ctx, 1)
		release = func() error { return closeDB(db) }
	}
	if err != nil {
		slog.Error("Failed to establish database connection", "config", c.cfg.String(), "error", err)
		return nil, &ConnectionError{Err: err}
	}

	c.active.Add(1)
	slog.Debug("Database connection acquired", "pooled", c.cfg.Pooled)
	return &Conn{
		db: db,
		release: func() error {
			c.active.Add(-1)
			return release()
		},
	}, nil
}

// Do acquires a connection, runs fn with it and releases it on every path.
func (c *Connector) Do(ctx context.Context, fn func(db *gorm.DB) error) error {
	conn, err := c.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Release(); err != nil {
			slog.Warn("Failed to release database connection", "error", err)
		}
	}()
	return fn(conn.DB().WithContext(ctx))
}

// Ping checks that the database answers. Failures are *ConnectionError.
func (c *Connector) Ping(ctx context.Context) error {
	return c.Do(ctx, func(db *gorm.DB) error {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			return &ConnectionError{Err: err}
		}
		return nil
	})
}

// Close closes the shared pool, if one was opened.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool == nil {
		return nil
	}
	err := closeDB(c.pool)
	c.pool = nil
	return err
}

func (c *Connector) sharedPool(ctx context.Context) (*gorm.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil {
		return c.pool, nil
	}
	db, err := c.open(ctx, c.cfg.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	c.pool = db
	return db, nil
}

func (c *Connector) open(ctx context.Context, maxOpen int) (*gorm.DB, error) {
	logLevel := logger.Silent
	if c.cfg.Debug {
		logLevel = logger.Info
	}
	db, err := gorm.Open(c.cfg.dialector(), &gorm.Config{
		Logger:               logger.Default.LogMode(logLevel),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", c.cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql handle: %w", err)
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}

	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging %s: %w", c.cfg.Driver, err)
	}
	return db, nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Conn is an acquired connection. Release must be called exactly once; any
// further call is a no-op.
type Conn struct {
	db       *gorm.DB
	release  func() error
	once     sync.Once
	released atomic.Bool
}

// DB returns the gorm handle for the connection.
func (c *Conn) DB() *gorm.DB { return c.db }

// Release returns the connection. It is safe to call more than once and on
// a nil Conn.
func (c *Conn) Release() error {
	if c == nil {
		return nil
	}
	var err error
	c.once.Do(func() {
		c.released.Store(true)
		err = c.release()
	})
	return err
}

// Released reports whether Release has been called.
func (c *Conn) Released() bool {
	return c != nil && c.released.Load()
}
