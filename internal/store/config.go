package store

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Default timeouts used by the command line.
const (
	DefaultConnectTimeout   = 10 * time.Second
	DefaultStatementTimeout = 30 * time.Second
)

// Config describes how to reach the relational store. It is copied into
// the Connector at construction and never changed afterwards.
type Config struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	// Database is the database name for postgres and the file path for
	// sqlite.
	Database string
	SSLMode  string
	// URL, when set, is used verbatim as the postgres DSN.
	URL string

	// Pooled keeps one shared pool open for the life of the Connector.
	// When false every acquisition opens a new physical connection and
	// release closes it.
	Pooled       bool
	MaxOpenConns int

	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
	Debug            bool
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverPostgres:
		if c.URL == "" && c.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case DriverSQLite:
		if c.Database == "" {
			return fmt.Errorf("database path is required")
		}
	default:
		return fmt.Errorf("unsupported driver %q (valid: %s, %s)", c.Driver, DriverPostgres, DriverSQLite)
	}
	return nil
}

// DSN returns the postgres connection string in key=value form.
func (c Config) DSN() string {
	if c.URL != "" {
		return strings.Trim(strings.TrimSpace(c.URL), "\"'")
	}

	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("host", c.Host)
	add("port", c.Port)
	add("user", c.User)
	add("password", c.Password)
	add("dbname", c.Database)
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	add("sslmode", sslmode)
	if c.ConnectTimeout > 0 {
		secs := int(c.ConnectTimeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		add("connect_timeout", fmt.Sprintf("%d", secs))
	}
	return strings.Join(parts, " ")
}

// String renders the configuration for logs with the password masked.
func (c Config) String() string {
	if c.Driver == DriverSQLite {
		return fmt.Sprintf("sqlite path=%s pooled=%t", c.Database, c.Pooled)
	}
	if c.URL != "" {
		return fmt.Sprintf("postgres url=*** pooled=%t", c.Pooled)
	}
	return fmt.Sprintf("postgres host=%s port=%s user=%s dbname=%s pooled=%t",
		c.Host, c.Port, c.User, c.Database, c.Pooled)
}

func (c Config) dialector() gorm.Dialector {
	if c.Driver == DriverSQLite {
		return sqlite.Open(c.Database)
	}
	return postgres.Open(c.DSN())
}
