// Package database provides database connection management and utilities.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// Config holds database configuration settings.
type Config struct {
	Driver             string
	ConnectionString   string
	MaxOpenConnections int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	// ConnectAttempts is how many times the initial ping is tried. Zero means once.
	ConnectAttempts int
	// ConnectBackoff is the pause between ping attempts.
	ConnectBackoff time.Duration
}

// Connect opens the pool and pings it until it answers or the attempts run out.
// Workers usually start next to the database, so the first pings may fail.
func Connect(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	attempts := max(cfg.ConnectAttempts, 1)
	for attempt := 1; ; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			return db, nil
		}
		if attempt >= attempts || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(cfg.ConnectBackoff):
		}
	}

	_ = db.Close()
	return nil, fmt.Errorf("failed to ping database after %d attempt(s): %w", attempts, err)
}
