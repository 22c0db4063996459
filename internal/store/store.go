// Package store is the Postgres persistence layer: typed asset graph with
// upsert-by-fingerprint, scan task state machine rows, DAG executions with
// row-locked JSON aggregates, and the alerting tables.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq" // also registers the "postgres" driver
)

// Sentinel errors surfaced to the API layer.
var (
	// ErrNotFound maps to 404.
	ErrNotFound = errors.New("not found")
	// ErrConflict maps to 409 (unique key violations, double start).
	ErrConflict = errors.New("conflict")
	// ErrPrecondition maps to 400 on illegal state transitions.
	ErrPrecondition = errors.New("precondition failed")
	// ErrUninitialized maps to 503 when the schema is missing.
	ErrUninitialized = errors.New("database not initialized")
)

// Store wraps the database handle. All methods take a context and are safe
// for concurrent use.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and verifies connectivity.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	slog.Info("postgres connected")
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (tests).
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// wrapErr translates driver errors into the store's sentinel taxonomy.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
		case "42P01": // undefined_table
			return fmt.Errorf("%w: run migrations (table %s missing)", ErrUninitialized, pqErr.Table)
		}
	}
	return err
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return wrapErr(err)
	}
	return wrapErr(tx.Commit())
}
