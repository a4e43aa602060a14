package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("apply %q: %w", p, err)
		}
	}
	return nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	version, err := readVersion(ctx, tx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, "INSERT INTO metadata(key, value) VALUES('schema_version', ?)", strconv.Itoa(schemaVersion)); err != nil {
			return fmt.Errorf("insert schema version: %w", err)
		}
	case err != nil:
		return err
	case version > schemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported %d", version, schemaVersion)
	}

	return tx.Commit()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readVersion(ctx context.Context, q queryRower) (int, error) {
	var v string
	err := q.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	version, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse schema version: %w", err)
	}
	return version, nil
}

// SchemaVersion reports the version recorded in the database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	return readVersion(ctx, s.db)
}
