// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package sqldb implements the durable directory store and the per-shard
// connection factory on database/sql. It speaks the postgres, mysql, and
// sqlserver dialects; the drivers are registered by this package's blank
// imports.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/errors"
)

// DefaultTable is the directory table name when none is configured.
const DefaultTable = "shard_directory"

type dialect string

const (
	dialectPostgres  = dialect(shardkit.DriverPostgres)
	dialectMySQL     = dialect(shardkit.DriverMySQL)
	dialectSQLServer = dialect(shardkit.DriverSQLServer)
)

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case shardkit.DriverPostgres, shardkit.DriverMySQL, shardkit.DriverSQLServer:
		return dialect(driver), nil
	}
	return "", errors.Newf(shardkit.ErrInvalidConfig, "unknown sql driver '%s'", driver)
}

// placeholder returns the dialect's bind parameter for 1-based position i.
func (d dialect) placeholder(i int) string {
	switch d {
	case dialectPostgres:
		return "$" + strconv.Itoa(i)
	case dialectSQLServer:
		return "@p" + strconv.Itoa(i)
	default:
		return "?"
	}
}

// upsertSQL returns the dialect's single-statement upsert. SQL Server has no
// portable one, so it returns empty and the store falls back to
// update-then-insert in a transaction.
func (d dialect) upsertSQL(table string) string {
	switch d {
	case dialectPostgres:
		return fmt.Sprintf(`INSERT INTO %s (routing_key, shard_id) VALUES ($1, $2) ON CONFLICT (routing_key) DO UPDATE SET shard_id = EXCLUDED.shard_id`, table)
	case dialectMySQL:
		return fmt.Sprintf(`INSERT INTO %s (routing_key, shard_id) VALUES (?, ?) ON DUPLICATE KEY UPDATE shard_id = VALUES(shard_id)`, table)
	}
	return ""
}

func (d dialect) createTableSQL(table string) string {
	if d == dialectSQLServer {
		return fmt.Sprintf(`IF OBJECT_ID('%s', 'U') IS NULL CREATE TABLE %s (routing_key VARCHAR(255) PRIMARY KEY, shard_id VARCHAR(255) NOT NULL)`, table, table)
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (routing_key VARCHAR(255) PRIMARY KEY, shard_id VARCHAR(255) NOT NULL)`, table)
}

// Store is a shardkit.DirectoryStore backed by one table of
// routing_key → shard_id rows. Keys are stored lower-cased so lookups are
// case-insensitive regardless of the database's collation.
type Store struct {
	db      *sql.DB
	dialect dialect
	table   string
}

var _ shardkit.DirectoryStore = (*Store)(nil)

// NewStore opens the database described by driver and dsn. The handle dials
// lazily; use Ping or CreateTable to verify connectivity up front.
func NewStore(driver, dsn, table string) (*Store, error) {
	if _, err := dialectFor(driver); err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening directory database")
	}
	return NewStoreDB(db, driver, table)
}

// NewStoreDB wraps an existing handle, for callers managing their own pool.
func NewStoreDB(db *sql.DB, driver, table string) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if table == "" {
		table = DefaultTable
	}
	return &Store{db: db, dialect: d, table: table}, nil
}

// Table returns the directory table name the store operates on.
func (s *Store) Table() string {
	return s.table
}

// CreateTable creates the directory table if it does not exist.
func (s *Store) CreateTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.dialect.createTableSQL(s.table))
	return errors.Wrap(err, "creating directory table")
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.PingContext(ctx), "pinging directory database")
}

func (s *Store) GetMapping(ctx context.Context, key string) (string, bool, error) {
	q := fmt.Sprintf(`SELECT shard_id FROM %s WHERE routing_key = %s`, s.table, s.dialect.placeholder(1))

	var shardID string
	err := s.db.QueryRowContext(ctx, q, strings.ToLower(key)).Scan(&shardID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "selecting mapping for key %s", key)
	}
	return shardID, true, nil
}

func (s *Store) AddMapping(ctx context.Context, key, shardID string) error {
	key = strings.ToLower(key)
	if q := s.dialect.upsertSQL(s.table); q != "" {
		_, err := s.db.ExecContext(ctx, q, key, shardID)
		return errors.Wrapf(err, "upserting mapping for key %s", key)
	}
	return s.updateThenInsert(ctx, key, shardID)
}

// updateThenInsert emulates an upsert for dialects without one. Both
// statements run in one transaction so concurrent writers cannot interleave
// between the update and the insert.
func (s *Store) updateThenInsert(ctx context.Context, key, shardID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning upsert transaction")
	}
	defer func() { _ = tx.Rollback() }()

	update := fmt.Sprintf(`UPDATE %s SET shard_id = %s WHERE routing_key = %s`,
		s.table, s.dialect.placeholder(1), s.dialect.placeholder(2))
	res, err := tx.ExecContext(ctx, update, shardID, key)
	if err != nil {
		return errors.Wrapf(err, "updating mapping for key %s", key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting updated rows")
	}
	if n == 0 {
		insert := fmt.Sprintf(`INSERT INTO %s (routing_key, shard_id) VALUES (%s, %s)`,
			s.table, s.dialect.placeholder(1), s.dialect.placeholder(2))
		if _, err := tx.ExecContext(ctx, insert, key, shardID); err != nil {
			return errors.Wrapf(err, "inserting mapping for key %s", key)
		}
	}
	return errors.Wrap(tx.Commit(), "committing upsert")
}

func (s *Store) RemoveMapping(ctx context.Context, key string) (bool, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE routing_key = %s`, s.table, s.dialect.placeholder(1))

	res, err := s.db.ExecContext(ctx, q, strings.ToLower(key))
	if err != nil {
		return false, errors.Wrapf(err, "deleting mapping for key %s", key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "counting deleted rows")
	}
	return n > 0, nil
}

func (s *Store) GetAllMappings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT routing_key, shard_id FROM %s`, s.table))
	if err != nil {
		return nil, errors.Wrap(err, "selecting all mappings")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, shardID string
		if err := rows.Scan(&key, &shardID); err != nil {
			return nil, errors.Wrap(err, "scanning mapping row")
		}
		out[key] = shardID
	}
	return out, errors.Wrap(rows.Err(), "iterating mapping rows")
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}
