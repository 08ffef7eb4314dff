package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Database wraps sql.DB with schema management helpers. Both the client
// store and the server store share this wrapper; they differ only in the
// schema set applied at init.
type Database struct {
	*sql.DB
	path string
}

// OpenClient opens (creating if needed) a client database at path and
// applies the client schema. Safe to call repeatedly; schema creation is
// idempotent.
func OpenClient(path string) (*Database, error) {
	return open(path, ClientTableSchemas(), ClientIndexes())
}

// OpenServer opens a server database at path with the server schema.
func OpenServer(path string) (*Database, error) {
	return open(path, ServerTableSchemas(), ServerIndexes())
}

func open(path string, schemas, indexes []string) (*Database, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer. No connection lifetime:
	// recycling the connection is pointless for an embedded database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{DB: db, path: path}
	if err := database.initializeSchema(schemas, indexes); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// dsn builds the driver DSN with per-connection pragmas attached.
func dsn(path string) string {
	params := make([]string, 0, len(ConnectionPragmas()))
	for _, pragma := range ConnectionPragmas() {
		params = append(params, "_pragma="+pragma)
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

// initializeSchema creates all tables and indexes inside a single
// transaction, then records the schema version.
func (db *Database) initializeSchema(schemas, indexes []string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, schema := range schemas {
		if _, err := tx.Exec(schema); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	for _, index := range indexes {
		if _, err := tx.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := recordSchemaVersion(tx); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return tx.Commit()
}

func recordSchemaVersion(tx *sql.Tx) error {
	var count int
	err := tx.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", SchemaVersion).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err = tx.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		SchemaVersion, time.Now().Unix(),
	)
	return err
}

// GetSchemaVersion returns the highest applied schema version.
func (db *Database) GetSchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Path returns the filesystem path to the database file.
func (db *Database) Path() string {
	return db.path
}

// Health checks the underlying connection.
func (db *Database) Health() error {
	return db.Ping()
}
