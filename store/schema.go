package store

import (
	"fmt"
	"strings"

	"fitsync/record"
)

// Schema version for migration management.
const SchemaVersion = 1

// Every domain table shares one shape: sync-invariant fields (identity,
// ownership, parent link, timestamps, soft-delete flag) are real columns,
// and the full record snapshot lives in a JSON data column. UI-facing fields
// never need their own columns, so the shape is generated from the registry.
func domainTableSQL(table string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", table)
	b.WriteString("    id TEXT PRIMARY KEY,\n")
	b.WriteString("    user_id TEXT NOT NULL,\n")
	if ref, ok := record.Parent(table); ok {
		fmt.Fprintf(&b, "    %s TEXT NOT NULL,\n", ref.Column)
	}
	b.WriteString("    data TEXT NOT NULL,\n")
	b.WriteString("    created_at INTEGER NOT NULL,\n")
	b.WriteString("    updated_at INTEGER NOT NULL,\n")
	b.WriteString("    synced_at INTEGER,\n")
	b.WriteString("    is_deleted INTEGER NOT NULL DEFAULT 0")
	if table != record.TableUsers {
		b.WriteString(",\n    FOREIGN KEY(user_id) REFERENCES users(id)")
	}
	if ref, ok := record.Parent(table); ok {
		fmt.Fprintf(&b, ",\n    FOREIGN KEY(%s) REFERENCES %s(id)", ref.Column, ref.Table)
	}
	b.WriteString("\n);")
	return b.String()
}

func domainIndexSQL(table string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_user_id ON %s(user_id);\n", table, table)
	fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_is_deleted ON %s(is_deleted);\n", table, table)
	fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_updated_at ON %s(updated_at);", table, table)
	if ref, ok := record.Parent(table); ok {
		fmt.Fprintf(&b, "\nCREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s);", table, ref.Column, table, ref.Column)
	}
	return b.String()
}

// SyncOperationsTableSQL creates the operation log. The seq column fixes
// insertion order; the wire-level id is a separate unique key. The log is
// deliberately independent of the domain tables: it records temporal intent
// and cannot be rebuilt from current state.
const SyncOperationsTableSQL = `
CREATE TABLE IF NOT EXISTS sync_operations (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    operation TEXT NOT NULL CHECK(operation IN ('CREATE', 'UPDATE', 'DELETE')),
    table_name TEXT NOT NULL,
    record_id TEXT NOT NULL,
    record_data TEXT,
    timestamp INTEGER NOT NULL,
    synced INTEGER NOT NULL DEFAULT 0,
    sync_attempts INTEGER NOT NULL DEFAULT 0,
    last_attempt_at INTEGER,
    next_attempt_at INTEGER,
    stuck INTEGER NOT NULL DEFAULT 0,
    error TEXT
);`

// SyncStateTableSQL creates the key/value table holding persisted client
// sync state (identity, sync_enabled, last_sync_time).
const SyncStateTableSQL = `
CREATE TABLE IF NOT EXISTS sync_state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);`

// SchemaVersionTableSQL creates the schema version table for migration
// tracking.
const SchemaVersionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);`

const SyncOperationsIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_sync_operations_synced ON sync_operations(synced);
CREATE INDEX IF NOT EXISTS idx_sync_operations_stuck ON sync_operations(stuck);
CREATE INDEX IF NOT EXISTS idx_sync_operations_record ON sync_operations(table_name, record_id);`

// DomainTableSchemas returns domain table DDL in dependency order, so parent
// tables are created before the tables that reference them.
func DomainTableSchemas() []string {
	tables := record.Tables()
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		out = append(out, domainTableSQL(t))
	}
	return out
}

// DomainIndexes returns index DDL for the domain tables.
func DomainIndexes() []string {
	tables := record.Tables()
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		out = append(out, domainIndexSQL(t))
	}
	return out
}

// ClientTableSchemas returns everything a client database needs: the domain
// tables plus the operation log and persisted sync state.
func ClientTableSchemas() []string {
	out := []string{SchemaVersionTableSQL}
	out = append(out, DomainTableSchemas()...)
	out = append(out, SyncOperationsTableSQL, SyncStateTableSQL)
	return out
}

// ClientIndexes returns index DDL for a client database.
func ClientIndexes() []string {
	out := DomainIndexes()
	out = append(out, SyncOperationsIndexesSQL)
	return out
}

// ServerTableSchemas returns everything a server database needs. The server
// holds only the domain tables; operation state lives on the clients.
func ServerTableSchemas() []string {
	out := []string{SchemaVersionTableSQL}
	out = append(out, DomainTableSchemas()...)
	return out
}

// ServerIndexes returns index DDL for a server database.
func ServerIndexes() []string {
	return DomainIndexes()
}

// ConnectionPragmas returns pragmas in the driver's DSN form. They are
// encoded into the DSN rather than executed once, so every connection the
// pool hands out has them applied; foreign_keys in particular is
// per-connection state.
func ConnectionPragmas() []string {
	return []string{
		"foreign_keys(1)",
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
	}
}
