package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fitsync/record"
)

// Store provides row-level CRUD over the uniform domain tables. It is a pure
// persistence layer: it never writes the operation log. Callers that need a
// mutation mirrored into the log (the façade) compose CreateTx/UpdateTx with
// OpLog.AppendTx inside one transaction.
type Store struct {
	db *Database
}

// New creates a Store over an opened database.
func New(db *Database) *Store {
	return &Store{db: db}
}

// DB exposes the underlying database for transaction composition.
func (s *Store) DB() *Database {
	return s.db
}

func (s *Store) ready(op, table, id string) error {
	if s == nil || s.db == nil {
		return storeErr(op, table, id, ErrNotInitialized)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// ownerOf normalizes the owning user id. For the root users table the record
// owns itself.
func ownerOf(rec record.Record) string {
	m := rec.RecordMeta()
	if rec.Table() == record.TableUsers && m.UserID == "" {
		return m.ID
	}
	return m.UserID
}

// Create inserts a new record.
func (s *Store) Create(rec record.Record) error {
	if err := s.ready("Create", rec.Table(), rec.RecordMeta().ID); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("Create", rec.Table(), rec.RecordMeta().ID, err)
	}
	defer tx.Rollback()
	if err := s.CreateTx(tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateTx inserts a new record within an existing transaction.
func (s *Store) CreateTx(tx *sql.Tx, rec record.Record) error {
	table := rec.Table()
	m := rec.RecordMeta()

	if ref, ok := record.Parent(table); ok {
		parentID := record.ParentID(rec)
		exists, err := rowExists(tx, ref.Table, parentID)
		if err != nil {
			return storeErr("Create", table, m.ID, err)
		}
		if !exists {
			return storeErr("Create", table, m.ID,
				fmt.Errorf("%w: missing %s %s", ErrConstraint, ref.Table, parentID))
		}
	}

	cols, args, err := insertValues(rec)
	if err != nil {
		return storeErr("Create", table, m.ID, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), placeholders)

	if _, err := tx.Exec(query, args...); err != nil {
		if isFKViolation(err) {
			return storeErr("Create", table, m.ID, fmt.Errorf("%w: %v", ErrConstraint, err))
		}
		return storeErr("Create", table, m.ID, err)
	}
	return nil
}

// Upsert inserts a record or replaces the stored snapshot when the id
// already exists. This is the server-side idempotent CREATE.
func (s *Store) Upsert(rec record.Record) error {
	if err := s.ready("Upsert", rec.Table(), rec.RecordMeta().ID); err != nil {
		return err
	}
	return s.UpsertTx(s.db.DB, rec)
}

// UpsertTx is Upsert against an arbitrary querier.
func (s *Store) UpsertTx(q querier, rec record.Record) error {
	table := rec.Table()
	m := rec.RecordMeta()

	cols, args, err := insertValues(rec)
	if err != nil {
		return storeErr("Upsert", table, m.ID, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	var updates []string
	for _, col := range cols {
		if col == "id" {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), placeholders, strings.Join(updates, ", "))

	if _, err := q.Exec(query, args...); err != nil {
		if isFKViolation(err) {
			return storeErr("Upsert", table, m.ID, fmt.Errorf("%w: %v", ErrConstraint, err))
		}
		return storeErr("Upsert", table, m.ID, err)
	}
	return nil
}

// Update rewrites the stored snapshot for an existing record.
func (s *Store) Update(rec record.Record) error {
	if err := s.ready("Update", rec.Table(), rec.RecordMeta().ID); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("Update", rec.Table(), rec.RecordMeta().ID, err)
	}
	defer tx.Rollback()
	if err := s.UpdateTx(tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateTx rewrites a record within an existing transaction. The record is a
// full snapshot; partial-field merging happens in the façade before the
// store is reached.
func (s *Store) UpdateTx(tx *sql.Tx, rec record.Record) error {
	table := rec.Table()
	m := rec.RecordMeta()

	data, err := json.Marshal(rec)
	if err != nil {
		return storeErr("Update", table, m.ID, err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET data = ?, updated_at = ?, synced_at = ?, is_deleted = ?
		WHERE id = ?
	`, table)

	res, err := tx.Exec(query, string(data), m.UpdatedAt.Unix(),
		timeToNullInt64(m.SyncedAt), boolToInt(m.IsDeleted), m.ID)
	if err != nil {
		return storeErr("Update", table, m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("Update", table, m.ID, err)
	}
	if n == 0 {
		return storeErr("Update", table, m.ID, ErrNotFound)
	}
	return nil
}

// Get returns the record with the given id, including soft-deleted rows so
// ownership can be validated for a later DELETE sync.
func (s *Store) Get(table, id string) (record.Record, error) {
	if err := s.ready("Get", table, id); err != nil {
		return nil, err
	}
	if !record.Known(table) {
		return nil, storeErr("Get", table, id, record.ErrUnknownTable)
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, data, created_at, updated_at, synced_at, is_deleted
		FROM %s WHERE id = ?
	`, table)
	rec, err := scanRecord(table, s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, storeErr("Get", table, id, ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("Get", table, id, err)
	}
	return rec, nil
}

// List returns all live (not soft-deleted) records of a table owned by a
// user, oldest first.
func (s *Store) List(table, userID string) ([]record.Record, error) {
	return s.listWhere("List", table, "user_id = ? AND is_deleted = 0", userID)
}

// ListSince returns live records owned by a user updated at or after since.
// A nil since behaves like List.
func (s *Store) ListSince(table, userID string, since *time.Time) ([]record.Record, error) {
	if since == nil {
		return s.List(table, userID)
	}
	return s.listWhere("ListSince", table,
		"user_id = ? AND is_deleted = 0 AND updated_at >= ?", userID, since.Unix())
}

// ListByParent returns live child records of a parent row.
func (s *Store) ListByParent(table, parentID string) ([]record.Record, error) {
	ref, ok := record.Parent(table)
	if !ok {
		return nil, storeErr("ListByParent", table, parentID,
			fmt.Errorf("table %s has no parent", table))
	}
	return s.listWhere("ListByParent", table, ref.Column+" = ? AND is_deleted = 0", parentID)
}

func (s *Store) listWhere(op, table, where string, args ...any) ([]record.Record, error) {
	if err := s.ready(op, table, ""); err != nil {
		return nil, err
	}
	if !record.Known(table) {
		return nil, storeErr(op, table, "", record.ErrUnknownTable)
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, data, created_at, updated_at, synced_at, is_deleted
		FROM %s WHERE %s ORDER BY created_at ASC, id ASC
	`, table, where)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, storeErr(op, table, "", err)
	}
	defer rows.Close()

	var out []record.Record
	for rows.Next() {
		rec, err := scanRecord(table, rows)
		if err != nil {
			return nil, storeErr(op, table, "", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, table, "", err)
	}
	return out, nil
}

// SoftDelete marks a record deleted without removing the row.
func (s *Store) SoftDelete(table, id string, at time.Time) error {
	if err := s.ready("SoftDelete", table, id); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("SoftDelete", table, id, err)
	}
	defer tx.Rollback()
	if err := s.SoftDeleteTx(tx, table, id, at); err != nil {
		return err
	}
	return tx.Commit()
}

// SoftDeleteTx marks a record deleted within an existing transaction.
// Deleting an already-deleted record is a no-op, which keeps replayed DELETE
// operations idempotent. synced_at is cleared: the deletion is a new local
// change and only a remote acknowledgment stamps it again.
func (s *Store) SoftDeleteTx(tx *sql.Tx, table, id string, at time.Time) error {
	if !record.Known(table) {
		return storeErr("SoftDelete", table, id, record.ErrUnknownTable)
	}
	query := fmt.Sprintf(
		"UPDATE %s SET is_deleted = 1, updated_at = ?, synced_at = NULL WHERE id = ?", table)
	res, err := tx.Exec(query, at.Unix(), id)
	if err != nil {
		return storeErr("SoftDelete", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("SoftDelete", table, id, err)
	}
	if n == 0 {
		return storeErr("SoftDelete", table, id, ErrNotFound)
	}
	return nil
}

// Owner returns the owning user id and soft-delete state of a record.
func (s *Store) Owner(table, id string) (userID string, isDeleted bool, err error) {
	if err := s.ready("Owner", table, id); err != nil {
		return "", false, err
	}
	if !record.Known(table) {
		return "", false, storeErr("Owner", table, id, record.ErrUnknownTable)
	}
	var deleted int
	query := fmt.Sprintf("SELECT user_id, is_deleted FROM %s WHERE id = ?", table)
	err = s.db.QueryRow(query, id).Scan(&userID, &deleted)
	if err == sql.ErrNoRows {
		return "", false, storeErr("Owner", table, id, ErrNotFound)
	}
	if err != nil {
		return "", false, storeErr("Owner", table, id, err)
	}
	return userID, deleted == 1, nil
}

// MarkRecordSynced stamps synced_at after a successful remote acknowledgment.
func (s *Store) MarkRecordSynced(table, id string, at time.Time) error {
	if err := s.ready("MarkRecordSynced", table, id); err != nil {
		return err
	}
	if !record.Known(table) {
		return storeErr("MarkRecordSynced", table, id, record.ErrUnknownTable)
	}
	query := fmt.Sprintf("UPDATE %s SET synced_at = ? WHERE id = ?", table)
	if _, err := s.db.Exec(query, at.Unix(), id); err != nil {
		return storeErr("MarkRecordSynced", table, id, err)
	}
	return nil
}

// MaxSyncedAt returns the most recent synced_at across all tables for a
// user, or nil when nothing has synced yet.
func (s *Store) MaxSyncedAt(userID string) (*time.Time, error) {
	if err := s.ready("MaxSyncedAt", "", ""); err != nil {
		return nil, err
	}
	var max sql.NullInt64
	for _, table := range record.Tables() {
		var v sql.NullInt64
		query := fmt.Sprintf(
			"SELECT MAX(synced_at) FROM %s WHERE user_id = ?", table)
		if err := s.db.QueryRow(query, userID).Scan(&v); err != nil {
			return nil, storeErr("MaxSyncedAt", table, "", err)
		}
		if v.Valid && (!max.Valid || v.Int64 > max.Int64) {
			max = v
		}
	}
	if !max.Valid {
		return nil, nil
	}
	t := time.Unix(max.Int64, 0).UTC()
	return &t, nil
}

// Helpers

func rowExists(q querier, table, id string) (bool, error) {
	var exists int
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE id = ?)", table)
	if err := q.QueryRow(query, id).Scan(&exists); err != nil {
		return false, err
	}
	return exists == 1, nil
}

func insertValues(rec record.Record) ([]string, []any, error) {
	table := rec.Table()
	m := rec.RecordMeta()

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, nil, err
	}

	cols := []string{"id", "user_id"}
	args := []any{m.ID, ownerOf(rec)}
	if ref, ok := record.Parent(table); ok {
		cols = append(cols, ref.Column)
		args = append(args, record.ParentID(rec))
	}
	cols = append(cols, "data", "created_at", "updated_at", "synced_at", "is_deleted")
	args = append(args, string(data), m.CreatedAt.Unix(), m.UpdatedAt.Unix(),
		timeToNullInt64(m.SyncedAt), boolToInt(m.IsDeleted))
	return cols, args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord decodes the JSON snapshot and overlays the sync-invariant
// columns, which are authoritative after soft deletes and sync stamps.
func scanRecord(table string, row rowScanner) (record.Record, error) {
	var (
		id, userID, data     string
		createdAt, updatedAt int64
		syncedAt             sql.NullInt64
		isDeleted            int
	)
	if err := row.Scan(&id, &userID, &data, &createdAt, &updatedAt, &syncedAt, &isDeleted); err != nil {
		return nil, err
	}

	rec, err := record.Decode(table, json.RawMessage(data))
	if err != nil {
		return nil, err
	}

	m := rec.RecordMeta()
	m.ID = id
	m.UserID = userID
	m.CreatedAt = time.Unix(createdAt, 0).UTC()
	m.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if syncedAt.Valid {
		t := time.Unix(syncedAt.Int64, 0).UTC()
		m.SyncedAt = &t
	} else {
		m.SyncedAt = nil
	}
	m.IsDeleted = isDeleted == 1
	return rec, nil
}

func timeToNullInt64(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
