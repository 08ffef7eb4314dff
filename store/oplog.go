package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"fitsync/record"
)

// OpLogConfig bounds retry and retention behavior of the operation log.
type OpLogConfig struct {
	// MaxAttempts is the retry cap; after this many failed attempts an
	// operation is parked as stuck instead of retrying forever.
	MaxAttempts int
	// BackoffBase is the delay after the first failure; it doubles per
	// attempt up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// RetainSynced is how many synced entries to keep; pruning only kicks
	// in once the synced count exceeds PruneThreshold.
	RetainSynced   int
	PruneThreshold int
}

// DefaultOpLogConfig mirrors the documented retention of 50 kept entries out
// of a 100-entry threshold.
func DefaultOpLogConfig() OpLogConfig {
	return OpLogConfig{
		MaxAttempts:    10,
		BackoffBase:    time.Second,
		BackoffMax:     5 * time.Minute,
		RetainSynced:   50,
		PruneThreshold: 100,
	}
}

// Entry is one persisted sync operation.
type Entry struct {
	Seq          int64
	ID           string
	Op           record.Op
	TableName    string
	RecordID     string
	RecordData   json.RawMessage
	Timestamp    time.Time
	Synced       bool
	SyncAttempts int
	LastAttempt  *time.Time
	NextAttempt  *time.Time
	Stuck        bool
	Error        string
}

// Stats summarizes log state for status displays.
type Stats struct {
	Total   int
	Pending int
	Synced  int
	Failed  int // pending entries that have failed at least once
	Stuck   int
}

// OpLog is the append-only record of local mutations awaiting remote
// acknowledgment. It is the single source of truth for what must be sent to
// the server, survives restarts, and is not rebuildable from the domain
// tables.
type OpLog struct {
	db  *Database
	cfg OpLogConfig
}

// NewOpLog creates an OpLog over an opened client database.
func NewOpLog(db *Database, cfg OpLogConfig) *OpLog {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultOpLogConfig()
	}
	return &OpLog{db: db, cfg: cfg}
}

// AppendTx records one logical mutation. It must be called exactly once per
// mutation, inside the same transaction as the domain write, so the store
// and the log can never disagree.
func (l *OpLog) AppendTx(tx *sql.Tx, op record.Op, table, recordID string, data json.RawMessage, ts time.Time) (string, error) {
	id := uuid.NewString()
	_, err := tx.Exec(`
		INSERT INTO sync_operations (id, operation, table_name, record_id, record_data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, string(op), table, recordID, nullRaw(data), ts.Unix())
	if err != nil {
		return "", storeErr("Append", table, recordID, err)
	}
	return id, nil
}

// Append records a mutation in its own transaction.
func (l *OpLog) Append(op record.Op, table, recordID string, data json.RawMessage, ts time.Time) (string, error) {
	if l == nil || l.db == nil {
		return "", storeErr("Append", table, recordID, ErrNotInitialized)
	}
	tx, err := l.db.Begin()
	if err != nil {
		return "", storeErr("Append", table, recordID, err)
	}
	defer tx.Rollback()
	id, err := l.AppendTx(tx, op, table, recordID, data, ts)
	if err != nil {
		return "", err
	}
	return id, tx.Commit()
}

const entryColumns = `seq, id, operation, table_name, record_id, record_data,
	timestamp, synced, sync_attempts, last_attempt_at, next_attempt_at, stuck, error`

// Unsynced returns the operations due for submission at now, in insertion
// order. Order matters: the server applies operations in array order and
// later operations on the same record must win. Entries in backoff or parked
// as stuck are excluded.
func (l *OpLog) Unsynced(now time.Time) ([]Entry, error) {
	return l.selectEntries(`
		SELECT `+entryColumns+`
		FROM sync_operations
		WHERE synced = 0 AND stuck = 0
		  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY seq ASC
	`, now.Unix())
}

// All returns every log entry in insertion order.
func (l *OpLog) All() ([]Entry, error) {
	return l.selectEntries(`
		SELECT ` + entryColumns + `
		FROM sync_operations
		ORDER BY seq ASC
	`)
}

func (l *OpLog) selectEntries(query string, args ...any) ([]Entry, error) {
	if l == nil || l.db == nil {
		return nil, storeErr("Unsynced", "", "", ErrNotInitialized)
	}
	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, storeErr("Unsynced", "", "", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                        Entry
			op                       string
			data                     sql.NullString
			ts                       int64
			synced, stuck            int
			lastAttempt, nextAttempt sql.NullInt64
			errMsg                   sql.NullString
		)
		err := rows.Scan(&e.Seq, &e.ID, &op, &e.TableName, &e.RecordID, &data,
			&ts, &synced, &e.SyncAttempts, &lastAttempt, &nextAttempt, &stuck, &errMsg)
		if err != nil {
			return nil, storeErr("Unsynced", "", "", err)
		}
		e.Op = record.Op(op)
		if data.Valid {
			e.RecordData = json.RawMessage(data.String)
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		e.Synced = synced == 1
		e.Stuck = stuck == 1
		if lastAttempt.Valid {
			t := time.Unix(lastAttempt.Int64, 0).UTC()
			e.LastAttempt = &t
		}
		if nextAttempt.Valid {
			t := time.Unix(nextAttempt.Int64, 0).UTC()
			e.NextAttempt = &t
		}
		if errMsg.Valid {
			e.Error = errMsg.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkSynced transitions an operation to synced. Idempotent; re-marking an
// already-synced entry changes nothing.
func (l *OpLog) MarkSynced(id string) error {
	if l == nil || l.db == nil {
		return storeErr("MarkSynced", "", id, ErrNotInitialized)
	}
	_, err := l.db.Exec(`
		UPDATE sync_operations
		SET synced = 1, error = NULL, next_attempt_at = NULL
		WHERE id = ?
	`, id)
	if err != nil {
		return storeErr("MarkSynced", "", id, err)
	}
	return nil
}

// MarkFailed records a failed attempt: the attempt counter increments, the
// error is stored, and the next attempt is scheduled with exponential
// backoff. Past the attempt cap the entry is parked as stuck and excluded
// from future batches until RetryStuck.
func (l *OpLog) MarkFailed(id, message string, now time.Time) error {
	if l == nil || l.db == nil {
		return storeErr("MarkFailed", "", id, ErrNotInitialized)
	}

	var attempts int
	err := l.db.QueryRow(
		"SELECT sync_attempts FROM sync_operations WHERE id = ?", id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return storeErr("MarkFailed", "", id, ErrNotFound)
	}
	if err != nil {
		return storeErr("MarkFailed", "", id, err)
	}

	attempts++
	stuck := 0
	if attempts >= l.cfg.MaxAttempts {
		stuck = 1
	}
	next := now.Add(l.backoff(attempts))

	_, err = l.db.Exec(`
		UPDATE sync_operations
		SET sync_attempts = ?, last_attempt_at = ?, next_attempt_at = ?, stuck = ?, error = ?
		WHERE id = ? AND synced = 0
	`, attempts, now.Unix(), next.Unix(), stuck, message, id)
	if err != nil {
		return storeErr("MarkFailed", "", id, err)
	}
	return nil
}

func (l *OpLog) backoff(attempts int) time.Duration {
	d := l.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= l.cfg.BackoffMax {
			return l.cfg.BackoffMax
		}
	}
	if d > l.cfg.BackoffMax {
		d = l.cfg.BackoffMax
	}
	return d
}

// RetryStuck requeues all stuck operations with a reset attempt counter.
// This is the manual escape hatch for operations that exhausted the cap.
func (l *OpLog) RetryStuck() (int, error) {
	if l == nil || l.db == nil {
		return 0, storeErr("RetryStuck", "", "", ErrNotInitialized)
	}
	res, err := l.db.Exec(`
		UPDATE sync_operations
		SET stuck = 0, sync_attempts = 0, next_attempt_at = NULL
		WHERE stuck = 1 AND synced = 0
	`)
	if err != nil {
		return 0, storeErr("RetryStuck", "", "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("RetryStuck", "", "", err)
	}
	return int(n), nil
}

// ClearSynced prunes oldest synced entries, but only once the synced count
// exceeds the prune threshold, keeping storage growth bounded without
// discarding recent history.
func (l *OpLog) ClearSynced() (int, error) {
	if l == nil || l.db == nil {
		return 0, storeErr("ClearSynced", "", "", ErrNotInitialized)
	}

	var syncedCount int
	err := l.db.QueryRow(
		"SELECT COUNT(*) FROM sync_operations WHERE synced = 1").Scan(&syncedCount)
	if err != nil {
		return 0, storeErr("ClearSynced", "", "", err)
	}
	if syncedCount <= l.cfg.PruneThreshold {
		return 0, nil
	}

	res, err := l.db.Exec(`
		DELETE FROM sync_operations
		WHERE synced = 1 AND seq IN (
			SELECT seq FROM sync_operations WHERE synced = 1
			ORDER BY seq ASC LIMIT ?
		)
	`, syncedCount-l.cfg.RetainSynced)
	if err != nil {
		return 0, storeErr("ClearSynced", "", "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("ClearSynced", "", "", err)
	}
	return int(n), nil
}

// Counts returns aggregate log statistics.
func (l *OpLog) Counts() (Stats, error) {
	if l == nil || l.db == nil {
		return Stats{}, storeErr("Counts", "", "", ErrNotInitialized)
	}
	var s Stats
	err := l.db.QueryRow(`
		SELECT COUNT(*),
		       SUM(CASE WHEN synced = 0 THEN 1 ELSE 0 END),
		       SUM(CASE WHEN synced = 1 THEN 1 ELSE 0 END),
		       SUM(CASE WHEN synced = 0 AND sync_attempts > 0 THEN 1 ELSE 0 END),
		       SUM(CASE WHEN stuck = 1 THEN 1 ELSE 0 END)
		FROM sync_operations
	`).Scan(&s.Total, nullCount{&s.Pending}, nullCount{&s.Synced}, nullCount{&s.Failed}, nullCount{&s.Stuck})
	if err != nil {
		return Stats{}, storeErr("Counts", "", "", err)
	}
	return s, nil
}

// nullCount scans a nullable SUM() into an int, treating NULL as zero.
type nullCount struct {
	dst *int
}

func (n nullCount) Scan(v any) error {
	if v == nil {
		*n.dst = 0
		return nil
	}
	switch x := v.(type) {
	case int64:
		*n.dst = int(x)
	case float64:
		*n.dst = int(x)
	}
	return nil
}

func nullRaw(data json.RawMessage) sql.NullString {
	if len(data) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}
