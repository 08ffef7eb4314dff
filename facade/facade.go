// Package facade is the client-side data layer the UI talks to. It mirrors
// local store contents in memory, funnels every mutation through the store
// and the operation log in a single transaction, and notifies subscribers
// when data changes.
package facade

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"fitsync/record"
	"fitsync/store"
)

// Facade is constructed once per process and passed explicitly; it holds no
// package-level state.
type Facade struct {
	store  *store.Store
	log    *store.OpLog
	state  *store.State
	logger *slog.Logger

	mu       sync.RWMutex
	identity string
	mirror   map[string][]record.Record
	errs     map[string]error
	subs     map[int]chan struct{}
	nextSub  int
}

// New loads the current identity and populates the in-memory mirror.
func New(st *store.Store, log *store.OpLog, state *store.State, logger *slog.Logger) (*Facade, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Facade{
		store:  st,
		log:    log,
		state:  state,
		logger: logger,
		mirror: make(map[string][]record.Record),
		errs:   make(map[string]error),
		subs:   make(map[int]chan struct{}),
	}
	identity, err := state.Identity()
	if err != nil {
		return nil, err
	}
	f.identity = identity
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Identity returns the signed-in user id, empty when signed out.
func (f *Facade) Identity() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.identity
}

// SetIdentity persists the identity and reloads the mirror for the new user.
func (f *Facade) SetIdentity(id string) error {
	if err := f.state.SetIdentity(id); err != nil {
		return err
	}
	f.mu.Lock()
	f.identity = id
	f.mu.Unlock()
	return f.Reload()
}

// Subscribe returns a channel that receives a signal after every data change,
// plus a cancel func. Signals are coalesced; slow consumers miss intermediate
// notifications but always see the latest state on the next read.
func (f *Facade) Subscribe() (<-chan struct{}, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	ch := make(chan struct{}, 1)
	f.subs[id] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *Facade) notify() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Errs returns the last persistence error per table, for tables whose most
// recent mutation failed. A successful mutation clears the table's entry.
func (f *Facade) Errs() map[string]error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]error, len(f.errs))
	for k, v := range f.errs {
		out[k] = v
	}
	return out
}

func (f *Facade) setErr(table string, err error) {
	f.mu.Lock()
	if err != nil {
		f.errs[table] = err
	} else {
		delete(f.errs, table)
	}
	f.mu.Unlock()
}

// List returns the mirrored records for a table, soft-deleted rows excluded.
func (f *Facade) List(table string) []record.Record {
	f.mu.RLock()
	defer f.mu.RUnlock()
	recs := f.mirror[table]
	out := make([]record.Record, len(recs))
	copy(out, recs)
	return out
}

// Get reads straight from the store so soft-deleted rows are still visible.
func (f *Facade) Get(table, id string) (record.Record, error) {
	return f.store.Get(table, id)
}

// Create persists a new record and logs a CREATE operation in the same
// transaction. Missing id, owner, and timestamps are filled in.
func (f *Facade) Create(rec record.Record) error {
	table := rec.Table()
	m := rec.RecordMeta()
	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.UserID == "" {
		m.UserID = f.Identity()
	}
	if m.UserID == "" {
		err := fmt.Errorf("create %s: not signed in", table)
		f.setErr(table, err)
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	m.SyncedAt = nil

	err := f.mutate(table, func(tx *sql.Tx) error {
		if err := f.store.CreateTx(tx, rec); err != nil {
			return err
		}
		data, err := record.Encode(rec)
		if err != nil {
			return err
		}
		_, err = f.log.AppendTx(tx, record.OpCreate, table, m.ID, data, now)
		return err
	})
	if err != nil {
		return err
	}
	return f.reloadTable(table)
}

// Update applies a partial field set on top of the stored record and logs an
// UPDATE with the resulting full snapshot. Identity, ownership, and creation
// time cannot be changed through partials.
func (f *Facade) Update(table, id string, partial json.RawMessage) error {
	existing, err := f.store.Get(table, id)
	if err != nil {
		f.setErr(table, err)
		return err
	}
	merged, err := mergePartial(existing, partial)
	if err != nil {
		f.setErr(table, err)
		return err
	}
	em := existing.RecordMeta()
	m := merged.RecordMeta()
	m.ID = em.ID
	m.UserID = em.UserID
	m.CreatedAt = em.CreatedAt
	m.IsDeleted = em.IsDeleted
	now := time.Now().UTC()
	m.UpdatedAt = now
	m.SyncedAt = nil

	err = f.mutate(table, func(tx *sql.Tx) error {
		if err := f.store.UpdateTx(tx, merged); err != nil {
			return err
		}
		data, err := record.Encode(merged)
		if err != nil {
			return err
		}
		_, err = f.log.AppendTx(tx, record.OpUpdate, table, id, data, now)
		return err
	})
	if err != nil {
		return err
	}
	return f.reloadTable(table)
}

// Delete soft-deletes a record and logs a DELETE. The row stays readable via
// Get but drops out of List.
func (f *Facade) Delete(table, id string) error {
	existing, err := f.store.Get(table, id)
	if err != nil {
		f.setErr(table, err)
		return err
	}
	now := time.Now().UTC()
	em := existing.RecordMeta()
	em.IsDeleted = true
	em.UpdatedAt = now

	err = f.mutate(table, func(tx *sql.Tx) error {
		if err := f.store.SoftDeleteTx(tx, table, id, now); err != nil {
			return err
		}
		data, err := record.Encode(existing)
		if err != nil {
			return err
		}
		_, err = f.log.AppendTx(tx, record.OpDelete, table, id, data, now)
		return err
	})
	if err != nil {
		return err
	}
	return f.reloadTable(table)
}

// mutate runs fn inside one sqlite transaction so the store write and the
// oplog append commit or roll back together, then records the per-table
// error state and notifies subscribers.
func (f *Facade) mutate(table string, fn func(tx *sql.Tx) error) error {
	tx, err := f.store.DB().Begin()
	if err != nil {
		f.setErr(table, err)
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		f.setErr(table, err)
		f.logger.Error("mutation failed", "table", table, "error", err)
		return err
	}
	if err := tx.Commit(); err != nil {
		f.setErr(table, err)
		return err
	}
	f.setErr(table, nil)
	return nil
}

// Reload refreshes the whole in-memory mirror from the store. The sync
// engine's merge path calls this after pulling remote deltas.
func (f *Facade) Reload() error {
	identity := f.Identity()
	fresh := make(map[string][]record.Record)
	if identity != "" {
		for _, table := range record.Tables() {
			recs, err := f.store.List(table, identity)
			if err != nil {
				f.setErr(table, err)
				return err
			}
			fresh[table] = recs
		}
	}
	f.mu.Lock()
	f.mirror = fresh
	f.mu.Unlock()
	f.notify()
	return nil
}

func (f *Facade) reloadTable(table string) error {
	recs, err := f.store.List(table, f.Identity())
	if err != nil {
		f.setErr(table, err)
		return err
	}
	f.mu.Lock()
	f.mirror[table] = recs
	f.mu.Unlock()
	f.notify()
	return nil
}

// mergePartial decodes the stored record to its JSON form, overlays the
// partial fields, and decodes back into the typed record.
func mergePartial(existing record.Record, partial json.RawMessage) (record.Record, error) {
	base, err := record.Encode(existing)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(partial, &overlay); err != nil {
		return nil, fmt.Errorf("invalid partial update: %w", err)
	}
	for k, v := range overlay {
		m[k] = v
	}
	merged, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return record.Decode(existing.Table(), merged)
}
