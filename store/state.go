package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// Keys persisted in the sync_state table.
const (
	stateKeyIdentity     = "identity"
	stateKeySyncEnabled  = "sync_enabled"
	stateKeyLastSyncTime = "last_sync_time"
)

// State persists client-side sync settings across restarts.
type State struct {
	db *Database
}

// NewState creates a State over an opened client database.
func NewState(db *Database) *State {
	return &State{db: db}
}

func (s *State) get(key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, storeErr("StateGet", "", key, ErrNotInitialized)
	}
	var value string
	err := s.db.QueryRow("SELECT value FROM sync_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("StateGet", "", key, err)
	}
	return value, true, nil
}

func (s *State) set(key, value string) error {
	if s == nil || s.db == nil {
		return storeErr("StateSet", "", key, ErrNotInitialized)
	}
	_, err := s.db.Exec(`
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return storeErr("StateSet", "", key, err)
	}
	return nil
}

// Identity returns the persisted authenticated user identity, or "" when the
// user has not logged in.
func (s *State) Identity() (string, error) {
	v, _, err := s.get(stateKeyIdentity)
	return v, err
}

// SetIdentity persists the authenticated user identity.
func (s *State) SetIdentity(id string) error {
	return s.set(stateKeyIdentity, id)
}

// SyncEnabled reports whether background sync is on. Defaults to true when
// never set.
func (s *State) SyncEnabled() (bool, error) {
	v, ok, err := s.get(stateKeySyncEnabled)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return false, storeErr("StateGet", "", stateKeySyncEnabled, fmt.Errorf("corrupt value %q: %w", v, err))
	}
	return enabled, nil
}

// SetSyncEnabled persists the background sync toggle.
func (s *State) SetSyncEnabled(enabled bool) error {
	return s.set(stateKeySyncEnabled, strconv.FormatBool(enabled))
}

// LastSyncTime returns the completion time of the most recent sync attempt,
// or nil when no sync has completed.
func (s *State) LastSyncTime() (*time.Time, error) {
	v, ok, err := s.get(stateKeyLastSyncTime)
	if err != nil || !ok {
		return nil, err
	}
	unix, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, storeErr("StateGet", "", stateKeyLastSyncTime, fmt.Errorf("corrupt value %q: %w", v, err))
	}
	t := time.Unix(unix, 0).UTC()
	return &t, nil
}

// SetLastSyncTime persists the completion time of a sync attempt.
func (s *State) SetLastSyncTime(t time.Time) error {
	return s.set(stateKeyLastSyncTime, strconv.FormatInt(t.Unix(), 10))
}
