package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotInitialized is returned when a store method runs before the
	// database has been opened.
	ErrNotInitialized = errors.New("store not initialized")

	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConstraint is returned when a write references a missing parent
	// row.
	ErrConstraint = errors.New("constraint violation")
)

// StoreError carries the operation and record identity of a failed store
// call alongside the underlying error.
type StoreError struct {
	Op    string
	Table string
	ID    string
	Err   error
}

func (e *StoreError) Error() string {
	switch {
	case e.Table != "" && e.ID != "":
		return fmt.Sprintf("store %s failed for %s/%s: %v", e.Op, e.Table, e.ID, e.Err)
	case e.Table != "":
		return fmt.Sprintf("store %s failed for %s: %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op, table, id string, err error) error {
	return &StoreError{Op: op, Table: table, ID: id, Err: err}
}

// isFKViolation recognizes SQLite foreign key failures so they can surface
// as ErrConstraint. modernc.org/sqlite reports these through the error
// string.
func isFKViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
