package record

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownTable is returned when a table name is not part of the sync
// protocol. Callers that process batches should log and skip rather than
// fail the whole batch.
var ErrUnknownTable = errors.New("unknown table")

// ParentRef describes a foreign-key relationship to a parent table.
type ParentRef struct {
	Column string // column in the child table, e.g. "workout_id"
	Table  string // parent table name
}

type tableInfo struct {
	newRecord func() Record
	parent    *ParentRef
}

// The registry is the single place that knows every syncable table. Adding a
// table means adding a record type and one entry here; everything else
// (store CRUD, oplog, server apply loop) is driven off it.
var tables = map[string]tableInfo{
	TableUsers:          {newRecord: func() Record { return &User{} }},
	TableHealthProfiles: {newRecord: func() Record { return &HealthProfile{} }},
	TableWorkouts:       {newRecord: func() Record { return &Workout{} }},
	TableExercises: {
		newRecord: func() Record { return &Exercise{} },
		parent:    &ParentRef{Column: "workout_id", Table: TableWorkouts},
	},
	TableMeals: {newRecord: func() Record { return &Meal{} }},
	TableMealItems: {
		newRecord: func() Record { return &MealItem{} },
		parent:    &ParentRef{Column: "meal_id", Table: TableMeals},
	},
	TableProgressLogs:  {newRecord: func() Record { return &ProgressLog{} }},
	TableWeightEntries: {newRecord: func() Record { return &WeightEntry{} }},
	TableWaterIntake:   {newRecord: func() Record { return &WaterIntake{} }},
	TableSleepEntries:  {newRecord: func() Record { return &SleepEntry{} }},
	TableGoals:         {newRecord: func() Record { return &Goal{} }},
}

// tableOrder fixes schema creation order so parents exist before children.
var tableOrder = []string{
	TableUsers,
	TableHealthProfiles,
	TableWorkouts,
	TableExercises,
	TableMeals,
	TableMealItems,
	TableProgressLogs,
	TableWeightEntries,
	TableWaterIntake,
	TableSleepEntries,
	TableGoals,
}

// Tables returns all syncable table names in dependency order.
func Tables() []string {
	out := make([]string, len(tableOrder))
	copy(out, tableOrder)
	return out
}

// Known reports whether name is a syncable table.
func Known(name string) bool {
	_, ok := tables[name]
	return ok
}

// New returns a zero record of the type registered for table.
func New(table string) (Record, error) {
	info, ok := tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return info.newRecord(), nil
}

// Decode unmarshals a raw payload into the typed record for table.
func Decode(table string, raw json.RawMessage) (Record, error) {
	rec, err := New(table)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("decode %s: empty payload", table)
	}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", table, err)
	}
	return rec, nil
}

// Encode marshals a record into its wire payload.
func Encode(rec Record) (json.RawMessage, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", rec.Table(), err)
	}
	return raw, nil
}

// Parent returns the foreign-key reference for table, if any.
func Parent(table string) (ParentRef, bool) {
	info, ok := tables[table]
	if !ok || info.parent == nil {
		return ParentRef{}, false
	}
	return *info.parent, true
}

// parented is implemented by records that reference a parent row.
type parented interface {
	ParentID() string
}

// ParentID returns the parent row id carried by rec, or "" when the record's
// table has no parent.
func ParentID(rec Record) string {
	if p, ok := rec.(parented); ok {
		return p.ParentID()
	}
	return ""
}
