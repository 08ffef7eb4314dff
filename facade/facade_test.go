package facade

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"fitsync/record"
	"fitsync/store"
)

func newTestFacade(t *testing.T) (*Facade, *store.OpLog) {
	t.Helper()
	db, err := store.OpenClient(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatalf("OpenClient: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	oplog := store.NewOpLog(db, store.DefaultOpLogConfig())
	state := store.NewState(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f, err := New(st, oplog, state, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := f.SetIdentity("u1"); err != nil {
		t.Fatalf("SetIdentity: %v", err)
	}

	now := time.Now().UTC()
	user := &record.User{Meta: record.Meta{ID: "u1", UserID: "u1", CreatedAt: now, UpdatedAt: now}}
	if err := st.Create(user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return f, oplog
}

func TestCreateWritesStoreAndLog(t *testing.T) {
	f, oplog := newTestFacade(t)

	meal := &record.Meal{Name: "lunch", Calories: 600}
	if err := f.Create(meal); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if meal.ID == "" {
		t.Error("Expected generated id")
	}
	if meal.UserID != "u1" {
		t.Errorf("Expected owner filled from identity, got %q", meal.UserID)
	}

	recs := f.List(record.TableMeals)
	if len(recs) != 1 {
		t.Fatalf("Expected 1 meal in mirror, got %d", len(recs))
	}

	entries, err := oplog.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Op != record.OpCreate || e.TableName != record.TableMeals || e.RecordID != meal.ID {
		t.Errorf("Unexpected log entry %+v", e)
	}
	if len(e.RecordData) == 0 {
		t.Error("Expected full snapshot in log entry")
	}
}

func TestCreateRequiresIdentity(t *testing.T) {
	f, oplog := newTestFacade(t)
	if err := f.SetIdentity(""); err != nil {
		t.Fatalf("SetIdentity: %v", err)
	}

	err := f.Create(&record.Meal{Name: "lunch"})
	if err == nil {
		t.Fatal("Expected error creating while signed out")
	}
	entries, _ := oplog.All()
	if len(entries) != 0 {
		t.Errorf("Expected no log entries, got %d", len(entries))
	}
	if f.Errs()[record.TableMeals] == nil {
		t.Error("Expected the failure recorded in per-table error state")
	}
}

func TestCreateRollsBackOnFailure(t *testing.T) {
	f, oplog := newTestFacade(t)

	// child without its parent fails the store write; the log must stay
	// empty too
	ex := &record.Exercise{WorkoutID: "missing", Name: "squat"}
	err := f.Create(ex)
	if !errors.Is(err, store.ErrConstraint) {
		t.Fatalf("Expected ErrConstraint, got %v", err)
	}

	entries, _ := oplog.All()
	if len(entries) != 0 {
		t.Errorf("Expected empty log after rollback, got %d entries", len(entries))
	}
	if f.Errs()[record.TableExercises] == nil {
		t.Error("Expected per-table error recorded")
	}

	// a later success clears the error state
	w := &record.Workout{Name: "push day"}
	if err := f.Create(w); err != nil {
		t.Fatalf("Create workout: %v", err)
	}
	ex.WorkoutID = w.ID
	if err := f.Create(ex); err != nil {
		t.Fatalf("Create exercise: %v", err)
	}
	if f.Errs()[record.TableExercises] != nil {
		t.Error("Expected error state cleared after success")
	}
}

func TestUpdateMergesPartialFields(t *testing.T) {
	f, oplog := newTestFacade(t)

	meal := &record.Meal{Name: "lunch", Calories: 600, ProteinG: 40}
	if err := f.Create(meal); err != nil {
		t.Fatalf("Create: %v", err)
	}

	err := f.Update(record.TableMeals, meal.ID, json.RawMessage(`{"calories":750}`))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := f.Get(record.TableMeals, meal.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	m := got.(*record.Meal)
	if m.Calories != 750 {
		t.Errorf("Expected updated calories, got %d", m.Calories)
	}
	if m.Name != "lunch" || m.ProteinG != 40 {
		t.Errorf("Expected untouched fields preserved, got %+v", m)
	}

	entries, _ := oplog.All()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 log entries, got %d", len(entries))
	}
	if entries[1].Op != record.OpUpdate {
		t.Errorf("Expected UPDATE logged, got %s", entries[1].Op)
	}
	// the log carries the merged full snapshot, not the partial
	var snap record.Meal
	if err := json.Unmarshal(entries[1].RecordData, &snap); err != nil {
		t.Fatalf("Unmarshal snapshot: %v", err)
	}
	if snap.Name != "lunch" || snap.Calories != 750 {
		t.Errorf("Expected full merged snapshot in log, got %+v", snap)
	}
}

func TestUpdateCannotMoveOwnership(t *testing.T) {
	f, _ := newTestFacade(t)

	meal := &record.Meal{Name: "lunch"}
	if err := f.Create(meal); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.Update(record.TableMeals, meal.ID, json.RawMessage(`{"userId":"intruder","id":"other"}`)); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := f.Get(record.TableMeals, meal.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RecordMeta().UserID != "u1" || got.RecordMeta().ID != meal.ID {
		t.Errorf("Expected identity fields preserved, got %+v", got.RecordMeta())
	}
}

func TestDeleteIsSoftAndLogged(t *testing.T) {
	f, oplog := newTestFacade(t)

	meal := &record.Meal{Name: "lunch"}
	if err := f.Create(meal); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.Delete(record.TableMeals, meal.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if got := f.List(record.TableMeals); len(got) != 0 {
		t.Errorf("Expected empty mirror after delete, got %d", len(got))
	}
	rec, err := f.Get(record.TableMeals, meal.ID)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if !rec.RecordMeta().IsDeleted {
		t.Error("Expected IsDeleted=true")
	}
	if rec.RecordMeta().SyncedAt != nil {
		t.Errorf("Expected nil SyncedAt on locally deleted record, got %v", rec.RecordMeta().SyncedAt)
	}

	entries, _ := oplog.All()
	if len(entries) != 2 || entries[1].Op != record.OpDelete {
		t.Fatalf("Expected CREATE then DELETE in log, got %d entries", len(entries))
	}
}

func TestSubscribeNotifiesOnMutation(t *testing.T) {
	f, _ := newTestFacade(t)

	ch, cancel := f.Subscribe()
	defer cancel()

	if err := f.Create(&record.Meal{Name: "lunch"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Expected change notification after Create")
	}
}

func TestReloadPicksUpExternalWrites(t *testing.T) {
	f, _ := newTestFacade(t)

	// a merge writes to the store directly, bypassing the facade
	now := time.Now().UTC()
	meal := &record.Meal{
		Meta: record.Meta{ID: "remote", UserID: "u1", CreatedAt: now, UpdatedAt: now},
		Name: "remote meal",
	}
	if err := f.store.Create(meal); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if len(f.List(record.TableMeals)) != 0 {
		t.Fatal("Mirror should not see the write before Reload")
	}
	if err := f.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(f.List(record.TableMeals)) != 1 {
		t.Error("Expected mirror refreshed after Reload")
	}
}
