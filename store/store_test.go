package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fitsync/record"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenClient(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenClient: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func seedUser(t *testing.T, s *Store, id string) {
	t.Helper()
	now := time.Now().UTC()
	u := &record.User{Meta: record.Meta{ID: id, UserID: id, CreatedAt: now, UpdatedAt: now}}
	if err := s.Create(u); err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func newMeal(userID, id string, at time.Time) *record.Meal {
	return &record.Meal{
		Meta: record.Meta{ID: id, UserID: userID, CreatedAt: at, UpdatedAt: at},
		Name: "lunch", Calories: 600,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1")

	now := time.Now().UTC().Truncate(time.Second)
	meal := newMeal("u1", "m1", now)
	if err := s.Create(meal); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(record.TableMeals, "m1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	m, ok := got.(*record.Meal)
	if !ok {
		t.Fatalf("Get returned %T, want *record.Meal", got)
	}
	if m.Name != "lunch" || m.Calories != 600 {
		t.Errorf("Got meal %+v, want name=lunch calories=600", m)
	}
	if m.UserID != "u1" {
		t.Errorf("Expected UserID u1, got %s", m.UserID)
	}
	if !m.CreatedAt.Equal(now) {
		t.Errorf("Expected CreatedAt %v, got %v", now, m.CreatedAt)
	}
	if m.SyncedAt != nil {
		t.Errorf("Expected nil SyncedAt on fresh record, got %v", m.SyncedAt)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(record.TableMeals, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestGetUnknownTable(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("bogus", "x")
	if !errors.Is(err, record.ErrUnknownTable) {
		t.Errorf("Expected ErrUnknownTable, got %v", err)
	}
}

func TestCreateMissingParent(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1")

	now := time.Now().UTC()
	ex := &record.Exercise{
		Meta:      record.Meta{ID: "e1", UserID: "u1", CreatedAt: now, UpdatedAt: now},
		WorkoutID: "no-such-workout",
		Name:      "squat",
	}
	err := s.Create(ex)
	if !errors.Is(err, ErrConstraint) {
		t.Errorf("Expected ErrConstraint for missing parent, got %v", err)
	}
}

func TestForeignKeysHoldOnFreshConnections(t *testing.T) {
	db, err := OpenClient(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenClient: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := New(db)
	seedUser(t, s, "u1")

	// Force the pool to discard its connection so the next statement runs
	// on a brand-new one. foreign_keys is per-connection state, so it must
	// come from the DSN rather than a one-time Exec.
	db.SetConnMaxLifetime(time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	var on int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&on); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if on != 1 {
		t.Fatal("Expected foreign_keys enabled on a fresh connection")
	}

	now := time.Now().UTC()
	orphan := &record.Exercise{
		Meta:      record.Meta{ID: "e1", UserID: "u1", CreatedAt: now, UpdatedAt: now},
		WorkoutID: "no-such-workout",
		Name:      "bench",
	}
	if err := s.Upsert(orphan); !errors.Is(err, ErrConstraint) {
		t.Errorf("Expected ErrConstraint for orphan child, got %v", err)
	}
}

func TestSoftDeleteSemantics(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1")

	now := time.Now().UTC()
	if err := s.Create(newMeal("u1", "m1", now)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(newMeal("u1", "m2", now.Add(time.Second))); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.MarkRecordSynced(record.TableMeals, "m1", now.Add(time.Second)); err != nil {
		t.Fatalf("MarkRecordSynced: %v", err)
	}

	if err := s.SoftDelete(record.TableMeals, "m1", now.Add(2*time.Second)); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	// Deleted rows drop out of List
	recs, err := s.List(record.TableMeals, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 || recs[0].RecordMeta().ID != "m2" {
		t.Errorf("Expected only m2 in list, got %d records", len(recs))
	}

	// but Get still returns them, flagged
	got, err := s.Get(record.TableMeals, "m1")
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if !got.RecordMeta().IsDeleted {
		t.Error("Expected IsDeleted=true after SoftDelete")
	}

	// the deletion is an unacknowledged change again
	if got.RecordMeta().SyncedAt != nil {
		t.Errorf("Expected nil SyncedAt after SoftDelete, got %v", got.RecordMeta().SyncedAt)
	}

	// deleting again is idempotent
	if err := s.SoftDelete(record.TableMeals, "m1", now.Add(3*time.Second)); err != nil {
		t.Errorf("Repeated SoftDelete should succeed, got %v", err)
	}
}

func TestSoftDeleteNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.SoftDelete(record.TableMeals, "missing", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUpsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1")

	now := time.Now().UTC()
	meal := newMeal("u1", "m1", now)
	if err := s.Upsert(meal); err != nil {
		t.Fatalf("First upsert: %v", err)
	}
	meal.Calories = 750
	if err := s.Upsert(meal); err != nil {
		t.Fatalf("Second upsert: %v", err)
	}

	recs, err := s.List(record.TableMeals, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Expected exactly 1 row after double upsert, got %d", len(recs))
	}
	if got := recs[0].(*record.Meal).Calories; got != 750 {
		t.Errorf("Expected calories from second upsert (750), got %d", got)
	}
}

func TestUpdateNotFound(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1")
	err := s.Update(newMeal("u1", "missing", time.Now().UTC()))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRewritesSnapshot(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1")

	now := time.Now().UTC().Truncate(time.Second)
	meal := newMeal("u1", "m1", now)
	if err := s.Create(meal); err != nil {
		t.Fatalf("Create: %v", err)
	}

	meal.Name = "dinner"
	meal.UpdatedAt = now.Add(time.Minute)
	if err := s.Update(meal); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.Get(record.TableMeals, "m1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	m := got.(*record.Meal)
	if m.Name != "dinner" {
		t.Errorf("Expected updated name, got %s", m.Name)
	}
	if !m.UpdatedAt.Equal(now.Add(time.Minute)) {
		t.Errorf("Expected UpdatedAt %v, got %v", now.Add(time.Minute), m.UpdatedAt)
	}
}

func TestListByParent(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1")

	now := time.Now().UTC()
	w := &record.Workout{
		Meta: record.Meta{ID: "w1", UserID: "u1", CreatedAt: now, UpdatedAt: now},
		Name: "push day",
	}
	if err := s.Create(w); err != nil {
		t.Fatalf("Create workout: %v", err)
	}
	for i, name := range []string{"bench", "press"} {
		ex := &record.Exercise{
			Meta:      record.Meta{ID: name, UserID: "u1", CreatedAt: now.Add(time.Duration(i) * time.Second), UpdatedAt: now},
			WorkoutID: "w1",
			Name:      name,
		}
		if err := s.Create(ex); err != nil {
			t.Fatalf("Create exercise %s: %v", name, err)
		}
	}

	kids, err := s.ListByParent(record.TableExercises, "w1")
	if err != nil {
		t.Fatalf("ListByParent: %v", err)
	}
	if len(kids) != 2 {
		t.Fatalf("Expected 2 exercises, got %d", len(kids))
	}
	if kids[0].RecordMeta().ID != "bench" {
		t.Errorf("Expected oldest-first order, got %s first", kids[0].RecordMeta().ID)
	}
}

func TestListSince(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1")

	base := time.Now().UTC().Truncate(time.Second)
	old := newMeal("u1", "old", base.Add(-time.Hour))
	old.UpdatedAt = base.Add(-time.Hour)
	if err := s.Create(old); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(newMeal("u1", "new", base)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	cutoff := base.Add(-time.Minute)
	recs, err := s.ListSince(record.TableMeals, "u1", &cutoff)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(recs) != 1 || recs[0].RecordMeta().ID != "new" {
		t.Errorf("Expected only the recent meal, got %d records", len(recs))
	}

	all, err := s.ListSince(record.TableMeals, "u1", nil)
	if err != nil {
		t.Fatalf("ListSince(nil): %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 meals with nil since, got %d", len(all))
	}
}

func TestListScopedToUser(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1")
	seedUser(t, s, "u2")

	now := time.Now().UTC()
	if err := s.Create(newMeal("u1", "m1", now)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(newMeal("u2", "m2", now)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	recs, err := s.List(record.TableMeals, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 || recs[0].RecordMeta().UserID != "u1" {
		t.Errorf("Expected only u1's meals, got %d records", len(recs))
	}
}

func TestOwner(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1")

	now := time.Now().UTC()
	if err := s.Create(newMeal("u1", "m1", now)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	owner, deleted, err := s.Owner(record.TableMeals, "m1")
	if err != nil {
		t.Fatalf("Owner: %v", err)
	}
	if owner != "u1" || deleted {
		t.Errorf("Owner = %s deleted=%v, want u1 false", owner, deleted)
	}

	if _, _, err := s.Owner(record.TableMeals, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMaxSyncedAt(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1")

	now := time.Now().UTC().Truncate(time.Second)
	if err := s.Create(newMeal("u1", "m1", now)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.MaxSyncedAt("u1")
	if err != nil {
		t.Fatalf("MaxSyncedAt: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil before any sync, got %v", got)
	}

	stamp := now.Add(time.Minute)
	if err := s.MarkRecordSynced(record.TableMeals, "m1", stamp); err != nil {
		t.Fatalf("MarkRecordSynced: %v", err)
	}

	got, err = s.MaxSyncedAt("u1")
	if err != nil {
		t.Fatalf("MaxSyncedAt: %v", err)
	}
	if got == nil || !got.Equal(stamp) {
		t.Errorf("Expected %v, got %v", stamp, got)
	}
}
