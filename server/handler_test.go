package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitsync/record"
	"fitsync/store"
)

func newTestHandler(t *testing.T) (*Handler, *store.Store) {
	t.Helper()
	db, err := store.OpenServer(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.New(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(st, logger), st
}

func mkOp(t *testing.T, op record.Op, rec record.Record) record.Operation {
	t.Helper()
	data, err := record.Encode(rec)
	require.NoError(t, err)
	return record.Operation{
		ID:         uuid.NewString(),
		Op:         op,
		TableName:  rec.Table(),
		RecordID:   rec.RecordMeta().ID,
		RecordData: data,
		Timestamp:  time.Now().UTC(),
	}
}

func mkMeal(userID, id, name string) *record.Meal {
	now := time.Now().UTC()
	return &record.Meal{
		Meta: record.Meta{ID: id, UserID: userID, CreatedAt: now, UpdatedAt: now},
		Name: name, Calories: 500,
	}
}

func postBatch(t *testing.T, h *Handler, identity string, ops ...record.Operation) (*httptest.ResponseRecorder, record.BatchResponse) {
	t.Helper()
	body, err := json.Marshal(record.BatchRequest{Operations: ops})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/sync", bytes.NewReader(body))
	if identity != "" {
		req.Header.Set(identityHeader, identity)
	}
	rr := httptest.NewRecorder()
	h.sync(rr, req)

	var resp record.BatchResponse
	if rr.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	}
	return rr, resp
}

func getFetch(t *testing.T, h *Handler, identity, since string) (*httptest.ResponseRecorder, record.FetchResponse) {
	t.Helper()
	url := "/sync?action=fetch"
	if since != "" {
		url += "&since=" + since
	}
	req := httptest.NewRequest(http.MethodGet, url, nil)
	if identity != "" {
		req.Header.Set(identityHeader, identity)
	}
	rr := httptest.NewRecorder()
	h.sync(rr, req)

	var resp record.FetchResponse
	if rr.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	}
	return rr, resp
}

func TestBatchMissingIdentity(t *testing.T) {
	h, _ := newTestHandler(t)
	rr, _ := postBatch(t, h, "", mkOp(t, record.OpCreate, mkMeal("u1", "m1", "lunch")))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestBatchMalformedBody(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/sync", bytes.NewReader([]byte("{not json")))
	req.Header.Set(identityHeader, "u1")
	rr := httptest.NewRecorder()
	h.sync(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBatchEmptyOperations(t *testing.T) {
	h, _ := newTestHandler(t)
	rr, _ := postBatch(t, h, "u1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestIdempotentCreate(t *testing.T) {
	h, st := newTestHandler(t)
	meal := mkMeal("u1", "m1", "lunch")

	op := mkOp(t, record.OpCreate, meal)
	rr, resp := postBatch(t, h, "u1", op)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, resp.Synced)

	// Same CREATE replayed: still succeeds, still exactly one row.
	rr, resp = postBatch(t, h, "u1", op)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, resp.Synced)
	assert.Empty(t, resp.Errors)

	recs, err := st.List(record.TableMeals, "u1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestOwnershipEnforcement(t *testing.T) {
	h, st := newTestHandler(t)

	rr, resp := postBatch(t, h, "alice", mkOp(t, record.OpCreate, mkMeal("alice", "m1", "lunch")))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, resp.Synced)

	// mallory tries to update alice's meal
	stolen := mkMeal("mallory", "m1", "tampered")
	rr, resp = postBatch(t, h, "mallory", mkOp(t, record.OpUpdate, stolen))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, resp.Synced)
	require.Len(t, resp.Errors, 1)

	// record untouched
	rec, err := st.Get(record.TableMeals, "m1")
	require.NoError(t, err)
	assert.Equal(t, "lunch", rec.(*record.Meal).Name)
	assert.Equal(t, "alice", rec.RecordMeta().UserID)

	// same for delete
	rr, resp = postBatch(t, h, "mallory", record.Operation{
		ID: uuid.NewString(), Op: record.OpDelete,
		TableName: record.TableMeals, RecordID: "m1",
		Timestamp: time.Now().UTC(),
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, resp.Synced)
	rec, err = st.Get(record.TableMeals, "m1")
	require.NoError(t, err)
	assert.False(t, rec.RecordMeta().IsDeleted)
}

func TestBatchPartialFailure(t *testing.T) {
	h, _ := newTestHandler(t)

	// someone else's record for the middle operation
	rr, resp := postBatch(t, h, "bob", mkOp(t, record.OpCreate, mkMeal("bob", "theirs", "dinner")))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, resp.Synced)

	op1 := mkOp(t, record.OpCreate, mkMeal("u1", "m1", "breakfast"))
	op2 := mkOp(t, record.OpUpdate, mkMeal("u1", "theirs", "tampered"))
	op3 := mkOp(t, record.OpCreate, mkMeal("u1", "m3", "lunch"))

	rr, resp = postBatch(t, h, "u1", op1, op2, op3)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.Synced)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, op2.ID, resp.Errors[0].OperationID)
	assert.NotEmpty(t, resp.Errors[0].Error)
}

func TestDeleteIsSoft(t *testing.T) {
	h, st := newTestHandler(t)

	rr, _ := postBatch(t, h, "u1", mkOp(t, record.OpCreate, mkMeal("u1", "m1", "lunch")))
	require.Equal(t, http.StatusOK, rr.Code)

	rr, resp := postBatch(t, h, "u1", record.Operation{
		ID: uuid.NewString(), Op: record.OpDelete,
		TableName: record.TableMeals, RecordID: "m1",
		Timestamp: time.Now().UTC(),
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, resp.Synced)

	// row survives with the flag set
	rec, err := st.Get(record.TableMeals, "m1")
	require.NoError(t, err)
	assert.True(t, rec.RecordMeta().IsDeleted)

	// and is excluded from fetches
	rr, fetch := getFetch(t, h, "u1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, fetch.Meals)
}

func TestUpdateMissingRecord(t *testing.T) {
	h, _ := newTestHandler(t)
	rr, resp := postBatch(t, h, "u1", mkOp(t, record.OpUpdate, mkMeal("u1", "ghost", "x")))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, resp.Synced)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0].Error, "not found")
}

func TestUnknownTableSkipped(t *testing.T) {
	h, _ := newTestHandler(t)
	rr, resp := postBatch(t, h, "u1", record.Operation{
		ID: uuid.NewString(), Op: record.OpCreate,
		TableName: "no_such_table", RecordID: "x",
		RecordData: json.RawMessage(`{"id":"x"}`),
		Timestamp:  time.Now().UTC(),
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, resp.Errors)
}

func TestCreateChildBeforeParentRejected(t *testing.T) {
	h, _ := newTestHandler(t)

	now := time.Now().UTC()
	ex := &record.Exercise{
		Meta:      record.Meta{ID: "e1", UserID: "u1", CreatedAt: now, UpdatedAt: now},
		WorkoutID: "no-such-workout",
		Name:      "squat",
	}
	rr, resp := postBatch(t, h, "u1", mkOp(t, record.OpCreate, ex))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, resp.Synced)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0].Error, "parent")
}

func TestFetchScopedAndNested(t *testing.T) {
	h, _ := newTestHandler(t)

	now := time.Now().UTC()
	workout := &record.Workout{
		Meta: record.Meta{ID: "w1", UserID: "u1", CreatedAt: now, UpdatedAt: now},
		Name: "push day",
	}
	exercise := &record.Exercise{
		Meta:      record.Meta{ID: "e1", UserID: "u1", CreatedAt: now, UpdatedAt: now},
		WorkoutID: "w1",
		Name:      "bench",
	}
	rr, resp := postBatch(t, h, "u1",
		mkOp(t, record.OpCreate, workout),
		mkOp(t, record.OpCreate, exercise),
		mkOp(t, record.OpCreate, mkMeal("u1", "m1", "lunch")),
	)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 3, resp.Synced)

	// another user's data must not leak
	rr, _ = postBatch(t, h, "u2", mkOp(t, record.OpCreate, mkMeal("u2", "other", "secret")))
	require.Equal(t, http.StatusOK, rr.Code)

	rr, fetch := getFetch(t, h, "u1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, fetch.Workouts, 1)
	require.Len(t, fetch.Workouts[0].Exercises, 1)
	assert.Equal(t, "bench", fetch.Workouts[0].Exercises[0].Name)
	require.Len(t, fetch.Meals, 1)
	assert.Equal(t, "m1", fetch.Meals[0].ID)
	assert.Empty(t, fetch.HealthProfiles)
	assert.Empty(t, fetch.ProgressLogs)
}

func TestFetchInvalidSince(t *testing.T) {
	h, _ := newTestHandler(t)
	rr, _ := getFetch(t, h, "u1", "not-a-timestamp")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFetchMissingIdentity(t *testing.T) {
	h, _ := newTestHandler(t)
	rr, _ := getFetch(t, h, "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestStatus(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/sync?action=status", nil)
	req.Header.Set(identityHeader, "u1")
	rr := httptest.NewRecorder()
	h.sync(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var status record.StatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Nil(t, status.LastSyncTime)
	assert.Equal(t, "ready", status.Status)

	// after an applied batch the stamp is populated
	rr2, _ := postBatch(t, h, "u1", mkOp(t, record.OpCreate, mkMeal("u1", "m1", "lunch")))
	require.Equal(t, http.StatusOK, rr2.Code)

	rr = httptest.NewRecorder()
	h.sync(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.NotNil(t, status.LastSyncTime)
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodDelete, "/sync", nil)
	rr := httptest.NewRecorder()
	h.sync(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestOrderingWithinBatch(t *testing.T) {
	h, st := newTestHandler(t)

	meal := mkMeal("u1", "m1", "first")
	createOp := mkOp(t, record.OpCreate, meal)
	meal.Name = "second"
	updateOp := mkOp(t, record.OpUpdate, meal)

	rr, resp := postBatch(t, h, "u1", createOp, updateOp)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 2, resp.Synced)

	rec, err := st.Get(record.TableMeals, "m1")
	require.NoError(t, err)
	assert.Equal(t, "second", rec.(*record.Meal).Name)
}
