// Package server implements the remote sync endpoint: authenticated batch
// application with per-record authorization, idempotent upserts, soft
// deletes, and delta fetches.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"fitsync/record"
	"fitsync/store"
)

const identityHeader = "x-user-id"

// Handler serves the /sync endpoint over the server store.
type Handler struct {
	store    *store.Store
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(st *store.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    st,
		validate: validator.New(),
		logger:   logger,
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/sync", h.sync)
	mux.HandleFunc("/healthz", h.healthz)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DB().Health(); err != nil {
		writeError(w, http.StatusInternalServerError, "database unavailable", err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleBatch(w, r)
	case http.MethodGet:
		switch action := r.URL.Query().Get("action"); action {
		case "fetch":
			h.handleFetch(w, r)
		case "status":
			h.handleStatus(w, r)
		default:
			writeError(w, http.StatusBadRequest, "unknown action", action)
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", r.Method)
	}
}

// handleBatch applies a batch of operations sequentially. A missing identity
// fails the whole request; a failing operation fails only itself and is
// reported in the errors array.
func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	identity := r.Header.Get(identityHeader)
	if identity == "" {
		batchesTotal.WithLabelValues("unauthorized").Inc()
		writeError(w, http.StatusUnauthorized, "missing identity header", identityHeader+" is required")
		return
	}

	var batch record.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		batchesTotal.WithLabelValues("malformed").Inc()
		writeError(w, http.StatusBadRequest, "malformed request body", err.Error())
		return
	}
	if err := h.validate.Struct(batch); err != nil {
		batchesTotal.WithLabelValues("malformed").Inc()
		writeError(w, http.StatusBadRequest, "invalid operations array", err.Error())
		return
	}

	resp := record.BatchResponse{Success: true, Total: len(batch.Operations)}
	for _, op := range batch.Operations {
		outcome, err := h.applyOne(identity, op)
		operationsTotal.WithLabelValues(op.TableName, string(op.Op), outcome).Inc()
		if err != nil {
			h.logger.Warn("operation failed",
				"operation", string(op.Op), "table", op.TableName,
				"record", op.RecordID, "error", err)
			resp.Errors = append(resp.Errors, record.OperationError{
				OperationID: op.ID,
				Error:       err.Error(),
			})
			continue
		}
		resp.Synced++
	}

	batchesTotal.WithLabelValues("processed").Inc()
	batchDuration.Observe(time.Since(start).Seconds())
	h.logger.Info("batch processed",
		"identity", identity, "total", resp.Total,
		"synced", resp.Synced, "failed", len(resp.Errors))
	writeJSON(w, http.StatusOK, resp)
}

// applyOne wraps applyOperation with a per-operation recover so one bad
// record cannot abort the rest of the batch.
func (h *Handler) applyOne(identity string, op record.Operation) (outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeRejected
			err = fmt.Errorf("internal error applying operation: %v", r)
		}
	}()
	return h.applyOperation(identity, op)
}

// handleFetch returns the caller's live records, optionally filtered to
// those updated at or after the since parameter.
func (h *Handler) handleFetch(w http.ResponseWriter, r *http.Request) {
	identity := r.Header.Get(identityHeader)
	if identity == "" {
		writeError(w, http.StatusUnauthorized, "missing identity header", identityHeader+" is required")
		return
	}

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since parameter", err.Error())
			return
		}
		since = &t
	}

	resp := record.FetchResponse{
		HealthProfiles: []*record.HealthProfile{},
		Workouts:       []*record.WorkoutWithExercises{},
		Meals:          []*record.Meal{},
		ProgressLogs:   []*record.ProgressLog{},
	}

	profiles, err := h.store.ListSince(record.TableHealthProfiles, identity, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "fetch failed", err.Error())
		return
	}
	for _, rec := range profiles {
		resp.HealthProfiles = append(resp.HealthProfiles, rec.(*record.HealthProfile))
	}

	workouts, err := h.store.ListSince(record.TableWorkouts, identity, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "fetch failed", err.Error())
		return
	}
	for _, rec := range workouts {
		workout := rec.(*record.Workout)
		nested := &record.WorkoutWithExercises{Workout: *workout, Exercises: []*record.Exercise{}}
		exercises, err := h.store.ListByParent(record.TableExercises, workout.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "fetch failed", err.Error())
			return
		}
		for _, ex := range exercises {
			nested.Exercises = append(nested.Exercises, ex.(*record.Exercise))
		}
		resp.Workouts = append(resp.Workouts, nested)
	}

	meals, err := h.store.ListSince(record.TableMeals, identity, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "fetch failed", err.Error())
		return
	}
	for _, rec := range meals {
		resp.Meals = append(resp.Meals, rec.(*record.Meal))
	}

	logs, err := h.store.ListSince(record.TableProgressLogs, identity, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "fetch failed", err.Error())
		return
	}
	for _, rec := range logs {
		resp.ProgressLogs = append(resp.ProgressLogs, rec.(*record.ProgressLog))
	}

	fetchesTotal.Inc()
	writeJSON(w, http.StatusOK, resp)
}

// handleStatus reports the most recent synced_at across the caller's tables.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	identity := r.Header.Get(identityHeader)
	if identity == "" {
		writeError(w, http.StatusUnauthorized, "missing identity header", identityHeader+" is required")
		return
	}

	last, err := h.store.MaxSyncedAt(identity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status query failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record.StatusResponse{LastSyncTime: last, Status: "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, map[string]string{
		"error":   message,
		"details": details,
	})
}
