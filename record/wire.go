package record

import (
	"encoding/json"
	"time"
)

// Op is a sync operation kind.
type Op string

const (
	OpCreate Op = "CREATE"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Valid reports whether o is a known operation kind.
func (o Op) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Operation is one entry of a sync batch as it travels over the wire.
// RecordData is the full record snapshot for CREATE/UPDATE and empty for
// DELETE, which carries only the record identity.
type Operation struct {
	ID         string          `json:"id" validate:"required"`
	Op         Op              `json:"operation" validate:"required"`
	TableName  string          `json:"table_name" validate:"required"`
	RecordID   string          `json:"record_id" validate:"required"`
	RecordData json.RawMessage `json:"record_data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// BatchRequest is the body of POST /sync.
type BatchRequest struct {
	Operations []Operation `json:"operations" validate:"required,min=1,dive"`
}

// OperationError reports the failure of a single operation within a batch.
type OperationError struct {
	OperationID string `json:"operationId"`
	Error       string `json:"error"`
}

// BatchResponse is the server's per-batch report. Success is true as long as
// the batch itself was processed; individual failures are listed in Errors.
type BatchResponse struct {
	Success bool             `json:"success"`
	Synced  int              `json:"synced"`
	Total   int              `json:"total"`
	Errors  []OperationError `json:"errors,omitempty"`
}

// WorkoutWithExercises is a workout plus its child exercises, as returned by
// the remote fetch.
type WorkoutWithExercises struct {
	Workout
	Exercises []*Exercise `json:"exercises"`
}

// FetchResponse is the body of GET /sync?action=fetch.
type FetchResponse struct {
	HealthProfiles []*HealthProfile        `json:"healthProfiles"`
	Workouts       []*WorkoutWithExercises `json:"workouts"`
	Meals          []*Meal                 `json:"meals"`
	ProgressLogs   []*ProgressLog          `json:"progressLogs"`
}

// StatusResponse is the body of GET /sync?action=status.
type StatusResponse struct {
	LastSyncTime *time.Time `json:"lastSyncTime"`
	Status       string     `json:"status"`
}
