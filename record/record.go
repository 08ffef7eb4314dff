// Package record defines the typed data model shared by the local store,
// the sync engine, and the remote sync endpoint. Every domain table has a
// concrete record type; the registry in registry.go maps wire-level table
// names onto those types so payloads are decoded into checked shapes instead
// of free-form maps.
package record

import "time"

// Table names accepted by the sync protocol.
const (
	TableUsers          = "users"
	TableHealthProfiles = "health_profiles"
	TableWorkouts       = "workouts"
	TableExercises      = "exercises"
	TableMeals          = "meals"
	TableMealItems      = "meal_items"
	TableProgressLogs   = "progress_logs"
	TableWeightEntries  = "weight_entries"
	TableWaterIntake    = "water_intake"
	TableSleepEntries   = "sleep_entries"
	TableGoals          = "goals"
)

// Meta carries the fields common to every synchronized row: identity,
// ownership, timestamps, and the soft-delete flag. Rows are never physically
// removed; IsDeleted makes deletion itself synchronizable and idempotent.
type Meta struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	SyncedAt  *time.Time `json:"syncedAt,omitempty"`
	IsDeleted bool       `json:"isDeleted"`
}

// RecordMeta returns the embedded Meta for generic access.
func (m *Meta) RecordMeta() *Meta { return m }

// Record is implemented by every domain record type.
type Record interface {
	Table() string
	RecordMeta() *Meta
}

// User is the root record; its ID doubles as the sync identity, so UserID is
// always equal to ID (or to ClerkID when an external identity is attached).
type User struct {
	Meta
	ClerkID string `json:"clerkId,omitempty"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
}

func (*User) Table() string { return TableUsers }

// Owner returns the identity that must match the authenticated caller.
func (u *User) Owner() string {
	if u.ClerkID != "" {
		return u.ClerkID
	}
	return u.ID
}

// HealthProfile holds per-user body and target metrics.
type HealthProfile struct {
	Meta
	HeightCm      float64 `json:"heightCm,omitempty"`
	WeightKg      float64 `json:"weightKg,omitempty"`
	Age           int     `json:"age,omitempty"`
	Gender        string  `json:"gender,omitempty"`
	ActivityLevel string  `json:"activityLevel,omitempty"`
	CalorieTarget int     `json:"calorieTarget,omitempty"`
	ProteinTarget int     `json:"proteinTarget,omitempty"`
	WaterTargetML int     `json:"waterTargetMl,omitempty"`
}

func (*HealthProfile) Table() string { return TableHealthProfiles }

// Workout is a single training session. Exercises reference it by WorkoutID.
type Workout struct {
	Meta
	Name           string    `json:"name"`
	WorkoutType    string    `json:"workoutType,omitempty"`
	DurationMin    int       `json:"durationMin,omitempty"`
	CaloriesBurned int       `json:"caloriesBurned,omitempty"`
	PerformedAt    time.Time `json:"performedAt,omitempty"`
	Notes          string    `json:"notes,omitempty"`
}

func (*Workout) Table() string { return TableWorkouts }

// Exercise belongs to exactly one workout.
type Exercise struct {
	Meta
	WorkoutID   string  `json:"workoutId"`
	Name        string  `json:"name"`
	Sets        int     `json:"sets,omitempty"`
	Reps        int     `json:"reps,omitempty"`
	WeightKg    float64 `json:"weightKg,omitempty"`
	DurationSec int     `json:"durationSec,omitempty"`
}

func (*Exercise) Table() string { return TableExercises }

// ParentID returns the owning workout id.
func (e *Exercise) ParentID() string { return e.WorkoutID }

// Meal is a logged meal with aggregate macros.
type Meal struct {
	Meta
	Name     string    `json:"name"`
	MealType string    `json:"mealType,omitempty"`
	Calories int       `json:"calories,omitempty"`
	ProteinG float64   `json:"proteinG,omitempty"`
	CarbsG   float64   `json:"carbsG,omitempty"`
	FatG     float64   `json:"fatG,omitempty"`
	EatenAt  time.Time `json:"eatenAt,omitempty"`
}

func (*Meal) Table() string { return TableMeals }

// MealItem is a single food within a meal. UserID is denormalized onto the
// item so ownership checks never need a join through the parent meal.
type MealItem struct {
	Meta
	MealID   string  `json:"mealId"`
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	Calories int     `json:"calories,omitempty"`
	ProteinG float64 `json:"proteinG,omitempty"`
	CarbsG   float64 `json:"carbsG,omitempty"`
	FatG     float64 `json:"fatG,omitempty"`
}

func (*MealItem) Table() string { return TableMealItems }

// ParentID returns the owning meal id.
func (mi *MealItem) ParentID() string { return mi.MealID }

// ProgressLog is a dated progress snapshot.
type ProgressLog struct {
	Meta
	Date       time.Time `json:"date"`
	WeightKg   float64   `json:"weightKg,omitempty"`
	BodyFatPct float64   `json:"bodyFatPct,omitempty"`
	Notes      string    `json:"notes,omitempty"`
}

func (*ProgressLog) Table() string { return TableProgressLogs }

// WeightEntry is a single weigh-in.
type WeightEntry struct {
	Meta
	WeightKg   float64   `json:"weightKg"`
	RecordedAt time.Time `json:"recordedAt,omitempty"`
	Notes      string    `json:"notes,omitempty"`
}

func (*WeightEntry) Table() string { return TableWeightEntries }

// WaterIntake is a single water log entry.
type WaterIntake struct {
	Meta
	AmountML   int       `json:"amountMl"`
	RecordedAt time.Time `json:"recordedAt,omitempty"`
}

func (*WaterIntake) Table() string { return TableWaterIntake }

// SleepEntry is one night of sleep.
type SleepEntry struct {
	Meta
	Hours   float64   `json:"hours"`
	Quality string    `json:"quality,omitempty"`
	BedTime time.Time `json:"bedTime,omitempty"`
	WakeUp  time.Time `json:"wakeUp,omitempty"`
}

func (*SleepEntry) Table() string { return TableSleepEntries }

// Goal is a user-defined target.
type Goal struct {
	Meta
	GoalType     string    `json:"goalType"`
	TargetValue  float64   `json:"targetValue,omitempty"`
	CurrentValue float64   `json:"currentValue,omitempty"`
	Unit         string    `json:"unit,omitempty"`
	Deadline     time.Time `json:"deadline,omitempty"`
	Achieved     bool      `json:"achieved,omitempty"`
}

func (*Goal) Table() string { return TableGoals }
