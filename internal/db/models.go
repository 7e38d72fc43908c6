package db

import "time"

// Experiment is one configured disagreement experiment. Spec holds the
// experiment YAML re-encoded as JSON.
type Experiment struct {
	ID            string    `db:"id"`
	Name          string    `db:"name"`
	CreatedAt     time.Time `db:"created_at"`
	Spec          []byte    `db:"spec"`
	Status        string    `db:"status"`
	ReadTokenHash string    `db:"read_token_hash"`
}

// Run is one (config, seed) training run. Created pending; transitions to
// running, then done or failed. No other mutation after that.
type Run struct {
	ID           string    `db:"id"`
	ExperimentID string    `db:"experiment_id"`
	Variant      string    `db:"variant"`
	Mode         string    `db:"mode"`
	Seed         int       `db:"seed"`
	Status       string    `db:"status"`
	RunDir       string    `db:"run_dir"`
	PredRef      string    `db:"pred_ref"`
	Error        string    `db:"error"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Run statuses.
const (
	RunPending = "pending"
	RunRunning = "running"
	RunDone    = "done"
	RunFailed  = "failed"
)
