// Package schemas holds the wire types of the experiment API.
package schemas

import (
	"time"

	"mdagreement-harness/internal/config"
	"mdagreement-harness/internal/scoring"
)

type CreateExperimentRequest struct {
	Spec config.Experiment `json:"spec"`
}

type CreateExperimentResponse struct {
	ExperimentID string `json:"experiment_id"`
	ReadToken    string `json:"read_token"`
}

type EnqueueRunsResponse struct {
	Created  int `json:"created"`
	Enqueued int `json:"enqueued"`
}

type RunOut struct {
	RunID     string    `json:"run_id"`
	Variant   string    `json:"variant"`
	Mode      string    `json:"mode"`
	Seed      int       `json:"seed"`
	Status    string    `json:"status"`
	PredRef   string    `json:"pred_ref,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ExperimentOut struct {
	ExperimentID string         `json:"experiment_id"`
	Name         string         `json:"name"`
	CreatedAt    time.Time      `json:"created_at"`
	Status       string         `json:"status"`
	Runs         []RunOut       `json:"runs,omitempty"`
	RunCounts    map[string]int `json:"run_counts"`
}

type ScoresResponse struct {
	Variant string        `json:"variant"`
	Mode    string        `json:"mode"`
	GroupBy string        `json:"group_by"`
	Seeds   int           `json:"seeds"`
	Scores  scoring.Table `json:"scores"`
}
