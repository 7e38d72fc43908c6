// Package machamp generates dataset configs for the external MaChAmp
// framework and constructs its train/predict command lines. The framework
// itself is opaque; nothing here inspects model internals.
package machamp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Mode selects the task set of a dataset config.
type Mode string

const (
	ModeSingle Mode = "single" // offense task only
	ModeMTL3   Mode = "mtl3"   // + 3-way agreement auxiliary task
	ModeMTL6   Mode = "mtl6"   // + 6-way agreement x label auxiliary task
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSingle, ModeMTL3, ModeMTL6:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (want single, mtl3 or mtl6)", s)
}

// Task is one classification head in a dataset config.
type Task struct {
	TaskType  string `json:"task_type"`
	ColumnIdx int    `json:"column_idx"`
}

// Dataset describes one dataset entry in the framework's config format.
type Dataset struct {
	TrainDataPath string          `json:"train_data_path"`
	DevDataPath   string          `json:"dev_data_path"`
	TestDataPath  string          `json:"test_data_path"`
	SentIdxs      []int           `json:"sent_idxs"`
	Tasks         map[string]Task `json:"tasks"`
}

// Config is a full dataset config keyed by dataset name.
type Config map[string]Dataset

// DatasetName is the single dataset entry every generated config carries.
const DatasetName = "MD"

// Column indices of the auxiliary tasks in the normalized TSV.
const (
	offenseColumn = 1
	agr3Column    = 2
	agr6Column    = 3
)

// NewConfig builds the dataset config for one split directory. mtl3 adds
// the 3-tier agreement task, mtl6 the agreement-by-label task.
func NewConfig(splitDir string, mode Mode) Config {
	tasks := map[string]Task{
		"offense": {TaskType: "classification", ColumnIdx: offenseColumn},
	}
	switch mode {
	case ModeMTL3:
		tasks["agr3"] = Task{TaskType: "classification", ColumnIdx: agr3Column}
	case ModeMTL6:
		tasks["agr6"] = Task{TaskType: "classification", ColumnIdx: agr6Column}
	}
	return Config{
		DatasetName: {
			TrainDataPath: filepath.Join(splitDir, "train.tsv"),
			DevDataPath:   filepath.Join(splitDir, "dev.tsv"),
			TestDataPath:  filepath.Join(splitDir, "test.tsv"),
			SentIdxs:      []int{0},
			Tasks:         tasks,
		},
	}
}

// Write marshals the config to path, creating parent directories.
func (c Config) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
