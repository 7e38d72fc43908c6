package machamp

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Framework locates a MaChAmp checkout and builds its command lines.
type Framework struct {
	Python string // interpreter, default "python3"
	Dir    string // framework checkout; train.py/predict.py live here
}

func (f *Framework) python() string {
	if f.Python != "" {
		return f.Python
	}
	return "python3"
}

// TrainCommand returns argv for one training run. The framework writes the
// run into logs/<name>/<timestamp>/ under its own directory.
func (f *Framework) TrainCommand(datasetConfig, paramsConfig, name string, seed int) []string {
	return []string{
		f.python(), filepath.Join(f.Dir, "train.py"),
		"--dataset_configs", datasetConfig,
		"--parameters_config", paramsConfig,
		"--name", name,
		"--seed", fmt.Sprint(seed),
	}
}

// PredictCommand returns argv for predicting testFile with a trained model,
// writing a tab-separated predictions file to outFile.
func (f *Framework) PredictCommand(model, testFile, outFile string) []string {
	return []string{
		f.python(), filepath.Join(f.Dir, "predict.py"),
		model, testFile, outFile,
		"--dataset", DatasetName,
	}
}

// Model artifact names the framework is known to emit, in preference order.
var modelArtifacts = []string{"model.tar.gz", "model.pt"}

// FindRunDir resolves the newest timestamped run directory for a named run
// that actually contains a model artifact. Missing runs are reported via
// error so callers can log and skip them.
func (f *Framework) FindRunDir(name string) (string, error) {
	root := filepath.Join(f.Dir, "logs", name)
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("run %s: %w", name, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 0 {
		return "", fmt.Errorf("run %s: no run directories under %s", name, root)
	}
	// Timestamped names sort chronologically; prefer the newest with a model.
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, d := range dirs {
		dir := filepath.Join(root, d)
		if _, err := f.ModelPath(dir); err == nil {
			return dir, nil
		}
	}
	return "", fmt.Errorf("run %s: no model artifact in any run directory under %s", name, root)
}

// ModelPath locates the model artifact inside a run directory.
func (f *Framework) ModelPath(runDir string) (string, error) {
	for _, name := range modelArtifacts {
		p := filepath.Join(runDir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no model artifact in %s", runDir)
}
