package machamp

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigModes(t *testing.T) {
	cfg := NewConfig("data/splits/App", ModeSingle)
	ds := cfg[DatasetName]
	assert.Equal(t, filepath.Join("data/splits/App", "train.tsv"), ds.TrainDataPath)
	assert.Equal(t, []int{0}, ds.SentIdxs)
	require.Len(t, ds.Tasks, 1)
	assert.Equal(t, Task{TaskType: "classification", ColumnIdx: 1}, ds.Tasks["offense"])

	cfg = NewConfig("d", ModeMTL3)
	require.Len(t, cfg[DatasetName].Tasks, 2)
	assert.Equal(t, 2, cfg[DatasetName].Tasks["agr3"].ColumnIdx)

	cfg = NewConfig("d", ModeMTL6)
	require.Len(t, cfg[DatasetName].Tasks, 2)
	assert.Equal(t, 3, cfg[DatasetName].Tasks["agr6"].ColumnIdx)
}

func TestConfigWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "configs", "App_mtl3.json")
	require.NoError(t, NewConfig("splits/App", ModeMTL3).Write(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Config
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, NewConfig("splits/App", ModeMTL3), got)
}

func TestParseMode(t *testing.T) {
	for _, ok := range []string{"single", "mtl3", "mtl6"} {
		_, err := ParseMode(ok)
		assert.NoError(t, err)
	}
	_, err := ParseMode("mtl9")
	assert.Error(t, err)
}

func TestTrainAndPredictCommands(t *testing.T) {
	fw := &Framework{Dir: "/opt/machamp"}

	train := fw.TrainCommand("configs/App_single.json", "configs/params.json", "exp_App_single_seed3", 3)
	assert.Equal(t, []string{
		"python3", "/opt/machamp/train.py",
		"--dataset_configs", "configs/App_single.json",
		"--parameters_config", "configs/params.json",
		"--name", "exp_App_single_seed3",
		"--seed", "3",
	}, train)

	predict := fw.PredictCommand("logs/x/1/model.tar.gz", "data/test.tsv", "preds/seed03.pred")
	assert.Equal(t, []string{
		"python3", "/opt/machamp/predict.py",
		"logs/x/1/model.tar.gz", "data/test.tsv", "preds/seed03.pred",
		"--dataset", DatasetName,
	}, predict)
}

func TestFindRunDirPicksNewestWithModel(t *testing.T) {
	root := t.TempDir()
	fw := &Framework{Dir: root}

	logs := filepath.Join(root, "logs", "myrun")
	older := filepath.Join(logs, "2024.01.01_10.00.00")
	newer := filepath.Join(logs, "2024.01.02_10.00.00")
	newest := filepath.Join(logs, "2024.01.03_10.00.00")
	for _, d := range []string{older, newer, newest} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}
	// Only the middle dir has a model; the newest crashed before saving.
	require.NoError(t, os.WriteFile(filepath.Join(newer, "model.tar.gz"), []byte("m"), 0o644))

	got, err := fw.FindRunDir("myrun")
	require.NoError(t, err)
	assert.Equal(t, newer, got)

	model, err := fw.ModelPath(got)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(newer, "model.tar.gz"), model)
}

func TestFindRunDirMissing(t *testing.T) {
	fw := &Framework{Dir: t.TempDir()}
	_, err := fw.FindRunDir("ghost")
	assert.Error(t, err)
}
