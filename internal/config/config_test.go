package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, yaml string) (*Experiment, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "experiment.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return Load(path)
}

const minimal = `
name: eacl23
framework:
  dir: /opt/machamp
  params_config: configs/params.json
`

func TestLoadDefaults(t *testing.T) {
	exp, err := load(t, minimal)
	require.NoError(t, err)

	assert.Equal(t, "ID", exp.Data.IDColumn)
	assert.Equal(t, "Offensive_binary_label", exp.Data.GoldColumn)
	assert.Equal(t, "local", exp.Framework.Backend)
	assert.Equal(t, "python3", exp.Framework.Python)
	assert.Len(t, exp.Runs.Variants, 5)
	assert.Equal(t, []string{"single"}, exp.Runs.Modes)
	require.Len(t, exp.Runs.Seeds, DefaultSeedCount)
	assert.Equal(t, 1, exp.Runs.Seeds[0])
	assert.Equal(t, 20, exp.Runs.Seeds[19])
	assert.Equal(t, []string{"category", "subtype"}, exp.Scoring.GroupBy)
}

func TestNormalizeResolvesRelativePaths(t *testing.T) {
	exp, err := load(t, minimal+`data:
  train_csv: raw/MD-Agreement_train.csv
`)
	require.NoError(t, err)
	wd, err := os.Getwd()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(wd, "raw", "MD-Agreement_train.csv"), exp.Data.TrainCSV)
	assert.Equal(t, filepath.Join(wd, "data", "md_agreement"), exp.Data.OutDir)
	assert.Equal(t, filepath.Join(wd, "configs"), exp.Runs.ConfigsDir)
	assert.Equal(t, filepath.Join(wd, "preds"), exp.Runs.PredsDir)
	assert.Equal(t, filepath.Join(wd, "scores"), exp.Scoring.OutDir)
	// absolute paths pass through untouched
	assert.Equal(t, "/opt/machamp", exp.Framework.Dir)
}

func TestLoadOverrides(t *testing.T) {
	exp, err := load(t, `
name: pilot
framework:
  dir: /opt/machamp
  params_config: p.json
runs:
  variants: [App, App_A0all]
  modes: [mtl3, mtl6]
  seeds: [7, 8, 9]
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"App", "App_A0all"}, exp.Runs.Variants)
	assert.Equal(t, []string{"mtl3", "mtl6"}, exp.Runs.Modes)
	assert.Equal(t, []int{7, 8, 9}, exp.Runs.Seeds)
}

func TestLoadRejectsUnknownVariant(t *testing.T) {
	_, err := load(t, `
name: bad
framework:
  dir: /opt/machamp
  params_config: p.json
runs:
  variants: [App_A0_TYPO]
`)
	assert.ErrorContains(t, err, "App_A0_TYPO")
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	_, err := load(t, `
name: bad
framework:
  dir: /opt/machamp
  params_config: p.json
runs:
  modes: [mtl9]
`)
	assert.ErrorContains(t, err, "mtl9")
}

func TestLoadDockerBackendNeedsImage(t *testing.T) {
	_, err := load(t, `
name: bad
framework:
  dir: /opt/machamp
  params_config: p.json
  backend: docker
`)
	assert.ErrorContains(t, err, "image")
}

func TestLoadMissingName(t *testing.T) {
	_, err := load(t, `
framework:
  dir: /opt/machamp
  params_config: p.json
`)
	assert.ErrorContains(t, err, "name")
}
