package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdagreement-harness/internal/config"
	"mdagreement-harness/internal/machamp"
	"mdagreement-harness/internal/runs"
)

func testExperiment(t *testing.T) *config.Experiment {
	t.Helper()
	exp := &config.Experiment{Name: "eacl23"}
	exp.Framework.Dir = "/opt/machamp"
	exp.Framework.ParamsConfig = "configs/params.json"
	exp.Runs.Variants = []string{"App", "App_A0all"}
	exp.Runs.Modes = []string{"single", "mtl3"}
	exp.Runs.Seeds = []int{1, 2, 3}
	require.NoError(t, exp.Normalize())
	return exp
}

func TestAllSpecsExpandsMatrixInStableOrder(t *testing.T) {
	exp := testExperiment(t)
	specs, err := AllSpecs(exp)
	require.NoError(t, err)
	require.Len(t, specs, 2*2*3)

	first := specs[0]
	assert.Equal(t, "eacl23_App_single_seed1", first.Name)
	assert.Equal(t, "App", first.Variant)
	assert.Equal(t, machamp.ModeSingle, first.Mode)
	assert.Equal(t, 1, first.Seed)
	assert.Equal(t, ConfigPath(exp, "App", machamp.ModeSingle), first.DatasetConfig)
	assert.Equal(t, GoldTest(exp), first.TestFile)

	again, err := AllSpecs(exp)
	require.NoError(t, err)
	assert.Equal(t, specs, again)
}

func TestPredPathsLineUpWithGlob(t *testing.T) {
	exp := testExperiment(t)
	path := PredPath(exp, "App", machamp.ModeMTL3, 7)
	glob := PredGlob(exp, "App", machamp.ModeMTL3)

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "preds", "App_mtl3", "seed07.pred"), path)
	ok, err := filepath.Match(glob, path)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBackendSelection(t *testing.T) {
	exp := testExperiment(t)
	b, err := Backend(exp)
	require.NoError(t, err)
	assert.IsType(t, &runs.Local{}, b)

	exp.Framework.Backend = "docker"
	exp.Framework.Image = "machamp:latest"
	exp.Framework.WorkRoot = "/work"
	b, err = Backend(exp)
	require.NoError(t, err)
	assert.IsType(t, &runs.Docker{}, b)
}
