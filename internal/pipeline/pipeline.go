// Package pipeline wires the experiment stages together: normalize, build
// variants, generate framework configs, run seeds, score. The CLI runs the
// whole sequence in-process; the service enqueues the run stage per seed.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"mdagreement-harness/internal/config"
	"mdagreement-harness/internal/dataset"
	"mdagreement-harness/internal/machamp"
	"mdagreement-harness/internal/runs"
	"mdagreement-harness/internal/scoring"
	"mdagreement-harness/internal/splits"
)

// Prepare normalizes the three raw splits into exp.Data.OutDir.
func Prepare(exp *config.Experiment) error {
	tax, err := dataset.LoadTaxonomy(exp.Data.Taxonomy)
	if err != nil {
		return fmt.Errorf("load taxonomy: %w", err)
	}
	opts := exp.DatasetOptions()
	inputs := []struct{ in, split string }{
		{exp.Data.TrainCSV, "train"},
		{exp.Data.DevCSV, "dev"},
		{exp.Data.TestCSV, "test"},
	}
	for _, s := range inputs {
		out := filepath.Join(exp.Data.OutDir, s.split+".tsv")
		n, err := dataset.ProcessSplit(s.in, out, tax, opts, s.split)
		if err != nil {
			return fmt.Errorf("normalize %s: %w", s.split, err)
		}
		log.Printf("normalized %s: %d rows -> %s", s.split, n, out)
	}
	return nil
}

// BuildSplits derives the training variants and reports their sizes.
func BuildSplits(exp *config.Experiment) (map[string]int, error) {
	return splits.Build(exp.Data.OutDir, exp.Splits.OutRoot)
}

// ConfigPath is where the dataset config for one (variant, mode) lives.
func ConfigPath(exp *config.Experiment, variant string, mode machamp.Mode) string {
	return filepath.Join(exp.Runs.ConfigsDir, fmt.Sprintf("%s_%s.json", variant, string(mode)))
}

// GenerateConfigs writes a dataset config per (variant, mode).
func GenerateConfigs(exp *config.Experiment) error {
	for _, variant := range exp.Runs.Variants {
		for _, m := range exp.Runs.Modes {
			mode, err := machamp.ParseMode(m)
			if err != nil {
				return err
			}
			cfg := machamp.NewConfig(filepath.Join(exp.Splits.OutRoot, variant), mode)
			path := ConfigPath(exp, variant, mode)
			if err := cfg.Write(path); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			log.Printf("wrote dataset config %s", path)
		}
	}
	return nil
}

// RunName identifies one run toward the framework and in run directories.
func RunName(expName, variant string, mode machamp.Mode, seed int) string {
	return fmt.Sprintf("%s_%s_%s_seed%d", expName, variant, string(mode), seed)
}

// PredDir holds one (variant, mode)'s per-seed prediction files.
func PredDir(exp *config.Experiment, variant string, mode machamp.Mode) string {
	return filepath.Join(exp.Runs.PredsDir, fmt.Sprintf("%s_%s", variant, string(mode)))
}

// PredPath is where one seed's predictions land; PredGlob matches all of
// them for scoring.
func PredPath(exp *config.Experiment, variant string, mode machamp.Mode, seed int) string {
	return filepath.Join(PredDir(exp, variant, mode), fmt.Sprintf("seed%02d.pred", seed))
}

func PredGlob(exp *config.Experiment, variant string, mode machamp.Mode) string {
	return filepath.Join(PredDir(exp, variant, mode), "seed*.pred")
}

// GoldTest is the shared gold test split every variant predicts against.
func GoldTest(exp *config.Experiment) string {
	return filepath.Join(exp.Data.OutDir, "test.tsv")
}

// SpecFor builds the run spec for one (variant, mode, seed).
func SpecFor(exp *config.Experiment, variant string, mode machamp.Mode, seed int) runs.Spec {
	return runs.Spec{
		Name:          RunName(exp.Name, variant, mode, seed),
		Variant:       variant,
		Mode:          mode,
		Seed:          seed,
		DatasetConfig: ConfigPath(exp, variant, mode),
		ParamsConfig:  exp.Framework.ParamsConfig,
		TestFile:      GoldTest(exp),
		PredPath:      PredPath(exp, variant, mode, seed),
	}
}

// AllSpecs expands the experiment's variants x modes x seeds matrix in a
// stable order.
func AllSpecs(exp *config.Experiment) ([]runs.Spec, error) {
	var out []runs.Spec
	for _, variant := range exp.Runs.Variants {
		for _, m := range exp.Runs.Modes {
			mode, err := machamp.ParseMode(m)
			if err != nil {
				return nil, err
			}
			for _, seed := range exp.Runs.Seeds {
				out = append(out, SpecFor(exp, variant, mode, seed))
			}
		}
	}
	return out, nil
}

// Backend builds the configured execution backend.
func Backend(exp *config.Experiment) (runs.Backend, error) {
	fw := &machamp.Framework{Python: exp.Framework.Python, Dir: exp.Framework.Dir}
	switch exp.Framework.Backend {
	case "local":
		return &runs.Local{Framework: fw}, nil
	case "docker":
		return &runs.Docker{
			Framework: fw,
			Image:     exp.Framework.Image,
			WorkRoot:  exp.Framework.WorkRoot,
			Timeout:   6 * time.Hour,
		}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", exp.Framework.Backend)
}

// Execute runs the full matrix sequentially.
func Execute(ctx context.Context, exp *config.Experiment) ([]*runs.Output, error) {
	backend, err := Backend(exp)
	if err != nil {
		return nil, err
	}
	specs, err := AllSpecs(exp)
	if err != nil {
		return nil, err
	}
	return runs.ExecuteAll(ctx, backend, specs)
}

// ScoreAll aggregates every (variant, mode) with every configured grouping,
// writing scores/<variant>_<mode>.<group_by>.json tables. Configurations
// with no prediction files yet are logged and skipped.
func ScoreAll(exp *config.Experiment) error {
	gold := GoldTest(exp)
	wrote := 0
	for _, variant := range exp.Runs.Variants {
		for _, m := range exp.Runs.Modes {
			mode, err := machamp.ParseMode(m)
			if err != nil {
				return err
			}
			for _, g := range exp.Scoring.GroupBy {
				by, err := scoring.ParseGroupBy(g)
				if err != nil {
					return err
				}
				table, err := scoring.Score(gold, PredGlob(exp, variant, mode), by)
				if err != nil {
					log.Printf("score %s_%s by %s: %v (skipped)", variant, mode, g, err)
					continue
				}
				out := filepath.Join(exp.Scoring.OutDir, fmt.Sprintf("%s_%s.%s.json", variant, string(mode), g))
				if err := scoring.WriteJSON(out, table); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
				log.Printf("wrote %s", out)
				wrote++
			}
		}
	}
	if wrote == 0 {
		return fmt.Errorf("no score tables written; are there prediction files under %s?", exp.Runs.PredsDir)
	}
	return nil
}
