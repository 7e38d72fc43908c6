// Package config loads the YAML experiment spec that drives the harness.
// Service-level settings (DATABASE_URL, REDIS_ADDR, MINIO_*) stay in the
// environment; this file describes one experiment.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"mdagreement-harness/internal/dataset"
	"mdagreement-harness/internal/machamp"
	"mdagreement-harness/internal/splits"
)

// Experiment is the full description of one disagreement experiment.
type Experiment struct {
	Name string `yaml:"name" json:"name"`

	Data struct {
		TrainCSV       string   `yaml:"train_csv" json:"train_csv"`
		DevCSV         string   `yaml:"dev_csv" json:"dev_csv"`
		TestCSV        string   `yaml:"test_csv" json:"test_csv"`
		Taxonomy       string   `yaml:"taxonomy" json:"taxonomy"`
		IDColumn       string   `yaml:"id_column" json:"id_column"`
		TextColumn     string   `yaml:"text_column" json:"text_column"`
		GoldColumn     string   `yaml:"gold_column" json:"gold_column"`
		AgrColumn      string   `yaml:"agreement_column" json:"agreement_column"`
		AnnColumns     []string `yaml:"annotator_columns" json:"annotator_columns"`
		AnnField       string   `yaml:"annotations_field" json:"annotations_field"`
		PreferTaxonomy bool     `yaml:"prefer_taxonomy_agreement" json:"prefer_taxonomy_agreement"`
		OutDir         string   `yaml:"out_dir" json:"out_dir"`
	} `yaml:"data" json:"data"`

	Splits struct {
		OutRoot string `yaml:"out_root" json:"out_root"`
	} `yaml:"splits" json:"splits"`

	Framework struct {
		Python       string `yaml:"python" json:"python"`
		Dir          string `yaml:"dir" json:"dir"`
		ParamsConfig string `yaml:"params_config" json:"params_config"`
		Backend      string `yaml:"backend" json:"backend"` // local | docker
		Image        string `yaml:"image" json:"image"`     // docker backend only
		WorkRoot     string `yaml:"work_root" json:"work_root"`
	} `yaml:"framework" json:"framework"`

	Runs struct {
		Variants   []string `yaml:"variants" json:"variants"`
		Modes      []string `yaml:"modes" json:"modes"`
		Seeds      []int    `yaml:"seeds" json:"seeds"`
		ConfigsDir string   `yaml:"configs_dir" json:"configs_dir"`
		PredsDir   string   `yaml:"preds_dir" json:"preds_dir"`
	} `yaml:"runs" json:"runs"`

	Scoring struct {
		GroupBy []string `yaml:"group_by" json:"group_by"`
		OutDir  string   `yaml:"out_dir" json:"out_dir"`
	} `yaml:"scoring" json:"scoring"`
}

// DefaultSeedCount matches the paper's 20-seed protocol.
const DefaultSeedCount = 20

// Load reads, defaults and validates an experiment file.
func Load(path string) (*Experiment, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var e Experiment
	if err := yaml.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := e.Normalize(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &e, nil
}

// Normalize applies defaults, resolves paths and validates; the API server
// calls this on specs received over the wire.
func (e *Experiment) Normalize() error {
	e.applyDefaults()
	if err := e.absPaths(); err != nil {
		return err
	}
	return e.validate()
}

// absPaths resolves every path in the spec against the invocation directory.
// Framework commands execute with the framework checkout as their working
// directory, so relative paths handed to them would resolve there instead.
func (e *Experiment) absPaths() error {
	fields := []*string{
		&e.Data.TrainCSV, &e.Data.DevCSV, &e.Data.TestCSV, &e.Data.Taxonomy, &e.Data.OutDir,
		&e.Splits.OutRoot,
		&e.Framework.Dir, &e.Framework.ParamsConfig, &e.Framework.WorkRoot,
		&e.Runs.ConfigsDir, &e.Runs.PredsDir,
		&e.Scoring.OutDir,
	}
	for _, f := range fields {
		if *f == "" {
			continue
		}
		abs, err := filepath.Abs(*f)
		if err != nil {
			return fmt.Errorf("resolve path %q: %w", *f, err)
		}
		*f = abs
	}
	return nil
}

func (e *Experiment) applyDefaults() {
	if e.Data.IDColumn == "" {
		e.Data.IDColumn = "ID"
	}
	if e.Data.TextColumn == "" {
		e.Data.TextColumn = "Text"
	}
	if e.Data.GoldColumn == "" {
		e.Data.GoldColumn = "Offensive_binary_label"
	}
	if e.Data.AgrColumn == "" {
		e.Data.AgrColumn = "Agreement_level"
	}
	if e.Data.AnnField == "" && len(e.Data.AnnColumns) == 0 {
		e.Data.AnnField = "Individual_Annotations"
	}
	if e.Data.OutDir == "" {
		e.Data.OutDir = "data/md_agreement"
	}
	if e.Splits.OutRoot == "" {
		e.Splits.OutRoot = "data/splits"
	}
	if e.Framework.Python == "" {
		e.Framework.Python = "python3"
	}
	if e.Framework.Backend == "" {
		e.Framework.Backend = "local"
	}
	if len(e.Runs.Variants) == 0 {
		for _, v := range splits.Variants() {
			e.Runs.Variants = append(e.Runs.Variants, v.Name)
		}
	}
	if len(e.Runs.Modes) == 0 {
		e.Runs.Modes = []string{string(machamp.ModeSingle)}
	}
	if len(e.Runs.Seeds) == 0 {
		for s := 1; s <= DefaultSeedCount; s++ {
			e.Runs.Seeds = append(e.Runs.Seeds, s)
		}
	}
	if e.Runs.ConfigsDir == "" {
		e.Runs.ConfigsDir = "configs"
	}
	if e.Runs.PredsDir == "" {
		e.Runs.PredsDir = "preds"
	}
	if len(e.Scoring.GroupBy) == 0 {
		e.Scoring.GroupBy = []string{"category", "subtype"}
	}
	if e.Scoring.OutDir == "" {
		e.Scoring.OutDir = "scores"
	}
}

func (e *Experiment) validate() error {
	if e.Name == "" {
		return fmt.Errorf("experiment name is required")
	}
	if e.Framework.Dir == "" {
		return fmt.Errorf("framework.dir is required")
	}
	if e.Framework.ParamsConfig == "" {
		return fmt.Errorf("framework.params_config is required")
	}
	switch e.Framework.Backend {
	case "local":
	case "docker":
		if e.Framework.Image == "" {
			return fmt.Errorf("framework.image is required for the docker backend")
		}
		if e.Framework.WorkRoot == "" {
			return fmt.Errorf("framework.work_root is required for the docker backend")
		}
	default:
		return fmt.Errorf("unknown backend %q (want local or docker)", e.Framework.Backend)
	}
	known := map[string]bool{}
	for _, v := range splits.Variants() {
		known[v.Name] = true
	}
	for _, v := range e.Runs.Variants {
		if !known[v] {
			return fmt.Errorf("unknown variant %q", v)
		}
	}
	for _, m := range e.Runs.Modes {
		if _, err := machamp.ParseMode(m); err != nil {
			return err
		}
	}
	for _, g := range e.Scoring.GroupBy {
		if g != "none" && g != "category" && g != "subtype" {
			return fmt.Errorf("unknown group_by %q", g)
		}
	}
	return nil
}

// DatasetOptions adapts the data section for internal/dataset.
func (e *Experiment) DatasetOptions() dataset.Options {
	return dataset.Options{
		IDColumn:         e.Data.IDColumn,
		TextColumn:       e.Data.TextColumn,
		GoldColumn:       e.Data.GoldColumn,
		AgreementColumn:  e.Data.AgrColumn,
		AnnotatorColumns: e.Data.AnnColumns,
		AnnotationsField: e.Data.AnnField,
		PreferTaxonomy:   e.Data.PreferTaxonomy,
	}
}
