// Package runs executes (config, seed) train+predict runs against the
// external framework, one process at a time.
package runs

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"mdagreement-harness/internal/machamp"
)

// Spec pins one run: which dataset config and which seed.
type Spec struct {
	Name          string // run name handed to the framework, e.g. App_mtl3_seed7
	Variant       string
	Mode          machamp.Mode
	Seed          int
	DatasetConfig string // path to the generated dataset config JSON
	ParamsConfig  string // path to the hyperparameter config JSON
	TestFile      string // gold test TSV handed to predict
	PredPath      string // where the predictions file must land
}

// Output records where a finished run left its artifacts. Immutable once
// created.
type Output struct {
	Spec    Spec
	RunDir  string
	Model   string
	PredRef string // local path, or object-store ref once uploaded
}

// Backend runs one train+predict cycle.
type Backend interface {
	TrainPredict(ctx context.Context, spec Spec) (*Output, error)
}

// absSpec resolves the spec's paths against the invocation directory. Both
// backends execute commands with the framework checkout as working
// directory, where relative paths would otherwise resolve.
func absSpec(spec Spec) (Spec, error) {
	fields := []*string{&spec.DatasetConfig, &spec.ParamsConfig, &spec.TestFile, &spec.PredPath}
	for _, f := range fields {
		if *f == "" {
			continue
		}
		abs, err := filepath.Abs(*f)
		if err != nil {
			return spec, fmt.Errorf("resolve path %q: %w", *f, err)
		}
		*f = abs
	}
	return spec, nil
}

// ExecuteAll runs specs sequentially. Failed runs are logged and skipped so
// scoring can proceed with whatever seeds succeeded; the returned error is
// non-nil only when every run failed.
func ExecuteAll(ctx context.Context, backend Backend, specs []Spec) ([]*Output, error) {
	var outputs []*Output
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return outputs, err
		}
		log.Printf("run %s: training seed %d", spec.Name, spec.Seed)
		out, err := backend.TrainPredict(ctx, spec)
		if err != nil {
			log.Printf("run %s: %v (skipped)", spec.Name, err)
			continue
		}
		log.Printf("run %s: predictions at %s", spec.Name, out.PredRef)
		outputs = append(outputs, out)
	}
	if len(outputs) == 0 && len(specs) > 0 {
		return nil, fmt.Errorf("all %d runs failed", len(specs))
	}
	return outputs, nil
}
