package runs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"mdagreement-harness/internal/machamp"
)

// Local runs the framework as child processes on this host.
type Local struct {
	Framework *machamp.Framework
	Timeout   time.Duration // per phase; zero means no limit
}

func (l *Local) phaseCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.Timeout > 0 {
		return context.WithTimeout(ctx, l.Timeout)
	}
	return context.WithCancel(ctx)
}

func (l *Local) run(ctx context.Context, argv []string) error {
	phase, cancel := l.phaseCtx(ctx)
	defer cancel()
	cmd := exec.CommandContext(phase, argv[0], argv[1:]...)
	cmd.Dir = l.Framework.Dir
	var stderr bytes.Buffer
	cmd.Stdout = os.Stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w\nstderr:\n%s", argv[1], err, tail(stderr.String(), 2048))
	}
	return nil
}

// tail keeps the last n bytes of s; framework stderr can be enormous.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// TrainPredict trains one seed, locates the run directory the framework
// produced and predicts the test file with its model artifact.
func (l *Local) TrainPredict(ctx context.Context, spec Spec) (*Output, error) {
	spec, err := absSpec(spec)
	if err != nil {
		return nil, err
	}
	if err := l.run(ctx, l.Framework.TrainCommand(spec.DatasetConfig, spec.ParamsConfig, spec.Name, spec.Seed)); err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	runDir, err := l.Framework.FindRunDir(spec.Name)
	if err != nil {
		return nil, err
	}
	model, err := l.Framework.ModelPath(runDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(spec.PredPath), 0o755); err != nil {
		return nil, err
	}
	if err := l.run(ctx, l.Framework.PredictCommand(model, spec.TestFile, spec.PredPath)); err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if _, err := os.Stat(spec.PredPath); err != nil {
		return nil, fmt.Errorf("predictions file missing after predict: %w", err)
	}
	return &Output{Spec: spec, RunDir: runDir, Model: model, PredRef: spec.PredPath}, nil
}
