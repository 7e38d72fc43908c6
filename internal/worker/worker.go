// Package worker executes queued train+predict runs. Concurrency is pinned
// to 1 so only one external training process runs at a time.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"

	"mdagreement-harness/internal/config"
	"mdagreement-harness/internal/db"
	"mdagreement-harness/internal/machamp"
	"mdagreement-harness/internal/pipeline"
	"mdagreement-harness/internal/storage"
)

// TaskTrainPredict carries a run ID as payload.
const TaskTrainPredict = "train_predict_run"

type Server struct {
	DB *sqlx.DB
	S3 *storage.Client
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTrainPredict, s.handleTrainPredict)
	return mux
}

func (s *Server) handleTrainPredict(ctx context.Context, t *asynq.Task) error {
	runID := string(t.Payload())
	log.Printf("starting run %s", runID)

	var run db.Run
	if err := s.DB.GetContext(ctx, &run, `select * from runs where id=$1`, runID); err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	var expRow db.Experiment
	if err := s.DB.GetContext(ctx, &expRow, `select * from experiments where id=$1`, run.ExperimentID); err != nil {
		return fmt.Errorf("load experiment %s: %w", run.ExperimentID, err)
	}
	var exp config.Experiment
	if err := json.Unmarshal(expRow.Spec, &exp); err != nil {
		return fmt.Errorf("decode experiment spec: %w", err)
	}
	if err := exp.Normalize(); err != nil {
		return fmt.Errorf("experiment spec: %w", err)
	}

	s.setStatus(ctx, runID, db.RunRunning, "")

	mode, err := machamp.ParseMode(run.Mode)
	if err != nil {
		s.fail(ctx, runID, err)
		return nil
	}
	backend, err := pipeline.Backend(&exp)
	if err != nil {
		s.fail(ctx, runID, err)
		return nil
	}
	spec := pipeline.SpecFor(&exp, run.Variant, mode, run.Seed)

	out, err := backend.TrainPredict(ctx, spec)
	if err != nil {
		// Record the failure on the row; scoring proceeds with the seeds
		// that succeeded, so tell asynq we are done instead of retrying.
		log.Printf("run %s failed: %v", runID, err)
		s.fail(ctx, runID, err)
		return nil
	}

	predRef := out.PredRef
	if s.S3 != nil {
		key := fmt.Sprintf("experiments/%s/preds/%s_%s/seed%02d.pred",
			run.ExperimentID, run.Variant, run.Mode, run.Seed)
		if ref, err := s.S3.PutFile(ctx, key, out.PredRef); err != nil {
			log.Printf("run %s: upload predictions: %v (keeping local ref)", runID, err)
		} else {
			predRef = ref
		}
	}

	_, err = s.DB.ExecContext(ctx,
		`update runs set status=$1, run_dir=$2, pred_ref=$3, error='', updated_at=$4 where id=$5`,
		db.RunDone, out.RunDir, predRef, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("record run %s: %w", runID, err)
	}
	log.Printf("run %s done: %s", runID, predRef)
	return nil
}

func (s *Server) setStatus(ctx context.Context, runID, status, errMsg string) {
	_, err := s.DB.ExecContext(ctx,
		`update runs set status=$1, error=$2, updated_at=$3 where id=$4`,
		status, errMsg, time.Now().UTC(), runID)
	if err != nil {
		log.Printf("warn: update run %s: %v", runID, err)
	}
}

func (s *Server) fail(ctx context.Context, runID string, cause error) {
	s.setStatus(ctx, runID, db.RunFailed, cause.Error())
}

// Run serves the queue until the process exits.
func Run(redisAddr string, dbx *sqlx.DB, s3c *storage.Client) error {
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		// One external training process at a time.
		Concurrency: 1,
	})
	w := &Server{DB: dbx, S3: s3c}
	return srv.Run(w.mux())
}
