// Package http exposes the experiment API: create experiments, enqueue
// their seed runs and read aggregated score tables.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	m "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"

	"mdagreement-harness/internal/auth"
	"mdagreement-harness/internal/config"
	"mdagreement-harness/internal/db"
	"mdagreement-harness/internal/pipeline"
	"mdagreement-harness/internal/schemas"
	"mdagreement-harness/internal/scoring"
	"mdagreement-harness/internal/storage"
	"mdagreement-harness/internal/worker"
)

// TaskQueue is the slice of the asynq client the server needs.
type TaskQueue interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Server struct {
	DB    *sqlx.DB
	S3    *storage.Client
	Asynq TaskQueue
}

func NewServer(dbx *sqlx.DB, s3c *storage.Client, asq *asynq.Client) *http.Server {
	s := &Server{DB: dbx, S3: s3c, Asynq: asq}
	r := chi.NewRouter()
	r.Use(m.RequestID, m.RealIP, m.Logger, m.Recoverer)

	// Admin/API-token protected
	r.Group(func(r chi.Router) {
		r.Use(RequireAPIToken)
		r.Post("/experiments", s.createExperiment)
		r.Post("/experiments/{id}/runs", s.enqueueRuns)
		r.Get("/experiments/{id}", s.getExperiment)
	})

	// Score tables also accept the per-experiment read token.
	r.Get("/experiments/{id}/scores", s.getScores)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbx.Ping(); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"status":"db error"}`))
			return
		}
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	return &http.Server{Addr: ":8000", Handler: r}
}

type errResp struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) createExperiment(w http.ResponseWriter, r *http.Request) {
	var req schemas.CreateExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, 400, errResp{err.Error()})
		return
	}
	if err := req.Spec.Normalize(); err != nil {
		writeJSON(w, 400, errResp{err.Error()})
		return
	}
	id := uuid.NewString()
	readToken := auth.NewToken()
	spec, err := json.Marshal(req.Spec)
	if err != nil {
		writeJSON(w, 500, errResp{err.Error()})
		return
	}
	_, err = s.DB.Exec(`insert into experiments(id, name, spec, read_token_hash) values($1,$2,$3,$4)`,
		id, req.Spec.Name, spec, auth.HashToken(readToken))
	if err != nil {
		writeJSON(w, 500, errResp{err.Error()})
		return
	}
	log.Printf("created experiment %s (%s)", id, req.Spec.Name)
	writeJSON(w, 200, schemas.CreateExperimentResponse{ExperimentID: id, ReadToken: readToken})
}

// enqueueRuns expands the experiment's variants x modes x seeds matrix into
// pending run rows, then queues a task for every run still pending. Queueing
// is driven by row status, not by which rows this request inserted, so a
// re-post recovers runs stranded by an earlier partial enqueue failure. The
// task ID is the run ID; an already-queued run is skipped, not duplicated.
func (s *Server) enqueueRuns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exp, err := s.loadExperiment(id)
	if err != nil {
		writeJSON(w, 404, errResp{"experiment not found"})
		return
	}
	specs, err := pipeline.AllSpecs(exp.spec)
	if err != nil {
		writeJSON(w, 400, errResp{err.Error()})
		return
	}

	created := 0
	err = db.WithTx(r.Context(), s.DB, func(tx *sqlx.Tx) error {
		for _, spec := range specs {
			res, err := tx.Exec(
				`insert into runs(id, experiment_id, variant, mode, seed)
				 values($1,$2,$3,$4,$5)
				 on conflict (experiment_id, variant, mode, seed) do nothing`,
				uuid.NewString(), id, spec.Variant, string(spec.Mode), spec.Seed)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				created++
			}
		}
		return nil
	})
	if err != nil {
		writeJSON(w, 500, errResp{err.Error()})
		return
	}

	var pending []string
	err = s.DB.Select(&pending,
		`select id from runs where experiment_id=$1 and status=$2 order by variant, mode, seed`,
		id, db.RunPending)
	if err != nil {
		writeJSON(w, 500, errResp{err.Error()})
		return
	}

	enqueued := 0
	for _, runID := range pending {
		task := asynq.NewTask(worker.TaskTrainPredict, []byte(runID))
		_, err := s.Asynq.EnqueueContext(r.Context(), task, asynq.TaskID(runID), asynq.MaxRetry(0))
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			continue // already in the queue from a previous post
		}
		if err != nil {
			// Rows not reached stay pending; a re-post picks them up.
			log.Printf("enqueue run %s: %v", runID, err)
			writeJSON(w, 502, errResp{fmt.Sprintf("enqueued %d of %d pending runs: %v", enqueued, len(pending), err)})
			return
		}
		enqueued++
	}
	writeJSON(w, 200, schemas.EnqueueRunsResponse{Created: created, Enqueued: enqueued})
}

func (s *Server) getExperiment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exp, err := s.loadExperiment(id)
	if err != nil {
		writeJSON(w, 404, errResp{"not found"})
		return
	}
	var rows []db.Run
	if err := s.DB.Select(&rows, `select * from runs where experiment_id=$1 order by variant, mode, seed`, id); err != nil {
		writeJSON(w, 500, errResp{err.Error()})
		return
	}
	out := schemas.ExperimentOut{
		ExperimentID: exp.row.ID,
		Name:         exp.row.Name,
		CreatedAt:    exp.row.CreatedAt,
		Status:       exp.row.Status,
		RunCounts:    map[string]int{},
	}
	for _, run := range rows {
		out.RunCounts[run.Status]++
		out.Runs = append(out.Runs, schemas.RunOut{
			RunID:     run.ID,
			Variant:   run.Variant,
			Mode:      run.Mode,
			Seed:      run.Seed,
			Status:    run.Status,
			PredRef:   run.PredRef,
			Error:     run.Error,
			UpdatedAt: run.UpdatedAt,
		})
	}
	writeJSON(w, 200, out)
}

// getScores aggregates the finished seeds of one (variant, mode) on demand.
// Accessible with the admin token or the experiment's read token.
func (s *Server) getScores(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exp, err := s.loadExperiment(id)
	if err != nil {
		writeJSON(w, 404, errResp{"not found"})
		return
	}
	if !isAdmin(r) && auth.HashToken(bearerToken(r)) != exp.row.ReadTokenHash {
		writeJSON(w, 401, errResp{"unauthorized"})
		return
	}

	q := r.URL.Query()
	variant, mode := q.Get("variant"), q.Get("mode")
	if variant == "" || mode == "" {
		writeJSON(w, 400, errResp{"variant and mode query params are required"})
		return
	}
	by, err := scoring.ParseGroupBy(valueOr(q.Get("group_by"), "none"))
	if err != nil {
		writeJSON(w, 400, errResp{err.Error()})
		return
	}

	gold, err := scoring.ReadGold(pipeline.GoldTest(exp.spec))
	if err != nil {
		writeJSON(w, 500, errResp{err.Error()})
		return
	}

	var refs []string
	err = s.DB.Select(&refs,
		`select pred_ref from runs
		 where experiment_id=$1 and variant=$2 and mode=$3 and status=$4 and pred_ref<>''
		 order by seed`, id, variant, mode, db.RunDone)
	if err != nil {
		writeJSON(w, 500, errResp{err.Error()})
		return
	}

	var seeds [][]string
	for _, ref := range refs {
		preds, err := s.fetchPredictions(r, ref)
		if err != nil {
			log.Printf("skip predictions %s: %v", ref, err)
			continue
		}
		seeds = append(seeds, preds)
	}
	table, err := scoring.Aggregate(gold, seeds, by)
	if err != nil {
		writeJSON(w, 409, errResp{err.Error()})
		return
	}
	writeJSON(w, 200, schemas.ScoresResponse{
		Variant: variant,
		Mode:    mode,
		GroupBy: string(by),
		Seeds:   len(seeds),
		Scores:  table,
	})
}

func (s *Server) fetchPredictions(r *http.Request, ref string) ([]string, error) {
	if strings.HasPrefix(ref, "s3://") {
		text, err := s.S3.GetText(r.Context(), ref)
		if err != nil {
			return nil, err
		}
		return scoring.ParsePredictions(strings.NewReader(text))
	}
	return scoring.ReadPredictions(ref)
}

type loadedExperiment struct {
	row  db.Experiment
	spec *config.Experiment
}

func (s *Server) loadExperiment(id string) (*loadedExperiment, error) {
	var row db.Experiment
	if err := s.DB.Get(&row, `select * from experiments where id=$1`, id); err != nil {
		return nil, err
	}
	var spec config.Experiment
	if err := json.Unmarshal(row.Spec, &spec); err != nil {
		return nil, err
	}
	if err := spec.Normalize(); err != nil {
		return nil, err
	}
	return &loadedExperiment{row: row, spec: &spec}, nil
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
