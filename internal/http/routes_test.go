package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdagreement-harness/internal/config"
	"mdagreement-harness/internal/schemas"
)

// fakeQueue stands in for asynq: it remembers queued task IDs, reports
// conflicts on duplicates and can be told to die on the nth call.
type fakeQueue struct {
	queued map[string]bool
	failAt int
	calls  int
}

func (q *fakeQueue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.calls++
	if q.failAt > 0 && q.calls == q.failAt {
		return nil, fmt.Errorf("dial redis: connection refused")
	}
	id := string(task.Payload())
	if q.queued[id] {
		return nil, fmt.Errorf("task %s: %w", id, asynq.ErrTaskIDConflict)
	}
	q.queued[id] = true
	return &asynq.TaskInfo{}, nil
}

func enqueueTestServer(t *testing.T) (*Server, sqlmock.Sqlmock, *fakeQueue) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	q := &fakeQueue{queued: map[string]bool{}}
	return &Server{DB: sqlx.NewDb(mockDB, "sqlmock"), Asynq: q}, mock, q
}

func experimentRow(t *testing.T, id string) *sqlmock.Rows {
	t.Helper()
	spec := config.Experiment{Name: "eacl23"}
	spec.Framework.Dir = "/opt/machamp"
	spec.Framework.ParamsConfig = "/opt/machamp/configs/params.json"
	spec.Runs.Variants = []string{"App"}
	spec.Runs.Modes = []string{"single"}
	spec.Runs.Seeds = []int{1, 2, 3}
	require.NoError(t, spec.Normalize())
	b, err := json.Marshal(spec)
	require.NoError(t, err)
	return sqlmock.NewRows([]string{"id", "name", "created_at", "spec", "status", "read_token_hash"}).
		AddRow(id, "eacl23", time.Now(), b, "open", "")
}

func postRuns(s *Server, id string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Post("/experiments/{id}/runs", s.enqueueRuns)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/experiments/"+id+"/runs", nil))
	return rec
}

func expectEnqueuePass(t *testing.T, mock sqlmock.Sqlmock, expID string, inserted int64, pending ...string) {
	t.Helper()
	mock.ExpectQuery(`select \* from experiments`).WillReturnRows(experimentRow(t, expID))
	mock.ExpectBegin()
	for i := 0; i < 3; i++ {
		mock.ExpectExec(`insert into runs`).WillReturnResult(sqlmock.NewResult(0, inserted))
	}
	mock.ExpectCommit()
	rows := sqlmock.NewRows([]string{"id"})
	for _, id := range pending {
		rows.AddRow(id)
	}
	mock.ExpectQuery(`select id from runs`).WillReturnRows(rows)
}

func TestEnqueueRunsRecoversStrandedPendingRuns(t *testing.T) {
	s, mock, q := enqueueTestServer(t)
	const expID = "11111111-1111-1111-1111-111111111111"

	// First post: all three rows are created but the queue dies on the
	// second task, leaving two committed rows pending.
	q.failAt = 2
	expectEnqueuePass(t, mock, expID, 1, "r1", "r2", "r3")
	rec := postRuns(s, expID)
	assert.Equal(t, 502, rec.Code)
	assert.True(t, q.queued["r1"])
	assert.False(t, q.queued["r2"])

	// Second post: no new rows, but the stranded pending rows are queued.
	// r1 is already in the queue and must not be duplicated.
	expectEnqueuePass(t, mock, expID, 0, "r1", "r2", "r3")
	rec = postRuns(s, expID)
	require.Equal(t, 200, rec.Code, rec.Body.String())

	var resp schemas.EnqueueRunsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 0, resp.Created)
	assert.Equal(t, 2, resp.Enqueued)
	assert.True(t, q.queued["r2"])
	assert.True(t, q.queued["r3"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueRunsFirstPost(t *testing.T) {
	s, mock, q := enqueueTestServer(t)
	const expID = "22222222-2222-2222-2222-222222222222"

	expectEnqueuePass(t, mock, expID, 1, "r1", "r2", "r3")
	rec := postRuns(s, expID)
	require.Equal(t, 200, rec.Code, rec.Body.String())

	var resp schemas.EnqueueRunsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 3, resp.Created)
	assert.Equal(t, 3, resp.Enqueued)
	assert.Len(t, q.queued, 3)
	require.NoError(t, mock.ExpectationsWereMet())
}
