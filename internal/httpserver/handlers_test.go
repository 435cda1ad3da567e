package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/domain"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/engine"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/pipeline"
)

// stubStore covers only the calls the handlers make; anything else
// panics through the embedded nil interface.
type stubStore struct {
	engine.JobStore

	jobs    map[uuid.UUID]*domain.Job
	waiting map[string]*domain.Job // eventType + "/" + eventKey
}

func newStubStore() *stubStore {
	return &stubStore{
		jobs:    make(map[uuid.UUID]*domain.Job),
		waiting: make(map[string]*domain.Job),
	}
}

func (s *stubStore) CreateWithOutbox(ctx context.Context, job *domain.Job, msg *domain.OutboxMessage) (uuid.UUID, bool, error) {
	s.jobs[job.ID] = job
	return job.ID, true, nil
}

func (s *stubStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return s.jobs[id], nil
}

func (s *stubStore) History(ctx context.Context, jobID uuid.UUID) ([]domain.ExecutionEntry, error) {
	return nil, nil
}

func (s *stubStore) ResumeWaiting(ctx context.Context, eventType, eventKey string) (*domain.Job, bool, error) {
	job, ok := s.waiting[eventType+"/"+eventKey]
	if !ok {
		return nil, false, nil
	}
	delete(s.waiting, eventType+"/"+eventKey)
	job.Status = domain.StatusRetrying
	return job, true, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, destination string, jobID uuid.UUID) error {
	return nil
}

type echoCtx struct {
	Name string `json:"name"`
}

func newTestApp(st *stubStore) *App {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := pipeline.NewRegistry()
	reg.Register(&pipeline.Typed[echoCtx]{
		Type: "echo",
		StageList: []pipeline.TypedStage[echoCtx]{{
			Name: "echo",
			Run: func(ctx context.Context, c *echoCtx) (*pipeline.SuspendSignal, error) {
				return nil, nil
			},
		}},
	})

	return &App{
		Submitter: engine.NewSubmitter(st, reg, logger),
		Resume:    engine.NewResumeTrigger(st, nopPublisher{}, logger),
		Store:     st,
		Logger:    logger,
	}
}

func doRequest(t *testing.T, app *App, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	NewRouter(app).ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := doRequest(t, newTestApp(newStubStore()), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitJobAccepted(t *testing.T) {
	st := newStubStore()
	rec := doRequest(t, newTestApp(st), http.MethodPost, "/api/v1/jobs",
		`{"workflowType":"echo","payload":{"name":"x"}}`)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id, err := uuid.Parse(resp.JobID)
	require.NoError(t, err)
	assert.Contains(t, st.jobs, id)
}

func TestSubmitJobValidation(t *testing.T) {
	app := newTestApp(newStubStore())

	assert.Equal(t, http.StatusBadRequest,
		doRequest(t, app, http.MethodPost, "/api/v1/jobs", `not json`).Code)
	assert.Equal(t, http.StatusBadRequest,
		doRequest(t, app, http.MethodPost, "/api/v1/jobs", `{"payload":{}}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		doRequest(t, app, http.MethodPost, "/api/v1/jobs", `{"workflowType":"echo"}`).Code)
}

func TestSubmitJobUnknownWorkflow(t *testing.T) {
	rec := doRequest(t, newTestApp(newStubStore()), http.MethodPost, "/api/v1/jobs",
		`{"workflowType":"nope","payload":{}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetJob(t *testing.T) {
	st := newStubStore()
	job := &domain.Job{
		ID:           uuid.New(),
		WorkflowType: "echo",
		Status:       domain.StatusCompleted,
		ScheduledAt:  time.Now().UTC(),
	}
	st.jobs[job.ID] = job

	rec := doRequest(t, newTestApp(st), http.MethodGet, "/api/v1/jobs/"+job.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, job.ID.String(), resp["id"])
	assert.Equal(t, "completed", resp["status"])
}

func TestGetJobErrors(t *testing.T) {
	app := newTestApp(newStubStore())

	assert.Equal(t, http.StatusBadRequest,
		doRequest(t, app, http.MethodGet, "/api/v1/jobs/not-a-uuid", "").Code)
	assert.Equal(t, http.StatusNotFound,
		doRequest(t, app, http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), "").Code)
}

func TestDeliverEvent(t *testing.T) {
	st := newStubStore()
	job := &domain.Job{ID: uuid.New(), WorkflowType: "echo", Status: domain.StatusWaitingForEvent}
	st.waiting["analysis-completed/task-1"] = job

	rec := doRequest(t, newTestApp(st), http.MethodPost, "/api/v1/events",
		`{"eventType":"analysis-completed","eventKey":"task-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"resumed":true}`, rec.Body.String())

	// Re-delivery finds no waiter; still a 200.
	rec = doRequest(t, newTestApp(st), http.MethodPost, "/api/v1/events",
		`{"eventType":"analysis-completed","eventKey":"task-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"resumed":false}`, rec.Body.String())
}

func TestDeliverEventValidation(t *testing.T) {
	app := newTestApp(newStubStore())
	assert.Equal(t, http.StatusBadRequest,
		doRequest(t, app, http.MethodPost, "/api/v1/events", `{"eventType":"x"}`).Code)
}

// Invalid payloads are rejected before any Redis call, so a nil client
// in the test app is fine.
func TestSetConcurrencyValidation(t *testing.T) {
	app := newTestApp(newStubStore())

	assert.Equal(t, http.StatusBadRequest,
		doRequest(t, app, http.MethodPut,
			"/api/v1/destinations/jobs.code_review/concurrency", `not json`).Code)
	assert.Equal(t, http.StatusBadRequest,
		doRequest(t, app, http.MethodPut,
			"/api/v1/destinations/jobs.code_review/concurrency", `{"limit":0}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		doRequest(t, app, http.MethodPut,
			"/api/v1/destinations/jobs.code_review/concurrency", `{"limit":-5}`).Code)
}
