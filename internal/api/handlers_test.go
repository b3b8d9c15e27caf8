package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/pipeline"
)

type mockJobs struct {
	mock.Mock
}

func (m *mockJobs) Start(ctx context.Context, req pipeline.StartRequest) (model.Snapshot, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.Snapshot), args.Error(1)
}

func (m *mockJobs) Status(id string) (model.Snapshot, error) {
	args := m.Called(id)
	return args.Get(0).(model.Snapshot), args.Error(1)
}

func (m *mockJobs) ListActive() []model.Snapshot {
	return m.Called().Get(0).([]model.Snapshot)
}

func (m *mockJobs) Stop(id string) (model.Snapshot, error) {
	args := m.Called(id)
	return args.Get(0).(model.Snapshot), args.Error(1)
}

func (m *mockJobs) ForceStop(id string) (model.Snapshot, error) {
	args := m.Called(id)
	return args.Get(0).(model.Snapshot), args.Error(1)
}

func (m *mockJobs) Subscribe(id string) (<-chan model.Snapshot, func(), error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(<-chan model.Snapshot), args.Get(1).(func()), args.Error(2)
}

func (m *mockJobs) History(ctx context.Context, limit int) ([]model.Snapshot, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Snapshot), args.Error(1)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func okPing(context.Context) error { return nil }

func newTestServer(t *testing.T, jobs Jobs, ping pingFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(jobs, ping, nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &mockJobs{}, okPing)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])

	down := newTestServer(t, &mockJobs{}, func(context.Context) error { return errors.New("db down") })
	resp, err = http.Get(down.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStart(t *testing.T) {
	jobs := &mockJobs{}
	want := pipeline.StartRequest{
		UploadID: 3,
		Steps:    []string{"classify", "verify"},
		Filters:  model.Filters{Emails: []string{"a@b.com"}, SkipProcessed: true},
	}
	jobs.On("Start", mock.Anything, want).Return(model.Snapshot{
		ID: "job-1", Steps: []model.Step{model.StepClassify, model.StepVerify},
		TotalItems: 7, Status: model.JobStatusQueued,
	}, nil)
	srv := newTestServer(t, jobs, okPing)

	body := `{"upload_id":3,"steps":["classify","verify"],"filters":{"emails":["a@b.com"],"skip_processed":true}}`
	resp, err := http.Post(srv.URL+"/api/pipeline/start", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	got := decode[map[string]any](t, resp)
	assert.Equal(t, "job-1", got["job_id"])
	assert.Equal(t, float64(7), got["total_items"])
	assert.Equal(t, "queued", got["status"])
	assert.Equal(t, []any{"classify", "verify"}, got["steps"])
	jobs.AssertExpectations(t)
}

func TestStart_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"invalid", eris.Wrap(pipeline.ErrInvalidRequest, "no steps requested"), http.StatusBadRequest},
		{"empty", eris.Wrap(pipeline.ErrEmptyScope, "upload 1"), http.StatusUnprocessableEntity},
		{"store", errors.New("db gone"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := &mockJobs{}
			jobs.On("Start", mock.Anything, mock.Anything).Return(model.Snapshot{}, tt.err)
			srv := newTestServer(t, jobs, okPing)

			resp, err := http.Post(srv.URL+"/api/pipeline/start", "application/json", strings.NewReader(`{"upload_id":1}`))
			require.NoError(t, err)
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.NotEmpty(t, decode[map[string]string](t, resp)["error"])
		})
	}

	srv := newTestServer(t, &mockJobs{}, okPing)
	resp, err := http.Post(srv.URL+"/api/pipeline/start", "application/json", strings.NewReader(`{not json`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStart_SchemaRejectsMalformedBody(t *testing.T) {
	bodies := map[string]string{
		"unknown field":    `{"upload_id":1,"step":["classify"]}`,
		"string upload id": `{"upload_id":"1","steps":["classify"]}`,
		"steps not array":  `{"upload_id":1,"steps":"classify"}`,
		"bad filter type":  `{"upload_id":1,"steps":["classify"],"filters":{"ids":["x"]}}`,
		"unknown filter":   `{"upload_id":1,"steps":["classify"],"filters":{"domain":"x"}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			// No Start expectation: the mock fails the test if the registry is reached.
			srv := newTestServer(t, &mockJobs{}, okPing)
			resp, err := http.Post(srv.URL+"/api/pipeline/start", "application/json", strings.NewReader(body))
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, decode[map[string]string](t, resp)["error"], "invalid request body")
		})
	}
}

func TestJobEndpoints(t *testing.T) {
	snap := model.Snapshot{ID: "job-1", Status: model.JobStatusRunning, Seq: 4}
	notFound := eris.Wrapf(pipeline.ErrNotFound, "job %s", "missing")

	jobs := &mockJobs{}
	jobs.On("ListActive").Return([]model.Snapshot{snap})
	jobs.On("Status", "job-1").Return(snap, nil)
	jobs.On("Status", "missing").Return(model.Snapshot{}, notFound)
	jobs.On("Stop", "job-1").Return(model.Snapshot{ID: "job-1", StopRequested: true, Seq: 5}, nil)
	jobs.On("Stop", "missing").Return(model.Snapshot{}, notFound)
	jobs.On("ForceStop", "job-1").Return(model.Snapshot{ID: "job-1", StopRequested: true, Seq: 5}, nil)
	srv := newTestServer(t, jobs, okPing)

	resp, err := http.Get(srv.URL + "/api/pipeline/jobs")
	require.NoError(t, err)
	list := decode[[]model.Snapshot](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "job-1", list[0].ID)

	resp, err = http.Get(srv.URL + "/api/pipeline/jobs/job-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), decode[model.Snapshot](t, resp).Seq)

	resp, err = http.Get(srv.URL + "/api/pipeline/jobs/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/pipeline/jobs/job-1/stop", "application/json", nil)
	require.NoError(t, err)
	assert.True(t, decode[model.Snapshot](t, resp).StopRequested)

	resp, err = http.Post(srv.URL+"/api/pipeline/jobs/missing/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/pipeline/jobs/job-1/force-stop", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	jobs.AssertExpectations(t)
}

func TestHistory(t *testing.T) {
	jobs := &mockJobs{}
	jobs.On("History", mock.Anything, 50).Return([]model.Snapshot{{ID: "a"}, {ID: "b"}}, nil)
	jobs.On("History", mock.Anything, 5).Return([]model.Snapshot{{ID: "a"}}, nil)
	srv := newTestServer(t, jobs, okPing)

	resp, err := http.Get(srv.URL + "/api/pipeline/history")
	require.NoError(t, err)
	assert.Len(t, decode[[]model.Snapshot](t, resp), 2)

	resp, err = http.Get(srv.URL + "/api/pipeline/history?limit=5")
	require.NoError(t, err)
	assert.Len(t, decode[[]model.Snapshot](t, resp), 1)

	resp, err = http.Get(srv.URL + "/api/pipeline/history?limit=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEvents(t *testing.T) {
	ch := make(chan model.Snapshot, 4)
	ch <- model.Snapshot{ID: "job-1", Seq: 2, Event: model.EventStarted}
	ch <- model.Snapshot{ID: "job-1", Seq: 1, Event: model.EventQueued} // stale, skipped
	ch <- model.Snapshot{ID: "job-1", Seq: 3, Event: model.EventCompleted, Status: model.JobStatusCompleted}
	close(ch)

	var unsubscribed atomic.Bool
	jobs := &mockJobs{}
	jobs.On("Subscribe", "job-1").Return((<-chan model.Snapshot)(ch), func() { unsubscribed.Store(true) }, nil)
	jobs.On("Subscribe", "missing").Return(nil, nil, eris.Wrap(pipeline.ErrNotFound, "job missing"))
	srv := newTestServer(t, jobs, okPing)

	resp, err := http.Get(srv.URL + "/api/pipeline/jobs/job-1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var ids, events []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "id: "):
			ids = append(ids, strings.TrimPrefix(line, "id: "))
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
	}
	assert.Equal(t, []string{"2", "3"}, ids)
	assert.Equal(t, []string{"started", "completed"}, events)
	assert.Eventually(t, unsubscribed.Load, time.Second, 5*time.Millisecond)

	resp2, err := http.Get(srv.URL + "/api/pipeline/jobs/missing/events")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, &mockJobs{}, okPing)
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/pipeline/start", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
