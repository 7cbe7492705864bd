package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/warren/internal/agent"
	"github.com/dyluth/warren/internal/supervisor"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoAgent struct{}

func (echoAgent) Execute(_ context.Context, task *agent.Task) (*agent.Result, error) {
	if task != nil {
		return &agent.Result{Success: true, Output: task.Type}, nil
	}
	return &agent.Result{Success: true, Output: "idle"}, nil
}

func (echoAgent) Capabilities() map[string]any {
	return map[string]any{"echo": true}
}

func setupServer(t *testing.T, opts ...Option) (*httptest.Server, *supervisor.Supervisor) {
	t.Helper()

	reg := prometheus.NewRegistry()
	supOpts := supervisor.DefaultOptions()
	supOpts.Metrics = supervisor.MustNewMetrics(reg)
	sup := supervisor.New(supOpts)

	_, err := sup.RegisterAgent(echoAgent{}, agent.Config{Name: "echo"})
	require.NoError(t, err)

	opts = append([]Option{WithGatherer(reg)}, opts...)
	ts := httptest.NewServer(New(":0", sup, opts...).Handler())
	t.Cleanup(ts.Close)
	return ts, sup
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthCheck(t *testing.T) {
	ts, sup := setupServer(t)

	t.Run("stopped supervisor is unhealthy", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var body HealthResponse
		decode(t, resp, &body)
		assert.Equal(t, "unhealthy", body.Status)
		assert.Equal(t, "stopped", body.Supervisor)
	})

	require.NoError(t, sup.Start(context.Background()))
	t.Cleanup(func() { sup.Stop(context.Background()) })

	t.Run("running supervisor is healthy", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body HealthResponse
		decode(t, resp, &body)
		assert.Equal(t, "healthy", body.Status)
		assert.Empty(t, body.Redis)
	})

	t.Run("errored agent is reported", func(t *testing.T) {
		runner, _ := sup.GetAgent("echo")
		runner.SetStatus(agent.StatusError)
		defer runner.SetStatus(agent.StatusIdle)

		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var body HealthResponse
		decode(t, resp, &body)
		assert.Equal(t, []string{"echo"}, body.ErrorAgents)
	})

	t.Run("method not allowed", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/healthz", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestHealthCheckWithRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	mirror, err := blackboard.NewMirror(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { mirror.Close() })

	ts, sup := setupServer(t, WithPinger(mirror))
	require.NoError(t, sup.Start(context.Background()))
	t.Cleanup(func() { sup.Stop(context.Background()) })

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	var body HealthResponse
	decode(t, resp, &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "connected", body.Redis)

	mr.Close()

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	decode(t, resp, &body)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "disconnected", body.Redis)
	assert.NotEmpty(t, body.Error)
}

func TestStatsAndAgents(t *testing.T) {
	ts, _ := setupServer(t)

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	var stats supervisor.Stats
	decode(t, resp, &stats)
	assert.Equal(t, 1, stats.TotalAgents)

	resp, err = http.Get(ts.URL + "/agents")
	require.NoError(t, err)
	var list []agent.Stats
	decode(t, resp, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "echo", list[0].Name)

	resp, err = http.Get(ts.URL + "/agents/echo")
	require.NoError(t, err)
	var detail map[string]any
	decode(t, resp, &detail)
	assert.Equal(t, map[string]any{"echo": true}, detail["capabilities"])

	resp, err = http.Get(ts.URL + "/agents/ghost")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTrigger(t *testing.T) {
	ts, sup := setupServer(t)

	resp, err := http.Post(ts.URL+"/agents/echo/trigger", "application/json", strings.NewReader(`{"type":"scan"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var result agent.Result
	decode(t, resp, &result)
	assert.True(t, result.Success)
	assert.Equal(t, "scan", result.Output)

	resp, err = http.Post(ts.URL+"/agents/echo/trigger", "application/json", nil)
	require.NoError(t, err)
	decode(t, resp, &result)
	assert.Equal(t, "idle", result.Output)

	resp, err = http.Post(ts.URL+"/agents/echo/trigger", "application/json", strings.NewReader(`{`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/agents/ghost/trigger", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	runner, _ := sup.GetAgent("echo")
	assert.Equal(t, 2, runner.Stats().TotalRuns)
}

type patientAgent struct{}

func (patientAgent) Execute(ctx context.Context, _ *agent.Task) (*agent.Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(50 * time.Millisecond):
		return &agent.Result{Success: true, Output: "done"}, nil
	}
}

func (patientAgent) Capabilities() map[string]any {
	return nil
}

func TestTriggerSurvivesClientDisconnect(t *testing.T) {
	sup := supervisor.New(supervisor.DefaultOptions())
	runner, err := sup.RegisterAgent(patientAgent{}, agent.Config{Name: "patient"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/agents/patient/trigger", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	New(":0", sup).Handler().ServeHTTP(rec, req)

	history := runner.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].Success, history[0].Error)
	assert.Equal(t, 0, runner.ErrorCount())
}

func TestPauseResume(t *testing.T) {
	ts, sup := setupServer(t)

	resp, err := http.Post(ts.URL+"/agents/echo/pause", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	runner, _ := sup.GetAgent("echo")
	assert.Equal(t, agent.StatusPaused, runner.Status())

	resp, err = http.Post(ts.URL+"/agents/echo/resume", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/agents/echo/resume", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/agents/ghost/pause", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBlackboardQueries(t *testing.T) {
	ts, sup := setupServer(t)
	board := sup.Blackboard()
	board.Write("researcher:finding:1", "a", "researcher", blackboard.WithTags("scheduled"))
	board.Write("auditor:finding:1", "b", "auditor", blackboard.WithTags("persistent"))

	get := func(query string) []blackboard.Entry {
		resp, err := http.Get(ts.URL + "/blackboard" + query)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var entries []blackboard.Entry
		decode(t, resp, &entries)
		return entries
	}

	assert.Len(t, get(""), 2)
	assert.Len(t, get("?limit=1"), 1)
	assert.Len(t, get("?since=1h"), 2)
	assert.Len(t, get("?prefix=researcher:"), 1)
	assert.Len(t, get("?tag=persistent"), 1)
	assert.Len(t, get("?agent=auditor"), 1)
	assert.Empty(t, get("?prefix=nobody:"))

	resp, err := http.Get(ts.URL + "/blackboard?since=whenever")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/blackboard?limit=-2")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBlackboardEntry(t *testing.T) {
	ts, sup := setupServer(t)
	sup.Blackboard().Write("researcher:finding:1", "a", "researcher")

	resp, err := http.Get(ts.URL + "/blackboard/researcher:finding:1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entry blackboard.Entry
	decode(t, resp, &entry)
	assert.Equal(t, "a", entry.Value)
	assert.Equal(t, "researcher", entry.SourceAgent)

	resp, err = http.Get(ts.URL + "/blackboard/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, sup := setupServer(t)
	sup.TriggerAgent(context.Background(), "echo", nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `warren_supervisor_agent_runs_total{agent="echo",outcome="success"} 1`)
}

func TestRun(t *testing.T) {
	sup := supervisor.New(supervisor.DefaultOptions())
	srv := New("127.0.0.1:0", sup)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, err == nil || errors.Is(err, context.Canceled), "unexpected error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
