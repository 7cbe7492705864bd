package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dyluth/warren/internal/agent"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorRestartsAreBounded(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := testOptions()
	opts.Metrics = MustNewMetrics(reg)
	s := New(opts)

	impl := &testAgent{setupErr: errors.New("always broken")}
	_, err := s.RegisterAgent(impl, agent.Config{Name: "flaky", Type: agent.TypePersistent})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	for i := 0; i < 10; i++ {
		s.CheckHealth(context.Background())
	}

	runner, _ := s.GetAgent("flaky")
	assert.Equal(t, agent.StatusError, runner.Status())
	assert.Equal(t, DefaultMaxRestarts, s.RestartCount("flaky"))
	assert.Equal(t, int32(1+DefaultMaxRestarts), impl.setups.Load())
	assert.Equal(t, int32(DefaultMaxRestarts), impl.teardowns.Load())
	assert.Equal(t, float64(DefaultMaxRestarts), testutil.ToFloat64(opts.Metrics.restartsTotal.WithLabelValues("flaky", "error")))
	assert.Equal(t, DefaultMaxRestarts, s.GetStats().Restarts["flaky"])
}

func TestErrorRestartRecovers(t *testing.T) {
	s := New(testOptions())
	impl := &testAgent{}
	_, err := s.RegisterAgent(impl, agent.Config{Name: "a", Type: agent.TypeOnDemand})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	runner, _ := s.GetAgent("a")
	runner.SetStatus(agent.StatusError)

	s.CheckHealth(context.Background())
	assert.Equal(t, agent.StatusIdle, runner.Status())
	assert.Equal(t, 1, s.RestartCount("a"))
	assert.Equal(t, int32(2), impl.setups.Load())
}

func TestNoRestartWithoutAutoRestart(t *testing.T) {
	opts := testOptions()
	opts.AutoRestart = false
	s := New(opts)

	impl := &testAgent{setupErr: errors.New("broken")}
	_, err := s.RegisterAgent(impl, agent.Config{Name: "a", Type: agent.TypePersistent})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	s.CheckHealth(context.Background())
	assert.Equal(t, 0, s.RestartCount("a"))
	assert.Equal(t, int32(1), impl.setups.Load())
}

func TestStuckAgentIsRestarted(t *testing.T) {
	opts := testOptions()
	opts.StopTimeout = 20 * time.Millisecond
	s := New(opts)

	release := make(chan struct{})
	started := make(chan struct{})
	impl := &testAgent{
		execute: func(context.Context, *agent.Task) (*agent.Result, error) {
			close(started)
			<-release
			return &agent.Result{Success: true}, nil
		},
	}
	_, err := s.RegisterAgent(impl, agent.Config{Name: "stuck", MaxRuntime: 10 * time.Second})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	go s.TriggerAgent(context.Background(), "stuck", nil)
	<-started

	runner, _ := s.GetAgent("stuck")
	require.Equal(t, agent.StatusRunning, runner.Status())

	t.Run("within limit", func(t *testing.T) {
		s.CheckHealth(context.Background())
		assert.Equal(t, int32(0), impl.teardowns.Load())
	})

	t.Run("past twice max runtime", func(t *testing.T) {
		s.now = func() time.Time { return time.Now().Add(time.Hour) }
		defer func() { s.now = time.Now }()

		s.CheckHealth(context.Background())
		assert.Equal(t, int32(1), impl.teardowns.Load())
		assert.Equal(t, int32(2), impl.setups.Load())
		assert.Equal(t, agent.StatusIdle, runner.Status())
		assert.Equal(t, 0, s.RestartCount("stuck"), "stuck restarts do not use the error budget")
	})

	close(release)
}
