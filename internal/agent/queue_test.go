package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddTask(t *testing.T) {
	r := newTestRunner(t, plainAgent{}, Config{Priority: PriorityHigh})

	task := &Task{Type: "scan"}
	r.AddTask(task)
	r.AddTask(nil)

	require.Equal(t, 1, r.QueueLen())
	pending := r.PendingTasks()
	assert.NotEmpty(t, pending[0].ID)
	assert.Equal(t, PriorityHigh, pending[0].Priority)
	assert.False(t, pending[0].CreatedAt.IsZero())
}

func TestRunDequeuesOneTaskFIFO(t *testing.T) {
	impl := &stubAgent{}
	r := newTestRunner(t, impl, Config{})

	r.AddTask(&Task{ID: "first"})
	r.AddTask(&Task{ID: "second"})

	r.Run(context.Background())
	assert.Equal(t, 1, r.QueueLen())

	r.Run(context.Background())
	assert.Equal(t, 0, r.QueueLen())

	tasks := impl.seenTasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "first", tasks[0].ID)
	assert.Equal(t, "second", tasks[1].ID)
}

func TestTaskDeadlineExceeded(t *testing.T) {
	impl := &stubAgent{}
	r := newTestRunner(t, impl, Config{MaxRetries: 0})

	past := time.Now().Add(-time.Minute)
	r.AddTask(&Task{ID: "late", Deadline: &past})

	result := r.Run(context.Background())
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "deadline exceeded")
	assert.Empty(t, impl.seenTasks())
	assert.Equal(t, 0, r.QueueLen())
}

func TestFailedTaskRetry(t *testing.T) {
	impl := &stubAgent{
		execute: func(context.Context, *Task) (*Result, error) {
			return nil, errors.New("flaky")
		},
	}
	r := newTestRunner(t, impl, Config{MaxRetries: 2, RetryDelay: time.Minute})

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.AddTask(&Task{ID: "t1"})
	r.Run(context.Background())

	pending := r.PendingTasks()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, now.Add(time.Minute), pending[0].NotBefore)

	// not ready yet: the run executes with no task
	r.Run(context.Background())
	assert.Equal(t, 1, r.QueueLen())
	assert.Nil(t, impl.seenTasks()[1])

	now = now.Add(time.Minute)
	r.Run(context.Background())
	pending = r.PendingTasks()
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].RetryCount)

	now = now.Add(time.Minute)
	r.Run(context.Background())
	assert.Equal(t, 0, r.QueueLen(), "retry budget exhausted")
}
