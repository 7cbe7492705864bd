package agent

import (
	"log"
	"time"

	"github.com/google/uuid"
)

// AddTask enqueues task without blocking. Missing IDs, creation times and
// priorities are filled in.
func (r *Runner) AddTask(task *Task) {
	if task == nil {
		return
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = r.now()
	}
	if task.Priority == "" {
		task.Priority = r.cfg.Priority
	}

	r.mu.Lock()
	r.queue = append(r.queue, task)
	r.mu.Unlock()
}

// QueueLen returns the number of pending tasks, including delayed retries.
func (r *Runner) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// PendingTasks returns a copy of the queue in FIFO order.
func (r *Runner) PendingTasks() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Task, len(r.queue))
	for i, task := range r.queue {
		out[i] = *task
	}
	return out
}

// dequeue removes and returns the oldest task that is ready at now.
// Returns nil when no task is ready.
func (r *Runner) dequeue(now time.Time) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, task := range r.queue {
		if task.NotBefore.After(now) {
			continue
		}
		r.queue = append(r.queue[:i:i], r.queue[i+1:]...)
		return task
	}
	return nil
}

// requeueForRetry puts a failed task back with an incremented retry count
// while the agent's retry budget allows it.
func (r *Runner) requeueForRetry(task *Task, now time.Time) bool {
	if task == nil || task.RetryCount >= r.cfg.MaxRetries {
		return false
	}

	retry := *task
	retry.RetryCount++
	retry.NotBefore = now.Add(r.cfg.RetryDelay)

	r.mu.Lock()
	r.queue = append(r.queue, &retry)
	r.mu.Unlock()

	log.Printf("[Agent:%s] [INFO] Task %s re-queued for retry %d/%d (not before %s)",
		r.cfg.Name, task.ID, retry.RetryCount, r.cfg.MaxRetries, retry.NotBefore.Format(time.RFC3339))
	return true
}
