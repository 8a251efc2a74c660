package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is the inline-mode implementation of Queue and
// CheckpointStore. Single-process only; the mutex gives the same
// no-double-dequeue guarantee SKIP LOCKED gives across processes.
type MemoryQueue struct {
	mu          sync.Mutex
	tasks       map[string]*Task
	checkpoints map[string][]byte
	now         func() time.Time
}

// NewMemory builds an empty in-memory queue.
func NewMemory() *MemoryQueue {
	return &MemoryQueue{
		tasks:       make(map[string]*Task),
		checkpoints: make(map[string][]byte),
		now:         time.Now,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, taskType string, payload []byte, opts EnqueueOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	now := q.now()
	t := &Task{
		TaskID:     uuid.NewString(),
		TaskType:   taskType,
		Payload:    payload,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: maxRetries,
		Domain:     opts.Domain,
		Source:     opts.Source,
		Agent:      opts.Agent,
	}
	q.tasks[t.TaskID] = t
	return t.TaskID, nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, taskType string, limit int) ([]Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 {
		limit = 1
	}

	var pending []*Task
	for _, t := range q.tasks {
		if t.Status == StatusPending && (taskType == "" || t.TaskType == taskType) {
			pending = append(pending, t)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}

	now := q.now()
	out := make([]Task, 0, len(pending))
	for _, t := range pending {
		t.Status = StatusInProgress
		if t.StartedAt == nil {
			started := now
			t.StartedAt = &started
		}
		hb := now
		t.HeartbeatAt = &hb
		t.UpdatedAt = now
		out = append(out, *t)
	}
	return out, nil
}

func (q *MemoryQueue) Complete(ctx context.Context, taskID string, result []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	now := q.now()
	t.Status = StatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.Result = result
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, taskID string, errMsg string, retry bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	now := q.now()
	t.Error = errMsg
	t.UpdatedAt = now
	t.HeartbeatAt = nil

	if retry && t.RetryCount < t.MaxRetries {
		t.RetryCount++
		t.Status = StatusPending
		t.StartedAt = nil
	} else {
		t.Status = StatusDeadLetter
		t.CompletedAt = &now
	}
	return nil
}

func (q *MemoryQueue) Heartbeat(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status == StatusInProgress {
		now := q.now()
		t.HeartbeatAt = &now
		t.UpdatedAt = now
	}
	return nil
}

func (q *MemoryQueue) Get(ctx context.Context, taskID string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	copied := *t
	return &copied, nil
}

func (q *MemoryQueue) StuckTasks(ctx context.Context, threshold time.Duration) ([]Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-threshold)
	var stuck []Task
	for _, t := range q.tasks {
		if t.Status != StatusInProgress {
			continue
		}
		if t.HeartbeatAt == nil || t.HeartbeatAt.Before(cutoff) {
			stuck = append(stuck, *t)
		}
	}
	sort.Slice(stuck, func(i, j int) bool { return stuck[i].CreatedAt.Before(stuck[j].CreatedAt) })
	return stuck, nil
}

func (q *MemoryQueue) DeadLetterTasks(ctx context.Context, limit int) ([]Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	var dead []Task
	for _, t := range q.tasks {
		if t.Status == StatusDeadLetter {
			dead = append(dead, *t)
		}
	}
	sort.Slice(dead, func(i, j int) bool { return dead[i].UpdatedAt.After(dead[j].UpdatedAt) })
	if len(dead) > limit {
		dead = dead[:limit]
	}
	return dead, nil
}

func (q *MemoryQueue) RetryDeadLetter(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok || t.Status != StatusDeadLetter {
		return ErrTaskNotFound
	}
	t.Status = StatusPending
	t.RetryCount = 0
	t.Error = ""
	t.StartedAt = nil
	t.CompletedAt = nil
	t.HeartbeatAt = nil
	t.UpdatedAt = q.now()
	return nil
}

func (q *MemoryQueue) UpdatePayload(ctx context.Context, taskID string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok || t.Status != StatusDeadLetter {
		return ErrTaskNotFound
	}
	t.Payload = payload
	t.UpdatedAt = q.now()
	return nil
}

func (q *MemoryQueue) SkipDeadLetter(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok || t.Status != StatusDeadLetter {
		return ErrTaskNotFound
	}
	now := q.now()
	t.Status = StatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.Result = []byte(`{"skipped": true}`)
	return nil
}

func (q *MemoryQueue) StatusCounts(ctx context.Context) (map[string]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[string]int)
	for _, t := range q.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

func (q *MemoryQueue) RecentTasks(ctx context.Context, limit int) ([]Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	var all []Task
	for _, t := range q.tasks {
		all = append(all, *t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// BackdateHeartbeat rewrites a task's heartbeat timestamp. Test hook for
// stuck-task scenarios.
func (q *MemoryQueue) BackdateHeartbeat(taskID string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	t.HeartbeatAt = &at
	return nil
}

func (q *MemoryQueue) SaveCheckpoint(ctx context.Context, threadID string, state []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	copied := make([]byte, len(state))
	copy(copied, state)
	q.checkpoints[threadID] = copied
	return nil
}

func (q *MemoryQueue) LoadCheckpoint(ctx context.Context, threadID string) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	state, ok := q.checkpoints[threadID]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	return state, nil
}

func (q *MemoryQueue) DeleteCheckpoint(ctx context.Context, threadID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.checkpoints, threadID)
	return nil
}
