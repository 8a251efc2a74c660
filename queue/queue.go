// Package queue provides the durable task queue that drives all background
// work. The Postgres implementation locks rows with FOR UPDATE SKIP LOCKED
// so parallel workers never pick the same task; the memory implementation
// backs inline development mode behind the same interface.
package queue

import (
	"context"
	"errors"
	"time"
)

// Task statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusDeadLetter = "dead_letter"
)

// Task types dispatched by the worker loop.
const (
	TypeGraphRun        = "graph_run"
	TypeMissionContinue = "mission_continue"
)

const DefaultMaxRetries = 3

// ErrTaskNotFound is returned when a task id does not exist.
var ErrTaskNotFound = errors.New("task not found")

// Task is one queued unit of work.
type Task struct {
	TaskID      string     `json:"task_id"`
	TaskType    string     `json:"task_type"`
	Payload     []byte     `json:"payload"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	Error       string     `json:"error,omitempty"`
	Result      []byte     `json:"result,omitempty"`
	Domain      string     `json:"domain,omitempty"`
	Source      string     `json:"source,omitempty"`
	Agent       string     `json:"agent,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
}

// EnqueueOptions attribute a task at enqueue time.
type EnqueueOptions struct {
	Domain     string
	Source     string
	Agent      string
	MaxRetries int
}

// Queue is the durable task store. Dequeue marks selected tasks in_progress
// atomically; two concurrent Dequeue calls never return the same task.
type Queue interface {
	Enqueue(ctx context.Context, taskType string, payload []byte, opts EnqueueOptions) (string, error)
	Dequeue(ctx context.Context, taskType string, limit int) ([]Task, error)
	Complete(ctx context.Context, taskID string, result []byte) error
	Fail(ctx context.Context, taskID string, errMsg string, retry bool) error
	Heartbeat(ctx context.Context, taskID string) error
	Get(ctx context.Context, taskID string) (*Task, error)
	StuckTasks(ctx context.Context, threshold time.Duration) ([]Task, error)
	DeadLetterTasks(ctx context.Context, limit int) ([]Task, error)
	RetryDeadLetter(ctx context.Context, taskID string) error
	UpdatePayload(ctx context.Context, taskID string, payload []byte) error
	SkipDeadLetter(ctx context.Context, taskID string) error
	StatusCounts(ctx context.Context) (map[string]int, error)
	RecentTasks(ctx context.Context, limit int) ([]Task, error)
}

// CheckpointStore persists conversation state between asynchronous turns.
// Durable mode shares the queue's Postgres database so a commit and its
// checkpoint update live in one store.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, threadID string, state []byte) error
	LoadCheckpoint(ctx context.Context, threadID string) ([]byte, error)
	DeleteCheckpoint(ctx context.Context, threadID string) error
}

// ErrCheckpointNotFound is returned for unknown thread ids.
var ErrCheckpointNotFound = errors.New("checkpoint not found")
