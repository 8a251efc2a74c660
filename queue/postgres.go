package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const taskSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id      TEXT PRIMARY KEY,
	task_type    TEXT NOT NULL,
	payload      JSONB,
	status       TEXT NOT NULL DEFAULT 'pending',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	retry_count  INTEGER NOT NULL DEFAULT 0,
	max_retries  INTEGER NOT NULL DEFAULT 3,
	error        TEXT,
	result       JSONB,
	domain       TEXT,
	source       TEXT,
	agent        TEXT,
	heartbeat_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_tasks_status_created ON tasks (status, created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_type ON tasks (task_type);

CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id  TEXT PRIMARY KEY,
	state      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

const taskColumns = `task_id, task_type, payload, status, created_at, updated_at,
	started_at, completed_at, retry_count, max_retries,
	COALESCE(error, ''), result, COALESCE(domain, ''), COALESCE(source, ''),
	COALESCE(agent, ''), heartbeat_at`

// PostgresQueue implements Queue and CheckpointStore on one pgx pool.
type PostgresQueue struct {
	pool *pgxpool.Pool
}

// NewPostgres connects and creates the task and checkpoint tables.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresQueue, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, taskSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create queue schema: %w", err)
	}
	return &PostgresQueue{pool: pool}, nil
}

// Close releases the pool.
func (q *PostgresQueue) Close() { q.pool.Close() }

// Enqueue inserts a pending task and returns its id.
func (q *PostgresQueue) Enqueue(ctx context.Context, taskType string, payload []byte, opts EnqueueOptions) (string, error) {
	taskID := uuid.NewString()
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	query := `
		INSERT INTO tasks (task_id, task_type, payload, status, max_retries, domain, source, agent)
		VALUES ($1, $2, $3, 'pending', $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))`
	_, err := q.pool.Exec(ctx, query, taskID, taskType, payload, maxRetries, opts.Domain, opts.Source, opts.Agent)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	return taskID, nil
}

// Dequeue selects pending tasks oldest-first, locking the rows and skipping
// rows locked by other workers, then marks them in_progress.
func (q *PostgresQueue) Dequeue(ctx context.Context, taskType string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 1
	}

	query := fmt.Sprintf(`
		UPDATE tasks SET
			status       = 'in_progress',
			started_at   = COALESCE(started_at, NOW()),
			heartbeat_at = NOW(),
			updated_at   = NOW()
		WHERE task_id IN (
			SELECT task_id FROM tasks
			WHERE status = 'pending' AND ($1 = '' OR task_type = $1)
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, taskColumns)

	rows, err := q.pool.Query(ctx, query, taskType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// Complete marks a task done with its result.
func (q *PostgresQueue) Complete(ctx context.Context, taskID string, result []byte) error {
	query := `
		UPDATE tasks SET status = 'completed', completed_at = NOW(), updated_at = NOW(), result = $2
		WHERE task_id = $1`
	return q.execOne(ctx, query, taskID, result)
}

// Fail records a failure: back to pending while retries remain, dead_letter
// otherwise.
func (q *PostgresQueue) Fail(ctx context.Context, taskID string, errMsg string, retry bool) error {
	query := `
		UPDATE tasks SET
			error       = $2,
			updated_at  = NOW(),
			retry_count = CASE WHEN $3 AND retry_count < max_retries THEN retry_count + 1 ELSE retry_count END,
			status      = CASE WHEN $3 AND retry_count < max_retries THEN 'pending' ELSE 'dead_letter' END,
			started_at  = CASE WHEN $3 AND retry_count < max_retries THEN NULL ELSE started_at END,
			heartbeat_at = NULL,
			completed_at = CASE WHEN $3 AND retry_count < max_retries THEN NULL ELSE NOW() END
		WHERE task_id = $1`
	return q.execOne(ctx, query, taskID, errMsg, retry)
}

// Heartbeat refreshes a running task's liveness stamp.
func (q *PostgresQueue) Heartbeat(ctx context.Context, taskID string) error {
	query := `UPDATE tasks SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE task_id = $1 AND status = 'in_progress'`
	_, err := q.pool.Exec(ctx, query, taskID)
	if err != nil {
		return fmt.Errorf("failed to heartbeat task: %w", err)
	}
	return nil
}

// Get loads one task.
func (q *PostgresQueue) Get(ctx context.Context, taskID string) (*Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE task_id = $1`, taskColumns)
	rows, err := q.pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	defer rows.Close()
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, ErrTaskNotFound
	}
	return &tasks[0], nil
}

// StuckTasks lists in_progress tasks whose heartbeat is stale or missing.
func (q *PostgresQueue) StuckTasks(ctx context.Context, threshold time.Duration) ([]Task, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE status = 'in_progress'
		  AND (heartbeat_at IS NULL OR heartbeat_at < NOW() - $1::interval)
		ORDER BY created_at`, taskColumns)

	rows, err := q.pool.Query(ctx, query, fmt.Sprintf("%d seconds", int(threshold.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// DeadLetterTasks lists dead-lettered tasks, newest first.
func (q *PostgresQueue) DeadLetterTasks(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE status = 'dead_letter'
		ORDER BY updated_at DESC LIMIT $1`, taskColumns)
	rows, err := q.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-letter tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// RetryDeadLetter sends a dead-lettered task back to pending with a fresh
// retry budget.
func (q *PostgresQueue) RetryDeadLetter(ctx context.Context, taskID string) error {
	query := `
		UPDATE tasks SET status = 'pending', retry_count = 0, error = NULL,
			started_at = NULL, completed_at = NULL, heartbeat_at = NULL, updated_at = NOW()
		WHERE task_id = $1 AND status = 'dead_letter'`
	return q.execOne(ctx, query, taskID)
}

// UpdatePayload replaces a dead-lettered task's payload before retry.
func (q *PostgresQueue) UpdatePayload(ctx context.Context, taskID string, payload []byte) error {
	query := `UPDATE tasks SET payload = $2, updated_at = NOW()
		WHERE task_id = $1 AND status = 'dead_letter'`
	return q.execOne(ctx, query, taskID, payload)
}

// SkipDeadLetter closes a dead-lettered task as completed without running it.
func (q *PostgresQueue) SkipDeadLetter(ctx context.Context, taskID string) error {
	query := `UPDATE tasks SET status = 'completed', completed_at = NOW(),
		updated_at = NOW(), result = '{"skipped": true}'::jsonb
		WHERE task_id = $1 AND status = 'dead_letter'`
	return q.execOne(ctx, query, taskID)
}

// StatusCounts tallies tasks per status.
func (q *PostgresQueue) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := q.pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// RecentTasks lists the most recently updated tasks.
func (q *PostgresQueue) RecentTasks(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM tasks ORDER BY updated_at DESC LIMIT $1`, taskColumns)
	rows, err := q.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// SaveCheckpoint upserts a conversation's latest state.
func (q *PostgresQueue) SaveCheckpoint(ctx context.Context, threadID string, state []byte) error {
	query := `
		INSERT INTO checkpoints (thread_id, state, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (thread_id) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()`
	if _, err := q.pool.Exec(ctx, query, threadID, state); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the stored state for a thread.
func (q *PostgresQueue) LoadCheckpoint(ctx context.Context, threadID string) ([]byte, error) {
	var state []byte
	err := q.pool.QueryRow(ctx, `SELECT state FROM checkpoints WHERE thread_id = $1`, threadID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return state, nil
}

// DeleteCheckpoint removes a thread's state.
func (q *PostgresQueue) DeleteCheckpoint(ctx context.Context, threadID string) error {
	if _, err := q.pool.Exec(ctx, `DELETE FROM checkpoints WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func (q *PostgresQueue) execOne(ctx context.Context, query string, args ...interface{}) error {
	tag, err := q.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func scanTasks(rows pgx.Rows) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		var t Task
		err := rows.Scan(
			&t.TaskID, &t.TaskType, &t.Payload, &t.Status, &t.CreatedAt, &t.UpdatedAt,
			&t.StartedAt, &t.CompletedAt, &t.RetryCount, &t.MaxRetries,
			&t.Error, &t.Result, &t.Domain, &t.Source, &t.Agent, &t.HeartbeatAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
