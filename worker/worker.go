// Package worker polls the durable queue, dispatches tasks to the
// supervisor, and delivers responses over the chat transport. A companion
// monitor loop reclaims tasks whose workers went quiet.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/graphmind-ai/graphmind/common"
	"github.com/graphmind-ai/graphmind/queue"
	"github.com/graphmind-ai/graphmind/supervisor"
	"github.com/graphmind-ai/graphmind/transport"
)

// Loop timing defaults.
const (
	DefaultPollInterval      = 2 * time.Second
	DefaultMonitorInterval   = time.Minute
	DefaultStuckThreshold    = 10 * time.Minute
	DefaultHeartbeatInterval = 30 * time.Second

	dequeueBatch = 1
)

// GraphRunner is what the worker needs from the supervisor.
type GraphRunner interface {
	Run(ctx context.Context, state *supervisor.AgentState) (*supervisor.AgentState, error)
	AutonomousCycle(ctx context.Context, domain string) (string, error)
}

// MissionPayload is the mission_continue task body.
type MissionPayload struct {
	ChatID string `json:"chat_id"`
	Domain string `json:"domain,omitempty"`
}

// Options configure a worker.
type Options struct {
	Queue             queue.Queue
	Runner            GraphRunner
	Messenger         transport.Messenger
	PollInterval      time.Duration
	MonitorInterval   time.Duration
	StuckThreshold    time.Duration
	HeartbeatInterval time.Duration

	// DisableMonitor skips the stuck-task sweep. Set on all but one worker
	// in a pool so reclaimed tasks are not failed twice.
	DisableMonitor bool
}

// Worker is one polling consumer of the task queue.
type Worker struct {
	q                 queue.Queue
	runner            GraphRunner
	messenger         transport.Messenger
	pollInterval      time.Duration
	monitorInterval   time.Duration
	stuckThreshold    time.Duration
	heartbeatInterval time.Duration
	disableMonitor    bool
	log               *logrus.Entry
}

// New builds a worker, filling unset intervals with defaults.
func New(opts Options) *Worker {
	w := &Worker{
		q:                 opts.Queue,
		runner:            opts.Runner,
		messenger:         opts.Messenger,
		pollInterval:      opts.PollInterval,
		monitorInterval:   opts.MonitorInterval,
		stuckThreshold:    opts.StuckThreshold,
		heartbeatInterval: opts.HeartbeatInterval,
		disableMonitor:    opts.DisableMonitor,
		log:               common.ServiceLogger("worker"),
	}
	if w.pollInterval <= 0 {
		w.pollInterval = DefaultPollInterval
	}
	if w.monitorInterval <= 0 {
		w.monitorInterval = DefaultMonitorInterval
	}
	if w.stuckThreshold <= 0 {
		w.stuckThreshold = DefaultStuckThreshold
	}
	if w.heartbeatInterval <= 0 {
		w.heartbeatInterval = DefaultHeartbeatInterval
	}
	return w
}

// Run polls until the context is cancelled. The stuck-task monitor runs
// alongside the poll loop.
func (w *Worker) Run(ctx context.Context) {
	w.log.WithField("poll_interval", w.pollInterval).Info("worker started")
	if !w.disableMonitor {
		go w.monitor(ctx)
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		w.PollOnce(ctx)
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// PollOnce dequeues and processes one batch. Exposed for inline mode and
// tests.
func (w *Worker) PollOnce(ctx context.Context) {
	tasks, err := w.q.Dequeue(ctx, "", dequeueBatch)
	if err != nil {
		w.log.WithError(err).Error("dequeue failed")
		return
	}
	for _, task := range tasks {
		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task queue.Task) {
	log := common.TaskLogger(task.TaskID, task.TaskType)
	log.Info("processing task")

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go w.heartbeat(hbCtx, task.TaskID)
	defer stopHeartbeat()

	var err error
	switch task.TaskType {
	case queue.TypeGraphRun:
		err = w.runGraphTask(ctx, task)
	case queue.TypeMissionContinue:
		err = w.runMissionTask(ctx, task)
	default:
		err = fmt.Errorf("unknown task type %q", task.TaskType)
	}

	if err != nil {
		log.WithError(err).Error("task failed")
		w.notifyFailure(ctx, task, err)
		if failErr := w.q.Fail(ctx, task.TaskID, common.Truncate(err.Error(), common.MaxLogMessageLen), true); failErr != nil {
			log.WithError(failErr).Error("failed to mark task failed")
		}
	}
}

// runGraphTask drives one supervisor turn and delivers the outcome.
func (w *Worker) runGraphTask(ctx context.Context, task queue.Task) error {
	var state supervisor.AgentState
	if err := json.Unmarshal(task.Payload, &state); err != nil {
		return fmt.Errorf("bad graph_run payload: %w", err)
	}

	result, err := w.runner.Run(ctx, &state)
	if err != nil {
		return err
	}

	if result.FinalResponse != "" && w.messenger != nil {
		var sendErr error
		if result.ApprovalRequired {
			sendErr = w.messenger.SendApprovalPrompt(ctx, result.ChatID, result.FinalResponse)
		} else {
			sendErr = w.messenger.SendMessage(ctx, result.ChatID, result.FinalResponse)
		}
		if sendErr != nil {
			w.log.WithError(sendErr).Warn("response delivery failed")
		}
	}

	// While the user deliberates over a key decision, keep expanding in the
	// background.
	if result.ApprovalRequired {
		payload, _ := json.Marshal(MissionPayload{ChatID: result.ChatID})
		if _, err := w.q.Enqueue(ctx, queue.TypeMissionContinue, payload, queue.EnqueueOptions{Agent: "worker"}); err != nil {
			w.log.WithError(err).Warn("failed to enqueue mission_continue")
		}
	}

	summary, _ := json.Marshal(map[string]interface{}{
		"intent":            result.Intent,
		"approval_required": result.ApprovalRequired,
		"final_response":    common.Truncate(result.FinalResponse, common.MaxLogMessageLen),
	})
	return w.q.Complete(ctx, task.TaskID, summary)
}

// runMissionTask runs one autonomous expansion cycle and notifies the user
// when it found something.
func (w *Worker) runMissionTask(ctx context.Context, task queue.Task) error {
	var payload MissionPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("bad mission_continue payload: %w", err)
	}

	report, err := w.runner.AutonomousCycle(ctx, payload.Domain)
	if err != nil {
		return err
	}
	if report != "" && w.messenger != nil && payload.ChatID != "" {
		if sendErr := w.messenger.SendMessage(ctx, payload.ChatID, report); sendErr != nil {
			w.log.WithError(sendErr).Warn("expansion report delivery failed")
		}
	}

	result, _ := json.Marshal(map[string]string{"report": common.Truncate(report, common.MaxLogMessageLen)})
	return w.q.Complete(ctx, task.TaskID, result)
}

func (w *Worker) notifyFailure(ctx context.Context, task queue.Task, err error) {
	if w.messenger == nil {
		return
	}
	chatID := chatIDOf(task)
	if chatID == "" {
		return
	}
	if sendErr := w.messenger.SendError(ctx, chatID, err); sendErr != nil {
		w.log.WithError(sendErr).Warn("failure notification delivery failed")
	}
}

func chatIDOf(task queue.Task) string {
	var probe struct {
		ChatID string `json:"chat_id"`
	}
	if err := json.Unmarshal(task.Payload, &probe); err != nil {
		return ""
	}
	return probe.ChatID
}

func (w *Worker) heartbeat(ctx context.Context, taskID string) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.q.Heartbeat(ctx, taskID); err != nil {
				w.log.WithError(err).WithField("task_id", taskID).Debug("heartbeat failed")
			}
		}
	}
}

// monitor periodically reclaims stuck tasks. Fail with retry=true returns a
// task to pending while retries remain and dead-letters it otherwise.
func (w *Worker) monitor(ctx context.Context) {
	ticker := time.NewTicker(w.monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.MonitorOnce(ctx)
		}
	}
}

// MonitorOnce runs one stuck-task sweep. Exposed for tests and admin use.
func (w *Worker) MonitorOnce(ctx context.Context) {
	stuck, err := w.q.StuckTasks(ctx, w.stuckThreshold)
	if err != nil {
		w.log.WithError(err).Error("stuck task query failed")
		return
	}
	for _, task := range stuck {
		w.log.WithFields(logrus.Fields{
			"task_id":     task.TaskID,
			"retry_count": task.RetryCount,
		}).Warn("reclaiming stuck task")
		if err := w.q.Fail(ctx, task.TaskID, "stuck: heartbeat expired", true); err != nil {
			w.log.WithError(err).WithField("task_id", task.TaskID).Error("stuck task reclaim failed")
		}
	}
}
