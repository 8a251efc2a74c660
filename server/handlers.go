package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/graphmind-ai/graphmind/common"
	"github.com/graphmind-ai/graphmind/kg"
	"github.com/graphmind-ai/graphmind/queue"
	"github.com/graphmind-ai/graphmind/supervisor"
	"github.com/graphmind-ai/graphmind/transport"
)

// handleWebhook accepts a Telegram update and either enqueues a graph_run
// task (durable mode) or runs the supervisor inline.
func (s *Server) handleWebhook(c echo.Context) error {
	var update transport.Update
	if err := c.Bind(&update); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad update payload"})
	}
	if update.Message == nil || update.Message.Text == "" {
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	state := supervisor.AgentState{
		ChatID:    strconv.FormatInt(update.Message.Chat.ID, 10),
		UserInput: update.Message.Text,
	}

	if s.opts.UseDurableQueue {
		payload, err := json.Marshal(state)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to encode task"})
		}
		taskID, err := s.opts.Queue.Enqueue(c.Request().Context(), queue.TypeGraphRun, payload, queue.EnqueueOptions{Source: "telegram"})
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": common.SanitizeUserError(err)})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "queued", "task_id": taskID})
	}

	result, err := s.opts.Supervisor.Run(c.Request().Context(), &state)
	if err != nil {
		if s.opts.Messenger != nil {
			_ = s.opts.Messenger.SendError(c.Request().Context(), state.ChatID, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "error", "error": common.SanitizeUserError(err)})
	}
	if result.FinalResponse != "" && s.opts.Messenger != nil {
		if result.ApprovalRequired {
			_ = s.opts.Messenger.SendApprovalPrompt(c.Request().Context(), result.ChatID, result.FinalResponse)
		} else {
			_ = s.opts.Messenger.SendMessage(c.Request().Context(), result.ChatID, result.FinalResponse)
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":            "processed",
		"approval_required": result.ApprovalRequired,
	})
}

func (s *Server) handleTelemetryState(c echo.Context) error {
	return c.JSON(http.StatusOK, s.opts.Telemetry.Snapshot(c.Request().Context()))
}

func (s *Server) handleTelemetrySummary(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"summary": s.opts.Telemetry.Summarize(c.Request().Context()),
	})
}

func (s *Server) handleTelemetryTasks(c echo.Context) error {
	tasks, err := s.opts.Queue.RecentTasks(c.Request().Context(), limitParam(c, 20))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": common.SanitizeUserError(err)})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"tasks": tasks})
}

func (s *Server) handleVersions(c echo.Context) error {
	entries, err := s.opts.Versioner.Changelog().Recent(c.Request().Context(), limitParam(c, 20))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": common.SanitizeUserError(err)})
	}
	current, err := s.opts.Versioner.Changelog().CurrentVersion(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": common.SanitizeUserError(err)})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"current_version": current,
		"versions":        entries,
	})
}

func (s *Server) handleVersion(c echo.Context) error {
	version, err := strconv.ParseInt(c.Param("v"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid version"})
	}
	entry, err := s.opts.Versioner.Changelog().Get(c.Request().Context(), version)
	if errors.Is(err, kg.ErrVersionNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "version not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": common.SanitizeUserError(err)})
	}
	return c.JSON(http.StatusOK, entry)
}

func (s *Server) handleRollback(c echo.Context) error {
	version, err := strconv.ParseInt(c.Param("v"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid version"})
	}
	entry, err := s.opts.Versioner.RollbackTo(c.Request().Context(), version)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": common.Truncate(err.Error(), common.MaxLogMessageLen)})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "rolled_back",
		"new_version": entry.Version,
		"summary":     entry.Summary,
	})
}

func (s *Server) handleDeadLetter(c echo.Context) error {
	tasks, err := s.opts.Queue.DeadLetterTasks(c.Request().Context(), limitParam(c, 20))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": common.SanitizeUserError(err)})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"tasks": tasks})
}

type triageRequest struct {
	Action         string          `json:"action"`
	UpdatedPayload json.RawMessage `json:"updated_payload,omitempty"`
}

func (s *Server) handleTriage(c echo.Context) error {
	taskID := c.Param("task_id")
	var req triageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad triage payload"})
	}

	ctx := c.Request().Context()
	var err error
	switch req.Action {
	case "retry":
		err = s.opts.Queue.RetryDeadLetter(ctx, taskID)
	case "update_payload":
		if len(req.UpdatedPayload) == 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "updated_payload required"})
		}
		if err = s.opts.Queue.UpdatePayload(ctx, taskID, req.UpdatedPayload); err == nil {
			err = s.opts.Queue.RetryDeadLetter(ctx, taskID)
		}
	case "skip":
		err = s.opts.Queue.SkipDeadLetter(ctx, taskID)
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "action must be retry, update_payload, or skip"})
	}

	if errors.Is(err, queue.ErrTaskNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "dead-letter task not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": common.SanitizeUserError(err)})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": req.Action, "task_id": taskID})
}

func (s *Server) handleStuck(c echo.Context) error {
	minutes, err := strconv.Atoi(c.QueryParam("threshold_minutes"))
	if err != nil || minutes <= 0 {
		minutes = 10
	}
	tasks, err := s.opts.Queue.StuckTasks(c.Request().Context(), time.Duration(minutes)*time.Minute)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": common.SanitizeUserError(err)})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"threshold_minutes": minutes, "tasks": tasks})
}

func (s *Server) handleRecursion(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"recursion_limit": s.opts.Supervisor.RecursionLimit(),
	})
}

func limitParam(c echo.Context, fallback int) int {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
