package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"taskorch/internal/queue"
	"taskorch/internal/registry"
	"taskorch/internal/task"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data: HealthResponse{
			Status:    "ok",
			Version:   s.version,
			Timestamp: time.Now(),
			Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		},
	})
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{
			Success: false,
			Error:   fmt.Sprintf("invalid request: %v", err),
		})
		return
	}

	kind, err := task.ParseKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: err.Error()})
		return
	}
	priority, err := task.ParsePriority(req.Priority)
	if err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: err.Error()})
		return
	}

	taskID, err := s.svc.SubmitTask(c.Request.Context(), task.Submission{
		Kind:           kind,
		Priority:       priority,
		RequestedModel: req.RequestedModel,
		Input:          req.Input,
		Context:        req.Context,
		SubmitterID:    req.SubmitterID,
	})
	if err != nil {
		c.JSON(submitErrorStatus(err), APIResponse{Success: false, Error: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, APIResponse{
		Success: true,
		Data:    SubmitResponse{TaskID: taskID},
	})
}

func submitErrorStatus(err error) int {
	switch {
	case errors.Is(err, task.ErrInvalidKind),
		errors.Is(err, task.ErrInvalidPriority),
		errors.Is(err, task.ErrMissingInput):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, queue.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleTaskStatus(c *gin.Context) {
	taskID := c.Param("id")
	st, ok := s.svc.TaskStatus(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, APIResponse{
			Success: false,
			Error:   fmt.Sprintf("task %s not found", taskID),
		})
		return
	}
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    newTaskStatusResponse(st),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    s.svc.Snapshot(),
	})
}

func (s *Server) handleListModels(c *gin.Context) {
	models := s.svc.Models()
	out := make([]registry.Descriptor, 0, len(models))
	for _, m := range models {
		out = append(out, m.Redacted())
	}
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    ModelsResponse{Models: out},
	})
}

func (s *Server) handleRegisterModel(c *gin.Context) {
	var d registry.Descriptor
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{
			Success: false,
			Error:   fmt.Sprintf("invalid request: %v", err),
		})
		return
	}
	d.Name = c.Param("name")

	if err := s.svc.RegisterModel(d); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrInvalidDescriptor) {
			status = http.StatusBadRequest
		}
		c.JSON(status, APIResponse{Success: false, Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Message: fmt.Sprintf("model %s registered", d.Name),
		Data:    d.Redacted(),
	})
}
