package server

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/taskbridge/taskbridge/internal/common"
	"github.com/taskbridge/taskbridge/internal/export"
	"github.com/taskbridge/taskbridge/internal/reconcile"
	"github.com/taskbridge/taskbridge/internal/repository"
)

type taskHandler struct {
	svc      *reconcile.Service
	tasks    repository.TaskStore
	exporter *export.Service
	log      *slog.Logger
}

type taskResponse struct {
	ID        string         `json:"task_id"`
	TenantID  string         `json:"tenant_id,omitempty"`
	TaskType  string         `json:"task_type"`
	Algorithm string         `json:"algorithm"`
	ModelID   string         `json:"model_id,omitempty"`
	State     string         `json:"state"`
	Error     string         `json:"error,omitempty"`
	RemoteJob map[string]any `json:"remote_job,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func toTaskResponse(t *repository.TaskRecord) taskResponse {
	return taskResponse{
		ID:        t.ID,
		TenantID:  t.TenantID,
		TaskType:  string(t.TaskType),
		Algorithm: string(t.Algorithm),
		ModelID:   t.ModelID,
		State:     string(t.State),
		Error:     t.Error,
		RemoteJob: t.RemoteJob,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// getTask looks up one task, reconciling remote batch jobs on the way.
func (h *taskHandler) getTask(c *fiber.Ctx) error {
	ctx := c.UserContext()
	task, err := h.svc.GetTaskSync(ctx, reconcile.Request{
		TaskID:   c.Params("id"),
		TenantID: c.Get("X-Tenant-ID"),
	})
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(toTaskResponse(task))
}

func (h *taskHandler) listTasks(c *fiber.Ctx) error {
	ctx := c.UserContext()
	limit := c.QueryInt("limit", 100)
	recs, err := h.tasks.ListTasks(ctx, c.Get("X-Tenant-ID"), limit)
	if err != nil {
		return errorJSON(c, common.Internal("failed to list tasks", err))
	}
	out := make([]taskResponse, 0, len(recs))
	for i := range recs {
		out = append(out, toTaskResponse(&recs[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"tasks": out, "count": len(out)})
}

func (h *taskHandler) exportTasks(c *fiber.Ctx) error {
	ctx := c.UserContext()
	limit := c.QueryInt("limit", 0)
	raw, err := h.exporter.ExportTasksXLSX(ctx, c.Get("X-Tenant-ID"), limit)
	if err != nil {
		return errorJSON(c, common.Internal("failed to export tasks", err))
	}
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="tasks.xlsx"`)
	return c.Status(fiber.StatusOK).Send(raw)
}

func errorJSON(c *fiber.Ctx, err error) error {
	return c.Status(common.HTTPStatus(err)).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    common.CodeOf(err),
			"message": err.Error(),
		},
	})
}
