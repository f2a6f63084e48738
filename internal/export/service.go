package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/taskbridge/taskbridge/internal/repository"
)

// Service is a tiny façade over the task store that produces XLSX bytes for
// operator exports.
type Service struct {
	tasks  repository.TaskStore
	logger *slog.Logger
}

func NewService(tasks repository.TaskStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{tasks: tasks, logger: logger}
}

// ExportTasksXLSX returns an XLSX workbook (as bytes) listing tasks, newest
// first, optionally scoped to one tenant.
func (s *Service) ExportTasksXLSX(ctx context.Context, tenantID string, limit int) ([]byte, error) {
	start := time.Now()

	recs, err := s.tasks.ListTasks(ctx, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Tasks"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		_, err := f.NewSheet(sheet)
		if err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Task ID",
		"Tenant",
		"Type",
		"Algorithm",
		"State",
		"Error",
		"Remote Job",
		"Created",
		"Updated",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, t := range recs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, t.ID)
		write(2, t.TenantID)
		write(3, string(t.TaskType))
		write(4, string(t.Algorithm))
		write(5, string(t.State))
		write(6, truncate(t.Error, 140))
		write(7, truncate(remoteJobSummary(t.RemoteJob), 200))
		if !t.CreatedAt.IsZero() {
			write(8, t.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
		}
		if !t.UpdatedAt.IsZero() {
			write(9, t.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))
		}

		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 28) // task id
	_ = f.SetColWidth(sheet, "B", "B", 16) // tenant
	_ = f.SetColWidth(sheet, "C", "E", 18) // type/algorithm/state
	_ = f.SetColWidth(sheet, "F", "F", 40) // error
	_ = f.SetColWidth(sheet, "G", "G", 60) // remote job
	_ = f.SetColWidth(sheet, "H", "I", 20) // timestamps

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"tenant_id", tenantID,
		"rows", len(recs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func remoteJobSummary(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%v", m)
	}
	return string(b)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
