package service

import (
	"context"
	"fmt"

	"github.com/haowenli/ai-call-agent/internal/application/port"
)

// ReportService exports a task's extracted prices as a downloadable file.
type ReportService interface {
	// ExportPriceReport renders the extraction result of the task's latest
	// session and returns the file path.
	ExportPriceReport(ctx context.Context, userID, taskID string) (string, error)
}

type reportServiceImpl struct {
	taskRepo    port.CallTaskRepository
	sessionRepo port.CallSessionRepository
	priceRepo   port.PriceRepository
	exporter    port.ReportExporter
	logger      Logger
}

// NewReportService creates a new ReportService
func NewReportService(
	taskRepo port.CallTaskRepository,
	sessionRepo port.CallSessionRepository,
	priceRepo port.PriceRepository,
	exporter port.ReportExporter,
	logger Logger,
) ReportService {
	return &reportServiceImpl{
		taskRepo:    taskRepo,
		sessionRepo: sessionRepo,
		priceRepo:   priceRepo,
		exporter:    exporter,
		logger:      logger,
	}
}

func (s *reportServiceImpl) ExportPriceReport(ctx context.Context, userID, taskID string) (string, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return "", fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if task.UserID != userID {
		return "", fmt.Errorf("%w: task %s", ErrForbidden, taskID)
	}

	session, err := s.sessionRepo.GetLatestByTaskID(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("get latest session: %w", err)
	}
	if session == nil {
		return "", fmt.Errorf("%w: task %s has no call sessions", ErrPreconditionFailed, taskID)
	}

	prices, fees, err := s.priceRepo.GetBySessionID(ctx, session.ID)
	if err != nil {
		return "", fmt.Errorf("get extracted prices: %w", err)
	}
	if len(prices) == 0 && len(fees) == 0 {
		return "", fmt.Errorf("%w: no prices extracted for task %s", ErrPreconditionFailed, taskID)
	}

	path, err := s.exporter.ExportPriceReport(ctx, task, prices, fees)
	if err != nil {
		s.logger.Error("Failed to export price report",
			"error", err,
			"task_id", taskID)
		return "", fmt.Errorf("export price report: %w", err)
	}

	s.logger.Info("Price report exported",
		"task_id", taskID,
		"session_id", session.ID,
		"path", path)

	return path, nil
}
