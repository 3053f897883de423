package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/haowenli/ai-call-agent/internal/application/dispatcher"
	"github.com/haowenli/ai-call-agent/internal/application/port"
	"github.com/haowenli/ai-call-agent/internal/domain/entity"
	"github.com/haowenli/ai-call-agent/internal/domain/event"
)

// NotificationService tells the user how their call went.
type NotificationService interface {
	// NotifyCallCompleted summarizes a finished call, including extracted
	// prices when any were found
	NotifyCallCompleted(ctx context.Context, taskID, sessionID string) error

	// NotifyCallFailed reports a terminally failed call
	NotifyCallFailed(ctx context.Context, taskID string) error

	// RegisterHandlers subscribes the service to call outcome events
	RegisterHandlers(d dispatcher.Dispatcher)
}

type notificationServiceImpl struct {
	taskRepo  port.CallTaskRepository
	priceRepo port.PriceRepository
	notifier  port.Notifier
	logger    Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	taskRepo port.CallTaskRepository,
	priceRepo port.PriceRepository,
	notifier port.Notifier,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		taskRepo:  taskRepo,
		priceRepo: priceRepo,
		notifier:  notifier,
		logger:    logger,
	}
}

// RegisterHandlers subscribes the service to call outcome events
func (s *notificationServiceImpl) RegisterHandlers(d dispatcher.Dispatcher) {
	d.Subscribe(event.TypeCallCompleted, "notification.call_completed", func(ctx context.Context, evt *event.Event) error {
		return s.NotifyCallCompleted(ctx, evt.TaskID, evt.SessionID)
	})
	d.Subscribe(event.TypeCallFailed, "notification.call_failed", func(ctx context.Context, evt *event.Event) error {
		return s.NotifyCallFailed(ctx, evt.TaskID)
	})
}

// NotifyCallCompleted summarizes a finished call for the task owner.
func (s *notificationServiceImpl) NotifyCallCompleted(ctx context.Context, taskID, sessionID string) error {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		s.logger.Error("Failed to get task for notification", "error", err, "task_id", taskID)
		return fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}

	var prices []entity.ExtractedPrice
	if sessionID != "" {
		prices, _, err = s.priceRepo.GetBySessionID(ctx, sessionID)
		if err != nil {
			s.logger.Error("Failed to load prices for notification", "error", err, "session_id", sessionID)
			prices = nil
		}
	}

	outcome := &port.CallOutcome{
		TaskID:       task.ID,
		BusinessName: task.BusinessName,
		Succeeded:    true,
		Summary:      buildOutcomeSummary(task, prices),
		Prices:       prices,
	}

	if err := s.notifier.NotifyCallOutcome(ctx, task.UserID, outcome); err != nil {
		s.logger.Error("Failed to send completion notification",
			"error", err,
			"task_id", task.ID,
			"user_id", task.UserID)
		return fmt.Errorf("send notification: %w", err)
	}

	s.logger.Info("Completion notification sent",
		"task_id", task.ID,
		"user_id", task.UserID,
		"price_count", len(prices))
	return nil
}

// NotifyCallFailed reports a terminally failed call.
func (s *notificationServiceImpl) NotifyCallFailed(ctx context.Context, taskID string) error {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		s.logger.Error("Failed to get task for notification", "error", err, "task_id", taskID)
		return fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}

	outcome := &port.CallOutcome{
		TaskID:       task.ID,
		BusinessName: task.BusinessName,
		Succeeded:    false,
		Summary: fmt.Sprintf("The call for \"%s\" could not be completed after %d attempt(s).",
			task.RawInstruction, task.RetryCount+1),
	}

	if err := s.notifier.NotifyCallOutcome(ctx, task.UserID, outcome); err != nil {
		s.logger.Error("Failed to send failure notification",
			"error", err,
			"task_id", task.ID,
			"user_id", task.UserID)
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// buildOutcomeSummary renders a short human-readable recap with the top
// quoted prices.
func buildOutcomeSummary(task *entity.CallTask, prices []entity.ExtractedPrice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your call for \"%s\" is done.", task.RawInstruction)

	if len(prices) == 0 {
		b.WriteString(" No prices were quoted during the call.")
		return b.String()
	}

	b.WriteString(" Prices quoted:")
	limit := len(prices)
	if limit > 3 {
		limit = 3
	}
	for _, p := range prices[:limit] {
		fmt.Fprintf(&b, "\n- %s: %.2f %s (%s)", p.Item, p.Price, p.Currency, p.PriceType)
		if len(p.Conditions) > 0 {
			fmt.Fprintf(&b, ", %s", strings.Join(p.Conditions, "; "))
		}
	}
	return b.String()
}
