package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haowenli/ai-call-agent/internal/application/dispatcher"
	"github.com/haowenli/ai-call-agent/internal/application/port"
	"github.com/haowenli/ai-call-agent/internal/domain/entity"
	"github.com/haowenli/ai-call-agent/internal/domain/event"
	"github.com/haowenli/ai-call-agent/internal/domain/workflow"
	"github.com/haowenli/ai-call-agent/internal/pricing"
)

// providerStatusMap translates telephony provider callback statuses into
// internal session statuses. Unknown provider values are logged and ignored
// rather than rejected, since providers add statuses over time.
var providerStatusMap = map[string]workflow.SessionStatus{
	"queued":      workflow.SessionInitiated,
	"ringing":     workflow.SessionRinging,
	"in-progress": workflow.SessionConnected,
	"completed":   workflow.SessionCompleted,
	"busy":        workflow.SessionFailed,
	"no-answer":   workflow.SessionFailed,
	"failed":      workflow.SessionFailed,
	"canceled":    workflow.SessionCancelled,
}

// RetryPolicy governs automatic redial after a failed call.
type RetryPolicy struct {
	AutoRetryFailedCalls bool
	MaxRetryAttempts     int
}

// WebhookService reconciles asynchronous provider status callbacks into
// session and task state. Deliveries are unordered and may repeat, so every
// path here is idempotent.
type WebhookService interface {
	OnProviderStatus(ctx context.Context, providerCallID, providerStatus string) error

	// AppendTranscript stores speech lines delivered alongside a status
	// callback. Lines for unknown calls are dropped.
	AppendTranscript(ctx context.Context, providerCallID string, entries []entity.TranscriptEntry) error
}

type webhookServiceImpl struct {
	taskRepo       port.CallTaskRepository
	sessionRepo    port.CallSessionRepository
	transcriptRepo port.TranscriptRepository
	priceRepo      port.PriceRepository

	policy RetryPolicy
	status *statusWriter
	events dispatcher.Dispatcher
	logger Logger
}

// NewWebhookService creates a new WebhookService
func NewWebhookService(
	taskRepo port.CallTaskRepository,
	sessionRepo port.CallSessionRepository,
	transcriptRepo port.TranscriptRepository,
	priceRepo port.PriceRepository,
	policy RetryPolicy,
	events dispatcher.Dispatcher,
	logger Logger,
) WebhookService {
	return &webhookServiceImpl{
		taskRepo:       taskRepo,
		sessionRepo:    sessionRepo,
		transcriptRepo: transcriptRepo,
		priceRepo:      priceRepo,
		policy:         policy,
		status:         newStatusWriter(taskRepo, events, logger),
		events:         events,
		logger:         logger,
	}
}

func (s *webhookServiceImpl) OnProviderStatus(ctx context.Context, providerCallID, providerStatus string) error {
	mapped, known := providerStatusMap[providerStatus]
	if !known {
		s.logger.Info("Ignoring unknown provider status",
			"provider_call_id", providerCallID,
			"provider_status", providerStatus)
		return nil
	}

	session, err := s.sessionRepo.GetByProviderCallID(ctx, providerCallID)
	if err != nil {
		return fmt.Errorf("get session by provider call id: %w", err)
	}
	if session == nil {
		session, err = s.repairOrphanedSession(ctx, providerCallID)
		if err != nil {
			return err
		}
		if session == nil {
			s.logger.Info("Ignoring status for unknown call",
				"provider_call_id", providerCallID,
				"provider_status", providerStatus)
			return nil
		}
	}

	if session.Status == mapped {
		// Duplicate delivery.
		return nil
	}
	if session.Status.IsTerminal() || session.Status.MovesBackward(mapped) {
		s.logger.Info("Ignoring out-of-order provider status",
			"session_id", session.ID,
			"current", session.Status,
			"reported", mapped)
		return nil
	}

	var endedAt *time.Time
	if mapped.IsTerminal() {
		now := time.Now()
		endedAt = &now
	}
	if err := s.sessionRepo.UpdateStatus(ctx, session.ID, mapped, endedAt); err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	previous := session.Status
	session.Status = mapped
	session.EndedAt = endedAt

	if s.events != nil {
		s.events.DispatchAsync(ctx, event.New(event.TypeSessionStatusChanged, session.CallTaskID, session.ID, map[string]interface{}{
			"from": previous.String(),
			"to":   mapped.String(),
		}))
	}

	switch mapped {
	case workflow.SessionCompleted:
		return s.onCompleted(ctx, session)
	case workflow.SessionFailed:
		return s.onFailed(ctx, session)
	case workflow.SessionCancelled:
		return s.onCancelled(ctx, session)
	}
	return nil
}

func (s *webhookServiceImpl) AppendTranscript(ctx context.Context, providerCallID string, entries []entity.TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}

	session, err := s.sessionRepo.GetByProviderCallID(ctx, providerCallID)
	if err != nil {
		return fmt.Errorf("get session by provider call id: %w", err)
	}
	if session == nil {
		s.logger.Info("Dropping transcript for unknown call",
			"provider_call_id", providerCallID,
			"entry_count", len(entries))
		return nil
	}

	if err := s.transcriptRepo.AppendEntries(ctx, session.ID, entries); err != nil {
		return fmt.Errorf("append transcript entries: %w", err)
	}
	return nil
}

// repairOrphanedSession handles callbacks for calls whose session record was
// never created. When exactly one in-flight task is flagged for
// reconciliation the call is adopted by it; anything more ambiguous stays
// logged for an operator.
func (s *webhookServiceImpl) repairOrphanedSession(ctx context.Context, providerCallID string) (*entity.CallSession, error) {
	tasks, err := s.taskRepo.ListNeedingReconciliation(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks needing reconciliation: %w", err)
	}

	var candidates []*entity.CallTask
	for _, task := range tasks {
		if task.Status == workflow.StateInProgress {
			candidates = append(candidates, task)
		}
	}
	if len(candidates) != 1 {
		return nil, nil
	}

	task := candidates[0]
	now := time.Now()
	session := &entity.CallSession{
		ID:             uuid.NewString(),
		CallTaskID:     task.ID,
		UserID:         task.UserID,
		ProviderCallID: providerCallID,
		Status:         workflow.SessionInitiated,
		StartedAt:      now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create repaired session: %w", err)
	}
	if err := s.transcriptRepo.Create(ctx, &entity.CallTranscript{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		s.logger.Error("Failed to create transcript for repaired session",
			"error", err,
			"session_id", session.ID)
	}
	if err := s.taskRepo.SetNeedsReconciliation(ctx, task.ID, false); err != nil {
		s.logger.Error("Failed to clear reconciliation flag",
			"error", err,
			"task_id", task.ID)
	}

	s.logger.Info("Repaired orphaned call session",
		"task_id", task.ID,
		"session_id", session.ID,
		"provider_call_id", providerCallID)

	return session, nil
}

func (s *webhookServiceImpl) onCompleted(ctx context.Context, session *entity.CallSession) error {
	task, err := s.loadTask(ctx, session.CallTaskID)
	if err != nil {
		return err
	}

	if task.Status == workflow.StateInProgress {
		if err := s.status.transition(ctx, task, workflow.StateCompleted); err != nil {
			return err
		}
	}

	// The call happened regardless of what the task did in the meantime;
	// extract prices even if the user cancelled mid-call.
	if err := s.extractPrices(ctx, session); err != nil {
		s.logger.Error("Failed to extract prices from transcript",
			"error", err,
			"session_id", session.ID)
		// The session is terminal now, so a redelivered webhook will be a
		// duplicate no-op. Flag the task so an operator can re-run the
		// extraction instead of losing the result.
		if flagErr := s.taskRepo.SetNeedsReconciliation(ctx, task.ID, true); flagErr != nil {
			s.logger.Error("Failed to flag task for reconciliation",
				"error", flagErr,
				"task_id", task.ID)
		}
	}

	if s.events != nil {
		s.events.DispatchAsync(ctx, event.New(event.TypeCallCompleted, task.ID, session.ID, map[string]interface{}{
			"user_id": task.UserID,
		}))
	}
	return nil
}

func (s *webhookServiceImpl) onFailed(ctx context.Context, session *entity.CallSession) error {
	task, err := s.loadTask(ctx, session.CallTaskID)
	if err != nil {
		return err
	}
	if task.Status != workflow.StateInProgress {
		// Already cancelled or otherwise moved on; nothing to reconcile.
		return nil
	}

	if s.policy.AutoRetryFailedCalls && task.RetryCount < s.policy.MaxRetryAttempts {
		if err := s.taskRepo.IncrementRetryCount(ctx, task.ID); err != nil {
			return fmt.Errorf("increment retry count: %w", err)
		}
		task.RetryCount++

		// in_progress -> ready_to_call exists only for this reconciler;
		// the public transition table rejects it, so bypass the guard.
		applied, err := s.status.override(ctx, task, workflow.StateReadyToCall)
		if err != nil {
			return err
		}
		if !applied {
			s.logger.Info("Dropping call retry, task moved on concurrently",
				"task_id", task.ID)
			return nil
		}

		s.logger.Info("Scheduling call retry",
			"task_id", task.ID,
			"retry_count", task.RetryCount,
			"max_retries", s.policy.MaxRetryAttempts)

		if s.events != nil {
			s.events.DispatchAsync(ctx, event.New(event.TypeCallRetryScheduled, task.ID, session.ID, map[string]interface{}{
				"user_id":     task.UserID,
				"retry_count": task.RetryCount,
			}))
		}
		return nil
	}

	if err := s.status.transition(ctx, task, workflow.StateFailed); err != nil {
		return err
	}
	if s.events != nil {
		s.events.DispatchAsync(ctx, event.New(event.TypeCallFailed, task.ID, session.ID, map[string]interface{}{
			"user_id":     task.UserID,
			"retry_count": task.RetryCount,
		}))
	}
	return nil
}

// onCancelled moves the task to cancelled unconditionally; there is no
// retry for a call the provider reports as canceled.
func (s *webhookServiceImpl) onCancelled(ctx context.Context, session *entity.CallSession) error {
	task, err := s.loadTask(ctx, session.CallTaskID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return nil
	}
	return s.status.transition(ctx, task, workflow.StateCancelled)
}

func (s *webhookServiceImpl) extractPrices(ctx context.Context, session *entity.CallSession) error {
	transcript, err := s.transcriptRepo.GetBySessionID(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("get transcript: %w", err)
	}
	if transcript == nil || len(transcript.Entries) == 0 {
		return nil
	}

	prices := pricing.Extract(transcript.Entries)
	fees := pricing.ExtractFees(transcript.Entries)

	if len(prices) == 0 && len(fees) == 0 {
		return nil
	}

	if err := s.priceRepo.SaveForSession(ctx, session.ID, prices, fees); err != nil {
		return fmt.Errorf("save extracted prices: %w", err)
	}

	s.logger.Info("Prices extracted from transcript",
		"session_id", session.ID,
		"price_count", len(prices),
		"fee_count", len(fees))
	return nil
}

func (s *webhookServiceImpl) loadTask(ctx context.Context, taskID string) (*entity.CallTask, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	return task, nil
}
