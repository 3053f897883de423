package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haowenli/ai-call-agent/internal/application/dispatcher"
	"github.com/haowenli/ai-call-agent/internal/application/port"
	"github.com/haowenli/ai-call-agent/internal/domain/entity"
	"github.com/haowenli/ai-call-agent/internal/domain/workflow"
	"github.com/haowenli/ai-call-agent/pkg/retry"
)

// StartCallResult is what a successful dial returns to the caller.
type StartCallResult struct {
	Task           *entity.CallTask
	Session        *entity.CallSession
	ProviderCallID string
	Script         string
}

// CallService places the actual outbound call for a dialable task.
type CallService interface {
	// StartCall validates readiness, generates a script, dials through the
	// telephony provider and records the resulting session. Everything
	// before the dial is side-effect free; once the provider accepts the
	// call the operation is not idempotent and must not be blindly retried.
	StartCall(ctx context.Context, userID, taskID string) (*StartCallResult, error)
}

type callServiceImpl struct {
	taskRepo       port.CallTaskRepository
	sessionRepo    port.CallSessionRepository
	transcriptRepo port.TranscriptRepository
	contactRepo    port.ContactRepository

	planner          port.CallPlanner
	telephony        port.TelephonyProvider
	plannerBreaker   *retry.Breaker
	telephonyBreaker *retry.Breaker
	retryCfg         retry.Config

	status *statusWriter
	logger Logger
}

// NewCallService creates a new CallService
func NewCallService(
	taskRepo port.CallTaskRepository,
	sessionRepo port.CallSessionRepository,
	transcriptRepo port.TranscriptRepository,
	contactRepo port.ContactRepository,
	planner port.CallPlanner,
	telephony port.TelephonyProvider,
	plannerBreaker *retry.Breaker,
	telephonyBreaker *retry.Breaker,
	retryCfg retry.Config,
	events dispatcher.Dispatcher,
	logger Logger,
) CallService {
	return &callServiceImpl{
		taskRepo:         taskRepo,
		sessionRepo:      sessionRepo,
		transcriptRepo:   transcriptRepo,
		contactRepo:      contactRepo,
		planner:          planner,
		telephony:        telephony,
		plannerBreaker:   plannerBreaker,
		telephonyBreaker: telephonyBreaker,
		retryCfg:         retryCfg,
		status:           newStatusWriter(taskRepo, events, logger),
		logger:           logger,
	}
}

func (s *callServiceImpl) StartCall(ctx context.Context, userID, taskID string) (*StartCallResult, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		s.logger.Error("Failed to get task",
			"error", err,
			"task_id", taskID)
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if task.UserID != userID {
		return nil, fmt.Errorf("%w: task %s", ErrForbidden, taskID)
	}

	if task.Status != workflow.StateReadyToCall {
		return nil, fmt.Errorf("%w: task is %s, want %s",
			ErrPreconditionFailed, task.Status, workflow.StateReadyToCall)
	}

	phone, label, err := s.resolveDestination(ctx, task)
	if err != nil {
		return nil, err
	}
	if phone == "" {
		return nil, fmt.Errorf("%w: task %s", ErrMissingPhoneNumber, task.ID)
	}

	script, err := s.generateScript(ctx, task)
	if err != nil {
		s.logger.Error("Failed to generate call script",
			"error", err,
			"task_id", task.ID)
		return nil, fmt.Errorf("%w: generate call script", ErrExternalService)
	}

	if !s.telephony.IsConfigured() {
		// No state has been touched; the task stays ready_to_call so the
		// call can be retried once credentials exist.
		return nil, ErrTelephonyNotConfigured
	}

	placement, err := s.placeCall(ctx, task, phone, label, script)
	if err != nil {
		s.logger.Error("Failed to place call",
			"error", err,
			"task_id", task.ID,
			"to", phone)
		return nil, fmt.Errorf("%w: place call", ErrExternalService)
	}

	s.logger.Info("Call placed",
		"task_id", task.ID,
		"provider_call_id", placement.ProviderCallID)

	// The call is already live from here on; record failures must not roll
	// it back.
	session := s.recordSession(ctx, task, placement.ProviderCallID)

	if err := s.status.transition(ctx, task, workflow.StateInProgress); err != nil {
		// The ready_to_call precondition was checked above, so this only
		// happens on a concurrent transition (e.g. user cancellation racing
		// the dial). The reconciler picks the pieces up from the provider's
		// own status reports.
		s.logger.Error("Failed to mark task in progress",
			"error", err,
			"task_id", task.ID)
		return nil, err
	}

	return &StartCallResult{
		Task:           task,
		Session:        session,
		ProviderCallID: placement.ProviderCallID,
		Script:         script,
	}, nil
}

// resolveDestination prefers the linked contact's number and name over the
// task's own fields.
func (s *callServiceImpl) resolveDestination(ctx context.Context, task *entity.CallTask) (phone, label string, err error) {
	label = task.BusinessName

	if task.ContactID != "" {
		contact, err := s.contactRepo.GetByID(ctx, task.ContactID)
		if err != nil {
			return "", "", fmt.Errorf("get contact: %w", err)
		}
		if contact != nil && contact.PhoneNumber != "" {
			if label == "" {
				label = contact.Name
			}
			return contact.PhoneNumber, label, nil
		}
	}

	return task.TargetPhoneNumber, label, nil
}

func (s *callServiceImpl) generateScript(ctx context.Context, task *entity.CallTask) (string, error) {
	if task.Plan == nil {
		// Planner output can be absent for manually created tasks; a
		// minimal plan around the literal instruction is enough for script
		// generation.
		task.Plan = &entity.AIPlan{Goal: task.RawInstruction}
	}

	var script string
	err := s.plannerBreaker.Do(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
			var genErr error
			script, genErr = s.planner.GenerateCallScript(ctx, task)
			return genErr
		})
	})
	return script, err
}

func (s *callServiceImpl) placeCall(ctx context.Context, task *entity.CallTask, phone, label, script string) (*port.CallPlacement, error) {
	req := port.CallRequest{
		To:          phone,
		Label:       label,
		UserRequest: task.RawInstruction,
		Script:      script,
		TaskID:      task.ID,
		Context: port.CallContext{
			MaxPrice: task.MaxPrice,
			Tone:     task.Tone,
		},
	}
	if task.Plan != nil {
		req.Context.HardConstraints = task.Plan.HardConstraints
		req.Context.SoftPreferences = task.Plan.SoftPreferences
	}

	var placement *port.CallPlacement
	err := s.telephonyBreaker.Do(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
			var callErr error
			placement, callErr = s.telephony.MakeCall(ctx, req)
			return callErr
		})
	})
	return placement, err
}

// recordSession creates the session and its empty transcript. Failure here
// is logged and flagged for reconciliation instead of propagated: the call
// is real and already happening.
func (s *callServiceImpl) recordSession(ctx context.Context, task *entity.CallTask, providerCallID string) *entity.CallSession {
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
		s.logger.Error("Failed to create call session, flagging task for reconciliation",
			"error", err,
			"task_id", task.ID,
			"provider_call_id", providerCallID)
		s.flagForReconciliation(ctx, task)
		return nil
	}

	transcript := &entity.CallTranscript{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.transcriptRepo.Create(ctx, transcript); err != nil {
		s.logger.Error("Failed to create call transcript, flagging task for reconciliation",
			"error", err,
			"task_id", task.ID,
			"session_id", session.ID)
		s.flagForReconciliation(ctx, task)
	}

	return session
}

func (s *callServiceImpl) flagForReconciliation(ctx context.Context, task *entity.CallTask) {
	if err := s.taskRepo.SetNeedsReconciliation(ctx, task.ID, true); err != nil {
		s.logger.Error("Failed to flag task for reconciliation",
			"error", err,
			"task_id", task.ID)
		return
	}
	task.NeedsReconciliation = true
}
