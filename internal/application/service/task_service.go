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
	"github.com/haowenli/ai-call-agent/pkg/retry"
	"github.com/haowenli/ai-call-agent/pkg/utils"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// CreateTaskRequest carries everything needed to open a new call task.
type CreateTaskRequest struct {
	UserID            string
	Instruction       string
	TargetPhoneNumber string
	ContactID         string
	BusinessName      string
	Tone              string
	MaxPrice          *float64
}

// UpdateTaskRequest is a partial update; nil fields are left unchanged.
// Status, when set, requests an explicit transition validated against the
// task workflow.
type UpdateTaskRequest struct {
	TargetPhoneNumber *string
	ContactID         *string
	BusinessName      *string
	Tone              *string
	MaxPrice          *float64
	Status            *workflow.State
}

// TaskService manages the call task lifecycle up to the point of dialing.
type TaskService interface {
	// CreateTask plans the instruction and opens a task in its readiness-
	// derived initial status
	CreateTask(ctx context.Context, req CreateTaskRequest) (*entity.CallTask, error)

	// GetTask retrieves a task owned by the user
	GetTask(ctx context.Context, userID, taskID string) (*entity.CallTask, error)

	// ListTasks retrieves all tasks owned by the user, newest first
	ListTasks(ctx context.Context, userID string) ([]*entity.CallTask, error)

	// UpdateTask merges fields and applies requested or automatic
	// transitions
	UpdateTask(ctx context.Context, userID, taskID string, req UpdateTaskRequest) (*entity.CallTask, error)

	// CancelTask cancels a task. Before dialing this is immediate; while a
	// call is live the internal status still flips immediately and the
	// provider's own terminal report is reconciled later.
	CancelTask(ctx context.Context, userID, taskID string) (*entity.CallTask, error)
}

type taskServiceImpl struct {
	taskRepo       port.CallTaskRepository
	contactRepo    port.ContactRepository
	planner        port.CallPlanner
	plannerBreaker *retry.Breaker
	retryCfg       retry.Config
	defaultTone    string
	status         *statusWriter
	events         dispatcher.Dispatcher
	logger         Logger
}

// NewTaskService creates a new TaskService. defaultTone is applied to tasks
// created without one.
func NewTaskService(
	taskRepo port.CallTaskRepository,
	contactRepo port.ContactRepository,
	planner port.CallPlanner,
	plannerBreaker *retry.Breaker,
	retryCfg retry.Config,
	defaultTone string,
	events dispatcher.Dispatcher,
	logger Logger,
) TaskService {
	return &taskServiceImpl{
		taskRepo:       taskRepo,
		contactRepo:    contactRepo,
		planner:        planner,
		plannerBreaker: plannerBreaker,
		retryCfg:       retryCfg,
		defaultTone:    defaultTone,
		status:         newStatusWriter(taskRepo, events, logger),
		events:         events,
		logger:         logger,
	}
}

// CreateTask plans the instruction, derives the initial status from
// readiness, and persists the task.
func (s *taskServiceImpl) CreateTask(ctx context.Context, req CreateTaskRequest) (*entity.CallTask, error) {
	if req.TargetPhoneNumber != "" {
		normalized, err := utils.NormalizePhone(req.TargetPhoneNumber)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPhoneNumber, err)
		}
		req.TargetPhoneNumber = normalized
	}
	if req.Tone == "" {
		req.Tone = s.defaultTone
	}

	var plan *entity.AIPlan
	err := s.plannerBreaker.Do(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
			var planErr error
			plan, planErr = s.planner.PlanCallTask(ctx, req.Instruction)
			return planErr
		})
	})
	if err != nil {
		s.logger.Error("Failed to plan call task",
			"error", err,
			"user_id", req.UserID)
		return nil, fmt.Errorf("%w: plan call task", ErrExternalService)
	}

	now := time.Now()
	task := &entity.CallTask{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
		RawInstruction:    req.Instruction,
		Status:            workflow.StatePending,
		Plan:              plan,
		TargetPhoneNumber: req.TargetPhoneNumber,
		ContactID:         req.ContactID,
		BusinessName:      req.BusinessName,
		Tone:              req.Tone,
		MaxPrice:          req.MaxPrice,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	task.Status = s.initialStatus(ctx, task)

	if err := s.taskRepo.Create(ctx, task); err != nil {
		s.logger.Error("Failed to create call task",
			"error", err,
			"user_id", req.UserID)
		return nil, fmt.Errorf("create call task: %w", err)
	}

	s.logger.Info("Call task created",
		"task_id", task.ID,
		"user_id", task.UserID,
		"status", task.Status)

	if s.events != nil {
		s.events.DispatchAsync(ctx, event.New(event.TypeTaskCreated, task.ID, "", map[string]interface{}{
			"status": task.Status.String(),
		}))
	}

	return task, nil
}

// initialStatus derives where a freshly planned task starts: clarification
// or a missing number parks it in waiting_for_user, a resolvable number
// makes it immediately dialable.
func (s *taskServiceImpl) initialStatus(ctx context.Context, task *entity.CallTask) workflow.State {
	if task.Plan != nil && task.Plan.RequiresClarification {
		return workflow.StateWaitingForUser
	}
	if phone, _ := s.resolvePhone(ctx, task); phone != "" {
		return workflow.StateReadyToCall
	}
	return workflow.StateWaitingForUser
}

// resolvePhone prefers the linked contact's number over the task's own.
func (s *taskServiceImpl) resolvePhone(ctx context.Context, task *entity.CallTask) (string, error) {
	if task.ContactID != "" {
		contact, err := s.contactRepo.GetByID(ctx, task.ContactID)
		if err != nil {
			return "", fmt.Errorf("get contact: %w", err)
		}
		if contact != nil && contact.PhoneNumber != "" {
			return contact.PhoneNumber, nil
		}
	}
	return task.TargetPhoneNumber, nil
}

// GetTask retrieves a task owned by the user.
func (s *taskServiceImpl) GetTask(ctx context.Context, userID, taskID string) (*entity.CallTask, error) {
	return s.loadOwned(ctx, userID, taskID)
}

// ListTasks retrieves all tasks owned by the user.
func (s *taskServiceImpl) ListTasks(ctx context.Context, userID string) ([]*entity.CallTask, error) {
	tasks, err := s.taskRepo.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to list tasks",
			"error", err,
			"user_id", userID)
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTask merges the supplied fields, then applies at most one status
// transition: either the explicitly requested one, or the automatic
// waiting_for_user -> ready_to_call promotion when the update supplies the
// phone number the plan was missing.
func (s *taskServiceImpl) UpdateTask(ctx context.Context, userID, taskID string, req UpdateTaskRequest) (*entity.CallTask, error) {
	task, err := s.loadOwned(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	if task.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: task is %s", ErrPreconditionFailed, task.Status)
	}

	wasWaiting := task.Status == workflow.StateWaitingForUser
	planMissedPhone := task.Plan.MissingPhoneNumber()

	phoneSupplied := false
	if req.TargetPhoneNumber != nil {
		phone := *req.TargetPhoneNumber
		if phone != "" {
			normalized, err := utils.NormalizePhone(phone)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPhoneNumber, err)
			}
			phone = normalized
		}
		task.TargetPhoneNumber = phone
		phoneSupplied = phone != ""
	}
	if req.ContactID != nil {
		task.ContactID = *req.ContactID
		if !phoneSupplied && *req.ContactID != "" {
			phone, err := s.resolvePhone(ctx, task)
			if err != nil {
				return nil, err
			}
			phoneSupplied = phone != ""
		}
	}
	if req.BusinessName != nil {
		task.BusinessName = *req.BusinessName
	}
	if req.Tone != nil {
		task.Tone = *req.Tone
	}
	if req.MaxPrice != nil {
		task.MaxPrice = req.MaxPrice
	}
	task.UpdatedAt = time.Now()

	if err := s.taskRepo.Update(ctx, task); err != nil {
		s.logger.Error("Failed to update task",
			"error", err,
			"task_id", task.ID)
		return nil, fmt.Errorf("update task: %w", err)
	}

	switch {
	case req.Status != nil:
		if err := s.guardReadiness(ctx, task, *req.Status); err != nil {
			return nil, err
		}
		if err := s.status.transition(ctx, task, *req.Status); err != nil {
			return nil, err
		}
	case wasWaiting && phoneSupplied && planMissedPhone:
		// The one system-triggered transition: the update supplied the
		// number the plan was waiting on.
		if err := s.status.transition(ctx, task, workflow.StateReadyToCall); err != nil {
			return nil, err
		}
	}

	return task, nil
}

// guardReadiness enforces the phone-number invariant on transitions into
// dialable states, on top of the workflow table.
func (s *taskServiceImpl) guardReadiness(ctx context.Context, task *entity.CallTask, to workflow.State) error {
	if to != workflow.StateReadyToCall && to != workflow.StateInProgress {
		return nil
	}
	phone, err := s.resolvePhone(ctx, task)
	if err != nil {
		return err
	}
	if phone == "" {
		return fmt.Errorf("%w: task %s", ErrMissingPhoneNumber, task.ID)
	}
	return nil
}

// CancelTask cancels the task. Cancelling an already-cancelled task is a
// no-op rather than an error.
func (s *taskServiceImpl) CancelTask(ctx context.Context, userID, taskID string) (*entity.CallTask, error) {
	task, err := s.loadOwned(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	if task.Status == workflow.StateCancelled {
		return task, nil
	}

	if err := s.status.transition(ctx, task, workflow.StateCancelled); err != nil {
		return nil, err
	}

	s.logger.Info("Task cancelled",
		"task_id", task.ID,
		"user_id", userID)

	return task, nil
}

func (s *taskServiceImpl) loadOwned(ctx context.Context, userID, taskID string) (*entity.CallTask, error) {
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
	return task, nil
}
