package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haowenli/ai-call-agent/internal/domain/entity"
	"github.com/haowenli/ai-call-agent/internal/domain/workflow"
	"github.com/haowenli/ai-call-agent/pkg/retry"
)

func newTaskService(taskRepo *mockTaskRepo, contactRepo *mockContactRepo, planner *mockPlanner) TaskService {
	return NewTaskService(taskRepo, contactRepo, planner, freshBreaker(), fastRetry(), "friendly", nil, nopLogger{})
}

func TestCreateTask_ReadyWhenPhonePresent(t *testing.T) {
	var created *entity.CallTask
	taskRepo := &mockTaskRepo{
		createFunc: func(ctx context.Context, task *entity.CallTask) error {
			created = task
			return nil
		},
	}
	planner := &mockPlanner{
		planFunc: func(ctx context.Context, instruction string) (*entity.AIPlan, error) {
			return &entity.AIPlan{Goal: "order a pizza"}, nil
		},
	}

	svc := newTaskService(taskRepo, &mockContactRepo{}, planner)
	task, err := svc.CreateTask(context.Background(), CreateTaskRequest{
		UserID:            "user-1",
		Instruction:       "order a large pepperoni pizza",
		TargetPhoneNumber: "+14155550123",
	})

	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, workflow.StateReadyToCall, task.Status)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "user-1", task.UserID)
}

func TestCreateTask_WaitsForUserWhenPhoneMissing(t *testing.T) {
	planner := &mockPlanner{
		planFunc: func(ctx context.Context, instruction string) (*entity.AIPlan, error) {
			return &entity.AIPlan{
				Goal:        "book a cleaning",
				MissingInfo: []string{"dentist's phone number"},
			}, nil
		},
	}

	svc := newTaskService(&mockTaskRepo{}, &mockContactRepo{}, planner)
	task, err := svc.CreateTask(context.Background(), CreateTaskRequest{
		UserID:      "user-1",
		Instruction: "call my dentist and book a cleaning",
	})

	require.NoError(t, err)
	assert.Equal(t, workflow.StateWaitingForUser, task.Status)
}

func TestCreateTask_ClarificationParksTask(t *testing.T) {
	planner := &mockPlanner{
		planFunc: func(ctx context.Context, instruction string) (*entity.AIPlan, error) {
			return &entity.AIPlan{
				Goal:                  "unclear",
				RequiresClarification: true,
			}, nil
		},
	}

	svc := newTaskService(&mockTaskRepo{}, &mockContactRepo{}, planner)
	task, err := svc.CreateTask(context.Background(), CreateTaskRequest{
		UserID:            "user-1",
		Instruction:       "call them",
		TargetPhoneNumber: "+14155550123",
	})

	require.NoError(t, err)
	assert.Equal(t, workflow.StateWaitingForUser, task.Status)
}

func TestCreateTask_PlannerFailureSurfaces(t *testing.T) {
	createCalled := false
	taskRepo := &mockTaskRepo{
		createFunc: func(ctx context.Context, task *entity.CallTask) error {
			createCalled = true
			return nil
		},
	}
	planner := &mockPlanner{
		planFunc: func(ctx context.Context, instruction string) (*entity.AIPlan, error) {
			return nil, retry.Permanent(errors.New("model refused"))
		},
	}

	svc := newTaskService(taskRepo, &mockContactRepo{}, planner)
	_, err := svc.CreateTask(context.Background(), CreateTaskRequest{
		UserID:      "user-1",
		Instruction: "order a pizza",
	})

	assert.ErrorIs(t, err, ErrExternalService)
	assert.False(t, createCalled, "no task should be persisted when planning fails")
}

func TestUpdateTask_AutoTransitionOnPhoneArrival(t *testing.T) {
	task := &entity.CallTask{
		ID:     "task-1",
		UserID: "user-1",
		Status: workflow.StateWaitingForUser,
		Plan:   &entity.AIPlan{MissingInfo: []string{"phone number of the shop"}},
	}

	var casFrom, casTo workflow.State
	taskRepo := &mockTaskRepo{
		getByIDFunc: func(ctx context.Context, id string) (*entity.CallTask, error) {
			return task, nil
		},
		updateStatusFunc: func(ctx context.Context, id string, from, to workflow.State) (bool, error) {
			casFrom, casTo = from, to
			return true, nil
		},
	}

	svc := newTaskService(taskRepo, &mockContactRepo{}, &mockPlanner{})
	updated, err := svc.UpdateTask(context.Background(), "user-1", "task-1", UpdateTaskRequest{
		TargetPhoneNumber: strPtr("+14155550123"),
	})

	require.NoError(t, err)
	assert.Equal(t, workflow.StateReadyToCall, updated.Status)
	assert.Equal(t, workflow.StateWaitingForUser, casFrom)
	assert.Equal(t, workflow.StateReadyToCall, casTo)
}

func TestUpdateTask_NoAutoTransitionWithoutMissingPhone(t *testing.T) {
	task := &entity.CallTask{
		ID:     "task-1",
		UserID: "user-1",
		Status: workflow.StateWaitingForUser,
		Plan:   &entity.AIPlan{MissingInfo: []string{"preferred appointment time"}},
	}
	casCalled := false
	taskRepo := &mockTaskRepo{
		getByIDFunc: func(ctx context.Context, id string) (*entity.CallTask, error) {
			return task, nil
		},
		updateStatusFunc: func(ctx context.Context, id string, from, to workflow.State) (bool, error) {
			casCalled = true
			return true, nil
		},
	}

	svc := newTaskService(taskRepo, &mockContactRepo{}, &mockPlanner{})
	updated, err := svc.UpdateTask(context.Background(), "user-1", "task-1", UpdateTaskRequest{
		TargetPhoneNumber: strPtr("+14155550123"),
	})

	require.NoError(t, err)
	assert.Equal(t, workflow.StateWaitingForUser, updated.Status)
	assert.False(t, casCalled)
}

func TestUpdateTask_ExplicitInvalidTransitionRejected(t *testing.T) {
	task := &entity.CallTask{ID: "task-1", UserID: "user-1", Status: workflow.StatePending}
	casCalled := false
	taskRepo := &mockTaskRepo{
		getByIDFunc: func(ctx context.Context, id string) (*entity.CallTask, error) {
			return task, nil
		},
		updateStatusFunc: func(ctx context.Context, id string, from, to workflow.State) (bool, error) {
			casCalled = true
			return true, nil
		},
	}

	svc := newTaskService(taskRepo, &mockContactRepo{}, &mockPlanner{})
	_, err := svc.UpdateTask(context.Background(), "user-1", "task-1", UpdateTaskRequest{
		Status: statePtr(workflow.StateCompleted),
	})

	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
	assert.False(t, casCalled, "stored state must not be touched on an illegal transition")
}

func TestUpdateTask_ReadinessGateOnExplicitTransition(t *testing.T) {
	task := &entity.CallTask{ID: "task-1", UserID: "user-1", Status: workflow.StatePending}
	taskRepo := &mockTaskRepo{
		getByIDFunc: func(ctx context.Context, id string) (*entity.CallTask, error) {
			return task, nil
		},
	}

	svc := newTaskService(taskRepo, &mockContactRepo{}, &mockPlanner{})
	_, err := svc.UpdateTask(context.Background(), "user-1", "task-1", UpdateTaskRequest{
		Status: statePtr(workflow.StateReadyToCall),
	})

	assert.ErrorIs(t, err, ErrMissingPhoneNumber)
}

func TestUpdateTask_Forbidden(t *testing.T) {
	task := &entity.CallTask{ID: "task-1", UserID: "owner", Status: workflow.StatePending}
	taskRepo := &mockTaskRepo{
		getByIDFunc: func(ctx context.Context, id string) (*entity.CallTask, error) {
			return task, nil
		},
	}

	svc := newTaskService(taskRepo, &mockContactRepo{}, &mockPlanner{})
	_, err := svc.UpdateTask(context.Background(), "intruder", "task-1", UpdateTaskRequest{})

	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUpdateTask_NotFound(t *testing.T) {
	svc := newTaskService(&mockTaskRepo{}, &mockContactRepo{}, &mockPlanner{})
	_, err := svc.UpdateTask(context.Background(), "user-1", "missing", UpdateTaskRequest{})

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateTask_TerminalTaskRejected(t *testing.T) {
	task := &entity.CallTask{ID: "task-1", UserID: "user-1", Status: workflow.StateCompleted}
	taskRepo := &mockTaskRepo{
		getByIDFunc: func(ctx context.Context, id string) (*entity.CallTask, error) {
			return task, nil
		},
	}

	svc := newTaskService(taskRepo, &mockContactRepo{}, &mockPlanner{})
	_, err := svc.UpdateTask(context.Background(), "user-1", "task-1", UpdateTaskRequest{
		Tone: strPtr("friendly"),
	})

	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestUpdateTask_ConflictAfterTwoLostRaces(t *testing.T) {
	task := &entity.CallTask{
		ID:     "task-1",
		UserID: "user-1",
		Status: workflow.StateWaitingForUser,
		Plan:   &entity.AIPlan{MissingInfo: []string{"phone number"}},
	}
	taskRepo := &mockTaskRepo{
		getByIDFunc: func(ctx context.Context, id string) (*entity.CallTask, error) {
			copy := *task
			return &copy, nil
		},
		updateStatusFunc: func(ctx context.Context, id string, from, to workflow.State) (bool, error) {
			return false, nil
		},
	}

	svc := newTaskService(taskRepo, &mockContactRepo{}, &mockPlanner{})
	_, err := svc.UpdateTask(context.Background(), "user-1", "task-1", UpdateTaskRequest{
		TargetPhoneNumber: strPtr("+14155550123"),
	})

	assert.ErrorIs(t, err, ErrConflict)
}

func TestUpdateTask_ConflictWhenFreshStatusIllegal(t *testing.T) {
	reads := 0
	taskRepo := &mockTaskRepo{
		getByIDFunc: func(ctx context.Context, id string) (*entity.CallTask, error) {
			reads++
			status := workflow.StateWaitingForUser
			if reads > 1 {
				// A concurrent cancellation landed between our read and write.
				status = workflow.StateCancelled
			}
			return &entity.CallTask{
				ID:                "task-1",
				UserID:            "user-1",
				Status:            status,
				TargetPhoneNumber: "+14155550123",
				Plan:              &entity.AIPlan{MissingInfo: []string{"phone number"}},
			}, nil
		},
		updateStatusFunc: func(ctx context.Context, id string, from, to workflow.State) (bool, error) {
			return false, nil
		},
	}

	svc := newTaskService(taskRepo, &mockContactRepo{}, &mockPlanner{})
	_, err := svc.UpdateTask(context.Background(), "user-1", "task-1", UpdateTaskRequest{
		TargetPhoneNumber: strPtr("+14155550123"),
	})

	assert.ErrorIs(t, err, ErrConflict)
}

func TestCancelTask_FromPending(t *testing.T) {
	task := &entity.CallTask{ID: "task-1", UserID: "user-1", Status: workflow.StatePending}
	var casTo workflow.State
	taskRepo := &mockTaskRepo{
		getByIDFunc: func(ctx context.Context, id string) (*entity.CallTask, error) {
			return task, nil
		},
		updateStatusFunc: func(ctx context.Context, id string, from, to workflow.State) (bool, error) {
			casTo = to
			return true, nil
		},
	}

	svc := newTaskService(taskRepo, &mockContactRepo{}, &mockPlanner{})
	cancelled, err := svc.CancelTask(context.Background(), "user-1", "task-1")

	require.NoError(t, err)
	assert.Equal(t, workflow.StateCancelled, cancelled.Status)
	assert.Equal(t, workflow.StateCancelled, casTo)
}

func TestCancelTask_Idempotent(t *testing.T) {
	task := &entity.CallTask{ID: "task-1", UserID: "user-1", Status: workflow.StateCancelled}
	casCalled := false
	taskRepo := &mockTaskRepo{
		getByIDFunc: func(ctx context.Context, id string) (*entity.CallTask, error) {
			return task, nil
		},
		updateStatusFunc: func(ctx context.Context, id string, from, to workflow.State) (bool, error) {
			casCalled = true
			return true, nil
		},
	}

	svc := newTaskService(taskRepo, &mockContactRepo{}, &mockPlanner{})
	cancelled, err := svc.CancelTask(context.Background(), "user-1", "task-1")

	require.NoError(t, err)
	assert.Equal(t, workflow.StateCancelled, cancelled.Status)
	assert.False(t, casCalled)
}

func TestCancelTask_CompletedCannotBeCancelled(t *testing.T) {
	task := &entity.CallTask{ID: "task-1", UserID: "user-1", Status: workflow.StateCompleted}
	taskRepo := &mockTaskRepo{
		getByIDFunc: func(ctx context.Context, id string) (*entity.CallTask, error) {
			return task, nil
		},
	}

	svc := newTaskService(taskRepo, &mockContactRepo{}, &mockPlanner{})
	_, err := svc.CancelTask(context.Background(), "user-1", "task-1")

	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestCreateTask_RejectsInvalidPhone(t *testing.T) {
	created := false
	taskRepo := &mockTaskRepo{
		createFunc: func(ctx context.Context, task *entity.CallTask) error {
			created = true
			return nil
		},
	}

	svc := newTaskService(taskRepo, &mockContactRepo{}, &mockPlanner{})
	_, err := svc.CreateTask(context.Background(), CreateTaskRequest{
		UserID:            "user-1",
		Instruction:       "order a pizza",
		TargetPhoneNumber: "call-me-maybe",
	})

	assert.ErrorIs(t, err, ErrInvalidPhoneNumber)
	assert.False(t, created)
}

func TestUpdateTask_NormalizesSuppliedPhone(t *testing.T) {
	task := &entity.CallTask{
		ID:     "task-1",
		UserID: "user-1",
		Status: workflow.StateWaitingForUser,
		Plan:   &entity.AIPlan{MissingInfo: []string{"phone number"}},
	}
	var updated *entity.CallTask
	taskRepo := &mockTaskRepo{
		getByIDFunc: func(ctx context.Context, id string) (*entity.CallTask, error) {
			return task, nil
		},
		updateFunc: func(ctx context.Context, t *entity.CallTask) error {
			updated = t
			return nil
		},
	}

	svc := newTaskService(taskRepo, &mockContactRepo{}, &mockPlanner{})
	_, err := svc.UpdateTask(context.Background(), "user-1", "task-1", UpdateTaskRequest{
		TargetPhoneNumber: strPtr("(415) 555-0123"),
	})

	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "4155550123", updated.TargetPhoneNumber)
}
