package service

import (
	"context"
	"fmt"

	"github.com/haowenli/ai-call-agent/internal/application/dispatcher"
	"github.com/haowenli/ai-call-agent/internal/application/port"
	"github.com/haowenli/ai-call-agent/internal/domain/entity"
	"github.com/haowenli/ai-call-agent/internal/domain/event"
	"github.com/haowenli/ai-call-agent/internal/domain/workflow"
)

// statusWriter applies task status transitions with the compare-and-set
// discipline shared by every service: read status, validate the transition,
// write conditioned on the status being unchanged. A lost race is retried
// once against freshly-read state; a second loss, or a fresh status that
// makes the transition illegal, surfaces as ErrConflict.
type statusWriter struct {
	taskRepo port.CallTaskRepository
	events   dispatcher.Dispatcher
	logger   Logger
}

func newStatusWriter(taskRepo port.CallTaskRepository, events dispatcher.Dispatcher, logger Logger) *statusWriter {
	return &statusWriter{taskRepo: taskRepo, events: events, logger: logger}
}

// transition moves task to the given status and mutates task.Status on
// success. The stored state is never mutated when the transition is illegal.
func (w *statusWriter) transition(ctx context.Context, task *entity.CallTask, to workflow.State) error {
	from := task.Status
	if err := workflow.Guard(from, to); err != nil {
		return err
	}

	won, err := w.taskRepo.UpdateStatus(ctx, task.ID, from, to)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if won {
		w.finish(ctx, task, from, to)
		return nil
	}

	// Lost the race: re-read once and re-evaluate.
	fresh, err := w.taskRepo.GetByID(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("reload task after conflict: %w", err)
	}
	if fresh == nil {
		return fmt.Errorf("%w: task %s", ErrNotFound, task.ID)
	}
	if fresh.Status == to {
		// Someone else already applied the same transition.
		task.Status = to
		return nil
	}
	if err := workflow.Guard(fresh.Status, to); err != nil {
		return fmt.Errorf("%w: task moved to %s", ErrConflict, fresh.Status)
	}

	won, err = w.taskRepo.UpdateStatus(ctx, task.ID, fresh.Status, to)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if !won {
		return fmt.Errorf("%w: task %s changed twice during update", ErrConflict, task.ID)
	}

	w.finish(ctx, task, fresh.Status, to)
	return nil
}

// override applies a transition the public table does not carry. The one
// caller is the failure reconciler sending an in_progress task back to
// ready_to_call for a redial; user-requested transitions never come through
// here. The compare-and-set still applies, and a lost race means another
// writer (a concurrent cancel) moved the task first, reported through the
// false return so the caller can drop the redial.
func (w *statusWriter) override(ctx context.Context, task *entity.CallTask, to workflow.State) (bool, error) {
	from := task.Status
	won, err := w.taskRepo.UpdateStatus(ctx, task.ID, from, to)
	if err != nil {
		return false, fmt.Errorf("update task status: %w", err)
	}
	if !won {
		return false, nil
	}
	w.finish(ctx, task, from, to)
	return true, nil
}

func (w *statusWriter) finish(ctx context.Context, task *entity.CallTask, from, to workflow.State) {
	task.Status = to

	if w.logger != nil {
		w.logger.Info("Task status changed",
			"task_id", task.ID,
			"from", from,
			"to", to)
	}

	if w.events != nil {
		w.events.DispatchAsync(ctx, event.New(event.TypeTaskStatusChanged, task.ID, "", map[string]interface{}{
			"from": from.String(),
			"to":   to.String(),
		}))
	}
}
