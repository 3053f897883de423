package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/haowenli/ai-call-agent/internal/application/port"
	"github.com/haowenli/ai-call-agent/internal/domain/entity"
	"github.com/haowenli/ai-call-agent/internal/domain/workflow"
)

// CallTaskRepository implements port.CallTaskRepository
type CallTaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCallTaskRepository creates a new call task repository
func NewCallTaskRepository(db *sql.DB, logger *zap.Logger) port.CallTaskRepository {
	return &CallTaskRepository{
		db:     db,
		logger: logger,
	}
}

const taskColumns = `
	id, user_id, raw_instruction, status, plan,
	target_phone_number, contact_id, business_name, tone, max_price,
	retry_count, needs_reconciliation, created_at, updated_at
`

// Create creates a new call task
func (r *CallTaskRepository) Create(ctx context.Context, task *entity.CallTask) error {
	query := `
		INSERT INTO call_tasks (
			id, user_id, raw_instruction, status, plan,
			target_phone_number, contact_id, business_name, tone, max_price,
			retry_count, needs_reconciliation
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	plan, err := marshalPlan(task.Plan)
	if err != nil {
		return err
	}

	// Handle nullable fields
	var targetPhone, contactID, businessName, tone sql.NullString
	var maxPrice sql.NullFloat64

	if task.TargetPhoneNumber != "" {
		targetPhone = sql.NullString{String: task.TargetPhoneNumber, Valid: true}
	}
	if task.ContactID != "" {
		contactID = sql.NullString{String: task.ContactID, Valid: true}
	}
	if task.BusinessName != "" {
		businessName = sql.NullString{String: task.BusinessName, Valid: true}
	}
	if task.Tone != "" {
		tone = sql.NullString{String: task.Tone, Valid: true}
	}
	if task.MaxPrice != nil {
		maxPrice = sql.NullFloat64{Float64: *task.MaxPrice, Valid: true}
	}

	_, err = getExecutor(ctx, r.db).ExecContext(ctx, query,
		task.ID,
		task.UserID,
		task.RawInstruction,
		string(task.Status),
		plan,
		targetPhone,
		contactID,
		businessName,
		tone,
		maxPrice,
		task.RetryCount,
		task.NeedsReconciliation,
	)
	if err != nil {
		r.logger.Error("Failed to create call task",
			zap.String("task_id", task.ID),
			zap.String("user_id", task.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create call task: %w", err)
	}

	return nil
}

// GetByID retrieves a task by its ID
func (r *CallTaskRepository) GetByID(ctx context.Context, id string) (*entity.CallTask, error) {
	query := `SELECT` + taskColumns + `FROM call_tasks WHERE id = ?`

	row := getExecutor(ctx, r.db).QueryRowContext(ctx, query, id)
	task, err := r.scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call task: %w", err)
	}
	return task, nil
}

// ListByUser retrieves all tasks owned by a user, newest first
func (r *CallTaskRepository) ListByUser(ctx context.Context, userID string) ([]*entity.CallTask, error) {
	query := `SELECT` + taskColumns + `FROM call_tasks WHERE user_id = ? ORDER BY created_at DESC`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list call tasks: %w", err)
	}
	defer rows.Close()

	return r.scanTasks(rows)
}

// ListNeedingReconciliation retrieves tasks flagged for webhook repair
func (r *CallTaskRepository) ListNeedingReconciliation(ctx context.Context) ([]*entity.CallTask, error) {
	query := `SELECT` + taskColumns + `FROM call_tasks WHERE needs_reconciliation = 1 ORDER BY created_at ASC`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks needing reconciliation: %w", err)
	}
	defer rows.Close()

	return r.scanTasks(rows)
}

// Update persists every mutable field of the task except status
func (r *CallTaskRepository) Update(ctx context.Context, task *entity.CallTask) error {
	query := `
		UPDATE call_tasks SET
			raw_instruction = ?, plan = ?,
			target_phone_number = ?, contact_id = ?, business_name = ?,
			tone = ?, max_price = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	plan, err := marshalPlan(task.Plan)
	if err != nil {
		return err
	}

	var targetPhone, contactID, businessName, tone sql.NullString
	var maxPrice sql.NullFloat64

	if task.TargetPhoneNumber != "" {
		targetPhone = sql.NullString{String: task.TargetPhoneNumber, Valid: true}
	}
	if task.ContactID != "" {
		contactID = sql.NullString{String: task.ContactID, Valid: true}
	}
	if task.BusinessName != "" {
		businessName = sql.NullString{String: task.BusinessName, Valid: true}
	}
	if task.Tone != "" {
		tone = sql.NullString{String: task.Tone, Valid: true}
	}
	if task.MaxPrice != nil {
		maxPrice = sql.NullFloat64{Float64: *task.MaxPrice, Valid: true}
	}

	_, err = getExecutor(ctx, r.db).ExecContext(ctx, query,
		task.RawInstruction,
		plan,
		targetPhone,
		contactID,
		businessName,
		tone,
		maxPrice,
		task.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update call task",
			zap.String("task_id", task.ID),
			zap.Error(err))
		return fmt.Errorf("failed to update call task: %w", err)
	}

	return nil
}

// UpdateStatus performs a compare-and-set status write. The WHERE clause
// carries the expected current status, so a concurrent writer that got there
// first makes this a no-op and the caller sees false.
func (r *CallTaskRepository) UpdateStatus(ctx context.Context, id string, from, to workflow.State) (bool, error) {
	query := `
		UPDATE call_tasks
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, string(to), id, string(from))
	if err != nil {
		r.logger.Error("Failed to update task status",
			zap.String("task_id", id),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Error(err))
		return false, fmt.Errorf("failed to update task status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected > 0, nil
}

// IncrementRetryCount bumps the retry counter by one
func (r *CallTaskRepository) IncrementRetryCount(ctx context.Context, id string) error {
	query := `
		UPDATE call_tasks
		SET retry_count = retry_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment retry count: %w", err)
	}
	return nil
}

// SetNeedsReconciliation toggles the webhook-repair flag
func (r *CallTaskRepository) SetNeedsReconciliation(ctx context.Context, id string, needed bool) error {
	query := `
		UPDATE call_tasks
		SET needs_reconciliation = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query, needed, id)
	if err != nil {
		return fmt.Errorf("failed to set reconciliation flag: %w", err)
	}
	return nil
}

// scanTask scans a single task row
func (r *CallTaskRepository) scanTask(row *sql.Row) (*entity.CallTask, error) {
	var task entity.CallTask
	var status string
	var plan, targetPhone, contactID, businessName, tone sql.NullString
	var maxPrice sql.NullFloat64

	err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.RawInstruction,
		&status,
		&plan,
		&targetPhone,
		&contactID,
		&businessName,
		&tone,
		&maxPrice,
		&task.RetryCount,
		&task.NeedsReconciliation,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := r.fillOptional(&task, status, plan, targetPhone, contactID, businessName, tone, maxPrice); err != nil {
		return nil, err
	}
	return &task, nil
}

// scanTasks scans multiple task rows
func (r *CallTaskRepository) scanTasks(rows *sql.Rows) ([]*entity.CallTask, error) {
	var tasks []*entity.CallTask

	for rows.Next() {
		var task entity.CallTask
		var status string
		var plan, targetPhone, contactID, businessName, tone sql.NullString
		var maxPrice sql.NullFloat64

		err := rows.Scan(
			&task.ID,
			&task.UserID,
			&task.RawInstruction,
			&status,
			&plan,
			&targetPhone,
			&contactID,
			&businessName,
			&tone,
			&maxPrice,
			&task.RetryCount,
			&task.NeedsReconciliation,
			&task.CreatedAt,
			&task.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call task: %w", err)
		}

		if err := r.fillOptional(&task, status, plan, targetPhone, contactID, businessName, tone, maxPrice); err != nil {
			return nil, err
		}
		tasks = append(tasks, &task)
	}

	return tasks, rows.Err()
}

// fillOptional maps nullable columns onto the entity
func (r *CallTaskRepository) fillOptional(task *entity.CallTask, status string, plan, targetPhone, contactID, businessName, tone sql.NullString, maxPrice sql.NullFloat64) error {
	task.Status = workflow.State(status)

	if plan.Valid && plan.String != "" {
		var p entity.AIPlan
		if err := json.Unmarshal([]byte(plan.String), &p); err != nil {
			return fmt.Errorf("failed to decode stored plan: %w", err)
		}
		task.Plan = &p
	}
	if targetPhone.Valid {
		task.TargetPhoneNumber = targetPhone.String
	}
	if contactID.Valid {
		task.ContactID = contactID.String
	}
	if businessName.Valid {
		task.BusinessName = businessName.String
	}
	if tone.Valid {
		task.Tone = tone.String
	}
	if maxPrice.Valid {
		price := maxPrice.Float64
		task.MaxPrice = &price
	}
	return nil
}

// marshalPlan serializes the AI plan for the plan column, NULL when unset
func marshalPlan(plan *entity.AIPlan) (sql.NullString, error) {
	if plan == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode plan: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// Verify interface compliance
var _ port.CallTaskRepository = (*CallTaskRepository)(nil)
