package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/haowenli/ai-call-agent/internal/application/port"
	"github.com/haowenli/ai-call-agent/internal/domain/entity"
	"github.com/haowenli/ai-call-agent/internal/domain/workflow"
)

// CallSessionRepository implements port.CallSessionRepository
type CallSessionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCallSessionRepository creates a new call session repository
func NewCallSessionRepository(db *sql.DB, logger *zap.Logger) port.CallSessionRepository {
	return &CallSessionRepository{
		db:     db,
		logger: logger,
	}
}

const sessionColumns = `
	id, call_task_id, user_id, provider_call_id, status, started_at, ended_at
`

// Create creates a new call session
func (r *CallSessionRepository) Create(ctx context.Context, session *entity.CallSession) error {
	query := `
		INSERT INTO call_sessions (
			id, call_task_id, user_id, provider_call_id, status, started_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		session.ID,
		session.CallTaskID,
		session.UserID,
		session.ProviderCallID,
		string(session.Status),
		session.StartedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create call session",
			zap.String("session_id", session.ID),
			zap.String("task_id", session.CallTaskID),
			zap.Error(err))
		return fmt.Errorf("failed to create call session: %w", err)
	}

	return nil
}

// GetByID retrieves a session by its ID
func (r *CallSessionRepository) GetByID(ctx context.Context, id string) (*entity.CallSession, error) {
	query := `SELECT` + sessionColumns + `FROM call_sessions WHERE id = ?`

	row := getExecutor(ctx, r.db).QueryRowContext(ctx, query, id)
	session, err := r.scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call session: %w", err)
	}
	return session, nil
}

// GetByProviderCallID resolves the session a telephony webhook refers to
func (r *CallSessionRepository) GetByProviderCallID(ctx context.Context, providerCallID string) (*entity.CallSession, error) {
	query := `SELECT` + sessionColumns + `FROM call_sessions WHERE provider_call_id = ?`

	row := getExecutor(ctx, r.db).QueryRowContext(ctx, query, providerCallID)
	session, err := r.scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session by provider call id: %w", err)
	}
	return session, nil
}

// GetLatestByTaskID retrieves the most recently started session of a task
func (r *CallSessionRepository) GetLatestByTaskID(ctx context.Context, taskID string) (*entity.CallSession, error) {
	query := `SELECT` + sessionColumns + `FROM call_sessions WHERE call_task_id = ? ORDER BY started_at DESC LIMIT 1`

	row := getExecutor(ctx, r.db).QueryRowContext(ctx, query, taskID)
	session, err := r.scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest session: %w", err)
	}
	return session, nil
}

// UpdateStatus writes the session status; endedAt is set only for terminal
// statuses
func (r *CallSessionRepository) UpdateStatus(ctx context.Context, id string, status workflow.SessionStatus, endedAt *time.Time) error {
	query := `UPDATE call_sessions SET status = ?, ended_at = ? WHERE id = ?`

	var ended sql.NullTime
	if endedAt != nil {
		ended = sql.NullTime{Time: *endedAt, Valid: true}
	}

	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query, string(status), ended, id)
	if err != nil {
		r.logger.Error("Failed to update session status",
			zap.String("session_id", id),
			zap.String("status", string(status)),
			zap.Error(err))
		return fmt.Errorf("failed to update session status: %w", err)
	}

	return nil
}

// scanSession scans a single session row
func (r *CallSessionRepository) scanSession(row *sql.Row) (*entity.CallSession, error) {
	var session entity.CallSession
	var status string
	var endedAt sql.NullTime

	err := row.Scan(
		&session.ID,
		&session.CallTaskID,
		&session.UserID,
		&session.ProviderCallID,
		&status,
		&session.StartedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}

	session.Status = workflow.SessionStatus(status)
	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}

	return &session, nil
}

// Verify interface compliance
var _ port.CallSessionRepository = (*CallSessionRepository)(nil)
