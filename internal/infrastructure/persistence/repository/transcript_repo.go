package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/haowenli/ai-call-agent/internal/application/port"
	"github.com/haowenli/ai-call-agent/internal/domain/entity"
)

// TranscriptRepository implements port.TranscriptRepository. Entries are
// stored as a single JSON document per session.
type TranscriptRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTranscriptRepository creates a new transcript repository
func NewTranscriptRepository(db *sql.DB, logger *zap.Logger) port.TranscriptRepository {
	return &TranscriptRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new transcript
func (r *TranscriptRepository) Create(ctx context.Context, transcript *entity.CallTranscript) error {
	query := `
		INSERT INTO call_transcripts (id, session_id, entries)
		VALUES (?, ?, ?)
	`

	entries, err := marshalEntries(transcript.Entries)
	if err != nil {
		return err
	}

	_, err = getExecutor(ctx, r.db).ExecContext(ctx, query,
		transcript.ID,
		transcript.SessionID,
		entries,
	)
	if err != nil {
		r.logger.Error("Failed to create transcript",
			zap.String("transcript_id", transcript.ID),
			zap.String("session_id", transcript.SessionID),
			zap.Error(err))
		return fmt.Errorf("failed to create transcript: %w", err)
	}

	return nil
}

// GetBySessionID retrieves the transcript of a session
func (r *TranscriptRepository) GetBySessionID(ctx context.Context, sessionID string) (*entity.CallTranscript, error) {
	query := `
		SELECT id, session_id, entries, created_at, updated_at
		FROM call_transcripts WHERE session_id = ?
	`

	var transcript entity.CallTranscript
	var entries string

	err := getExecutor(ctx, r.db).QueryRowContext(ctx, query, sessionID).Scan(
		&transcript.ID,
		&transcript.SessionID,
		&entries,
		&transcript.CreatedAt,
		&transcript.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}

	if entries != "" {
		if err := json.Unmarshal([]byte(entries), &transcript.Entries); err != nil {
			return nil, fmt.Errorf("failed to decode transcript entries: %w", err)
		}
	}

	return &transcript, nil
}

// AppendEntries adds lines to a session's transcript as speech arrives
func (r *TranscriptRepository) AppendEntries(ctx context.Context, sessionID string, newEntries []entity.TranscriptEntry) error {
	if len(newEntries) == 0 {
		return nil
	}

	transcript, err := r.GetBySessionID(ctx, sessionID)
	if err != nil {
		return err
	}
	if transcript == nil {
		return fmt.Errorf("no transcript for session %s", sessionID)
	}

	entries, err := marshalEntries(append(transcript.Entries, newEntries...))
	if err != nil {
		return err
	}

	query := `
		UPDATE call_transcripts
		SET entries = ?, updated_at = CURRENT_TIMESTAMP
		WHERE session_id = ?
	`
	_, err = getExecutor(ctx, r.db).ExecContext(ctx, query, entries, sessionID)
	if err != nil {
		return fmt.Errorf("failed to append transcript entries: %w", err)
	}

	return nil
}

// marshalEntries serializes transcript entries, [] when empty
func marshalEntries(entries []entity.TranscriptEntry) (string, error) {
	if entries == nil {
		entries = []entity.TranscriptEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to encode transcript entries: %w", err)
	}
	return string(data), nil
}

// Verify interface compliance
var _ port.TranscriptRepository = (*TranscriptRepository)(nil)
