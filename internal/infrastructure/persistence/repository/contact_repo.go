package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/haowenli/ai-call-agent/internal/application/port"
	"github.com/haowenli/ai-call-agent/internal/domain/entity"
)

// ContactRepository implements port.ContactRepository
type ContactRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewContactRepository creates a new contact repository
func NewContactRepository(db *sql.DB, logger *zap.Logger) port.ContactRepository {
	return &ContactRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new contact
func (r *ContactRepository) Create(ctx context.Context, contact *entity.Contact) error {
	query := `
		INSERT INTO contacts (id, user_id, name, phone_number)
		VALUES (?, ?, ?, ?)
	`

	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		contact.ID,
		contact.UserID,
		contact.Name,
		contact.PhoneNumber,
	)
	if err != nil {
		r.logger.Error("Failed to create contact",
			zap.String("contact_id", contact.ID),
			zap.String("user_id", contact.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create contact: %w", err)
	}

	return nil
}

// GetByID retrieves a contact by its ID
func (r *ContactRepository) GetByID(ctx context.Context, id string) (*entity.Contact, error) {
	query := `SELECT id, user_id, name, phone_number, created_at FROM contacts WHERE id = ?`

	var contact entity.Contact
	err := getExecutor(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&contact.ID,
		&contact.UserID,
		&contact.Name,
		&contact.PhoneNumber,
		&contact.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	return &contact, nil
}

// ListByUser retrieves all contacts of a user, ordered by name
func (r *ContactRepository) ListByUser(ctx context.Context, userID string) ([]*entity.Contact, error) {
	query := `SELECT id, user_id, name, phone_number, created_at FROM contacts WHERE user_id = ? ORDER BY name ASC`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*entity.Contact
	for rows.Next() {
		var contact entity.Contact
		err := rows.Scan(
			&contact.ID,
			&contact.UserID,
			&contact.Name,
			&contact.PhoneNumber,
			&contact.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, &contact)
	}

	return contacts, rows.Err()
}

// Verify interface compliance
var _ port.ContactRepository = (*ContactRepository)(nil)
