package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haowenli/ai-call-agent/internal/application/port"
	"github.com/haowenli/ai-call-agent/internal/domain/entity"
	"github.com/haowenli/ai-call-agent/pkg/utils"
)

// ContactService manages the user's saved call destinations.
type ContactService interface {
	CreateContact(ctx context.Context, userID, name, phoneNumber string) (*entity.Contact, error)
	GetContact(ctx context.Context, userID, contactID string) (*entity.Contact, error)
	ListContacts(ctx context.Context, userID string) ([]*entity.Contact, error)
}

type contactServiceImpl struct {
	contactRepo port.ContactRepository
	logger      Logger
}

// NewContactService creates a new ContactService
func NewContactService(contactRepo port.ContactRepository, logger Logger) ContactService {
	return &contactServiceImpl{
		contactRepo: contactRepo,
		logger:      logger,
	}
}

// CreateContact normalizes the number and stores the contact.
func (s *contactServiceImpl) CreateContact(ctx context.Context, userID, name, phoneNumber string) (*entity.Contact, error) {
	if name == "" {
		return nil, fmt.Errorf("contact name cannot be empty")
	}

	normalized, err := utils.NormalizePhone(phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPhoneNumber, err)
	}

	contact := &entity.Contact{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        name,
		PhoneNumber: normalized,
		CreatedAt:   time.Now(),
	}

	if err := s.contactRepo.Create(ctx, contact); err != nil {
		s.logger.Error("Failed to create contact",
			"error", err,
			"user_id", userID)
		return nil, fmt.Errorf("create contact: %w", err)
	}

	s.logger.Info("Contact created",
		"contact_id", contact.ID,
		"user_id", userID)

	return contact, nil
}

// GetContact retrieves a contact owned by the user.
func (s *contactServiceImpl) GetContact(ctx context.Context, userID, contactID string) (*entity.Contact, error) {
	contact, err := s.contactRepo.GetByID(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	if contact == nil {
		return nil, fmt.Errorf("%w: contact %s", ErrNotFound, contactID)
	}
	if contact.UserID != userID {
		return nil, fmt.Errorf("%w: contact %s", ErrForbidden, contactID)
	}
	return contact, nil
}

// ListContacts retrieves all contacts of the user.
func (s *contactServiceImpl) ListContacts(ctx context.Context, userID string) ([]*entity.Contact, error) {
	contacts, err := s.contactRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return contacts, nil
}
