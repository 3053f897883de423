package port

import (
	"context"
	"time"

	"github.com/haowenli/ai-call-agent/internal/domain/entity"
	"github.com/haowenli/ai-call-agent/internal/domain/workflow"
)

// CallTaskRepository defines persistence operations for CallTask
type CallTaskRepository interface {
	// Create creates a new call task
	Create(ctx context.Context, task *entity.CallTask) error

	// GetByID retrieves a task by its ID
	GetByID(ctx context.Context, id string) (*entity.CallTask, error)

	// ListByUser retrieves all tasks owned by a user, newest first
	ListByUser(ctx context.Context, userID string) ([]*entity.CallTask, error)

	// ListNeedingReconciliation retrieves tasks flagged for webhook repair
	ListNeedingReconciliation(ctx context.Context) ([]*entity.CallTask, error)

	// Update persists every mutable field of the task except status; status
	// writes go through UpdateStatus so concurrent transitions stay safe
	Update(ctx context.Context, task *entity.CallTask) error

	// UpdateStatus performs a compare-and-set status write. It returns false
	// when the stored status no longer equals from.
	UpdateStatus(ctx context.Context, id string, from, to workflow.State) (bool, error)

	// IncrementRetryCount bumps the retry counter by one
	IncrementRetryCount(ctx context.Context, id string) error

	// SetNeedsReconciliation toggles the webhook-repair flag
	SetNeedsReconciliation(ctx context.Context, id string, needed bool) error
}

// CallSessionRepository defines persistence operations for CallSession
type CallSessionRepository interface {
	Create(ctx context.Context, session *entity.CallSession) error
	GetByID(ctx context.Context, id string) (*entity.CallSession, error)

	// GetByProviderCallID resolves the session a telephony webhook refers to
	GetByProviderCallID(ctx context.Context, providerCallID string) (*entity.CallSession, error)

	// GetLatestByTaskID retrieves the most recently started session of a task
	GetLatestByTaskID(ctx context.Context, taskID string) (*entity.CallSession, error)

	// UpdateStatus writes the session status; endedAt is set only for
	// terminal statuses
	UpdateStatus(ctx context.Context, id string, status workflow.SessionStatus, endedAt *time.Time) error
}

// TranscriptRepository defines persistence operations for CallTranscript
type TranscriptRepository interface {
	Create(ctx context.Context, transcript *entity.CallTranscript) error
	GetBySessionID(ctx context.Context, sessionID string) (*entity.CallTranscript, error)

	// AppendEntries adds attributed speech lines to a session's transcript
	AppendEntries(ctx context.Context, sessionID string, entries []entity.TranscriptEntry) error
}

// PriceRepository defines persistence operations for ExtractedPrice
type PriceRepository interface {
	// SaveForSession replaces the extraction result of a session
	SaveForSession(ctx context.Context, sessionID string, prices []entity.ExtractedPrice, fees []entity.Fee) error

	GetBySessionID(ctx context.Context, sessionID string) ([]entity.ExtractedPrice, []entity.Fee, error)
}

// ContactRepository defines persistence operations for Contact
type ContactRepository interface {
	Create(ctx context.Context, contact *entity.Contact) error
	GetByID(ctx context.Context, id string) (*entity.Contact, error)
	ListByUser(ctx context.Context, userID string) ([]*entity.Contact, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
