package port

import (
	"context"

	"github.com/haowenli/ai-call-agent/internal/domain/entity"
)

// CallPlanner defines AI planning operations
type CallPlanner interface {
	// PlanCallTask turns a raw user instruction into a structured plan
	PlanCallTask(ctx context.Context, instruction string) (*entity.AIPlan, error)

	// GenerateCallScript produces the opening script the voice agent follows
	GenerateCallScript(ctx context.Context, task *entity.CallTask) (string, error)
}

// CallContext is the structured guidance passed along with a dial request
type CallContext struct {
	HardConstraints map[string]string
	SoftPreferences map[string]string
	MaxPrice        *float64
	Tone            string
}

// CallRequest carries everything the telephony provider needs to dial
type CallRequest struct {
	To          string
	Label       string
	UserRequest string
	Script      string
	TaskID      string
	Context     CallContext
}

// CallPlacement is the provider's acknowledgement of a dialed call
type CallPlacement struct {
	ProviderCallID string
	Status         string
}

// TelephonyProvider defines outbound call operations
type TelephonyProvider interface {
	// IsConfigured reports whether credentials are present. Callers must
	// check this before MakeCall.
	IsConfigured() bool

	MakeCall(ctx context.Context, req CallRequest) (*CallPlacement, error)
}

// CallOutcome summarizes a finished call for user-facing notification
type CallOutcome struct {
	TaskID       string
	BusinessName string
	Succeeded    bool
	Summary      string
	Prices       []entity.ExtractedPrice
}

// Notifier defines user notification operations
type Notifier interface {
	NotifyCallOutcome(ctx context.Context, userID string, outcome *CallOutcome) error
}

// ReportExporter renders extraction results into a downloadable report
type ReportExporter interface {
	ExportPriceReport(ctx context.Context, task *entity.CallTask, prices []entity.ExtractedPrice, fees []entity.Fee) (string, error)
}
