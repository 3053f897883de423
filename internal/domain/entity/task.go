package entity

import (
	"strings"
	"time"

	"github.com/haowenli/ai-call-agent/internal/domain/workflow"
)

// AIPlan is the structured goal produced by the planning collaborator from
// the user's raw instruction. Immutable once set except by explicit
// re-planning.
type AIPlan struct {
	Goal                  string            `json:"goal"`
	Steps                 []string          `json:"steps"`
	QuestionsToAsk        []string          `json:"questions_to_ask"`
	MissingInfo           []string          `json:"missing_info"`
	RequiresClarification bool              `json:"requires_clarification"`
	HardConstraints       map[string]string `json:"hard_constraints,omitempty"`
	SoftPreferences       map[string]string `json:"soft_preferences,omitempty"`
}

// MissingPhoneNumber reports whether the plan lists a phone number among
// the information still required before the call can be placed.
func (p *AIPlan) MissingPhoneNumber() bool {
	if p == nil {
		return false
	}
	for _, info := range p.MissingInfo {
		lower := strings.ToLower(info)
		if strings.Contains(lower, "phone") || strings.Contains(lower, "number") {
			return true
		}
	}
	return false
}

// CallTask represents one user intent to be fulfilled by a phone call.
type CallTask struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	RawInstruction string         `json:"raw_instruction"`
	Status         workflow.State `json:"status"`

	Plan *AIPlan `json:"ai_plan,omitempty"`

	// Exactly one of these must resolve to a non-empty phone number before
	// the task may enter ready_to_call or in_progress.
	TargetPhoneNumber string `json:"target_phone_number,omitempty"`
	ContactID         string `json:"contact_id,omitempty"`

	BusinessName string   `json:"business_name,omitempty"`
	Tone         string   `json:"tone,omitempty"`
	MaxPrice     *float64 `json:"max_price,omitempty"`

	RetryCount int `json:"retry_count"`

	// Set when a call was placed but the session record could not be
	// created; the reconciler repairs such tasks on the next webhook.
	NeedsReconciliation bool `json:"needs_reconciliation,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Contact is a weak reference target for a task's destination number.
type Contact struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	PhoneNumber string    `json:"phone_number"`
	CreatedAt   time.Time `json:"created_at"`
}
