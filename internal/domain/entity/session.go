package entity

import (
	"time"

	"github.com/haowenli/ai-call-agent/internal/domain/workflow"
)

// CallSession represents one concrete telephony attempt tied to a CallTask.
// Identity is immutable after creation; status is mutated only by the
// webhook reconciler. A task may accumulate several sessions across retries.
type CallSession struct {
	ID             string                  `json:"id"`
	CallTaskID     string                  `json:"call_task_id"`
	UserID         string                  `json:"user_id"`
	ProviderCallID string                  `json:"provider_call_id"`
	Status         workflow.SessionStatus  `json:"status"`
	StartedAt      time.Time               `json:"started_at"`
	EndedAt        *time.Time              `json:"ended_at,omitempty"`
}

// TranscriptEntry is a single attributed line of call speech.
type TranscriptEntry struct {
	Speaker string `json:"speaker"`
	Message string `json:"message"`
}

// CallTranscript is the append-only text log for one session. Created empty
// at session start; the telephony collaborator appends entries as audio is
// transcribed.
type CallTranscript struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Entries   []TranscriptEntry `json:"entries"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Speaker labels used in transcript entries. The assistant side is the AI
// caller; everything else is treated as the business party.
const (
	SpeakerAssistant = "assistant"
	SpeakerBusiness  = "business"
)
