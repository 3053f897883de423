package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haowenli/ai-call-agent/internal/domain/entity"
	"github.com/haowenli/ai-call-agent/internal/domain/workflow"
)

type webhookFixture struct {
	taskRepo       *mockTaskRepo
	sessionRepo    *mockSessionRepo
	transcriptRepo *mockTranscriptRepo
	priceRepo      *mockPriceRepo
	svc            WebhookService
}

func newWebhookFixture(task *entity.CallTask, session *entity.CallSession, policy RetryPolicy) *webhookFixture {
	f := &webhookFixture{
		taskRepo: &mockTaskRepo{
			getByIDFunc: func(ctx context.Context, id string) (*entity.CallTask, error) {
				if task != nil && task.ID == id {
					return task, nil
				}
				return nil, nil
			},
		},
		sessionRepo: &mockSessionRepo{
			getByProviderCallIDFunc: func(ctx context.Context, providerCallID string) (*entity.CallSession, error) {
				if session != nil && session.ProviderCallID == providerCallID {
					return session, nil
				}
				return nil, nil
			},
		},
		transcriptRepo: &mockTranscriptRepo{},
		priceRepo:      &mockPriceRepo{},
	}
	f.svc = NewWebhookService(f.taskRepo, f.sessionRepo, f.transcriptRepo, f.priceRepo, policy, nil, nopLogger{})
	return f
}

func liveTask() *entity.CallTask {
	return &entity.CallTask{ID: "task-1", UserID: "user-1", Status: workflow.StateInProgress}
}

func liveSession(status workflow.SessionStatus) *entity.CallSession {
	return &entity.CallSession{
		ID:             "sess-1",
		CallTaskID:     "task-1",
		UserID:         "user-1",
		ProviderCallID: "CA-1",
		Status:         status,
		StartedAt:      time.Now(),
	}
}

func TestOnProviderStatus_Mapping(t *testing.T) {
	tests := []struct {
		provider string
		expected workflow.SessionStatus
	}{
		{"ringing", workflow.SessionRinging},
		{"in-progress", workflow.SessionConnected},
		{"completed", workflow.SessionCompleted},
		{"busy", workflow.SessionFailed},
		{"no-answer", workflow.SessionFailed},
		{"failed", workflow.SessionFailed},
		{"canceled", workflow.SessionCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			f := newWebhookFixture(liveTask(), liveSession(workflow.SessionInitiated), RetryPolicy{})

			var written workflow.SessionStatus
			f.sessionRepo.updateStatusFunc = func(ctx context.Context, id string, status workflow.SessionStatus, endedAt *time.Time) error {
				written = status
				if status.IsTerminal() {
					assert.NotNil(t, endedAt, "terminal statuses must set endedAt")
				} else {
					assert.Nil(t, endedAt)
				}
				return nil
			}

			require.NoError(t, f.svc.OnProviderStatus(context.Background(), "CA-1", tt.provider))
			assert.Equal(t, tt.expected, written)
		})
	}
}

func TestOnProviderStatus_UnknownStatusIgnored(t *testing.T) {
	f := newWebhookFixture(liveTask(), liveSession(workflow.SessionRinging), RetryPolicy{})

	updated := false
	f.sessionRepo.updateStatusFunc = func(ctx context.Context, id string, status workflow.SessionStatus, endedAt *time.Time) error {
		updated = true
		return nil
	}

	require.NoError(t, f.svc.OnProviderStatus(context.Background(), "CA-1", "machine-detected"))
	assert.False(t, updated)
}

func TestOnProviderStatus_DuplicateDeliveryIsNoOp(t *testing.T) {
	f := newWebhookFixture(liveTask(), liveSession(workflow.SessionRinging), RetryPolicy{})

	updated := false
	f.sessionRepo.updateStatusFunc = func(ctx context.Context, id string, status workflow.SessionStatus, endedAt *time.Time) error {
		updated = true
		return nil
	}

	require.NoError(t, f.svc.OnProviderStatus(context.Background(), "CA-1", "ringing"))
	assert.False(t, updated)
}

func TestOnProviderStatus_BackwardStatusIgnored(t *testing.T) {
	f := newWebhookFixture(liveTask(), liveSession(workflow.SessionConnected), RetryPolicy{})

	updated := false
	f.sessionRepo.updateStatusFunc = func(ctx context.Context, id string, status workflow.SessionStatus, endedAt *time.Time) error {
		updated = true
		return nil
	}

	require.NoError(t, f.svc.OnProviderStatus(context.Background(), "CA-1", "ringing"))
	assert.False(t, updated)
}

func TestOnProviderStatus_TerminalSessionNotRewritten(t *testing.T) {
	f := newWebhookFixture(liveTask(), liveSession(workflow.SessionCancelled), RetryPolicy{})

	updated := false
	f.sessionRepo.updateStatusFunc = func(ctx context.Context, id string, status workflow.SessionStatus, endedAt *time.Time) error {
		updated = true
		return nil
	}

	require.NoError(t, f.svc.OnProviderStatus(context.Background(), "CA-1", "completed"))
	assert.False(t, updated)
}

func TestOnProviderStatus_CompletedExtractsPrices(t *testing.T) {
	f := newWebhookFixture(liveTask(), liveSession(workflow.SessionConnected), RetryPolicy{})

	f.transcriptRepo.getBySessionIDFunc = func(ctx context.Context, sessionID string) (*entity.CallTranscript, error) {
		return &entity.CallTranscript{
			ID:        "tr-1",
			SessionID: sessionID,
			Entries: []entity.TranscriptEntry{
				{Speaker: entity.SpeakerAssistant, Message: "How much for a large pizza?"},
				{Speaker: entity.SpeakerBusiness, Message: "That'll be $12.50 for a large cheese pizza, plus tax."},
			},
		}, nil
	}

	var savedPrices []entity.ExtractedPrice
	f.priceRepo.saveForSessionFunc = func(ctx context.Context, sessionID string, prices []entity.ExtractedPrice, fees []entity.Fee) error {
		savedPrices = prices
		return nil
	}

	var casTo workflow.State
	f.taskRepo.updateStatusFunc = func(ctx context.Context, id string, from, to workflow.State) (bool, error) {
		casTo = to
		return true, nil
	}

	require.NoError(t, f.svc.OnProviderStatus(context.Background(), "CA-1", "completed"))

	assert.Equal(t, workflow.StateCompleted, casTo)
	require.Len(t, savedPrices, 1)
	assert.Equal(t, 12.50, savedPrices[0].Price)
}

func TestOnProviderStatus_FailedWithRetryBudget(t *testing.T) {
	task := liveTask()
	task.RetryCount = 1
	f := newWebhookFixture(task, liveSession(workflow.SessionConnected), RetryPolicy{
		AutoRetryFailedCalls: true,
		MaxRetryAttempts:     2,
	})

	incremented := false
	f.taskRepo.incrementRetryCountFunc = func(ctx context.Context, id string) error {
		incremented = true
		return nil
	}
	var casFrom, casTo workflow.State
	f.taskRepo.updateStatusFunc = func(ctx context.Context, id string, from, to workflow.State) (bool, error) {
		casFrom = from
		casTo = to
		return true, nil
	}

	require.NoError(t, f.svc.OnProviderStatus(context.Background(), "CA-1", "failed"))

	assert.True(t, incremented)
	// This edge exists only for the reconciler; the public transition
	// table does not carry it.
	assert.Equal(t, workflow.StateInProgress, casFrom)
	assert.Equal(t, workflow.StateReadyToCall, casTo)
	assert.Equal(t, 2, task.RetryCount)
}

func TestOnProviderStatus_FailedRetryDroppedWhenTaskMovedOn(t *testing.T) {
	task := liveTask()
	f := newWebhookFixture(task, liveSession(workflow.SessionConnected), RetryPolicy{
		AutoRetryFailedCalls: true,
		MaxRetryAttempts:     2,
	})

	casCalls := 0
	f.taskRepo.updateStatusFunc = func(ctx context.Context, id string, from, to workflow.State) (bool, error) {
		casCalls++
		// A concurrent cancel won the write.
		return false, nil
	}

	require.NoError(t, f.svc.OnProviderStatus(context.Background(), "CA-1", "failed"))
	assert.Equal(t, 1, casCalls, "a lost redial write must not be retried or escalated")
}

func TestOnProviderStatus_CompletedFlagsTaskWhenSaveFails(t *testing.T) {
	f := newWebhookFixture(liveTask(), liveSession(workflow.SessionConnected), RetryPolicy{})

	f.transcriptRepo.getBySessionIDFunc = func(ctx context.Context, sessionID string) (*entity.CallTranscript, error) {
		return &entity.CallTranscript{
			ID:        "tr-1",
			SessionID: sessionID,
			Entries: []entity.TranscriptEntry{
				{Speaker: entity.SpeakerBusiness, Message: "The haircut is $35."},
			},
		}, nil
	}
	f.priceRepo.saveForSessionFunc = func(ctx context.Context, sessionID string, prices []entity.ExtractedPrice, fees []entity.Fee) error {
		return assert.AnError
	}
	f.taskRepo.updateStatusFunc = func(ctx context.Context, id string, from, to workflow.State) (bool, error) {
		return true, nil
	}

	var flagged *bool
	f.taskRepo.setNeedsReconciliationFunc = func(ctx context.Context, id string, needed bool) error {
		flagged = &needed
		return nil
	}

	// The session goes terminal either way; the flag is what lets an
	// operator re-run the extraction later.
	require.NoError(t, f.svc.OnProviderStatus(context.Background(), "CA-1", "completed"))
	require.NotNil(t, flagged)
	assert.True(t, *flagged)
}

func TestOnProviderStatus_FailedWithExhaustedRetries(t *testing.T) {
	task := liveTask()
	task.RetryCount = 2
	f := newWebhookFixture(task, liveSession(workflow.SessionConnected), RetryPolicy{
		AutoRetryFailedCalls: true,
		MaxRetryAttempts:     2,
	})

	incremented := false
	f.taskRepo.incrementRetryCountFunc = func(ctx context.Context, id string) error {
		incremented = true
		return nil
	}
	var casTo workflow.State
	f.taskRepo.updateStatusFunc = func(ctx context.Context, id string, from, to workflow.State) (bool, error) {
		casTo = to
		return true, nil
	}

	require.NoError(t, f.svc.OnProviderStatus(context.Background(), "CA-1", "failed"))

	assert.False(t, incremented)
	assert.Equal(t, workflow.StateFailed, casTo)
}

func TestOnProviderStatus_FailedWithoutAutoRetry(t *testing.T) {
	f := newWebhookFixture(liveTask(), liveSession(workflow.SessionConnected), RetryPolicy{
		AutoRetryFailedCalls: false,
		MaxRetryAttempts:     2,
	})

	var casTo workflow.State
	f.taskRepo.updateStatusFunc = func(ctx context.Context, id string, from, to workflow.State) (bool, error) {
		casTo = to
		return true, nil
	}

	require.NoError(t, f.svc.OnProviderStatus(context.Background(), "CA-1", "failed"))
	assert.Equal(t, workflow.StateFailed, casTo)
}

func TestOnProviderStatus_FailedAfterUserCancellation(t *testing.T) {
	task := liveTask()
	task.Status = workflow.StateCancelled
	f := newWebhookFixture(task, liveSession(workflow.SessionConnected), RetryPolicy{
		AutoRetryFailedCalls: true,
		MaxRetryAttempts:     2,
	})

	casCalled := false
	f.taskRepo.updateStatusFunc = func(ctx context.Context, id string, from, to workflow.State) (bool, error) {
		casCalled = true
		return true, nil
	}

	// The provider's terminal report is accepted for the session, but the
	// cancelled task must not be "un-cancelled" or retried.
	require.NoError(t, f.svc.OnProviderStatus(context.Background(), "CA-1", "failed"))
	assert.False(t, casCalled)
}

func TestOnProviderStatus_CancelledIsUnconditional(t *testing.T) {
	f := newWebhookFixture(liveTask(), liveSession(workflow.SessionRinging), RetryPolicy{
		AutoRetryFailedCalls: true,
		MaxRetryAttempts:     5,
	})

	var casTo workflow.State
	f.taskRepo.updateStatusFunc = func(ctx context.Context, id string, from, to workflow.State) (bool, error) {
		casTo = to
		return true, nil
	}

	require.NoError(t, f.svc.OnProviderStatus(context.Background(), "CA-1", "canceled"))
	assert.Equal(t, workflow.StateCancelled, casTo)
}

func TestOnProviderStatus_RepairsOrphanedSession(t *testing.T) {
	task := liveTask()
	task.NeedsReconciliation = true
	f := newWebhookFixture(task, nil, RetryPolicy{})

	f.taskRepo.listNeedingReconcFunc = func(ctx context.Context) ([]*entity.CallTask, error) {
		return []*entity.CallTask{task}, nil
	}

	var createdSession *entity.CallSession
	f.sessionRepo.createFunc = func(ctx context.Context, session *entity.CallSession) error {
		createdSession = session
		return nil
	}
	var clearedFlag *bool
	f.taskRepo.setNeedsReconciliationFunc = func(ctx context.Context, id string, needed bool) error {
		clearedFlag = &needed
		return nil
	}
	var written workflow.SessionStatus
	f.sessionRepo.updateStatusFunc = func(ctx context.Context, id string, status workflow.SessionStatus, endedAt *time.Time) error {
		written = status
		return nil
	}

	require.NoError(t, f.svc.OnProviderStatus(context.Background(), "CA-orphan", "ringing"))

	require.NotNil(t, createdSession)
	assert.Equal(t, "task-1", createdSession.CallTaskID)
	assert.Equal(t, "CA-orphan", createdSession.ProviderCallID)
	require.NotNil(t, clearedFlag)
	assert.False(t, *clearedFlag)
	assert.Equal(t, workflow.SessionRinging, written)
}

func TestOnProviderStatus_UnknownCallIgnoredWithoutCandidates(t *testing.T) {
	f := newWebhookFixture(liveTask(), nil, RetryPolicy{})

	created := false
	f.sessionRepo.createFunc = func(ctx context.Context, session *entity.CallSession) error {
		created = true
		return nil
	}

	require.NoError(t, f.svc.OnProviderStatus(context.Background(), "CA-unknown", "completed"))
	assert.False(t, created)
}

func TestAppendTranscript_AppendsToSession(t *testing.T) {
	f := newWebhookFixture(liveTask(), liveSession(workflow.SessionConnected), RetryPolicy{})

	var gotSessionID string
	var gotEntries []entity.TranscriptEntry
	f.transcriptRepo.appendEntriesFunc = func(ctx context.Context, sessionID string, entries []entity.TranscriptEntry) error {
		gotSessionID = sessionID
		gotEntries = entries
		return nil
	}

	entries := []entity.TranscriptEntry{
		{Speaker: entity.SpeakerAssistant, Message: "Hi, do you have availability on Friday?"},
		{Speaker: entity.SpeakerBusiness, Message: "We do, it is eighty dollars."},
	}
	require.NoError(t, f.svc.AppendTranscript(context.Background(), "CA-1", entries))

	assert.Equal(t, "sess-1", gotSessionID)
	assert.Len(t, gotEntries, 2)
}

func TestAppendTranscript_UnknownCallDropped(t *testing.T) {
	f := newWebhookFixture(liveTask(), nil, RetryPolicy{})

	appended := false
	f.transcriptRepo.appendEntriesFunc = func(ctx context.Context, sessionID string, entries []entity.TranscriptEntry) error {
		appended = true
		return nil
	}

	err := f.svc.AppendTranscript(context.Background(), "CA-unknown", []entity.TranscriptEntry{
		{Speaker: entity.SpeakerBusiness, Message: "Hello?"},
	})
	require.NoError(t, err)
	assert.False(t, appended)
}
