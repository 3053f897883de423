package service

import (
	"context"
	"time"

	"github.com/haowenli/ai-call-agent/internal/application/port"
	"github.com/haowenli/ai-call-agent/internal/domain/entity"
	"github.com/haowenli/ai-call-agent/internal/domain/workflow"
	"github.com/haowenli/ai-call-agent/pkg/retry"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond}
}

func freshBreaker() *retry.Breaker {
	return retry.NewBreaker(5, time.Minute)
}

type mockTaskRepo struct {
	createFunc                 func(ctx context.Context, task *entity.CallTask) error
	getByIDFunc                func(ctx context.Context, id string) (*entity.CallTask, error)
	listByUserFunc             func(ctx context.Context, userID string) ([]*entity.CallTask, error)
	listNeedingReconcFunc      func(ctx context.Context) ([]*entity.CallTask, error)
	updateFunc                 func(ctx context.Context, task *entity.CallTask) error
	updateStatusFunc           func(ctx context.Context, id string, from, to workflow.State) (bool, error)
	incrementRetryCountFunc    func(ctx context.Context, id string) error
	setNeedsReconciliationFunc func(ctx context.Context, id string, needed bool) error
}

func (m *mockTaskRepo) Create(ctx context.Context, task *entity.CallTask) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, task)
	}
	return nil
}

func (m *mockTaskRepo) GetByID(ctx context.Context, id string) (*entity.CallTask, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockTaskRepo) ListByUser(ctx context.Context, userID string) ([]*entity.CallTask, error) {
	if m.listByUserFunc != nil {
		return m.listByUserFunc(ctx, userID)
	}
	return nil, nil
}

func (m *mockTaskRepo) ListNeedingReconciliation(ctx context.Context) ([]*entity.CallTask, error) {
	if m.listNeedingReconcFunc != nil {
		return m.listNeedingReconcFunc(ctx)
	}
	return nil, nil
}

func (m *mockTaskRepo) Update(ctx context.Context, task *entity.CallTask) error {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, task)
	}
	return nil
}

func (m *mockTaskRepo) UpdateStatus(ctx context.Context, id string, from, to workflow.State) (bool, error) {
	if m.updateStatusFunc != nil {
		return m.updateStatusFunc(ctx, id, from, to)
	}
	return true, nil
}

func (m *mockTaskRepo) IncrementRetryCount(ctx context.Context, id string) error {
	if m.incrementRetryCountFunc != nil {
		return m.incrementRetryCountFunc(ctx, id)
	}
	return nil
}

func (m *mockTaskRepo) SetNeedsReconciliation(ctx context.Context, id string, needed bool) error {
	if m.setNeedsReconciliationFunc != nil {
		return m.setNeedsReconciliationFunc(ctx, id, needed)
	}
	return nil
}

type mockSessionRepo struct {
	createFunc              func(ctx context.Context, session *entity.CallSession) error
	getByIDFunc             func(ctx context.Context, id string) (*entity.CallSession, error)
	getByProviderCallIDFunc func(ctx context.Context, providerCallID string) (*entity.CallSession, error)
	getLatestByTaskIDFunc   func(ctx context.Context, taskID string) (*entity.CallSession, error)
	updateStatusFunc        func(ctx context.Context, id string, status workflow.SessionStatus, endedAt *time.Time) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *entity.CallSession) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) GetByID(ctx context.Context, id string) (*entity.CallSession, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (*entity.CallSession, error) {
	if m.getByProviderCallIDFunc != nil {
		return m.getByProviderCallIDFunc(ctx, providerCallID)
	}
	return nil, nil
}

func (m *mockSessionRepo) GetLatestByTaskID(ctx context.Context, taskID string) (*entity.CallSession, error) {
	if m.getLatestByTaskIDFunc != nil {
		return m.getLatestByTaskIDFunc(ctx, taskID)
	}
	return nil, nil
}

func (m *mockSessionRepo) UpdateStatus(ctx context.Context, id string, status workflow.SessionStatus, endedAt *time.Time) error {
	if m.updateStatusFunc != nil {
		return m.updateStatusFunc(ctx, id, status, endedAt)
	}
	return nil
}

type mockTranscriptRepo struct {
	createFunc         func(ctx context.Context, transcript *entity.CallTranscript) error
	getBySessionIDFunc func(ctx context.Context, sessionID string) (*entity.CallTranscript, error)
	appendEntriesFunc  func(ctx context.Context, sessionID string, entries []entity.TranscriptEntry) error
}

func (m *mockTranscriptRepo) Create(ctx context.Context, transcript *entity.CallTranscript) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, transcript)
	}
	return nil
}

func (m *mockTranscriptRepo) GetBySessionID(ctx context.Context, sessionID string) (*entity.CallTranscript, error) {
	if m.getBySessionIDFunc != nil {
		return m.getBySessionIDFunc(ctx, sessionID)
	}
	return nil, nil
}

func (m *mockTranscriptRepo) AppendEntries(ctx context.Context, sessionID string, entries []entity.TranscriptEntry) error {
	if m.appendEntriesFunc != nil {
		return m.appendEntriesFunc(ctx, sessionID, entries)
	}
	return nil
}

type mockPriceRepo struct {
	saveForSessionFunc func(ctx context.Context, sessionID string, prices []entity.ExtractedPrice, fees []entity.Fee) error
	getBySessionIDFunc func(ctx context.Context, sessionID string) ([]entity.ExtractedPrice, []entity.Fee, error)
}

func (m *mockPriceRepo) SaveForSession(ctx context.Context, sessionID string, prices []entity.ExtractedPrice, fees []entity.Fee) error {
	if m.saveForSessionFunc != nil {
		return m.saveForSessionFunc(ctx, sessionID, prices, fees)
	}
	return nil
}

func (m *mockPriceRepo) GetBySessionID(ctx context.Context, sessionID string) ([]entity.ExtractedPrice, []entity.Fee, error) {
	if m.getBySessionIDFunc != nil {
		return m.getBySessionIDFunc(ctx, sessionID)
	}
	return nil, nil, nil
}

type mockContactRepo struct {
	createFunc     func(ctx context.Context, contact *entity.Contact) error
	getByIDFunc    func(ctx context.Context, id string) (*entity.Contact, error)
	listByUserFunc func(ctx context.Context, userID string) ([]*entity.Contact, error)
}

func (m *mockContactRepo) Create(ctx context.Context, contact *entity.Contact) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, contact)
	}
	return nil
}

func (m *mockContactRepo) GetByID(ctx context.Context, id string) (*entity.Contact, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockContactRepo) ListByUser(ctx context.Context, userID string) ([]*entity.Contact, error) {
	if m.listByUserFunc != nil {
		return m.listByUserFunc(ctx, userID)
	}
	return nil, nil
}

type mockPlanner struct {
	planFunc   func(ctx context.Context, instruction string) (*entity.AIPlan, error)
	scriptFunc func(ctx context.Context, task *entity.CallTask) (string, error)
}

func (m *mockPlanner) PlanCallTask(ctx context.Context, instruction string) (*entity.AIPlan, error) {
	if m.planFunc != nil {
		return m.planFunc(ctx, instruction)
	}
	return &entity.AIPlan{Goal: instruction}, nil
}

func (m *mockPlanner) GenerateCallScript(ctx context.Context, task *entity.CallTask) (string, error) {
	if m.scriptFunc != nil {
		return m.scriptFunc(ctx, task)
	}
	return "Hello, this is a call on behalf of a customer.", nil
}

type mockTelephony struct {
	configured   *bool
	makeCallFunc func(ctx context.Context, req port.CallRequest) (*port.CallPlacement, error)
}

func (m *mockTelephony) IsConfigured() bool {
	if m.configured != nil {
		return *m.configured
	}
	return true
}

func (m *mockTelephony) MakeCall(ctx context.Context, req port.CallRequest) (*port.CallPlacement, error) {
	if m.makeCallFunc != nil {
		return m.makeCallFunc(ctx, req)
	}
	return &port.CallPlacement{ProviderCallID: "CA-test", Status: "queued"}, nil
}

type mockNotifier struct {
	notifyFunc func(ctx context.Context, userID string, outcome *port.CallOutcome) error
}

func (m *mockNotifier) NotifyCallOutcome(ctx context.Context, userID string, outcome *port.CallOutcome) error {
	if m.notifyFunc != nil {
		return m.notifyFunc(ctx, userID, outcome)
	}
	return nil
}

func boolPtr(b bool) *bool                      { return &b }
func strPtr(s string) *string                   { return &s }
func statePtr(s workflow.State) *workflow.State { return &s }
