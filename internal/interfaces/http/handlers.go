package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/haowenli/ai-call-agent/internal/application/service"
	"github.com/haowenli/ai-call-agent/internal/domain/entity"
	"github.com/haowenli/ai-call-agent/internal/domain/workflow"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	taskService    service.TaskService
	callService    service.CallService
	webhookService service.WebhookService
	contactService service.ContactService
	reportService  service.ReportService
	logger         Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	taskService service.TaskService,
	callService service.CallService,
	webhookService service.WebhookService,
	contactService service.ContactService,
	reportService service.ReportService,
	logger Logger,
) *Handlers {
	return &Handlers{
		taskService:    taskService,
		callService:    callService,
		webhookService: webhookService,
		contactService: contactService,
		reportService:  reportService,
		logger:         logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// TaskResponse represents a call task in API responses
type TaskResponse struct {
	ID                  string         `json:"id"`
	UserID              string         `json:"user_id"`
	RawInstruction      string         `json:"raw_instruction"`
	Status              string         `json:"status"`
	Plan                *entity.AIPlan `json:"plan,omitempty"`
	TargetPhoneNumber   string         `json:"target_phone_number,omitempty"`
	ContactID           string         `json:"contact_id,omitempty"`
	BusinessName        string         `json:"business_name,omitempty"`
	Tone                string         `json:"tone,omitempty"`
	MaxPrice            *float64       `json:"max_price,omitempty"`
	RetryCount          int            `json:"retry_count"`
	NeedsReconciliation bool           `json:"needs_reconciliation,omitempty"`
	CreatedAt           string         `json:"created_at"`
	UpdatedAt           string         `json:"updated_at"`
}

// CreateTaskRequest represents the body of POST /api/v1/tasks
type CreateTaskRequest struct {
	Instruction       string   `json:"instruction" binding:"required"`
	TargetPhoneNumber string   `json:"target_phone_number"`
	ContactID         string   `json:"contact_id"`
	BusinessName      string   `json:"business_name"`
	Tone              string   `json:"tone"`
	MaxPrice          *float64 `json:"max_price"`
}

// UpdateTaskRequest represents the body of PATCH /api/v1/tasks/:id.
// Absent fields are left unchanged.
type UpdateTaskRequest struct {
	TargetPhoneNumber *string  `json:"target_phone_number"`
	ContactID         *string  `json:"contact_id"`
	BusinessName      *string  `json:"business_name"`
	Tone              *string  `json:"tone"`
	MaxPrice          *float64 `json:"max_price"`
	Status            *string  `json:"status"`
}

// StartCallResponse represents the result of POST /api/v1/tasks/:id/call
type StartCallResponse struct {
	Task           TaskResponse `json:"task"`
	SessionID      string       `json:"session_id,omitempty"`
	ProviderCallID string       `json:"provider_call_id"`
	Script         string       `json:"script"`
}

// CreateContactRequest represents the body of POST /api/v1/contacts
type CreateContactRequest struct {
	Name        string `json:"name" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required"`
}

// ProviderStatusRequest is the telephony provider's status callback payload
type ProviderStatusRequest struct {
	CallID     string                   `json:"call_id" binding:"required"`
	Status     string                   `json:"status" binding:"required"`
	Transcript []TranscriptEntryPayload `json:"transcript"`
}

// TranscriptEntryPayload is one attributed speech line in a callback
type TranscriptEntryPayload struct {
	Speaker string `json:"speaker"`
	Message string `json:"message"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// CreateTask handles POST /api/v1/tasks
func (h *Handlers) CreateTask(c *gin.Context) {
	userID := h.userID(c)
	if userID == "" {
		return
	}

	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	task, err := h.taskService.CreateTask(c.Request.Context(), service.CreateTaskRequest{
		UserID:            userID,
		Instruction:       req.Instruction,
		TargetPhoneNumber: req.TargetPhoneNumber,
		ContactID:         req.ContactID,
		BusinessName:      req.BusinessName,
		Tone:              req.Tone,
		MaxPrice:          req.MaxPrice,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: toTaskResponse(task)})
}

// ListTasks handles GET /api/v1/tasks
func (h *Handlers) ListTasks(c *gin.Context) {
	userID := h.userID(c)
	if userID == "" {
		return
	}

	tasks, err := h.taskService.ListTasks(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	responses := make([]TaskResponse, 0, len(tasks))
	for _, task := range tasks {
		responses = append(responses, toTaskResponse(task))
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: responses})
}

// GetTask handles GET /api/v1/tasks/:id
func (h *Handlers) GetTask(c *gin.Context) {
	userID := h.userID(c)
	if userID == "" {
		return
	}

	task, err := h.taskService.GetTask(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: toTaskResponse(task)})
}

// UpdateTask handles PATCH /api/v1/tasks/:id
func (h *Handlers) UpdateTask(c *gin.Context) {
	userID := h.userID(c)
	if userID == "" {
		return
	}

	var req UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	update := service.UpdateTaskRequest{
		TargetPhoneNumber: req.TargetPhoneNumber,
		ContactID:         req.ContactID,
		BusinessName:      req.BusinessName,
		Tone:              req.Tone,
		MaxPrice:          req.MaxPrice,
	}
	if req.Status != nil {
		status := workflow.State(*req.Status)
		if !status.IsValid() {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: "unknown status " + *req.Status})
			return
		}
		update.Status = &status
	}

	task, err := h.taskService.UpdateTask(c.Request.Context(), userID, c.Param("id"), update)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: toTaskResponse(task)})
}

// CancelTask handles POST /api/v1/tasks/:id/cancel
func (h *Handlers) CancelTask(c *gin.Context) {
	userID := h.userID(c)
	if userID == "" {
		return
	}

	task, err := h.taskService.CancelTask(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: toTaskResponse(task)})
}

// StartCall handles POST /api/v1/tasks/:id/call
func (h *Handlers) StartCall(c *gin.Context) {
	userID := h.userID(c)
	if userID == "" {
		return
	}

	result, err := h.callService.StartCall(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := StartCallResponse{
		Task:           toTaskResponse(result.Task),
		ProviderCallID: result.ProviderCallID,
		Script:         result.Script,
	}
	if result.Session != nil {
		resp.SessionID = result.Session.ID
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: resp})
}

// ExportReport handles GET /api/v1/tasks/:id/report
func (h *Handlers) ExportReport(c *gin.Context) {
	userID := h.userID(c)
	if userID == "" {
		return
	}

	path, err := h.reportService.ExportPriceReport(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"path": path}})
}

// CreateContact handles POST /api/v1/contacts
func (h *Handlers) CreateContact(c *gin.Context) {
	userID := h.userID(c)
	if userID == "" {
		return
	}

	var req CreateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	contact, err := h.contactService.CreateContact(c.Request.Context(), userID, req.Name, req.PhoneNumber)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: contact})
}

// ListContacts handles GET /api/v1/contacts
func (h *Handlers) ListContacts(c *gin.Context) {
	userID := h.userID(c)
	if userID == "" {
		return
	}

	contacts, err := h.contactService.ListContacts(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: contacts})
}

// ProviderStatus handles POST /webhook/telephony/status. Transcript lines
// riding along with the status are stored before the status itself is
// reconciled, so a terminal status sees the full transcript.
func (h *Handlers) ProviderStatus(c *gin.Context) {
	var req ProviderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid webhook payload"})
		return
	}

	if len(req.Transcript) > 0 {
		entries := make([]entity.TranscriptEntry, 0, len(req.Transcript))
		for _, e := range req.Transcript {
			entries = append(entries, entity.TranscriptEntry{Speaker: e.Speaker, Message: e.Message})
		}
		if err := h.webhookService.AppendTranscript(c.Request.Context(), req.CallID, entries); err != nil {
			h.logger.Error("Failed to store webhook transcript",
				"error", err,
				"call_id", req.CallID)
		}
	}

	if err := h.webhookService.OnProviderStatus(c.Request.Context(), req.CallID, req.Status); err != nil {
		h.logger.Error("Failed to reconcile provider status",
			"error", err,
			"call_id", req.CallID,
			"status", req.Status)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "reconciliation failed"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// userID extracts the caller identity; a missing header ends the request.
func (h *Handlers) userID(c *gin.Context) string {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: "missing X-User-ID header"})
	}
	return userID
}

// respondError maps service errors to HTTP status codes
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrPreconditionFailed),
		errors.Is(err, service.ErrConflict),
		errors.Is(err, workflow.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, service.ErrMissingPhoneNumber),
		errors.Is(err, service.ErrInvalidPhoneNumber):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrTelephonyNotConfigured):
		status = http.StatusServiceUnavailable
	case errors.Is(err, service.ErrExternalService):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Unhandled service error", "error", err)
		c.JSON(status, Response{Success: false, Error: "internal error"})
		return
	}

	c.JSON(status, Response{Success: false, Error: err.Error()})
}

// toTaskResponse converts domain entity to API response
func toTaskResponse(task *entity.CallTask) TaskResponse {
	return TaskResponse{
		ID:                  task.ID,
		UserID:              task.UserID,
		RawInstruction:      task.RawInstruction,
		Status:              task.Status.String(),
		Plan:                task.Plan,
		TargetPhoneNumber:   task.TargetPhoneNumber,
		ContactID:           task.ContactID,
		BusinessName:        task.BusinessName,
		Tone:                task.Tone,
		MaxPrice:            task.MaxPrice,
		RetryCount:          task.RetryCount,
		NeedsReconciliation: task.NeedsReconciliation,
		CreatedAt:           task.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           task.UpdatedAt.Format(time.RFC3339),
	}
}
