package lark

import (
	"context"
	"encoding/json"
	"fmt"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/haowenli/ai-call-agent/internal/application/port"
)

// Notifier implements port.Notifier by sending Lark text messages to the
// task owner.
type Notifier struct {
	sdk           *SDKClient
	receiveIDType string
	logger        *zap.Logger
}

// NewNotifier creates a new Lark notifier
func NewNotifier(sdk *SDKClient, receiveIDType string, logger *zap.Logger) *Notifier {
	if receiveIDType == "" {
		receiveIDType = "open_id"
	}
	return &Notifier{
		sdk:           sdk,
		receiveIDType: receiveIDType,
		logger:        logger,
	}
}

// NotifyCallOutcome sends the outcome summary to the user.
func (n *Notifier) NotifyCallOutcome(ctx context.Context, userID string, outcome *port.CallOutcome) error {
	if userID == "" {
		return fmt.Errorf("userID cannot be empty")
	}
	if outcome == nil {
		return fmt.Errorf("outcome cannot be nil")
	}

	textJSON, err := json.Marshal(map[string]string{"text": outcome.Summary})
	if err != nil {
		return fmt.Errorf("marshal text content: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(n.receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(userID).
			MsgType("text").
			Content(string(textJSON)).
			Build()).
		Build()

	resp, err := n.sdk.GetClient().Im.Message.Create(ctx, req)
	if err != nil {
		n.logger.Error("Failed to send Lark message",
			zap.Error(err),
			zap.String("task_id", outcome.TaskID))
		return fmt.Errorf("lark send: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("lark send error: code=%d msg=%s", resp.Code, resp.Msg)
	}

	n.logger.Info("Call outcome notification sent",
		zap.String("task_id", outcome.TaskID),
		zap.Bool("succeeded", outcome.Succeeded),
		zap.Int("price_count", len(outcome.Prices)))

	return nil
}
