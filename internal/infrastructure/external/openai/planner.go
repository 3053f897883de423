package openai

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/haowenli/ai-call-agent/internal/domain/entity"
)

// Planner implements port.CallPlanner using OpenAI chat completions.
type Planner struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewPlanner creates a new OpenAI planner
func NewPlanner(apiKey, model string, temperature float32, logger *zap.Logger) *Planner {
	return &Planner{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		logger:      logger,
	}
}

// planResponse mirrors the JSON contract the planning prompt asks for.
type planResponse struct {
	Goal                  string            `json:"goal"`
	Steps                 []string          `json:"steps"`
	QuestionsToAsk        []string          `json:"questions_to_ask"`
	MissingInfo           []string          `json:"missing_info"`
	RequiresClarification bool              `json:"requires_clarification"`
	HardConstraints       map[string]string `json:"hard_constraints"`
	SoftPreferences       map[string]string `json:"soft_preferences"`
}

// PlanCallTask turns a raw user instruction into a structured call plan.
func (p *Planner) PlanCallTask(ctx context.Context, instruction string) (*entity.AIPlan, error) {
	p.logger.Debug("Planning call task",
		zap.Int("instruction_length", len(instruction)))

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: p.temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: planSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPlanPrompt(instruction),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		p.logger.Error("OpenAI API call failed", zap.Error(err))
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	content := resp.Choices[0].Message.Content

	var result planResponse
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		// Fallback: try to extract JSON from markdown code blocks
		if jsonStr := extractJSON(content); jsonStr != "" {
			if err := json.Unmarshal([]byte(jsonStr), &result); err == nil {
				p.logger.Info("Extracted JSON from response")
				return toAIPlan(&result), nil
			}
		}

		p.logger.Error("Failed to parse OpenAI response",
			zap.Error(err),
			zap.String("content", content))
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	p.logger.Info("Call task planned",
		zap.String("goal", result.Goal),
		zap.Int("missing_info_count", len(result.MissingInfo)),
		zap.Bool("requires_clarification", result.RequiresClarification))

	return toAIPlan(&result), nil
}

// GenerateCallScript produces the opening script the voice agent follows
// on the call.
func (p *Planner) GenerateCallScript(ctx context.Context, task *entity.CallTask) (string, error) {
	p.logger.Debug("Generating call script",
		zap.String("task_id", task.ID))

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: p.temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: scriptSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildScriptPrompt(task),
			},
		},
	})
	if err != nil {
		p.logger.Error("OpenAI API call failed", zap.Error(err))
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}

	script := resp.Choices[0].Message.Content

	p.logger.Info("Call script generated",
		zap.String("task_id", task.ID),
		zap.Int("script_length", len(script)))

	return script, nil
}

// toAIPlan converts the response payload to the domain plan
func toAIPlan(result *planResponse) *entity.AIPlan {
	return &entity.AIPlan{
		Goal:                  result.Goal,
		Steps:                 result.Steps,
		QuestionsToAsk:        result.QuestionsToAsk,
		MissingInfo:           result.MissingInfo,
		RequiresClarification: result.RequiresClarification,
		HardConstraints:       result.HardConstraints,
		SoftPreferences:       result.SoftPreferences,
	}
}

// extractJSON extracts JSON from markdown code blocks
func extractJSON(content string) string {
	start := findJSONStart(content)
	if start < 0 {
		return ""
	}
	end := findJSONEnd(content, start)
	if end <= start {
		return ""
	}
	return content[start:end]
}

// findJSONStart finds the start of JSON content in a string
func findJSONStart(content string) int {
	for i := 0; i < len(content); i++ {
		if content[i] == '{' {
			return i
		}
	}
	return -1
}

// findJSONEnd finds the end of JSON content starting at a given position
func findJSONEnd(content string, start int) int {
	if start < 0 || start >= len(content) || content[start] != '{' {
		return -1
	}

	braceCount := 0
	inString := false
	escapeNext := false

	for i := start; i < len(content); i++ {
		char := content[i]

		if escapeNext {
			escapeNext = false
			continue
		}

		if char == '\\' {
			escapeNext = true
			continue
		}

		if char == '"' && !escapeNext {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		if char == '{' {
			braceCount++
		} else if char == '}' {
			braceCount--
			if braceCount == 0 {
				return i + 1
			}
		}
	}

	return -1
}
