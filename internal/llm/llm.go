package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/examengine/internal/llm/prompts"
	"github.com/pavelanni/examengine/internal/model"
)

// suggestion is the JSON object the model is asked to return.
type suggestion struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Client wraps an OpenAI-compatible API client and proposes scores for
// subjective answers.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName, variant string) (*Client, error) {
	if !prompts.IsValidVariant(variant) {
		return nil, fmt.Errorf("invalid prompt variant %q", variant)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: prompts.PromptVariant(variant),
	}, nil
}

// Ping checks that the endpoint answers a model listing.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// SuggestScore asks the model for a score and feedback for one subjective
// answer. The caller decides whether to use it.
func (c *Client) SuggestScore(ctx context.Context, q model.SnapshotQuestion, answer model.Answer) (model.GradeSuggestion, error) {
	prompt, err := prompts.BuildGradePrompt(c.variant, q, answer.Payload)
	if err != nil {
		return model.GradeSuggestion{}, err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return model.GradeSuggestion{}, fmt.Errorf("LLM grading API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.GradeSuggestion{}, fmt.Errorf("LLM returned no choices for grading")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)

	var s suggestion
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return model.GradeSuggestion{}, fmt.Errorf("parse grading response: %w (raw: %s)", err, raw)
	}
	return model.GradeSuggestion{
		AnswerID: answer.ID,
		Score:    s.Score,
		MaxScore: q.Points,
		Feedback: s.Feedback,
	}, nil
}
