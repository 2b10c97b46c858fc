package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/platform/observability"
)

const (
	triagePromptID  = "triage_v1"
	enrichPromptID  = "enrich_v1"
	schemaVersion   = 1
	maxBodySnippet  = 1200
	triageMaxTokens = 400
	enrichMaxTokens = 600
)

const triageSystemPrompt = `You score one content item for a personalized digest.
Respond with a single JSON object and nothing else:
{"ai_score": <int 0-100>, "reason": "<short>", "is_relevant": <bool>, "is_novel": <bool>,
"categories": ["<tag>", ...], "should_deep_summarize": <bool>, "topic": "<short topic>",
"one_liner": "<one sentence>"}.
Score how worthwhile the item is to a reader following the named topic.
Do not assume any particular domain; judge relevance only against the given topic name.`

const enrichSystemPrompt = `You write a compact structured summary of one content item.
Respond with a single JSON object and nothing else:
{"summary": "<3-5 sentences>", "key_points": ["<point>", ...], "why_it_matters": "<one sentence>"}.`

// OpenAIClient implements Client against the OpenAI chat completions API.
type OpenAIClient struct {
	client  *openai.Client
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

func NewOpenAIClient(apiKey string, rps int, logger *zerolog.Logger) *OpenAIClient {
	if rps <= 0 {
		rps = 1
	}

	c := &OpenAIClient{
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		logger:  logger,
	}

	if apiKey != "" {
		c.client = openai.NewClient(apiKey)
	}

	return c
}

func (c *OpenAIClient) Available() bool {
	return c.client != nil
}

func (c *OpenAIClient) Triage(ctx context.Context, choice ModelChoice, input TriageInput) (*TriageResult, error) {
	content, acct, err := c.complete(ctx, choice, triageSystemPrompt, triageUserPrompt(input), triageMaxTokens)
	if err != nil {
		return nil, err
	}

	var out domain.TriageOutput
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("parsing triage response: %w", err)
	}

	if out.AIScore < 0 {
		out.AIScore = 0
	}

	if out.AIScore > 100 {
		out.AIScore = 100
	}

	out.SchemaVersion = schemaVersion
	out.PromptID = triagePromptID
	out.Provider = choice.Provider
	out.Model = choice.Model

	return &TriageResult{Accounting: acct, Output: out}, nil
}

func (c *OpenAIClient) Enrich(ctx context.Context, choice ModelChoice, input EnrichInput) (*EnrichResult, error) {
	content, acct, err := c.complete(ctx, choice, enrichSystemPrompt, enrichUserPrompt(input), enrichMaxTokens)
	if err != nil {
		return nil, err
	}

	summary := map[string]any{}
	if err := json.Unmarshal([]byte(content), &summary); err != nil {
		return nil, fmt.Errorf("parsing enrich response: %w", err)
	}

	summary["schema_version"] = schemaVersion
	summary["prompt_id"] = enrichPromptID
	summary["model"] = choice.Model

	return &EnrichResult{Accounting: acct, Summary: summary}, nil
}

func (c *OpenAIClient) complete(ctx context.Context, choice ModelChoice, system, user string, maxTokens int) (string, Accounting, error) {
	if c.client == nil {
		return "", Accounting{}, ErrDisabled
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", Accounting{}, fmt.Errorf("rate limiter: %w", err)
	}

	started := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     choice.Model,
		MaxTokens: maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})

	observability.LLMRequestDuration.WithLabelValues(choice.Model).Observe(time.Since(started).Seconds())

	if err != nil {
		return "", Accounting{}, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", Accounting{}, fmt.Errorf("chat completion: empty choices for model %s", choice.Model)
	}

	acct := Accounting{
		Provider:            choice.Provider,
		Model:               choice.Model,
		Endpoint:            choice.Endpoint,
		InputTokens:         resp.Usage.PromptTokens,
		OutputTokens:        resp.Usage.CompletionTokens,
		CostEstimateCredits: EstimateCredits(choice.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}

	return resp.Choices[0].Message.Content, acct, nil
}

func triageUserPrompt(input TriageInput) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Topic: %s\n", input.SourceName)
	fmt.Fprintf(&sb, "Window: %s .. %s\n", input.WindowStart.Format(time.RFC3339), input.WindowEnd.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Source type: %s\n", input.SourceType)

	if input.Author != "" {
		fmt.Fprintf(&sb, "Author: %s\n", input.Author)
	}

	if input.PublishedAt != nil {
		fmt.Fprintf(&sb, "Published: %s\n", input.PublishedAt.UTC().Format(time.RFC3339))
	}

	if input.PrimaryURL != "" {
		fmt.Fprintf(&sb, "URL: %s\n", input.PrimaryURL)
	}

	fmt.Fprintf(&sb, "Title: %s\n", input.Title)

	if input.BodySnippet != "" {
		fmt.Fprintf(&sb, "Body:\n%s\n", clip(input.BodySnippet, maxBodySnippet))
	}

	return sb.String()
}

func enrichUserPrompt(input EnrichInput) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Source: %s\n", input.SourceName)

	if input.PrimaryURL != "" {
		fmt.Fprintf(&sb, "URL: %s\n", input.PrimaryURL)
	}

	fmt.Fprintf(&sb, "Title: %s\n\n%s\n", input.Title, clip(input.Body, 4*maxBodySnippet))

	return sb.String()
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}

	return s[:max]
}
