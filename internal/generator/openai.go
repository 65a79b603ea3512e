package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/paulgrammer/tripplanner/internal/apperrors"
)

const serviceName = "openai"

var (
	// ErrEnvelopeNotJSON means the HTTP body was not a JSON chat response.
	ErrEnvelopeNotJSON = errors.New("response not in json form")
	// ErrNoContent means the chat response carried no message content.
	ErrNoContent = errors.New("no content in response")
	// ErrContentNotJSON means the generated text did not parse as JSON.
	ErrContentNotJSON = errors.New("generated output not valid json")
	// ErrNoItinerary means the generated JSON had no itinerary member.
	ErrNoItinerary = errors.New("generated output missing itinerary")
)

var (
	leadingFence  = regexp.MustCompile("^\\s*```(?:json)?")
	trailingFence = regexp.MustCompile("```\\s*$")
)

// GenerationResult describes one call to the chat completions endpoint.
type GenerationResult struct {
	Destination  string
	DurationDays int
	Itinerary    any
	RawContent   string
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
}

type Generator interface {
	Generate(ctx context.Context, destination string, durationDays int) (*GenerationResult, error)
}

// GeneratorConfig holds the chat completions settings.
type GeneratorConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	LogContent  bool // log a truncated copy of the generated text
}

type GeneratorOption func(*openAIGenerator)

func WithGeneratorConfig(config *GeneratorConfig) GeneratorOption {
	return func(g *openAIGenerator) {
		g.config = config
	}
}

func WithHTTPClient(hc *http.Client) GeneratorOption {
	return func(g *openAIGenerator) {
		g.client = hc
	}
}

func NewOpenAIGenerator(apiKey string, args ...GeneratorOption) Generator {
	config := &GeneratorConfig{
		APIKey:      apiKey,
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o",
		Temperature: 0.7,
	}

	g := &openAIGenerator{config: config, client: &http.Client{}}

	for _, arg := range args {
		arg(g)
	}
	return g
}

type openAIGenerator struct {
	config *GeneratorConfig
	client *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate asks the model for an itinerary. It makes exactly one request.
func (g *openAIGenerator) Generate(ctx context.Context, destination string, durationDays int) (*GenerationResult, error) {
	result := &GenerationResult{
		Destination:  destination,
		DurationDays: durationDays,
		StartTime:    time.Now(),
	}

	content, err := g.complete(ctx, BuildPrompt(destination, durationDays))
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	if err != nil {
		g.logGenerationResult(result, err)
		return nil, err
	}
	result.RawContent = content

	itinerary, err := ParseContent(content)
	if err != nil {
		g.logGenerationResult(result, err)
		return nil, err
	}
	result.Itinerary = itinerary

	g.logGenerationResult(result, nil)
	return result, nil
}

func (g *openAIGenerator) complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       g.config.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: g.config.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai: encode request: %w", err)
	}

	url := strings.TrimRight(g.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("authorization", "Bearer "+g.config.APIKey)
	req.Header.Set("content-type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: API call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Debug("openai error body", "status", resp.StatusCode, "body", truncate(string(body), 500))
		return "", &apperrors.UpstreamHTTPError{Service: serviceName, Status: resp.StatusCode}
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", &apperrors.MalformedResponseError{Service: serviceName, Reason: ErrEnvelopeNotJSON.Error(), Err: ErrEnvelopeNotJSON}
	}
	if len(cr.Choices) == 0 || cr.Choices[0].Message.Content == nil {
		return "", &apperrors.MalformedResponseError{Service: serviceName, Reason: ErrNoContent.Error(), Err: ErrNoContent}
	}
	content := strings.TrimSpace(*cr.Choices[0].Message.Content)
	if content == "" {
		return "", &apperrors.MalformedResponseError{Service: serviceName, Reason: ErrNoContent.Error(), Err: ErrNoContent}
	}
	return content, nil
}

// StripCodeFence removes an optional Markdown code fence around s.
func StripCodeFence(s string) string {
	s = leadingFence.ReplaceAllString(s, "")
	s = trailingFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ParseContent parses generated text and returns its "itinerary" member,
// which must be present and non-null.
func ParseContent(content string) (any, error) {
	var parsed any
	if err := json.Unmarshal([]byte(StripCodeFence(content)), &parsed); err != nil {
		return nil, &apperrors.MalformedResponseError{Service: serviceName, Reason: ErrContentNotJSON.Error(), Err: ErrContentNotJSON}
	}
	obj, _ := parsed.(map[string]any)
	itinerary := obj["itinerary"]
	if itinerary == nil {
		return nil, &apperrors.MalformedResponseError{Service: serviceName, Reason: ErrNoItinerary.Error(), Err: ErrNoItinerary}
	}
	return itinerary, nil
}

func (g *openAIGenerator) logGenerationResult(result *GenerationResult, err error) {
	logLevel := slog.LevelInfo
	if err != nil {
		logLevel = slog.LevelError
	}

	attrs := []any{
		"destination", result.Destination,
		"duration_days", result.DurationDays,
		"model", g.config.Model,
		"duration", result.Duration.String(),
		"content_length", len(result.RawContent),
	}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
	}
	slog.Log(context.Background(), logLevel, "itinerary generation finished", attrs...)

	if g.config.LogContent && result.RawContent != "" {
		slog.Info("generated content", "destination", result.Destination, "content", truncate(result.RawContent, 1000))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}
