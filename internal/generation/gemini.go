// Package generation provides the generation services a simulation runs
// against: the Gemini API, scripted fixture responses and an offline stub.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"cymbytes.com/doppelganger/internal/contract"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// ErrEmptyResponse is returned when the service answers without any text.
var ErrEmptyResponse = errors.New("generation service returned no text")

// GeminiConfig holds Gemini client configuration.
type GeminiConfig struct {
	APIKey string
	Model  string

	// Timeout bounds a single call; zero means no limit
	Timeout time.Duration
}

// GeminiClient generates stage responses with the Gemini API using
// schema-constrained JSON output.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewGeminiClient creates a client for the Gemini developer API.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger zerolog.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger.With().Str("component", "gemini").Str("model", cfg.Model).Logger(),
	}, nil
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string {
	return c.model
}

// Generate sends the prompt with its response schema and returns the raw text.
func (c *GeminiClient) Generate(ctx context.Context, req contract.Request) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   ToGenAISchema(req.Schema),
		Temperature:      req.Temperature,
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(req.Prompt), config)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := resp.Text()
	c.logger.Debug().
		Str("stage", req.Stage).
		Int("response_bytes", len(text)).
		Dur("duration", time.Since(start)).
		Msg("Gemini call completed")

	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// ToGenAISchema converts a contract schema into a Gemini response schema.
// Properties keep their declared order.
func ToGenAISchema(s *contract.Schema) *genai.Schema {
	if s == nil {
		return nil
	}

	out := &genai.Schema{
		Type:        genaiType(s.Type),
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		out.Enum = append([]string(nil), s.Enum...)
	}

	switch s.Type {
	case contract.TypeObject:
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for _, p := range s.Properties {
			out.Properties[p.Name] = ToGenAISchema(p.Schema)
			out.PropertyOrdering = append(out.PropertyOrdering, p.Name)
		}
		out.Required = s.Required()
	case contract.TypeArray:
		out.Items = ToGenAISchema(s.Items)
		if s.Length != nil {
			n := int64(*s.Length)
			out.MinItems = &n
			out.MaxItems = &n
		}
		if s.MinItems != nil {
			n := int64(*s.MinItems)
			out.MinItems = &n
		}
		if s.MaxItems != nil {
			n := int64(*s.MaxItems)
			out.MaxItems = &n
		}
	}

	return out
}

func genaiType(t contract.Type) genai.Type {
	switch t {
	case contract.TypeObject:
		return genai.TypeObject
	case contract.TypeArray:
		return genai.TypeArray
	case contract.TypeInteger:
		return genai.TypeInteger
	case contract.TypeNumber:
		return genai.TypeNumber
	case contract.TypeBoolean:
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
