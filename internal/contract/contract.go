// Package contract wraps calls to the generation service behind a strict
// output-schema contract: every response is parsed as JSON, checked against
// its schema descriptor and decoded into a typed value, or rejected.
package contract

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// rawExcerptLen bounds how much of an unparseable response is kept.
const rawExcerptLen = 512

// Request is one generation call: a prompt plus the schema its answer must meet.
type Request struct {
	// Stage names the pipeline stage issuing the call
	Stage string

	Prompt string
	Schema *Schema

	// Optional sampling temperature; nil leaves the service default
	Temperature *float32
}

// Service is the external generation engine. It turns a prompt and schema
// into candidate JSON text.
type Service interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Contract invokes a Service and enforces the schema on what it returns.
type Contract struct {
	service   Service
	validator *Validator
	logger    zerolog.Logger
}

// New creates a contract around a generation service.
func New(service Service, logger zerolog.Logger) *Contract {
	return &Contract{
		service:   service,
		validator: NewValidator(),
		logger:    logger.With().Str("component", "contract").Logger(),
	}
}

// Validator returns the struct validator used on decoded outputs.
func (c *Contract) Validator() *Validator {
	return c.validator
}

// Invoke sends req to the service and decodes the validated response into out,
// which must be a pointer. Failures are *GenerationError, *ParseError or
// *SchemaViolation. Nothing is retried.
func (c *Contract) Invoke(ctx context.Context, req Request, out interface{}) error {
	ctx, span := otel.Tracer("doppelganger/contract").Start(ctx, "stage."+req.Stage)
	defer span.End()
	span.SetAttributes(attribute.String("stage.name", req.Stage))

	err := c.invoke(ctx, req, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
	}
	return err
}

func (c *Contract) invoke(ctx context.Context, req Request, out interface{}) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return &GenerationError{Stage: req.Stage, Err: ErrEmptyPrompt}
	}
	if req.Schema == nil {
		return &GenerationError{Stage: req.Stage, Err: ErrNoSchema}
	}

	start := time.Now()
	raw, err := c.service.Generate(ctx, req)
	if err != nil {
		c.logger.Error().Err(err).Str("stage", req.Stage).Msg("Generation call failed")
		return &GenerationError{Stage: req.Stage, Err: err}
	}

	c.logger.Debug().
		Str("stage", req.Stage).
		Int("response_bytes", len(raw)).
		Dur("duration", time.Since(start)).
		Msg("Generation response received")

	text := []byte(strings.TrimSpace(raw))

	var doc interface{}
	if err := json.Unmarshal(text, &doc); err != nil {
		return &ParseError{Stage: req.Stage, Err: err, Raw: excerpt(raw)}
	}

	if violations := req.Schema.Validate(doc); len(violations) > 0 {
		return &SchemaViolation{Stage: req.Stage, Violations: violations}
	}

	if err := json.Unmarshal(text, out); err != nil {
		return &SchemaViolation{Stage: req.Stage, Violations: []ValidationError{{
			Rule:    "decode",
			Message: err.Error(),
		}}}
	}

	if violations := c.validator.Struct(out); len(violations) > 0 {
		return &SchemaViolation{Stage: req.Stage, Violations: violations}
	}

	return nil
}

func excerpt(s string) string {
	if len(s) <= rawExcerptLen {
		return s
	}
	cut := rawExcerptLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
