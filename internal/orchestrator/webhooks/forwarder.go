// Package webhooks forwards simulation progress and outcomes to an external
// webhook endpoint.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cymbytes.com/doppelganger/internal/contract"
	"cymbytes.com/doppelganger/internal/progress"
	"cymbytes.com/doppelganger/pkg/simulation"
)

// Event types.
const (
	EventStage     = "simulation.stage"
	EventCompleted = "simulation.completed"
	EventFailed    = "simulation.failed"
)

// Forwarder posts simulation events to a webhook endpoint. Delivery runs in
// the background and never blocks or fails a run.
type Forwarder struct {
	url        string
	httpClient *http.Client
	logger     zerolog.Logger
	enabled    bool
	retryCount int
	retryDelay time.Duration

	wg sync.WaitGroup
}

// Config holds webhook forwarder configuration.
type Config struct {
	// Enabled controls whether webhooks are sent
	Enabled bool `yaml:"enabled"`

	// URL is the webhook endpoint
	URL string `yaml:"url"`

	// RetryCount is how many times to retry failed requests
	RetryCount int `yaml:"retry_count"`

	// RetryDelay is how long to wait between retries
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Timeout for HTTP requests
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:    false,
		URL:        "http://localhost:8085/api/webhooks/doppelganger",
		RetryCount: 3,
		RetryDelay: time.Second,
		Timeout:    10 * time.Second,
	}
}

// NewForwarder creates a new webhook forwarder.
func NewForwarder(cfg Config, logger zerolog.Logger) *Forwarder {
	return &Forwarder{
		url: cfg.URL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:     logger.With().Str("component", "webhook_forwarder").Logger(),
		enabled:    cfg.Enabled && cfg.URL != "",
		retryCount: cfg.RetryCount,
		retryDelay: cfg.RetryDelay,
	}
}

// Event is the payload sent to the webhook endpoint.
type Event struct {
	EventType string                 `json:"event_type"`
	EventID   string                 `json:"event_id"`
	RunID     string                 `json:"run_id"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Payload   map[string]interface{} `json:"payload"`
}

// StageEntered forwards a stage transition. It satisfies progress.Observer.
func (f *Forwarder) StageEntered(runID string, stage progress.Stage) {
	f.dispatch(Event{
		EventType: EventStage,
		RunID:     runID,
		Payload: map[string]interface{}{
			"stage":      string(stage),
			"stage_name": stage.Name(),
			"step":       stage.Index(),
		},
	})
}

// ForwardRunCompleted forwards a summary of a successful run.
func (f *Forwarder) ForwardRunCompleted(runID string, result *simulation.Result, duration time.Duration) {
	rules := make([]string, 0, len(result.DetectionRules))
	for _, r := range result.DetectionRules {
		rules = append(rules, r.ID)
	}
	f.dispatch(Event{
		EventType: EventCompleted,
		RunID:     runID,
		Payload: map[string]interface{}{
			"status":          "completed",
			"persona":         result.Persona.Name,
			"phases":          len(result.Campaign.Phases),
			"honeydocs":       simulation.HoneydocCount(result.Artifacts),
			"simulation_logs": len(result.SimulationLogs),
			"detection_rules": rules,
			"confidence":      result.AAR.Confidence,
			"duration_ms":     duration.Milliseconds(),
		},
	})
}

// ForwardRunFailed forwards the stage and kind of a failed run.
func (f *Forwarder) ForwardRunFailed(runID string, stage progress.Stage, err error) {
	f.dispatch(Event{
		EventType: EventFailed,
		RunID:     runID,
		Payload: map[string]interface{}{
			"status":     "failed",
			"stage":      string(stage),
			"stage_name": stage.Name(),
			"kind":       string(contract.KindOf(err)),
			"error":      err.Error(),
		},
	})
}

// Wait blocks until every dispatched event has been delivered or dropped.
func (f *Forwarder) Wait() {
	f.wg.Wait()
}

// IsEnabled returns whether the forwarder is enabled.
func (f *Forwarder) IsEnabled() bool {
	return f.enabled
}

func (f *Forwarder) dispatch(event Event) {
	if !f.enabled {
		f.logger.Debug().Str("event_type", event.EventType).Msg("Webhook forwarder disabled, skipping")
		return
	}

	event.EventID = uuid.New().String()
	event.Timestamp = time.Now().UTC()
	event.Source = "doppelganger"

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if err := f.sendEvent(context.Background(), event); err != nil {
			f.logger.Debug().Err(err).Str("event_id", event.EventID).Msg("Webhook event dropped")
		}
	}()
}

// sendEvent posts an event with retries.
func (f *Forwarder) sendEvent(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= f.retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := f.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			f.logger.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_type", event.EventType).
				Msg("Failed to forward webhook, retrying")
			continue
		}
		resp.Body.Close()

		if resp.StatusCode < 300 {
			f.logger.Debug().
				Str("event_id", event.EventID).
				Str("event_type", event.EventType).
				Str("run_id", event.RunID).
				Int("status_code", resp.StatusCode).
				Msg("Webhook forwarded")
			return nil
		}

		lastErr = fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		f.logger.Warn().
			Int("status_code", resp.StatusCode).
			Int("attempt", attempt+1).
			Str("event_type", event.EventType).
			Msg("Webhook endpoint returned error, retrying")
	}

	f.logger.Error().
		Err(lastErr).
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Msg("Failed to forward webhook after all retries")

	return fmt.Errorf("failed to forward webhook after %d attempts: %w", f.retryCount+1, lastErr)
}
