package generation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"cymbytes.com/doppelganger/internal/contract"
)

// ErrNoResponse is returned when a scripted stage has no response left and
// there is no fallback service.
var ErrNoResponse = errors.New("no scripted response left for stage")

// Reply is one scripted answer: either response text or a service error.
type Reply struct {
	Text  string `yaml:"text"`
	Error string `yaml:"error,omitempty"`
}

// Fixtures is the on-disk form of a script, keyed by stage name.
type Fixtures struct {
	Stages map[string][]Reply `yaml:"stages"`
}

// Scripted replays queued replies per stage, in order. Stages whose queue is
// empty are passed to the fallback service when one is set.
type Scripted struct {
	mu       sync.Mutex
	queues   map[string][]Reply
	fallback contract.Service
	calls    []contract.Request
}

// NewScripted creates an empty script that defers to fallback (may be nil).
func NewScripted(fallback contract.Service) *Scripted {
	return &Scripted{
		queues:   make(map[string][]Reply),
		fallback: fallback,
	}
}

// LoadFixtures reads a YAML fixtures file into a new script.
func LoadFixtures(path string, fallback contract.Service) (*Scripted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}

	var fx Fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}

	s := NewScripted(fallback)
	for stage, replies := range fx.Stages {
		s.queues[stage] = append(s.queues[stage], replies...)
	}
	return s, nil
}

// Push queues response text for a stage.
func (s *Scripted) Push(stage string, texts ...string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range texts {
		s.queues[stage] = append(s.queues[stage], Reply{Text: t})
	}
	return s
}

// Fail queues a service error for a stage.
func (s *Scripted) Fail(stage, message string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[stage] = append(s.queues[stage], Reply{Error: message})
	return s
}

// Calls returns every request received so far.
func (s *Scripted) Calls() []contract.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contract.Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// Remaining returns the number of queued replies for a stage.
func (s *Scripted) Remaining(stage string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[stage])
}

// Generate pops the next reply for the request's stage.
func (s *Scripted) Generate(ctx context.Context, req contract.Request) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	queue := s.queues[req.Stage]
	if len(queue) == 0 {
		fallback := s.fallback
		s.mu.Unlock()
		if fallback == nil {
			return "", fmt.Errorf("%w: %s", ErrNoResponse, req.Stage)
		}
		return fallback.Generate(ctx, req)
	}
	reply := queue[0]
	s.queues[req.Stage] = queue[1:]
	s.mu.Unlock()

	if reply.Error != "" {
		return "", errors.New(reply.Error)
	}
	return reply.Text, nil
}
