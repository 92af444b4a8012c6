// Package llm adapts the warmed LLM reply primitive R drives (§4.4):
// reply(conversation_state, user_text, max_tokens=48, temperature~0.2)
// -> text. Each vendor backend may share a single warmed context,
// serialized by one mutex per context since a host sustains only a
// handful of concurrent calls relative to model throughput (§5).
package llm

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

const (
	DefaultMaxTokens   = 48
	DefaultTemperature = 0.2
)

// DefaultSystemPrompt is used when a session has not set its own persona.
const DefaultSystemPrompt = "You are a warm, concise phone assistant. Keep replies short and natural for speech."

// Turn is one exchange in the running per-call transcript R feeds back
// to the model as conversation state.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// Engine is the LLM primitive every Reasoner binary drives.
type Engine interface {
	// Reply generates a bounded reply to userText given systemPrompt and
	// the running transcript. Implementations trim surrounding
	// whitespace and stop at max_tokens, an end-of-turn token, or the
	// model starting a new user-turn marker.
	Reply(ctx context.Context, systemPrompt string, history []Turn, userText string) (string, error)
	Name() string
	Close() error
}

// Serialized wraps an Engine whose underlying context is not safe for
// concurrent inference calls, serializing Reply with one mutex (§4.4,
// §5: "warmed global context (serialized by a lock)"), and, for cloud
// vendor backends, smoothing calls to stay under the vendor's own
// requests-per-second ceiling.
type Serialized struct {
	mu      sync.Mutex
	inner   Engine
	limiter *rate.Limiter
}

// NewSerialized wraps inner so all Reply calls across calls on this host
// are single-threaded.
func NewSerialized(inner Engine) *Serialized {
	return &Serialized{inner: inner}
}

// NewRateLimitedSerialized additionally caps Reply to reqsPerSecond with
// the given burst, for a cloud vendor engine billed or throttled per
// request (local warmed engines have no vendor ceiling to respect).
func NewRateLimitedSerialized(inner Engine, reqsPerSecond float64, burst int) *Serialized {
	return &Serialized{inner: inner, limiter: rate.NewLimiter(rate.Limit(reqsPerSecond), burst)}
}

func (s *Serialized) Reply(ctx context.Context, systemPrompt string, history []Turn, userText string) (string, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Reply(ctx, systemPrompt, history, userText)
}

func (s *Serialized) Name() string { return s.inner.Name() }
func (s *Serialized) Close() error { return s.inner.Close() }
