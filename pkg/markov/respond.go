package markov

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ResponseSettings are the chat-side knobs that decide whether a message gets a
// reply at all. They are passed by value on every call so the caller owns the
// mutable state.
type ResponseSettings struct {
	ResponseChance float64 `json:"response_chance" yaml:"response_chance"` // Probability in [0, 1] of replying to a message.
	Muted          bool    `json:"muted" yaml:"muted"`
}

// Validate checks that the response chance is a probability.
func (s ResponseSettings) Validate() error {
	if s.ResponseChance < 0 || s.ResponseChance > 1 {
		return fmt.Errorf("response chance must be within [0, 1], got %v", s.ResponseChance)
	}
	return nil
}

// Sanitizer normalizes inbound text the same way the corpus was normalized.
type Sanitizer interface {
	Sanitize(string) string
}

// Responder picks seeds from an inbound message and asks a Generator for a reply.
type Responder struct {
	gen       *Generator
	sanitizer Sanitizer
}

// NewResponder returns a Responder using gen for generation and sanitizer for
// splitting messages into candidate seeds.
func NewResponder(gen *Generator, sanitizer Sanitizer) *Responder {
	return &Responder{gen: gen, sanitizer: sanitizer}
}

// Respond decides whether to answer message and, if so, tries each of its words
// as a seed in random order. It returns false with a nil error when muted or
// when the response chance roll fails, and ErrNoCandidates when no word of the
// message is known to the model.
func (r *Responder) Respond(ctx context.Context, message string, settings ResponseSettings) (string, bool, error) {
	if settings.Muted {
		return "", false, nil
	}
	if r.gen.sampler.float64() >= settings.ResponseChance {
		return "", false, nil
	}
	return r.Reply(ctx, message, false)
}

// Reply generates an answer to message without the mute and chance checks.
// With fallback set, a message with no known word gets an unseeded sentence.
// ErrNoCandidates is returned when nothing could be generated.
func (r *Responder) Reply(ctx context.Context, message string, fallback bool) (string, bool, error) {
	words := strings.Fields(r.sanitizer.Sanitize(message))
	for i := len(words) - 1; i > 0; i-- {
		j := r.gen.sampler.IntN(i + 1)
		words[i], words[j] = words[j], words[i]
	}

	for _, word := range words {
		text, err := r.gen.Generate(ctx, word)
		if err == nil {
			return text, true, nil
		}
		if !errors.Is(err, ErrNoCandidates) {
			return "", false, err
		}
	}

	if !fallback {
		return "", false, ErrNoCandidates
	}
	text, err := r.gen.Generate(ctx, "")
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}
