package markov

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxWalkSteps is the default value for WithMaxWalkSteps.
const DefaultMaxWalkSteps = 256

// ErrNoCandidates is returned by Generate when no stored context contains the
// seed, or when the model is empty. Callers may retry with another seed.
var ErrNoCandidates = errors.New("no context matches the seed")

// Generator produces sentences from a Model by walking backward from a seed
// context to a sentence start, then forward to a sentence end.
// It is safe for concurrent use; the Model is never modified.
type Generator struct {
	model        *Model
	sampler      *Sampler
	maxWalkSteps int
	logger       *slog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithRand makes the Generator draw from rng instead of the global source.
// Useful for reproducible output in tests.
func WithRand(rng *rand.Rand) GeneratorOption {
	return func(g *Generator) { g.sampler = NewSampler(rng) }
}

// WithMaxWalkSteps caps the number of tokens one walk direction may add.
// The cap only matters for tables where the sentence boundary is unreachable.
func WithMaxWalkSteps(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.maxWalkSteps = n
		}
	}
}

// WithLogger sets the logger for the Generator. By default, all logs are discarded.
func WithLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGenerator returns a Generator over model.
func NewGenerator(model *Model, opts ...GeneratorOption) *Generator {
	g := &Generator{
		model:        model,
		sampler:      NewSampler(nil),
		maxWalkSteps: DefaultMaxWalkSteps,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Model returns the model the Generator walks.
func (g *Generator) Model() *Model {
	return g.model
}

// Generate builds one sentence around seed and returns it ready for display.
// An empty seed picks any stored context. ErrNoCandidates is returned when the
// seed appears in no context.
func (g *Generator) Generate(ctx context.Context, seed string) (string, error) {
	tokens, err := g.GenerateTokens(ctx, seed)
	if err != nil {
		return "", err
	}
	return Finalize(tokens), nil
}

// GenerateTokens is like Generate but returns the raw tokens of the sentence,
// without sentinels or display cleanup.
func (g *Generator) GenerateTokens(ctx context.Context, seed string) ([]string, error) {
	n := g.model.candidateCount(seed)
	if n == 0 {
		g.logger.DebugContext(ctx, "Generation aborted, no matching context",
			slog.String("seed", seed),
		)
		return nil, ErrNoCandidates
	}
	origin := g.model.candidate(seed, g.sampler.IntN(n))

	w := &walk{
		gen:    g,
		params: g.model.params,
		// The target counts the two sentinels, which never enter the sentence.
		limit: g.model.params.TargetSentenceLength + 2,
	}
	before := w.extend(origin, Backward, 0)
	after := w.extend(origin, Forward, len(before))

	sentence := make([]string, 0, len(before)+len(origin)+len(after))
	for i := len(before) - 1; i >= 0; i-- {
		sentence = append(sentence, before[i])
	}
	sentence = append(sentence, origin...)
	sentence = append(sentence, after...)

	g.logger.DebugContext(ctx, "Generation completed",
		slog.String("seed", seed),
		slog.Int("seed_context_length", len(origin)),
		slog.Int("backward_tokens", len(before)),
		slog.Int("forward_tokens", len(after)),
	)
	return sentence, nil
}

// walk holds the state of one Generate call. The should-finish flag carries over
// from the backward walk to the forward walk.
type walk struct {
	gen          *Generator
	params       Params
	limit        int
	shouldFinish bool
}

// extend walks away from seed in direction dir and returns the added tokens,
// nearest to the seed first. offset is the number of tokens already added on
// the other side of the seed.
func (w *walk) extend(seed []string, dir Direction, offset int) []string {
	var added []string
	current := seed
	for len(added) < w.gen.maxWalkSteps {
		if offset+len(seed)+len(added) >= w.limit {
			w.shouldFinish = true
		}

		used, c := w.lookup(current, dir)
		if c == nil {
			break
		}
		next, ok := w.choose(c, dir)
		if !ok || IsSentinel(next) {
			break
		}
		added = append(added, next)

		length := w.gen.sampler.ContextLength(w.params.KMin, w.params.KMax, len(used) == w.params.KMax)
		current = outerContext(seed, added, dir, length)
	}
	return added
}

// lookup finds the distribution for context, dropping the token farthest from
// the extension point after each miss: the first token when walking forward,
// the last one when walking backward. The loop runs at most len(context) times.
func (w *walk) lookup(context []string, dir Direction) ([]string, *choices) {
	for len(context) > 0 {
		if c := w.gen.model.choicesFor(context, dir); c != nil {
			return context, c
		}
		if dir == Forward {
			context = context[1:]
		} else {
			context = context[:len(context)-1]
		}
	}
	return nil, nil
}

// choose forces the boundary sentinel once the sentence is long enough and the
// sentinel is a valid continuation; otherwise it samples from c.
func (w *walk) choose(c *choices, dir Direction) (string, bool) {
	if w.shouldFinish && c.contains(dir.sentinel()) {
		return dir.sentinel(), true
	}
	return w.gen.sampler.draw(c)
}

// outerContext returns, in sentence order, the length tokens at the growing edge
// of the sentence made of seed and the tokens added in direction dir.
func outerContext(seed, added []string, dir Direction, length int) []string {
	n := len(seed) + len(added)
	if length > n {
		length = n
	}
	natural := make([]string, 0, n)
	if dir == Forward {
		natural = append(natural, seed...)
		natural = append(natural, added...)
		return natural[n-length:]
	}
	for i := len(added) - 1; i >= 0; i-- {
		natural = append(natural, added[i])
	}
	natural = append(natural, seed...)
	return natural[:length]
}

// displayFixes are applied in order to the joined sentence.
var displayFixes = []struct{ old, new string }{
	{" . . . ", "... "},
	{" . ", ". "},
	{" .", ". "},
	{" , ", ", "},
	{" ( ", " ("},
	{" ) ", ") "},
	{" ' ", "'"},
}

// Finalize turns generated tokens into display text: sentinels removed,
// whitespace collapsed, first letter upper-cased (leading punctuation such as a
// quote is skipped) and punctuation spacing fixed.
func Finalize(tokens []string) string {
	words := slices.DeleteFunc(slices.Clone(tokens), IsSentinel)
	text := strings.Join(strings.Fields(strings.Join(words, " ")), " ")
	if text == "" {
		return ""
	}

	if i := strings.IndexFunc(text, unicode.IsLetter); i >= 0 {
		first, size := utf8.DecodeRuneInString(text[i:])
		text = text[:i] + string(unicode.ToUpper(first)) + text[i+size:]
	}

	for _, fix := range displayFixes {
		text = strings.ReplaceAll(text, fix.old, fix.new)
	}
	return strings.TrimSpace(text)
}
