package markov

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// DefaultMinSentenceFactor is the default value for WithMinSentenceFactor.
const DefaultMinSentenceFactor = 3

// Params holds the hyperparameters shared by training and generation.
type Params struct {
	KMin                 int // Shortest context length that is counted.
	KMax                 int // Longest context length that is counted.
	TargetSentenceLength int // Sentence length, in tokens, after which generation tries to finish.
}

// DefaultParams returns the hyperparameters used when no model exists yet.
func DefaultParams() Params {
	return Params{KMin: 2, KMax: 5, TargetSentenceLength: 5}
}

// Validate checks that the order range and the target length are usable.
func (p Params) Validate() error {
	if p.KMin < 1 {
		return fmt.Errorf("k_min must be at least 1, got %d", p.KMin)
	}
	if p.KMax < p.KMin {
		return fmt.Errorf("k_max (%d) must not be smaller than k_min (%d)", p.KMax, p.KMin)
	}
	if p.TargetSentenceLength < 1 {
		return fmt.Errorf("target_sentence_length must be positive, got %d", p.TargetSentenceLength)
	}
	return nil
}

// countEntry holds the continuation counts of one context, indexed by Direction.
type countEntry [2]map[string]int

// Counts is a table of raw observation counts keyed by encoded context.
// It is not safe for concurrent mutation.
type Counts struct {
	entries map[string]*countEntry
}

// NewCounts returns an empty count table.
func NewCounts() *Counts {
	return &Counts{entries: make(map[string]*countEntry)}
}

// Add increments the count of (context, dir, token) by n.
func (c *Counts) Add(context []string, dir Direction, token string, n int) {
	c.addKey(EncodeContext(context), dir, token, n)
}

func (c *Counts) addKey(key string, dir Direction, token string, n int) {
	if n <= 0 {
		return
	}
	e, ok := c.entries[key]
	if !ok {
		e = &countEntry{}
		c.entries[key] = e
	}
	if e[dir] == nil {
		e[dir] = make(map[string]int)
	}
	e[dir][token] += n
}

// Get returns the count of (context, dir, token).
func (c *Counts) Get(context []string, dir Direction, token string) int {
	e, ok := c.entries[EncodeContext(context)]
	if !ok {
		return 0
	}
	return e[dir][token]
}

// Len returns the number of distinct contexts.
func (c *Counts) Len() int {
	return len(c.entries)
}

// Observations returns the sum of every count in the table.
func (c *Counts) Observations() int {
	total := 0
	c.Each(func(_ string, _ Direction, _ string, n int) {
		total += n
	})
	return total
}

// Each calls fn for every stored count.
func (c *Counts) Each(fn func(key string, dir Direction, token string, n int)) {
	for key, e := range c.entries {
		for dir, tokens := range e {
			for token, n := range tokens {
				fn(key, Direction(dir), token, n)
			}
		}
	}
}

// Merge adds every count of other into c.
func (c *Counts) Merge(other *Counts) {
	other.Each(c.addKey)
}

// Normalize divides every count by the total of its (context, direction) and
// returns the resulting immutable Model. Directions without observations are
// left out of the model.
func (c *Counts) Normalize(params Params) (*Model, error) {
	table := make(map[string]Entry, len(c.entries))
	for key, e := range c.entries {
		var entry Entry
		for dir, tokens := range e {
			total := 0
			for _, n := range tokens {
				total += n
			}
			if total == 0 {
				continue
			}
			dist := make(Distribution, len(tokens))
			for token, n := range tokens {
				dist[token] = float64(n) / float64(total)
			}
			if Direction(dir) == Forward {
				entry.Forward = dist
			} else {
				entry.Backward = dist
			}
		}
		if entry.Forward == nil && entry.Backward == nil {
			continue
		}
		table[key] = entry
	}
	return NewModel(params, table)
}

// Builder accumulates transition counts for every context order in a Params range.
type Builder struct {
	params            Params
	minSentenceFactor int
	counts            *Counts
	sentences         int64
	mu                sync.Mutex
	logger            *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithMinSentenceFactor skips a sentence when counting order k if it has fewer
// than factor*k tokens, sentinels excluded. A factor of 0 keeps every sentence.
func WithMinSentenceFactor(factor int) BuilderOption {
	return func(b *Builder) { b.minSentenceFactor = factor }
}

// WithBuilderLogger sets the logger used by the Builder.
func WithBuilderLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBuilder returns a Builder with an empty count table.
func NewBuilder(params Params, opts ...BuilderOption) (*Builder, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	b := &Builder{
		params:            params,
		minSentenceFactor: DefaultMinSentenceFactor,
		counts:            NewCounts(),
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Add counts every window of one sentence, for every order from KMax down to KMin.
func (b *Builder) Add(sentence []string) {
	sentence = wrapSentence(sentence)
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := b.params.KMax; k >= b.params.KMin; k-- {
		b.countOrder(b.counts, sentence, k)
	}
	b.sentences++
}

// AddAll counts a batch of sentences. Every order is counted on its own goroutine
// into a private table, and the tables are merged once each order is done.
func (b *Builder) AddAll(sentences [][]string) {
	wrapped := make([][]string, len(sentences))
	for i, s := range sentences {
		wrapped[i] = wrapSentence(s)
	}

	var wg sync.WaitGroup
	for k := b.params.KMax; k >= b.params.KMin; k-- {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			local := NewCounts()
			for _, s := range wrapped {
				b.countOrder(local, s, k)
			}
			b.mu.Lock()
			b.counts.Merge(local)
			b.mu.Unlock()
		}(k)
	}
	wg.Wait()

	b.mu.Lock()
	b.sentences += int64(len(sentences))
	b.mu.Unlock()
}

// Train reads every sentence of r through the tokenizer and counts it.
// It returns the number of sentences read.
func (b *Builder) Train(ctx context.Context, tokenizer Tokenizer, r io.Reader) (int, error) {
	stream := tokenizer.NewStream(r)
	var sentences [][]string
	for {
		sentence, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, fmt.Errorf("tokenizer error: %w", err)
		}
		sentences = append(sentences, sentence)
	}

	b.AddAll(sentences)

	b.logger.InfoContext(ctx, "Counting completed",
		slog.Int("sentences_processed", len(sentences)),
		slog.Int("k_min", b.params.KMin),
		slog.Int("k_max", b.params.KMax),
	)
	return len(sentences), nil
}

// Counts returns the accumulated count table. The Builder must not be used
// after calling Counts.
func (b *Builder) Counts() *Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Sentences returns the number of sentences added so far.
func (b *Builder) Sentences() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sentences
}

// countOrder slides a window of k+1 tokens across the sentence. Each window gives
// one forward observation (first k tokens -> last token) and one backward
// observation (last k tokens -> first token). Contexts containing a sentinel are
// not counted.
func (b *Builder) countOrder(counts *Counts, sentence []string, k int) {
	if b.minSentenceFactor > 0 && len(sentence)-2 < b.minSentenceFactor*k {
		return
	}
	for i := 0; i+k < len(sentence); i++ {
		window := sentence[i : i+k+1]
		if ctx := window[:k]; !containsSentinel(ctx) {
			counts.Add(ctx, Forward, window[k], 1)
		}
		if ctx := window[1:]; !containsSentinel(ctx) {
			counts.Add(ctx, Backward, window[0], 1)
		}
	}
}

// wrapSentence makes sure the sentence starts with StartToken and ends with EndToken.
func wrapSentence(sentence []string) []string {
	if len(sentence) > 0 && sentence[0] == StartToken && sentence[len(sentence)-1] == EndToken && len(sentence) > 1 {
		return sentence
	}
	out := make([]string, 0, len(sentence)+2)
	if len(sentence) == 0 || sentence[0] != StartToken {
		out = append(out, StartToken)
	}
	out = append(out, sentence...)
	if len(sentence) == 0 || sentence[len(sentence)-1] != EndToken || len(out) == 1 {
		out = append(out, EndToken)
	}
	return out
}

func containsSentinel(tokens []string) bool {
	for _, t := range tokens {
		if IsSentinel(t) {
			return true
		}
	}
	return false
}
