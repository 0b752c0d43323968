package markov

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"slices"
	"sort"

	"github.com/natefinch/atomic"
)

// ModelVersion is written into every model file and checked on load.
const ModelVersion = "1"

// probabilityTolerance is how far a stored distribution may sum away from 1.
const probabilityTolerance = 1e-9

var (
	// ErrModelNotFound is returned by LoadModelFile when no model file exists.
	ErrModelNotFound = errors.New("model not found")
	// ErrVersionMismatch is returned when a persisted model or store was written
	// by an incompatible version.
	ErrVersionMismatch = errors.New("model version mismatch")
)

// Distribution maps continuation tokens to their probability.
type Distribution map[string]float64

// Entry holds the forward and backward distributions of one context.
type Entry struct {
	Forward  Distribution `json:"next,omitempty"`
	Backward Distribution `json:"prev,omitempty"`
}

func (e Entry) direction(dir Direction) Distribution {
	if dir == Backward {
		return e.Backward
	}
	return e.Forward
}

// choices is a distribution flattened for sampling: tokens in sorted order with
// the running total of their probabilities. Non-positive probabilities are left out.
type choices struct {
	tokens []string
	totals []float64
}

func newChoices(d Distribution) choices {
	tokens := make([]string, 0, len(d))
	for tok, p := range d {
		if p > 0 && !math.IsInf(p, 0) {
			tokens = append(tokens, tok)
		}
	}
	slices.Sort(tokens)

	c := choices{tokens: tokens, totals: make([]float64, len(tokens))}
	var total float64
	for i, tok := range tokens {
		total += d[tok]
		c.totals[i] = total
	}
	return c
}

// contains reports whether tok can be drawn.
func (c *choices) contains(tok string) bool {
	_, ok := slices.BinarySearch(c.tokens, tok)
	return ok
}

// at returns the token whose cumulative range holds x, for x in [0, total).
func (c *choices) at(x float64) string {
	i := sort.Search(len(c.totals), func(i int) bool { return c.totals[i] > x })
	if i == len(c.totals) {
		// x rounded up to the total.
		i--
	}
	return c.tokens[i]
}

func (c *choices) total() float64 {
	return c.totals[len(c.totals)-1]
}

// Model is an immutable table of context -> per-direction continuation
// distributions, together with the hyperparameters it was trained with.
// A Model is safe for concurrent use.
type Model struct {
	params   Params
	table    map[string]Entry
	contexts [][]string
	index    map[string][]int       // token -> positions in contexts
	choices  map[string]*[2]choices // context key -> per-direction sampling tables
}

// NewModel validates a normalized table and builds the lookup structures used by
// generation. The table is owned by the Model afterwards.
func NewModel(params Params, table map[string]Entry) (*Model, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(table))
	for key := range table {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	m := &Model{
		params:   params,
		table:    table,
		contexts: make([][]string, 0, len(keys)),
		index:    make(map[string][]int),
		choices:  make(map[string]*[2]choices, len(keys)),
	}
	for _, key := range keys {
		tokens, err := DecodeContext(key)
		if err != nil {
			return nil, err
		}
		if len(tokens) < params.KMin || len(tokens) > params.KMax {
			return nil, fmt.Errorf("context %q has length %d outside [%d, %d]", tokens, len(tokens), params.KMin, params.KMax)
		}
		if containsSentinel(tokens) {
			return nil, fmt.Errorf("context %q contains a sentinel token", tokens)
		}
		entry := table[key]
		if len(entry.Forward) == 0 && len(entry.Backward) == 0 {
			return nil, fmt.Errorf("context %q has no continuations", tokens)
		}
		for _, dist := range []Distribution{entry.Forward, entry.Backward} {
			if err := checkDistribution(dist); err != nil {
				return nil, fmt.Errorf("context %q: %w", tokens, err)
			}
		}

		m.choices[key] = &[2]choices{
			Forward:  newChoices(entry.Forward),
			Backward: newChoices(entry.Backward),
		}

		pos := len(m.contexts)
		m.contexts = append(m.contexts, tokens)
		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			m.index[tok] = append(m.index[tok], pos)
		}
	}
	return m, nil
}

func checkDistribution(d Distribution) error {
	if len(d) == 0 {
		return nil
	}
	var sum float64
	for tok, p := range d {
		if p < 0 || math.IsNaN(p) {
			return fmt.Errorf("negative or NaN probability for %q", tok)
		}
		sum += p
	}
	if math.Abs(sum-1) > probabilityTolerance {
		return fmt.Errorf("probabilities sum to %v", sum)
	}
	return nil
}

// Params returns the hyperparameters of the model.
func (m *Model) Params() Params {
	return m.params
}

// Len returns the number of stored contexts.
func (m *Model) Len() int {
	return len(m.contexts)
}

// Lookup returns the distribution of (context, dir). A missing context and a
// context without continuations in that direction both return nil.
func (m *Model) Lookup(context []string, dir Direction) Distribution {
	entry, ok := m.table[EncodeContext(context)]
	if !ok {
		return nil
	}
	d := entry.direction(dir)
	if len(d) == 0 {
		return nil
	}
	return d
}

// Contexts calls fn for every stored context, in key order. fn must not modify
// the slice it receives.
func (m *Model) Contexts(fn func(context []string)) {
	for _, c := range m.contexts {
		fn(c)
	}
}

// choicesFor returns the sampling table of (context, dir), or nil when the
// context has no continuation in that direction.
func (m *Model) choicesFor(context []string, dir Direction) *choices {
	c, ok := m.choices[EncodeContext(context)]
	if !ok || len(c[dir].tokens) == 0 {
		return nil
	}
	return &c[dir]
}

// candidateCount returns the number of contexts containing seed, or of all
// contexts when seed is empty.
func (m *Model) candidateCount(seed string) int {
	if seed == "" {
		return len(m.contexts)
	}
	return len(m.index[seed])
}

// candidate returns the i-th context containing seed, in key order.
// i must be below candidateCount(seed).
func (m *Model) candidate(seed string, i int) []string {
	if seed == "" {
		return m.contexts[i]
	}
	return m.contexts[m.index[seed][i]]
}

// modelFile is the JSON layout of a persisted model.
type modelFile struct {
	Version string `json:"version"`
	K       struct {
		Min int `json:"min"`
		Max int `json:"max"`
	} `json:"k"`
	TargetSentenceLength int              `json:"target_sentence_length"`
	Data                 map[string]Entry `json:"data"`
}

// WriteModel serializes the model as JSON to w.
func WriteModel(w io.Writer, m *Model) error {
	var f modelFile
	f.Version = ModelVersion
	f.K.Min = m.params.KMin
	f.K.Max = m.params.KMax
	f.TargetSentenceLength = m.params.TargetSentenceLength
	f.Data = m.table

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(f)
}

// ReadModel parses and validates a model written by WriteModel.
func ReadModel(r io.Reader) (*Model, error) {
	var f modelFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if f.Version != ModelVersion {
		return nil, fmt.Errorf("%w: file has %q, want %q", ErrVersionMismatch, f.Version, ModelVersion)
	}
	if f.Data == nil {
		f.Data = make(map[string]Entry)
	}
	return NewModel(Params{
		KMin:                 f.K.Min,
		KMax:                 f.K.Max,
		TargetSentenceLength: f.TargetSentenceLength,
	}, f.Data)
}

// SaveModelFile writes the model to path atomically, so a reader never sees a
// partially written file.
func SaveModelFile(path string, m *Model) error {
	var buf bytes.Buffer
	if err := WriteModel(&buf, m); err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("failed to write model file %s: %w", path, err)
	}
	return nil
}

// LoadModelFile reads a model from path. It returns an error wrapping
// ErrModelNotFound if the file does not exist.
func LoadModelFile(path string) (*Model, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return nil, err
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)

	m, err := ReadModel(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
