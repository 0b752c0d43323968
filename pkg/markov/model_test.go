package markov

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestModelFileRoundTrip(t *testing.T) {
	params := Params{KMin: 1, KMax: 3, TargetSentenceLength: 7}
	m := buildModel(t, fishCorpus, params)
	path := filepath.Join(t.TempDir(), "model.json")

	if err := SaveModelFile(path, m); err != nil {
		t.Fatalf("SaveModelFile() failed: %v", err)
	}
	loaded, err := LoadModelFile(path)
	if err != nil {
		t.Fatalf("LoadModelFile() failed: %v", err)
	}

	if diff := cmp.Diff(params, loaded.Params()); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
	if loaded.Len() != m.Len() {
		t.Fatalf("expected %d contexts, got %d", m.Len(), loaded.Len())
	}
	m.Contexts(func(c []string) {
		for _, dir := range []Direction{Forward, Backward} {
			if diff := cmp.Diff(m.Lookup(c, dir), loaded.Lookup(c, dir)); diff != "" {
				t.Errorf("%q %s mismatch (-want +got):\n%s", c, dir, diff)
			}
		}
	})
}

func TestWriteModelLayout(t *testing.T) {
	m := buildModel(t, "a b c", Params{KMin: 2, KMax: 2, TargetSentenceLength: 5})

	var buf bytes.Buffer
	if err := WriteModel(&buf, m); err != nil {
		t.Fatalf("WriteModel() failed: %v", err)
	}
	for _, want := range []string{
		`"version":"1"`,
		`"k":{"min":2,"max":2}`,
		`"target_sentence_length":5`,
		`"1:1:a1:b":{"next":{"c":1},"prev":{"<SOC>":1}}`,
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("expected model file to contain %s, got %s", want, buf.String())
		}
	}
}

func TestLoadModelFileErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("Missing file", func(t *testing.T) {
		_, err := LoadModelFile(filepath.Join(dir, "missing.json"))
		if !errors.Is(err, ErrModelNotFound) {
			t.Errorf("expected ErrModelNotFound, got %v", err)
		}
	})

	testCases := []struct {
		name        string
		content     string
		expectError error
	}{
		{
			name:        "Version mismatch",
			content:     `{"version":"0","k":{"min":1,"max":1},"target_sentence_length":5,"data":{}}`,
			expectError: ErrVersionMismatch,
		},
		{
			name:        "Malformed context key",
			content:     `{"version":"1","k":{"min":1,"max":1},"target_sentence_length":5,"data":{"('a',)":{"next":{"b":1}}}}`,
			expectError: ErrBadContextKey,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tc.name, " ", "_")+".json")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadModelFile(path); !errors.Is(err, tc.expectError) {
				t.Errorf("expected %v, got %v", tc.expectError, err)
			}
		})
	}

	t.Run("Invalid JSON", func(t *testing.T) {
		if _, err := ReadModel(strings.NewReader("{not json")); err == nil {
			t.Error("expected an error for invalid JSON")
		}
	})
}

func TestNewModelRejectsInvalidTables(t *testing.T) {
	params := Params{KMin: 1, KMax: 2, TargetSentenceLength: 5}
	testCases := []struct {
		name  string
		table map[string]Entry
	}{
		{"context too long", map[string]Entry{
			EncodeContext([]string{"a", "b", "c"}): {Forward: Distribution{"d": 1}},
		}},
		{"sentinel in context", map[string]Entry{
			EncodeContext([]string{StartToken, "a"}): {Forward: Distribution{"b": 1}},
		}},
		{"no continuations", map[string]Entry{
			EncodeContext([]string{"a"}): {},
		}},
		{"does not sum to one", map[string]Entry{
			EncodeContext([]string{"a"}): {Forward: Distribution{"b": 0.5, "c": 0.4}},
		}},
		{"negative probability", map[string]Entry{
			EncodeContext([]string{"a"}): {Backward: Distribution{"b": 1.5, "c": -0.5}},
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewModel(params, tc.table); err == nil {
				t.Error("expected NewModel to reject the table")
			}
		})
	}

	if _, err := NewModel(Params{KMin: 2, KMax: 1, TargetSentenceLength: 5}, nil); err == nil {
		t.Error("expected NewModel to reject invalid params")
	}
}

func TestModelCandidates(t *testing.T) {
	m := buildModel(t, "a b c", Params{KMin: 2, KMax: 2, TargetSentenceLength: 5})

	testCases := []struct {
		seed string
		want int
	}{
		{"a", 1},
		{"b", 2},
		{"c", 1},
		{"", 2},
		{"z", 0},
	}
	for _, tc := range testCases {
		if got := m.candidateCount(tc.seed); got != tc.want {
			t.Errorf("candidateCount(%q) = %d, want %d", tc.seed, got, tc.want)
		}
	}
}

func TestModelCandidate(t *testing.T) {
	m := buildModel(t, "a b c", Params{KMin: 2, KMax: 2, TargetSentenceLength: 5})

	if diff := cmp.Diff([]string{"b", "c"}, m.candidate("b", 1)); diff != "" {
		t.Errorf("candidate(b, 1) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b"}, m.candidate("", 0)); diff != "" {
		t.Errorf("candidate(\"\", 0) mismatch (-want +got):\n%s", diff)
	}

	// Unseeded selection must not copy the context table.
	allocs := testing.AllocsPerRun(100, func() {
		_ = m.candidate("", m.candidateCount("")-1)
	})
	if allocs != 0 {
		t.Errorf("unseeded candidate selection allocated %v times per run, want 0", allocs)
	}
}

func TestModelChoices(t *testing.T) {
	m := buildModel(t, "a b c. a b d.", Params{KMin: 2, KMax: 2, TargetSentenceLength: 5})

	c := m.choicesFor([]string{"a", "b"}, Forward)
	if c == nil {
		t.Fatal("choicesFor(a b, forward) = nil")
	}
	want := choices{tokens: []string{"c", "d"}, totals: []float64{0.5, 1}}
	if diff := cmp.Diff(want, *c, cmp.AllowUnexported(choices{})); diff != "" {
		t.Errorf("choicesFor(a b, forward) mismatch (-want +got):\n%s", diff)
	}
	if !c.contains("d") || c.contains(EndToken) {
		t.Errorf("contains() disagrees with tokens %q", c.tokens)
	}

	if got := m.choicesFor([]string{"b", "c"}, Backward); got == nil || got.tokens[0] != "a" {
		t.Errorf("choicesFor(b c, backward) = %v, want [a]", got)
	}
	if got := m.choicesFor([]string{"x", "y"}, Forward); got != nil {
		t.Errorf("choicesFor(unknown) = %v, want nil", got)
	}
}
