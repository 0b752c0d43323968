package markov

import (
	"strings"
)

// CorpusStats holds simple size statistics of a raw training corpus.
type CorpusStats struct {
	SizeBytes       int     `json:"size_bytes"`         // The size of the corpus text in bytes.
	Lines           int     `json:"lines"`              // The number of lines, empty ones included.
	Words           int     `json:"words"`              // The number of whitespace separated words.
	AvgWordsPerLine float64 `json:"avg_words_per_line"` // Words per line, averaged over every line.
}

// ModelStats holds aggregated statistics for a Model.
type ModelStats struct {
	Contexts             int         `json:"contexts"`         // The number of stored contexts.
	PerOrder             map[int]int `json:"per_order"`        // The number of stored contexts of each length.
	ForwardEntries       int         `json:"forward_entries"`  // The number of contexts with forward continuations.
	BackwardEntries      int         `json:"backward_entries"` // The number of contexts with backward continuations.
	KMin                 int         `json:"k_min"`
	KMax                 int         `json:"k_max"`
	TargetSentenceLength int         `json:"target_sentence_length"`
}

// GetCorpusStats computes CorpusStats for text.
func GetCorpusStats(text string) CorpusStats {
	lines := strings.Split(text, "\n")
	stats := CorpusStats{
		SizeBytes: len(text),
		Lines:     len(lines),
		Words:     len(strings.Fields(text)),
	}
	var wordsPerLine int
	for _, line := range lines {
		wordsPerLine += len(strings.Fields(line))
	}
	if stats.Lines > 0 {
		stats.AvgWordsPerLine = float64(wordsPerLine) / float64(stats.Lines)
	}
	return stats
}

// GetStats returns a snapshot of statistics for the model.
func (m *Model) GetStats() ModelStats {
	stats := ModelStats{
		Contexts:             len(m.contexts),
		PerOrder:             make(map[int]int),
		KMin:                 m.params.KMin,
		KMax:                 m.params.KMax,
		TargetSentenceLength: m.params.TargetSentenceLength,
	}
	for k := m.params.KMin; k <= m.params.KMax; k++ {
		stats.PerOrder[k] = 0
	}
	for _, c := range m.contexts {
		stats.PerOrder[len(c)]++
		entry := m.table[EncodeContext(c)]
		if len(entry.Forward) > 0 {
			stats.ForwardEntries++
		}
		if len(entry.Backward) > 0 {
			stats.BackwardEntries++
		}
	}
	return stats
}
