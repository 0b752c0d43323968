package markov

import (
	"context"
	"database/sql"
	"fmt"
	"go/build"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	_ "modernc.org/sqlite"
)

const fishCorpus = "one fish two fish. red fish blue fish. the old cat sat on the mat."

// setupTestDB creates a new SQLite database file and a Store for testing.
// It uses t.Cleanup to ensure resources are released.
func setupTestDB(t *testing.T) (*sql.DB, *Store) {
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbFile+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(s.Close)

	return db, s
}

// buildModel counts the sentences of corpus with every sentence kept and
// returns the normalized model.
func buildModel(t testing.TB, corpus string, params Params) *Model {
	b, err := NewBuilder(params, WithMinSentenceFactor(0))
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	if _, err := b.Train(context.Background(), NewDefaultTokenizer(), strings.NewReader(corpus)); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	m, err := b.Counts().Normalize(params)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	return m
}

// setupFishGenerator returns a seeded Generator over the fish corpus.
func setupFishGenerator(t testing.TB) *Generator {
	m := buildModel(t, fishCorpus, Params{KMin: 1, KMax: 3, TargetSentenceLength: 5})
	return NewGenerator(m, WithRand(rand.New(rand.NewPCG(7, 11))))
}

// flatten turns a count table into comparable "key|dir|token" -> count entries.
func flatten(c *Counts) map[string]int {
	out := make(map[string]int)
	c.Each(func(key string, dir Direction, token string, n int) {
		out[fmt.Sprintf("%s|%s|%s", key, dir, token)] = n
	})
	return out
}

var (
	benchmarkCorpus string
	corpusOnce      sync.Once
)

// createBenchmarkCorpus reads Go source files to create a corpus for benchmarking.
func createBenchmarkCorpus() string {
	corpusOnce.Do(func() {
		var sb strings.Builder
		goRoot := build.Default.GOROOT
		filesToRead := []string{
			filepath.Join(goRoot, "src/net/http/server.go"),
			filepath.Join(goRoot, "src/go/parser/parser.go"),
			filepath.Join(goRoot, "src/encoding/json/encode.go"),
		}

		for _, file := range filesToRead {
			content, err := os.ReadFile(file)
			if err != nil {
				benchmarkCorpus = "this is a fallback corpus for benchmarking. it is not very long but will prevent a crash. "
				return
			}
			sb.Write(content)
			sb.WriteString("\n")
		}
		benchmarkCorpus = sb.String()
	})
	return benchmarkCorpus
}
