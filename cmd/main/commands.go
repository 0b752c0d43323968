package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/CTAG07/Babbler/pkg/markov"
)

// loadModel reads the model file, turning a missing file into an instruction
// for the operator.
func loadModel(ctx context.Context, path string, logger *slog.Logger) (*markov.Model, error) {
	model, err := markov.LoadModelFile(path)
	if err != nil {
		if errors.Is(err, markov.ErrModelNotFound) {
			return nil, fmt.Errorf("%w; run \"babbler train <corpus>\" first", err)
		}
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	logger.DebugContext(ctx, "Model loaded",
		slog.String("path", path),
		slog.Int("contexts", model.Len()),
	)
	return model, nil
}

func saveModel(ctx context.Context, path string, model *markov.Model, logger *slog.Logger) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create model directory: %w", err)
		}
	}
	if err := markov.SaveModelFile(path, model); err != nil {
		return err
	}
	logger.InfoContext(ctx, "Model saved", slog.String("path", path))
	return nil
}

// runTrain counts the corpus into the store, re-normalizes the full counts and
// writes the model file. An unreadable database file is moved aside and training
// starts from an empty store.
func runTrain(ctx context.Context, cm *ConfigManager, logger *slog.Logger, corpusPath string) error {
	cfg := cm.Get()

	corpus, err := os.ReadFile(corpusPath)
	if err != nil {
		return fmt.Errorf("failed to read corpus: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg.Core.DatabasePath, logger)
	if err != nil && isUnreadableDB(err) {
		// Same as unparsable counts inside a readable store: start over empty.
		aside, moveErr := moveAside(cfg.Core.DatabasePath)
		if moveErr != nil {
			return errors.Join(err, moveErr)
		}
		logger.WarnContext(ctx, "Count store could not be read, starting from an empty model",
			slog.String("error", err.Error()),
			slog.String("moved_to", aside),
		)
		store, closeStore, err = openStore(ctx, cfg.Core.DatabasePath, logger)
	}
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := store.Train(ctx, markov.NewDefaultTokenizer(), strings.NewReader(string(corpus)), cfg.Params(),
		markov.WithMinSentenceFactor(cfg.Core.MinSentenceFactor))
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	if err = saveModel(ctx, cfg.Core.ModelPath, res.Model, logger); err != nil {
		return err
	}

	logCorpusStats(ctx, logger, markov.GetCorpusStats(string(corpus)))
	logModelStats(ctx, logger, res.Model.GetStats())
	return nil
}

// runPrune removes rare counts from the store and rewrites the model file from
// what is left.
func runPrune(ctx context.Context, cm *ConfigManager, logger *slog.Logger, minFreq int, vocabulary bool) error {
	cfg := cm.Get()

	store, closeStore, err := openStore(ctx, cfg.Core.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if vocabulary {
		_, err = store.PruneVocabulary(ctx, minFreq)
	} else {
		_, err = store.PruneCounts(ctx, minFreq)
	}
	if err != nil {
		return err
	}

	model, err := store.Model(ctx)
	if err != nil {
		if errors.Is(err, markov.ErrModelNotFound) {
			return fmt.Errorf("%w; run \"babbler train <corpus>\" first", err)
		}
		return err
	}
	if err = saveModel(ctx, cfg.Core.ModelPath, model, logger); err != nil {
		return err
	}
	logModelStats(ctx, logger, model.GetStats())
	return nil
}

// runGenerate prints count sentences, one per line. A count of 0 keeps going
// until ctx is cancelled.
func runGenerate(ctx context.Context, cm *ConfigManager, logger *slog.Logger, seed string, count int, out io.Writer) error {
	cfg := cm.Get()

	model, err := loadModel(ctx, cfg.Core.ModelPath, logger)
	if err != nil {
		return err
	}
	gen := markov.NewGenerator(model,
		markov.WithMaxWalkSteps(cfg.Core.MaxWalkSteps),
		markov.WithLogger(logger),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sentences, err := gen.GenerateStream(ctx, markov.NewDefaultTokenizer().Sanitize(seed), count)
	if err != nil {
		if errors.Is(err, markov.ErrNoCandidates) {
			return fmt.Errorf("no stored context contains %q", seed)
		}
		return err
	}
	for sentence := range sentences {
		if _, err = fmt.Fprintln(out, sentence); err != nil {
			return err
		}
	}
	return nil
}

// runLocal reads messages line by line and answers each one, falling back to
// an unseeded sentence when no word of the message is known.
func runLocal(ctx context.Context, cm *ConfigManager, logger *slog.Logger, in io.Reader, out io.Writer) error {
	cfg := cm.Get()

	model, err := loadModel(ctx, cfg.Core.ModelPath, logger)
	if err != nil {
		return err
	}
	gen := markov.NewGenerator(model,
		markov.WithMaxWalkSteps(cfg.Core.MaxWalkSteps),
		markov.WithLogger(logger),
	)
	responder := markov.NewResponder(gen, markov.NewDefaultTokenizer())

	scanner := bufio.NewScanner(in)
	for {
		if _, err = fmt.Fprint(out, "> "); err != nil {
			return err
		}
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			return nil
		}

		reply, _, err := responder.Reply(ctx, scanner.Text(), true)
		if errors.Is(err, markov.ErrNoCandidates) {
			// Only an empty model gets here.
			reply = "..."
		} else if err != nil {
			return err
		}
		if _, err = fmt.Fprintln(out, reply); err != nil {
			return err
		}
	}
	_, _ = fmt.Fprintln(out)
	return scanner.Err()
}

// runServe serves the HTTP responder until ctx is cancelled.
func runServe(ctx context.Context, cm *ConfigManager, logger *slog.Logger) error {
	cfg := cm.Get()

	model, err := loadModel(ctx, cfg.Core.ModelPath, logger)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(ctx, cfg.Core.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	server := NewServer(cm, model, store, logger)
	return server.ListenAndServe(ctx, cfg.Bot.ListenAddr)
}

func logCorpusStats(ctx context.Context, logger *slog.Logger, stats markov.CorpusStats) {
	logger.InfoContext(ctx, "Corpus statistics",
		slog.Int("size_bytes", stats.SizeBytes),
		slog.Int("lines", stats.Lines),
		slog.Int("words", stats.Words),
		slog.Float64("avg_words_per_line", stats.AvgWordsPerLine),
	)
}

func logModelStats(ctx context.Context, logger *slog.Logger, stats markov.ModelStats) {
	attrs := []any{
		slog.Int("contexts", stats.Contexts),
		slog.Int("forward_entries", stats.ForwardEntries),
		slog.Int("backward_entries", stats.BackwardEntries),
		slog.Int("k_min", stats.KMin),
		slog.Int("k_max", stats.KMax),
		slog.Int("target_sentence_length", stats.TargetSentenceLength),
	}
	for k := stats.KMin; k <= stats.KMax; k++ {
		attrs = append(attrs, slog.Int(fmt.Sprintf("order_%d", k), stats.PerOrder[k]))
	}
	logger.InfoContext(ctx, "Model statistics", attrs...)
}
