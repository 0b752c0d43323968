package markov

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// storeVersion is the layout version recorded in markov_meta.
const storeVersion = "1"

// ErrCorruptStore is returned when the persisted counts or metadata cannot be parsed.
var ErrCorruptStore = errors.New("corrupt count store")

const (
	metaVersion = "version"
	metaKMin    = "k_min"
	metaKMax    = "k_max"
	metaTarget  = "target_sentence_length"
)

// SetupSchema initializes the necessary tables in the provided database. This
// function should be called once on a new database before any other operations
// are performed. It is idempotent and safe to call on an already-initialized
// database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaMeta = `
CREATE TABLE IF NOT EXISTS markov_meta (
    meta_key   TEXT PRIMARY KEY,
    meta_value TEXT NOT NULL
);
`
		schemaCounts = `
CREATE TABLE IF NOT EXISTS markov_counts (
    context_key TEXT NOT NULL,
    direction   INTEGER NOT NULL,
    token_text  TEXT NOT NULL,
    frequency   INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (context_key, direction, token_text)
);
`
		schemaRuns = `
CREATE TABLE IF NOT EXISTS markov_runs (
    run_id       TEXT PRIMARY KEY,
    started_at   DATETIME NOT NULL,
    sentences    INTEGER NOT NULL,
    observations INTEGER NOT NULL
);
`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	// If the transaction succeeds, tx.Commit() will be called first, and the rollback will do nothing.
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaMeta); err != nil {
		return fmt.Errorf("could not create meta schema: %w", err)
	}

	if _, err = tx.Exec(schemaCounts); err != nil {
		return fmt.Errorf("could not create counts schema: %w", err)
	}

	if _, err = tx.Exec(schemaRuns); err != nil {
		return fmt.Errorf("could not create runs schema: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// RunInfo describes one training run recorded in the store.
type RunInfo struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	Sentences    int64     `json:"sentences"`
	Observations int       `json:"observations"`
}

// Store persists raw transition counts and model hyperparameters in SQLite.
// Counts from successive training runs are merged by addition, and the model
// is re-normalized from the full counts after every run.
type Store struct {
	db              *sql.DB
	stmtGetMeta     *sql.Stmt
	stmtAllCounts   *sql.Stmt
	stmtCountKeys   *sql.Stmt
	stmtListRuns    *sql.Stmt
	stmtUpsertCount *sql.Stmt
	stmtSetMeta     *sql.Stmt
	logger          *slog.Logger
}

// NewStore creates and returns a new Store. It pre-compiles all necessary SQL
// statements, returning an error if any preparation fails. SetupSchema must have
// been called on db.
func NewStore(db *sql.DB) (*Store, error) {
	stmtGetMeta, err := db.Prepare(`SELECT meta_key, meta_value FROM markov_meta;`)
	if err != nil {
		return nil, err
	}

	stmtAllCounts, err := db.Prepare(`SELECT context_key, direction, token_text, frequency FROM markov_counts;`)
	if err != nil {
		return nil, err
	}

	stmtCountKeys, err := db.Prepare(`SELECT COUNT(DISTINCT context_key) FROM markov_counts;`)
	if err != nil {
		return nil, err
	}

	stmtListRuns, err := db.Prepare(`SELECT run_id, started_at, sentences, observations FROM markov_runs ORDER BY started_at;`)
	if err != nil {
		return nil, err
	}

	stmtUpsertCount, err := db.Prepare(`INSERT INTO markov_counts (context_key, direction, token_text, frequency) VALUES (?, ?, ?, ?)
		ON CONFLICT(context_key, direction, token_text) DO UPDATE SET frequency = frequency + excluded.frequency;`)
	if err != nil {
		return nil, err
	}

	stmtSetMeta, err := db.Prepare(`INSERT INTO markov_meta (meta_key, meta_value) VALUES (?, ?)
		ON CONFLICT(meta_key) DO UPDATE SET meta_value = excluded.meta_value;`)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:              db,
		stmtGetMeta:     stmtGetMeta,
		stmtAllCounts:   stmtAllCounts,
		stmtCountKeys:   stmtCountKeys,
		stmtListRuns:    stmtListRuns,
		stmtUpsertCount: stmtUpsertCount,
		stmtSetMeta:     stmtSetMeta,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// Close releases all prepared SQL statements held by the Store.
func (s *Store) Close() {
	_ = s.stmtGetMeta.Close()
	_ = s.stmtAllCounts.Close()
	_ = s.stmtCountKeys.Close()
	_ = s.stmtListRuns.Close()
	_ = s.stmtUpsertCount.Close()
	_ = s.stmtSetMeta.Close()
}

// SetLogger sets the logger for the Store. By default, all logs are discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// LoadParams returns the hyperparameters recorded by the last training run.
// The boolean is false when nothing has been trained yet.
func (s *Store) LoadParams(ctx context.Context) (Params, bool, error) {
	rows, err := s.stmtGetMeta.QueryContext(ctx)
	if err != nil {
		return Params{}, false, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	meta := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err = rows.Scan(&key, &value); err != nil {
			return Params{}, false, err
		}
		meta[key] = value
	}
	if err = rows.Err(); err != nil {
		return Params{}, false, err
	}
	if len(meta) == 0 {
		return Params{}, false, nil
	}

	if v := meta[metaVersion]; v != storeVersion {
		return Params{}, false, fmt.Errorf("%w: store has %q, want %q", ErrVersionMismatch, v, storeVersion)
	}

	var p Params
	for _, field := range []struct {
		key string
		dst *int
	}{
		{metaKMin, &p.KMin},
		{metaKMax, &p.KMax},
		{metaTarget, &p.TargetSentenceLength},
	} {
		n, err := strconv.Atoi(meta[field.key])
		if err != nil {
			return Params{}, false, fmt.Errorf("%w: meta %s=%q", ErrCorruptStore, field.key, meta[field.key])
		}
		*field.dst = n
	}
	if err = p.Validate(); err != nil {
		return Params{}, false, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	return p, true, nil
}

// LoadCounts reads every stored count. Malformed keys or directions are
// reported as ErrCorruptStore.
func (s *Store) LoadCounts(ctx context.Context) (*Counts, error) {
	rows, err := s.stmtAllCounts.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	counts := NewCounts()
	checked := make(map[string]struct{})
	for rows.Next() {
		var key, token string
		var dir, freq int
		if err = rows.Scan(&key, &dir, &token, &freq); err != nil {
			return nil, err
		}
		if _, ok := checked[key]; !ok {
			if _, err := DecodeContext(key); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
			}
			checked[key] = struct{}{}
		}
		if dir != int(Forward) && dir != int(Backward) {
			return nil, fmt.Errorf("%w: bad direction %d for %q", ErrCorruptStore, dir, key)
		}
		counts.addKey(key, Direction(dir), token, freq)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// ContextCount returns the number of distinct stored contexts.
func (s *Store) ContextCount(ctx context.Context) (int, error) {
	var n int
	err := s.stmtCountKeys.QueryRowContext(ctx).Scan(&n)
	return n, err
}

// MergeCounts adds counts to the stored counts and records params and a run
// entry, all in a single transaction. An empty counts table still records the run
// but leaves the stored counts unchanged.
func (s *Store) MergeCounts(ctx context.Context, counts *Counts, params Params, sentences int64) (RunInfo, error) {
	run := RunInfo{
		ID:           uuid.NewString(),
		StartedAt:    time.Now().UTC(),
		Sentences:    sentences,
		Observations: counts.Observations(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RunInfo{}, err
	}
	// All transaction-specific statements will also be closed with this or the .Commit()
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	stmtSetMeta := tx.StmtContext(ctx, s.stmtSetMeta)
	for key, value := range map[string]string{
		metaVersion: storeVersion,
		metaKMin:    strconv.Itoa(params.KMin),
		metaKMax:    strconv.Itoa(params.KMax),
		metaTarget:  strconv.Itoa(params.TargetSentenceLength),
	} {
		if _, err = stmtSetMeta.ExecContext(ctx, key, value); err != nil {
			return RunInfo{}, fmt.Errorf("failed to write meta %s: %w", key, err)
		}
	}

	stmtUpsert := tx.StmtContext(ctx, s.stmtUpsertCount)
	counts.Each(func(key string, dir Direction, token string, n int) {
		if err != nil {
			return
		}
		if _, execErr := stmtUpsert.ExecContext(ctx, key, int(dir), token, n); execErr != nil {
			err = fmt.Errorf("failed to merge count (%s, %s, %q): %w", key, dir, token, execErr)
		}
	})
	if err != nil {
		return RunInfo{}, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO markov_runs (run_id, started_at, sentences, observations) VALUES (?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.Sentences, run.Observations); err != nil {
		return RunInfo{}, fmt.Errorf("failed to record run: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return RunInfo{}, err
	}

	s.logger.InfoContext(ctx, "Counts merged",
		slog.String("run_id", run.ID),
		slog.Int64("sentences", run.Sentences),
		slog.Int("observations", run.Observations),
	)
	return run, nil
}

// Runs lists every recorded training run, oldest first.
func (s *Store) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.stmtListRuns.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var runs []RunInfo
	for rows.Next() {
		var run RunInfo
		if err = rows.Scan(&run.ID, &run.StartedAt, &run.Sentences, &run.Observations); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Reset deletes every stored count and all metadata. Run history is kept.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.ExecContext(ctx, "DELETE FROM markov_counts"); err != nil {
		return fmt.Errorf("failed to clear counts: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM markov_meta"); err != nil {
		return fmt.Errorf("failed to clear meta: %w", err)
	}

	s.logger.WarnContext(ctx, "Count store reset")
	return tx.Commit()
}

// Model normalizes the full stored counts with the stored hyperparameters.
// It returns an error wrapping ErrModelNotFound when nothing has been trained yet.
func (s *Store) Model(ctx context.Context) (*Model, error) {
	params, found, err := s.LoadParams(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: count store is empty", ErrModelNotFound)
	}
	counts, err := s.LoadCounts(ctx)
	if err != nil {
		return nil, err
	}
	model, err := counts.Normalize(params)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize counts: %w", err)
	}
	return model, nil
}

// TrainResult summarizes one call to Store.Train.
type TrainResult struct {
	Run    RunInfo
	Model  *Model
	Params Params
}

// Train runs one batch training pass: it validates the stored state (starting
// over from empty counts if it cannot be parsed), counts every sentence of r,
// merges the new counts into the store and returns the model normalized from
// the full stored counts.
//
// If the store already holds counts, its context order range is kept so old and
// new counts stay comparable; only the target sentence length is taken from params.
func (s *Store) Train(ctx context.Context, tokenizer Tokenizer, r io.Reader, params Params, opts ...BuilderOption) (*TrainResult, error) {
	stored, found, err := s.LoadParams(ctx)
	var existing *Counts
	if err == nil {
		existing, err = s.LoadCounts(ctx)
	}
	if err != nil {
		if !errors.Is(err, ErrCorruptStore) && !errors.Is(err, ErrVersionMismatch) {
			return nil, err
		}
		s.logger.WarnContext(ctx, "Stored counts could not be parsed, starting from an empty model",
			slog.String("error", err.Error()),
		)
		if err = s.Reset(ctx); err != nil {
			return nil, err
		}
		found = false
		existing = NewCounts()
	}

	if found && (stored.KMin != params.KMin || stored.KMax != params.KMax) {
		s.logger.WarnContext(ctx, "Keeping the stored context order range",
			slog.Int("stored_k_min", stored.KMin),
			slog.Int("stored_k_max", stored.KMax),
			slog.Int("requested_k_min", params.KMin),
			slog.Int("requested_k_max", params.KMax),
		)
		params.KMin, params.KMax = stored.KMin, stored.KMax
	}

	builder, err := NewBuilder(params, append([]BuilderOption{WithBuilderLogger(s.logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	if _, err = builder.Train(ctx, tokenizer, r); err != nil {
		return nil, err
	}

	run, err := s.MergeCounts(ctx, builder.Counts(), params, builder.Sentences())
	if err != nil {
		return nil, err
	}

	// The store now holds existing plus the new counts.
	existing.Merge(builder.Counts())
	model, err := existing.Normalize(params)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize counts: %w", err)
	}

	s.logger.InfoContext(ctx, "Training completed",
		slog.String("run_id", run.ID),
		slog.Int64("sentences_processed", run.Sentences),
		slog.Int("contexts", model.Len()),
	)
	return &TrainResult{Run: run, Model: model, Params: params}, nil
}
