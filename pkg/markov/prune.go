package markov

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// PruneCounts removes every stored count with a frequency lower than minFreq.
// This drops rare, and often noisy, transitions. It returns the number of
// removed rows. Call Model afterwards to get the re-normalized model.
func (s *Store) PruneCounts(ctx context.Context, minFreq int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM markov_counts WHERE frequency < ?`, minFreq)
	if err != nil {
		return 0, fmt.Errorf("could not prune counts below %d: %w", minFreq, err)
	}
	rowsAffected, _ := res.RowsAffected()

	s.logger.InfoContext(ctx, "Counts pruned",
		slog.Int("min_frequency", minFreq),
		slog.Int64("counts_removed", rowsAffected),
	)
	return rowsAffected, nil
}

// PruneVocabulary removes tokens seen fewer than minFreq times as a continuation
// in either direction, together with every count that has such a token as its
// continuation or inside its context. Sentinels are never pruned. It returns the
// number of removed tokens.
func (s *Store) PruneVocabulary(ctx context.Context, minFreq int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("could not begin transaction for pruning: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	rows, err := tx.QueryContext(ctx,
		`SELECT token_text FROM markov_counts GROUP BY token_text HAVING SUM(frequency) < ?`, minFreq)
	if err != nil {
		return 0, fmt.Errorf("failed to query for rare tokens: %w", err)
	}
	rare := make(map[string]struct{})
	var rareTokens []any
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("failed to scan rare token: %w", err)
		}
		if IsSentinel(token) {
			continue
		}
		rare[token] = struct{}{}
		rareTokens = append(rareTokens, token)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error after iterating rare token rows: %w", err)
	}

	if len(rareTokens) == 0 {
		s.logger.InfoContext(ctx, "No vocabulary to prune",
			slog.Int("min_frequency", minFreq),
		)
		return 0, tx.Commit()
	}

	// Context keys are decoded in Go; the encoding cannot be matched reliably with LIKE.
	kRows, err := tx.QueryContext(ctx, `SELECT DISTINCT context_key FROM markov_counts`)
	if err != nil {
		return 0, fmt.Errorf("failed to query contexts for checking: %w", err)
	}
	var affected []any
	for kRows.Next() {
		var key string
		if err := kRows.Scan(&key); err != nil {
			_ = kRows.Close()
			return 0, fmt.Errorf("failed to scan context key: %w", err)
		}
		tokens, err := DecodeContext(key)
		if err != nil {
			_ = kRows.Close()
			return 0, fmt.Errorf("%w: %v", ErrCorruptStore, err)
		}
		for _, tok := range tokens {
			if _, isRare := rare[tok]; isRare {
				affected = append(affected, key)
				break
			}
		}
	}
	_ = kRows.Close()
	if err := kRows.Err(); err != nil {
		return 0, fmt.Errorf("error after iterating context rows: %w", err)
	}

	if err := batchDelete(ctx, tx, "token_text", rareTokens); err != nil {
		return 0, fmt.Errorf("failed to prune counts by token: %w", err)
	}
	if err := batchDelete(ctx, tx, "context_key", affected); err != nil {
		return 0, fmt.Errorf("failed to prune counts by context: %w", err)
	}

	s.logger.InfoContext(ctx, "Vocabulary pruned successfully",
		slog.Int("min_frequency", minFreq),
		slog.Int("tokens_removed", len(rareTokens)),
		slog.Int("contexts_affected", len(affected)),
	)
	return len(rareTokens), tx.Commit()
}

// batchDelete deletes the counts whose column matches one of values, in batches
// that stay under SQLite's variable limit.
func batchDelete(ctx context.Context, tx *sql.Tx, column string, values []any) error {
	const batchSize = 500

	for i := 0; i < len(values); i += batchSize {
		batch := values[i:min(i+batchSize, len(values))]
		query := fmt.Sprintf("DELETE FROM markov_counts WHERE %s IN (?%s)", column, strings.Repeat(",?", len(batch)-1))
		if _, err := tx.ExecContext(ctx, query, batch...); err != nil {
			return err
		}
	}
	return nil
}
