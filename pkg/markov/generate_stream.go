package markov

import (
	"context"
	"errors"
	"log/slog"
)

// GenerateStream generates up to n sentences around seed and returns them on a
// read-only channel, ready for display. A non-positive n keeps generating until
// ctx is cancelled. The channel is closed once generation is complete or the
// context is cancelled.
//
// ErrNoCandidates is returned up front when the seed appears in no context, so a
// returned channel always yields at least one sentence unless ctx ends first.
func (g *Generator) GenerateStream(ctx context.Context, seed string, n int) (<-chan string, error) {
	if g.model.candidateCount(seed) == 0 {
		return nil, ErrNoCandidates
	}

	sentences := make(chan string)

	go func() {
		defer close(sentences)

		for i := 0; n <= 0 || i < n; i++ {
			select {
			case <-ctx.Done():
				g.logger.DebugContext(ctx, "Generation stream cancelled by context")
				return
			default:
				// continue
			}

			text, err := g.Generate(ctx, seed)
			if err != nil {
				if !errors.Is(err, ErrNoCandidates) {
					g.logger.ErrorContext(ctx, "failed to generate sentence for stream", slog.String("seed", seed), slog.Any("error", err))
				}
				return
			}

			select {
			case <-ctx.Done():
				return
			case sentences <- text:
			}
		}
	}()

	return sentences, nil
}
