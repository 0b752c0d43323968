package markov

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// StartToken is the reserved token that marks the start of a sentence.
	StartToken = "<SOC>"
	// EndToken is the reserved token that marks the end of a sentence.
	EndToken = "<EOC>"

	// contextKeyVersion prefixes every encoded context key.
	contextKeyVersion = "1"
)

// ErrBadContextKey is returned by DecodeContext for keys that are not valid
// encodings of a token tuple.
var ErrBadContextKey = errors.New("malformed context key")

// Direction selects whether a continuation follows or precedes a context.
type Direction int

const (
	// Forward continuations follow the context.
	Forward Direction = iota
	// Backward continuations precede the context.
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return "direction(" + strconv.Itoa(int(d)) + ")"
	}
}

// sentinel returns the boundary token a walk in this direction stops at.
func (d Direction) sentinel() string {
	if d == Backward {
		return StartToken
	}
	return EndToken
}

// IsSentinel reports whether token is StartToken or EndToken.
func IsSentinel(token string) bool {
	return token == StartToken || token == EndToken
}

// Tokenizer is an interface that defines the contract for splitting input text
// into sentences of tokens. This allows the training logic to be independent of
// the specific sanitization and tokenization strategy.
type Tokenizer interface {
	// NewStream returns a stateful SentenceStream for processing an io.Reader.
	NewStream(io.Reader) SentenceStream
}

// SentenceStream returns one tokenized sentence at a time. Every sentence starts
// with StartToken and ends with EndToken.
type SentenceStream interface {
	// Next returns the next sentence from the stream. It returns io.EOF as the
	// error when the stream is fully consumed.
	Next() ([]string, error)
}

// EncodeContext turns an ordered token tuple into a string key. The encoding is
// the version prefix followed by "<byte length>:<token>" for every token, so any
// token text (spaces, colons, digits) survives a round trip through DecodeContext.
func EncodeContext(tokens []string) string {
	var b strings.Builder
	b.WriteString(contextKeyVersion)
	b.WriteByte(':')
	for _, tok := range tokens {
		b.WriteString(strconv.Itoa(len(tok)))
		b.WriteByte(':')
		b.WriteString(tok)
	}
	return b.String()
}

// DecodeContext is the inverse of EncodeContext.
func DecodeContext(key string) ([]string, error) {
	rest, ok := strings.CutPrefix(key, contextKeyVersion+":")
	if !ok {
		return nil, fmt.Errorf("%w: unknown version in %q", ErrBadContextKey, key)
	}
	var tokens []string
	for len(rest) > 0 {
		sep := strings.IndexByte(rest, ':')
		if sep <= 0 {
			return nil, fmt.Errorf("%w: missing length in %q", ErrBadContextKey, key)
		}
		n, err := strconv.Atoi(rest[:sep])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad length %q in %q", ErrBadContextKey, rest[:sep], key)
		}
		rest = rest[sep+1:]
		if n > len(rest) {
			return nil, fmt.Errorf("%w: token overruns key %q", ErrBadContextKey, key)
		}
		tokens = append(tokens, rest[:n])
		rest = rest[n:]
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty context in %q", ErrBadContextKey, key)
	}
	return tokens, nil
}
