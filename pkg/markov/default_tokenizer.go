package markov

import (
	"bufio"
	"io"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultTokenizer is a default implementation of the Tokenizer interface.
// It sanitizes each line of input (lowercase, accents stripped, punctuation split
// into standalone tokens), splits it into sentences on terminal punctuation and
// wraps every sentence with the StartToken and EndToken sentinels.
// Its behavior can be customized with functional options.
type DefaultTokenizer struct {
	punctuation   string
	replacer      *strings.Replacer
	sentenceEnd   *regexp.Regexp
	maxLineLength int
}

// Option is a function that configures a DefaultTokenizer.
type Option func(*DefaultTokenizer)

// WithPunctuation sets the characters that are split out into their own tokens.
// Default: .-,!?()—_"'
func WithPunctuation(chars string) Option {
	return func(t *DefaultTokenizer) {
		t.punctuation = chars
	}
}

// WithReplacements sets literal old/new pairs applied to the raw text before
// anything else, for cleaning corpus-specific junk.
// Default: skin tone modifiers removed, curly double quotes mapped to '"'.
func WithReplacements(oldnew ...string) Option {
	return func(t *DefaultTokenizer) {
		t.replacer = strings.NewReplacer(oldnew...)
	}
}

// WithSentenceEndRegex sets the regex deciding whether a token ends a sentence.
// Default: `^[.!?]$`
func WithSentenceEndRegex(expr string) Option {
	return func(t *DefaultTokenizer) {
		t.sentenceEnd = regexp.MustCompile(expr)
	}
}

// WithMaxLineLength sets the longest input line the stream will accept, in bytes.
// Default: 1MiB
func WithMaxLineLength(n int) Option {
	return func(t *DefaultTokenizer) {
		t.maxLineLength = n
	}
}

// NewDefaultTokenizer creates a new tokenizer with default settings, which can be
// overridden by providing one or more Option functions.
func NewDefaultTokenizer(opts ...Option) *DefaultTokenizer {
	t := &DefaultTokenizer{
		punctuation: `.-,!?()—_"'`,
		replacer: strings.NewReplacer(
			"\U0001F3FB", "", "\U0001F3FC", "", "\U0001F3FD", "", "\U0001F3FE", "", "\U0001F3FF", "",
			"“", `"`, "”", `"`,
		),
		sentenceEnd:   regexp.MustCompile(`^[.!?]$`),
		maxLineLength: 1 << 20,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Sanitize normalizes a piece of raw text: junk replacements, lowercasing,
// accent stripping, and spacing punctuation out so it splits into its own tokens.
// The result has single spaces between tokens and no surrounding whitespace.
func (t *DefaultTokenizer) Sanitize(text string) string {
	text = t.replacer.Replace(text)
	text = strings.ToLower(text)

	stripAccents := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if stripped, _, err := transform.String(stripAccents, text); err == nil {
		text = stripped
	}

	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, r := range text {
		if strings.ContainsRune(t.punctuation, r) {
			b.WriteByte(' ')
			b.WriteRune(r)
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Sentences sanitizes one line of text and splits it into sentinel-wrapped sentences.
// A run of terminal punctuation such as "..." stays in the sentence it ends.
func (t *DefaultTokenizer) Sentences(line string) [][]string {
	words := strings.Fields(t.Sanitize(line))
	if len(words) == 0 {
		return nil
	}

	var sentences [][]string
	current := []string{StartToken}
	for i, w := range words {
		current = append(current, w)
		if !t.sentenceEnd.MatchString(w) {
			continue
		}
		if i+1 < len(words) && t.sentenceEnd.MatchString(words[i+1]) {
			continue
		}
		sentences = append(sentences, append(current, EndToken))
		current = []string{StartToken}
	}
	if len(current) > 1 {
		sentences = append(sentences, append(current, EndToken))
	}
	return sentences
}

// NewStream returns the stream processor.
func (t *DefaultTokenizer) NewStream(r io.Reader) SentenceStream {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), t.maxLineLength)
	return &DefaultSentenceStream{
		scanner:   scanner,
		tokenizer: t,
	}
}

// DefaultSentenceStream is the default implementation of the SentenceStream interface.
// It reads the input line by line and buffers the sentences found on each line.
type DefaultSentenceStream struct {
	scanner   *bufio.Scanner
	tokenizer *DefaultTokenizer
	buffer    [][]string
}

// Next returns the next sentence from the stream. When the stream is exhausted,
// it returns a nil sentence and io.EOF. Any other error indicates a problem
// reading from the underlying stream.
func (s *DefaultSentenceStream) Next() ([]string, error) {
	for len(s.buffer) == 0 {
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		s.buffer = s.tokenizer.Sentences(s.scanner.Text())
	}

	sentence := s.buffer[0]
	s.buffer = s.buffer[1:]
	return sentence, nil
}
