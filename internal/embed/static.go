package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/unicode/norm"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
)

// StaticModelName identifies vectors produced by StaticEmbedder.
const StaticModelName = "static-fr-256"

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// frenchStopWords are function words that carry no topical signal.
var frenchStopWords = map[string]bool{
	"le": true, "la": true, "les": true, "un": true, "une": true, "des": true,
	"de": true, "du": true, "et": true, "ou": true, "a": true, "au": true,
	"aux": true, "en": true, "dans": true, "par": true, "pour": true,
	"sur": true, "avec": true, "est": true, "sont": true, "ce": true,
	"cette": true, "ces": true, "qui": true, "que": true, "il": true,
	"elle": true, "vous": true, "nous": true, "se": true, "ne": true,
	"pas": true, "plus": true, "son": true, "sa": true, "ses": true,
}

// StaticEmbedder hashes tokens and character trigrams into a fixed-size
// vector. It needs no network or model and is deterministic, which makes
// it the default for tests and offline use.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed returns the vector for text. Blank text yields a zero vector.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, cerrors.New(cerrors.ErrCodeEmbeddingUnavailable, "embedder is closed", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}
	return normalizeVector(e.generateVector(trimmed)), nil
}

// EmbedBatch embeds each text in order.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)

	for _, token := range Tokenize(text) {
		if frenchStopWords[token] {
			continue
		}
		vector[hashToIndex(token, StaticDimensions)] += tokenWeight
	}

	for _, gram := range extractNgrams(foldText(text), ngramSize) {
		vector[hashToIndex(gram, StaticDimensions)] += ngramWeight
	}
	return vector
}

// Tokenize splits text into lower-case, accent-folded words. Digits are
// kept; every other rune separates words.
func Tokenize(text string) []string {
	folded := foldText(text)
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// foldText lowercases and strips combining marks ("Épuisé" -> "epuise").
func foldText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range norm.NFD.String(text) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// extractNgrams returns character n-grams of each word in text.
func extractNgrams(text string, n int) []string {
	var grams []string
	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		runes := []rune(word)
		if len(runes) < n {
			continue
		}
		for i := 0; i+n <= len(runes); i++ {
			grams = append(grams, string(runes[i:i+n]))
		}
	}
	return grams
}

func hashToIndex(s string, dims int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}

// Dimensions returns StaticDimensions.
func (e *StaticEmbedder) Dimensions() int { return StaticDimensions }

// ModelName returns StaticModelName.
func (e *StaticEmbedder) ModelName() string { return StaticModelName }

// Available reports whether the embedder is open.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}
