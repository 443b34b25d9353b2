package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
)

// DefaultOllamaHost is the local Ollama API endpoint.
const DefaultOllamaHost = "http://localhost:11434"

// DefaultOllamaModel is a multilingual embedding model that handles French.
const DefaultOllamaModel = "nomic-embed-text"

// OllamaConfig configures OllamaEmbedder.
type OllamaConfig struct {
	Host string
	// Model is the embedding model; a bare name matches any tag.
	Model string
	// Dimensions overrides detection when non-zero.
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	// SkipHealthCheck skips the model lookup and dimension probe.
	SkipHealthCheck bool
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaModelList struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// OllamaEmbedder calls the Ollama /api/embed endpoint.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	cfg       OllamaConfig
	modelName string
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder connects to Ollama, resolves the model tag and detects
// the vector size unless cfg says otherwise.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     10 * time.Second,
	}
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		cfg:       cfg,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		name, err := e.findModel(checkCtx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
		e.modelName = name

		if e.dims == 0 {
			vecs, err := e.post(checkCtx, []string{"détection de dimension"})
			if err != nil {
				transport.CloseIdleConnections()
				return nil, err
			}
			e.dims = len(vecs[0])
		}
	}
	if e.dims == 0 {
		return nil, cerrors.ConfigError("embedding dimensions unknown: set embeddings.dimensions or enable the health check", nil)
	}
	return e, nil
}

func (e *OllamaEmbedder) findModel(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Host+"/api/tags", nil)
	if err != nil {
		return "", cerrors.New(cerrors.ErrCodeEmbeddingUnavailable, "building Ollama request", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return "", cerrors.New(cerrors.ErrCodeEmbeddingUnavailable, "Ollama unreachable at "+e.cfg.Host, err).
			WithSuggestion("start Ollama with 'ollama serve' or set embeddings.provider: static")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", cerrors.New(cerrors.ErrCodeEmbeddingUnavailable,
			fmt.Sprintf("Ollama returned status %d listing models", resp.StatusCode), nil)
	}

	var list ollamaModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return "", cerrors.New(cerrors.ErrCodeEmbeddingUnavailable, "decoding Ollama model list", err)
	}

	want := strings.ToLower(e.cfg.Model)
	wantBase, _, _ := strings.Cut(want, ":")
	for _, m := range list.Models {
		name := strings.ToLower(m.Name)
		base, _, _ := strings.Cut(name, ":")
		if name == want || (!strings.Contains(want, ":") && base == wantBase) {
			return m.Name, nil
		}
	}
	return "", cerrors.New(cerrors.ErrCodeEmbeddingUnavailable, "embedding model "+e.cfg.Model+" not installed", nil).
		WithSuggestion("run 'ollama pull " + e.cfg.Model + "'")
}

// Embed returns the vector for one text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in requests of at most BatchSize inputs. Blank
// texts get a zero vector without a round trip.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, cerrors.New(cerrors.ErrCodeEmbeddingUnavailable, "embedder is closed", nil)
	}

	results := make([][]float32, len(texts))
	var idx []int
	var pending []string
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			results[i] = make([]float32, e.dims)
			continue
		}
		idx = append(idx, i)
		pending = append(pending, t)
	}

	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(pending))
		vecs, err := e.post(ctx, pending[start:end])
		if err != nil {
			return nil, err
		}
		for j, v := range vecs {
			if len(v) != e.dims {
				return nil, cerrors.New(cerrors.ErrCodeDimensionMismatch,
					fmt.Sprintf("model returned %d dimensions, expected %d", len(v), e.dims), nil)
			}
			results[idx[start+j]] = v
		}
	}
	return results, nil
}

func (e *OllamaEmbedder) post(ctx context.Context, inputs []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.modelName, Input: inputs})
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeEmbeddingFailed, "encoding embed request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeEmbeddingFailed, "building embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, cerrors.New(cerrors.ErrCodeEmbeddingUnavailable, "Ollama embed request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, cerrors.New(cerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("Ollama embed returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, cerrors.New(cerrors.ErrCodeEmbeddingFailed, "decoding embed response", err)
	}
	if len(out.Embeddings) != len(inputs) {
		return nil, cerrors.New(cerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("Ollama returned %d embeddings for %d inputs", len(out.Embeddings), len(inputs)), nil)
	}

	vecs := make([][]float32, len(out.Embeddings))
	for i, emb := range out.Embeddings {
		if len(emb) == 0 {
			return nil, cerrors.New(cerrors.ErrCodeEmbeddingFailed, "empty embedding returned", nil)
		}
		v := make([]float32, len(emb))
		for j, x := range emb {
			v[j] = float32(x)
		}
		vecs[i] = normalizeVector(v)
	}
	return vecs, nil
}

func (e *OllamaEmbedder) Dimensions() int   { return e.dims }
func (e *OllamaEmbedder) ModelName() string { return e.modelName }

// Available probes the tags endpoint.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}
	_, err := e.findModel(ctx)
	return err == nil
}

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.transport.CloseIdleConnections()
	}
	return nil
}
