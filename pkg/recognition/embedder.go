package recognition

import (
	"fmt"
	"sync"

	"github.com/campuspass/campuspass/pkg/logging"
)

// Model is the externally supplied embedding capability. It is treated as
// a black box accepting a 112x112x3 tensor and returning a raw 192-length
// identity vector.
type Model interface {
	Infer(t Tensor) ([]float32, error)
}

// Embedder wraps the embedding model and applies L2 normalization to its
// raw output. The model is loaded once and shared read-only afterwards.
type Embedder struct {
	mu    sync.RWMutex
	model Model
}

// NewEmbedder creates an Embedder without a model. SetModel must be
// called before Embed.
func NewEmbedder() *Embedder {
	return &Embedder{}
}

// SetModel installs the embedding model capability.
func (e *Embedder) SetModel(m Model) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model = m
	logging.Component("embedder").Info("embedding model installed")
}

// IsReady returns true when a model has been installed.
func (e *Embedder) IsReady() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model != nil
}

// Embed runs the model on the input tensor and L2-normalizes the output.
// A raw vector with zero norm is returned with all components unchanged;
// callers must treat that degenerate embedding as the invalid-capture
// sentinel and never compare it against stored templates.
func (e *Embedder) Embed(t Tensor) (Embedding, error) {
	e.mu.RLock()
	m := e.model
	e.mu.RUnlock()

	if m == nil {
		return nil, ErrModelNotReady
	}

	raw, err := m.Infer(t)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	emb := Embedding(raw)
	norm := emb.Norm()
	if norm == 0 {
		logging.Component("embedder").Warn("model produced a zero vector")
		return emb, nil
	}

	out := make(Embedding, len(emb))
	for i, v := range emb {
		out[i] = v / float32(norm)
	}
	return out, nil
}
