// Package recognition turns detected faces into identity embeddings and
// compares them against enrolled templates. Face detection and the
// embedding network itself are external capabilities; this package owns
// the contracts around them: tensor preparation, output normalization and
// the match decision.
package recognition

import (
	"errors"
	"image"
	"math"
)

const (
	// InputSize is the model input edge length in pixels.
	InputSize = 112

	// TensorChannels is the number of color channels in the input tensor.
	TensorChannels = 3

	// EmbeddingSize is the length of the identity vector produced by the
	// embedding model.
	EmbeddingSize = 192
)

// FaceRegion is an axis-aligned face bounding box in oriented-raster
// coordinates (after rotation and mirror correction, where the external
// detector runs).
type FaceRegion struct {
	Left   int
	Top    int
	Width  int
	Height int
}

// Rect returns the region as an image rectangle.
func (r FaceRegion) Rect() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Left+r.Width, r.Top+r.Height)
}

// Tensor is the fixed 112x112x3 model input in row-major HWC order,
// channel values in [-1, 1).
type Tensor []float32

// Embedding is a fixed-length identity vector. After production by the
// Embedder it is L2-normalized, except for the all-zero failure sentinel
// which must never be compared as a valid identity.
type Embedding []float32

// IsZero reports whether the embedding is the invalid-capture sentinel:
// empty, or with every component exactly zero.
func (e Embedding) IsZero() bool {
	if len(e) == 0 {
		return true
	}
	for _, v := range e {
		if v != 0 {
			return false
		}
	}
	return true
}

// Norm returns the Euclidean norm of the embedding.
func (e Embedding) Norm() float64 {
	var sum float64
	for _, v := range e {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Detector finds faces in an oriented RGB raster.
type Detector interface {
	Detect(img *image.RGBA) ([]FaceRegion, error)
}

// ErrModelNotReady is returned when the embedding model capability has
// not been supplied. This is a configuration precondition, not a
// per-call failure mode.
var ErrModelNotReady = errors.New("embedding model not ready")

// ErrDetectorNotLoaded is returned when the detector models are not loaded.
var ErrDetectorNotLoaded = errors.New("detector models not loaded")

// ErrEmptyRegion is returned when a face region is empty after expansion
// and clamping to the raster bounds.
var ErrEmptyRegion = errors.New("face region is empty after clamping")
