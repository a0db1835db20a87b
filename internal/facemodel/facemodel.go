// Package facemodel defines the pluggable face-detection/embedding port
// that internal/handlers calls into. No real ML model ships in this
// repository — spec.md treats FaceModel as an external dependency — so
// this package also provides a deterministic stub used by tests and by
// the worker until a real model backend is wired in.
package facemodel

import "context"

// BoundingBox is an optional [x,y,w,h] rectangle, carried through only
// when the model supplies one (spec's resolution of the bbox Open
// Question).
type BoundingBox struct {
	X, Y, W, H int
}

// Detection is one face found in an image, with its bounding box and
// embedding.
type Detection struct {
	BBox      *BoundingBox
	Embedding []float32
	Score     float32
}

// Model is the port handlers call to turn decoded image bytes into face
// detections. Implementations must return an empty, non-nil slice (not
// an error) when zero faces are found — internal/handlers is responsible
// for turning "zero detections" into the NoFaceDetected error kind.
type Model interface {
	DetectAndEmbed(ctx context.Context, imageBytes []byte) ([]Detection, error)
	Dimension() int
}

// Stub is a deterministic Model for tests and local development. It
// derives an embedding from a simple byte-histogram of the image so that
// distinct fixture images produce distinct, reproducible embeddings
// without any real model weights.
type Stub struct {
	dim int
}

// NewStub creates a Stub producing embeddings of the given dimension.
func NewStub(dim int) *Stub {
	if dim <= 0 {
		dim = 128
	}
	return &Stub{dim: dim}
}

func (s *Stub) Dimension() int { return s.dim }

// DetectAndEmbed reports exactly one detection (covering the whole image)
// unless imageBytes is empty, in which case it reports zero faces.
func (s *Stub) DetectAndEmbed(ctx context.Context, imageBytes []byte) ([]Detection, error) {
	if len(imageBytes) == 0 {
		return []Detection{}, nil
	}
	embedding := make([]float32, s.dim)
	var histogram [256]int
	for _, b := range imageBytes {
		histogram[b]++
	}
	total := float32(len(imageBytes))
	for b, count := range histogram {
		embedding[b%s.dim] += float32(count) / total
	}
	return []Detection{{
		Embedding: embedding,
		Score:     1.0,
	}}, nil
}
