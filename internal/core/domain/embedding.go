package domain

import "fmt"

// EmbeddingSpace names one of the two vector spaces a chunk can carry.
// Text and multimodal vectors use different models and dimensions and are
// never compared across spaces.
type EmbeddingSpace string

const (
	SpaceText       EmbeddingSpace = "text"
	SpaceMultimodal EmbeddingSpace = "multimodal"
)

const (
	textDim       = 384
	multimodalDim = 768
)

func (s EmbeddingSpace) Valid() bool {
	return s == SpaceText || s == SpaceMultimodal
}

// Dim returns the fixed vector dimensionality of the space, or 0 for an
// unknown space.
func (s EmbeddingSpace) Dim() int {
	switch s {
	case SpaceText:
		return textDim
	case SpaceMultimodal:
		return multimodalDim
	default:
		return 0
	}
}

// ValidateVector rejects vectors whose length does not match the space.
func (s EmbeddingSpace) ValidateVector(vector []float32) error {
	if !s.Valid() {
		return WrapError(ErrInvalidInput, "validate vector",
			fmt.Errorf("unknown embedding space %q", string(s)))
	}
	if len(vector) != s.Dim() {
		return WrapError(ErrDimensionMismatch, "validate vector",
			fmt.Errorf("space %s expects %d dimensions, got %d", s, s.Dim(), len(vector)))
	}
	return nil
}
