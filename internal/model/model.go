package model

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"clip-similarity/internal/embeddings"
)

var (
	ErrUnsupportedModel = errors.New("unsupported model")
	ErrEmptyBatch       = errors.New("input batch is empty")
	ErrNilImage         = errors.New("input image is nil")
)

// Input is one image/caption pair to embed.
type Input struct {
	Image   image.Image
	Caption string
}

// Prediction holds the image and text embeddings for a batch.
// Row i of both matrices comes from Input i.
type Prediction struct {
	ImageEmbedding embeddings.Matrix `json:"image_embedding"`
	TextEmbedding  embeddings.Matrix `json:"text_embedding"`
}

// Model maps a batch of inputs to aligned image and text embeddings.
type Model interface {
	Predict(ctx context.Context, inputs []Input) (Prediction, error)
}

// Name identifies a pretrained checkpoint.
type Name string

const (
	ClipViTBasePatch16  Name = "openai/clip-vit-base-patch16"
	ClipViTLargePatch14 Name = "openai/clip-vit-large-patch14"

	DefaultName = ClipViTBasePatch16
)

// Params describes the preprocessing and output shape of a checkpoint.
type Params struct {
	ImageSize    int
	MaxTokens    int
	EmbeddingDim int
}

var checkpoints = map[Name]Params{
	ClipViTBasePatch16:  {ImageSize: 224, MaxTokens: 77, EmbeddingDim: 512},
	ClipViTLargePatch14: {ImageSize: 224, MaxTokens: 77, EmbeddingDim: 768},
}

// Names lists the supported checkpoints.
func Names() []Name {
	return []Name{ClipViTBasePatch16, ClipViTLargePatch14}
}

// ParseName validates s against the supported checkpoints. Empty selects DefaultName.
func ParseName(s string) (Name, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultName, nil
	}
	if _, ok := checkpoints[Name(s)]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedModel, s)
	}
	return Name(s), nil
}

// Params returns the checkpoint description. ok is false for unknown names.
func (n Name) Params() (Params, bool) {
	s, ok := checkpoints[n]
	return s, ok
}

// ValidateInputs rejects empty batches and nil images.
func ValidateInputs(inputs []Input) error {
	if len(inputs) == 0 {
		return ErrEmptyBatch
	}
	for i, in := range inputs {
		if in.Image == nil {
			return fmt.Errorf("%w: input %d", ErrNilImage, i)
		}
	}
	return nil
}

// CheckPrediction verifies that p has n aligned rows in each batch.
func CheckPrediction(p Prediction, n int) error {
	if p.ImageEmbedding.Rows() != n || p.TextEmbedding.Rows() != n {
		return fmt.Errorf("prediction has %d image rows and %d text rows, want %d",
			p.ImageEmbedding.Rows(), p.TextEmbedding.Rows(), n)
	}
	if p.ImageEmbedding.Dim() != p.TextEmbedding.Dim() {
		return fmt.Errorf("image dim %d differs from text dim %d", p.ImageEmbedding.Dim(), p.TextEmbedding.Dim())
	}
	return nil
}
