package cache

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"clip-similarity/internal/embeddings"
	"clip-similarity/internal/model"
)

const testModel = "openai/clip-vit-base-patch16"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func square(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestModelAllMisses(t *testing.T) {
	inputs := []model.Input{
		{Image: square(color.White), Caption: "white"},
		{Image: square(color.Black), Caption: "black"},
	}
	pred := model.Prediction{
		ImageEmbedding: embeddings.MustMatrix(embeddings.Vector{1, 0}, embeddings.Vector{0, 1}),
		TextEmbedding:  embeddings.MustMatrix(embeddings.Vector{1, 1}, embeddings.Vector{0, 2}),
	}

	c := new(MockCache)
	c.On("GetRow", mock.Anything, mock.Anything).Return(nil, nil).Twice()
	c.On("SetRow", mock.Anything, mock.Anything, mock.Anything, time.Hour).Return(nil).Twice()
	inner := new(model.MockModel)
	inner.On("Predict", mock.Anything, inputs).Return(pred, nil).Once()

	got, err := NewModel(inner, c, testModel, time.Hour, testLogger()).Predict(context.Background(), inputs)
	require.NoError(t, err)
	assert.Equal(t, pred.ImageEmbedding.Vectors(), got.ImageEmbedding.Vectors())
	assert.Equal(t, pred.TextEmbedding.Vectors(), got.TextEmbedding.Vectors())

	c.AssertExpectations(t)
	inner.AssertExpectations(t)
}

func TestModelPartialHitKeepsOrder(t *testing.T) {
	hit := model.Input{Image: square(color.White), Caption: "cached"}
	miss := model.Input{Image: square(color.Black), Caption: "fresh"}
	hitKey := ImageKey(testModel, hit.Image, hit.Caption)

	c := new(MockCache)
	c.On("GetRow", mock.Anything, hitKey).Return(&Row{Image: embeddings.Vector{9, 9}, Text: embeddings.Vector{8, 8}}, nil).Once()
	c.On("GetRow", mock.Anything, mock.Anything).Return(nil, nil).Once()
	c.On("SetRow", mock.Anything, mock.MatchedBy(func(k string) bool { return k != hitKey }), mock.Anything, mock.Anything).Return(nil).Once()

	inner := new(model.MockModel)
	inner.On("Predict", mock.Anything, []model.Input{miss}).Return(model.Prediction{
		ImageEmbedding: embeddings.MustMatrix(embeddings.Vector{1, 2}),
		TextEmbedding:  embeddings.MustMatrix(embeddings.Vector{3, 4}),
	}, nil).Once()

	got, err := NewModel(inner, c, testModel, time.Minute, testLogger()).Predict(context.Background(), []model.Input{miss, hit})
	require.NoError(t, err)
	assert.Equal(t, []embeddings.Vector{{1, 2}, {9, 9}}, got.ImageEmbedding.Vectors())
	assert.Equal(t, []embeddings.Vector{{3, 4}, {8, 8}}, got.TextEmbedding.Vectors())

	c.AssertExpectations(t)
	inner.AssertExpectations(t)
}

func TestModelAllHitsSkipsInner(t *testing.T) {
	c := new(MockCache)
	c.On("GetRow", mock.Anything, mock.Anything).Return(&Row{Image: embeddings.Vector{1}, Text: embeddings.Vector{1}}, nil)
	inner := new(model.MockModel)

	got, err := NewModel(inner, c, testModel, time.Minute, testLogger()).
		Predict(context.Background(), []model.Input{{Image: square(color.White), Caption: "x"}})
	require.NoError(t, err)
	assert.Equal(t, 1, got.ImageEmbedding.Rows())
	inner.AssertNotCalled(t, "Predict", mock.Anything, mock.Anything)
}

func TestModelCacheFailuresAreMisses(t *testing.T) {
	inputs := []model.Input{{Image: square(color.White), Caption: "x"}}
	c := new(MockCache)
	c.On("GetRow", mock.Anything, mock.Anything).Return(nil, errors.New("redis down")).Once()
	c.On("SetRow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down")).Once()
	inner := new(model.MockModel)
	inner.On("Predict", mock.Anything, inputs).Return(model.Prediction{
		ImageEmbedding: embeddings.MustMatrix(embeddings.Vector{1, 0}),
		TextEmbedding:  embeddings.MustMatrix(embeddings.Vector{0, 1}),
	}, nil).Once()

	got, err := NewModel(inner, c, testModel, time.Minute, testLogger()).Predict(context.Background(), inputs)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TextEmbedding.Rows())
	inner.AssertExpectations(t)
}

func TestModelRejectsEmptyBatch(t *testing.T) {
	_, err := NewModel(new(model.MockModel), new(MockCache), testModel, time.Minute, testLogger()).
		Predict(context.Background(), nil)
	assert.ErrorIs(t, err, model.ErrEmptyBatch)
}

func TestModelInnerErrorPropagates(t *testing.T) {
	boom := errors.New("clip unavailable")
	inputs := []model.Input{{Image: square(color.White), Caption: "x"}}
	c := new(MockCache)
	c.On("GetRow", mock.Anything, mock.Anything).Return(nil, nil)
	inner := new(model.MockModel)
	inner.On("Predict", mock.Anything, inputs).Return(model.Prediction{}, boom).Once()

	_, err := NewModel(inner, c, testModel, time.Minute, testLogger()).Predict(context.Background(), inputs)
	assert.ErrorIs(t, err, boom)
	c.AssertNotCalled(t, "SetRow", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestImageKey(t *testing.T) {
	rgba := square(color.RGBA{R: 200, G: 10, B: 30, A: 255})
	nrgba := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			nrgba.Set(x, y, color.NRGBA{R: 200, G: 10, B: 30, A: 255})
		}
	}
	wide := image.NewRGBA(image.Rect(0, 0, 4, 1))
	for x := 0; x < 4; x++ {
		wide.Set(x, 0, color.RGBA{R: 200, G: 10, B: 30, A: 255})
	}

	key := ImageKey(testModel, rgba, "a red square")
	assert.Equal(t, key, ImageKey(testModel, nrgba, "a red square"), "same pixels in another image type")
	assert.NotEqual(t, key, ImageKey(testModel, wide, "a red square"), "same pixels in another shape")
	assert.NotEqual(t, key, ImageKey(testModel, square(color.Black), "a red square"))
	assert.NotEqual(t, key, ImageKey(testModel, rgba, "a blue square"))
}
