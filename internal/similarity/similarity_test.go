package similarity

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"clip-similarity/internal/clip"
	"clip-similarity/internal/clip/cliptest"
	"clip-similarity/internal/distance"
	"clip-similarity/internal/embeddings"
	"clip-similarity/internal/model"
)

func redSquare() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	return img
}

func TestCalculatePipesPredictionIntoDistance(t *testing.T) {
	img := redSquare()
	inputs := []model.Input{{Image: img, Caption: "a"}, {Image: img, Caption: "b"}}
	pred := model.Prediction{
		ImageEmbedding: embeddings.MustMatrix(embeddings.Vector{1, 0}, embeddings.Vector{0, 1}),
		TextEmbedding:  embeddings.MustMatrix(embeddings.Vector{1, 0}, embeddings.Vector{1, 0}),
	}

	m := new(model.MockModel)
	m.On("Predict", mock.Anything, inputs).Return(pred, nil).Once()
	d := new(distance.MockCalculator)
	d.On("CalculateDistance", pred.ImageEmbedding, pred.TextEmbedding).Return([]float32{0.9, 0.1}, nil).Once()

	scores, err := New(m, d).Calculate(context.Background(), inputs)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.9, 0.1}, scores)

	m.AssertExpectations(t)
	d.AssertExpectations(t)
}

func TestCalculateEmptyBatch(t *testing.T) {
	m := new(model.MockModel)
	d := new(distance.MockCalculator)

	scores, err := New(m, d).Calculate(context.Background(), nil)
	assert.Nil(t, scores)
	assert.ErrorIs(t, err, model.ErrEmptyBatch)
	m.AssertNotCalled(t, "Predict", mock.Anything, mock.Anything)
}

func TestCalculatePropagatesErrors(t *testing.T) {
	inputs := []model.Input{{Image: redSquare(), Caption: "x"}}
	boom := errors.New("server down")

	t.Run("model", func(t *testing.T) {
		m := new(model.MockModel)
		m.On("Predict", mock.Anything, inputs).Return(model.Prediction{}, boom).Once()
		d := new(distance.MockCalculator)

		_, err := New(m, d).Calculate(context.Background(), inputs)
		assert.ErrorIs(t, err, boom)
		d.AssertNotCalled(t, "CalculateDistance", mock.Anything, mock.Anything)
	})

	t.Run("distance", func(t *testing.T) {
		pred := model.Prediction{
			ImageEmbedding: embeddings.MustMatrix(embeddings.Vector{0, 0}),
			TextEmbedding:  embeddings.MustMatrix(embeddings.Vector{1, 0}),
		}
		m := new(model.MockModel)
		m.On("Predict", mock.Anything, inputs).Return(pred, nil).Once()

		_, err := New(m, distance.Cosine{}).Calculate(context.Background(), inputs)
		assert.ErrorIs(t, err, distance.ErrZeroVector)
	})
}

func TestMatchingCaptionScoresBetter(t *testing.T) {
	srv := cliptest.NewServer(512)
	defer srv.Close()
	m, err := clip.New(clip.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	img := redSquare()
	inputs := []model.Input{
		{Image: img, Caption: "a red square"},
		{Image: img, Caption: "a photo of the ocean"},
	}

	t.Run("cosine", func(t *testing.T) {
		calc := New(m, distance.Cosine{})
		scores, err := calc.Calculate(context.Background(), inputs)
		require.NoError(t, err)
		require.Len(t, scores, 2)
		assert.Greater(t, scores[0], scores[1])
		assert.Equal(t, []int{0, 1}, Rank(scores, calc.Metric()))
	})

	t.Run("euclidean", func(t *testing.T) {
		calc := New(m, distance.Euclidean{})
		scores, err := calc.Calculate(context.Background(), inputs)
		require.NoError(t, err)
		require.Len(t, scores, 2)
		assert.Less(t, scores[0], scores[1])
		assert.Equal(t, []int{0, 1}, Rank(scores, calc.Metric()))
	})
}

func TestRank(t *testing.T) {
	scores := []float32{0.2, 0.9, 0.5, 0.9}
	assert.Equal(t, []int{1, 3, 2, 0}, Rank(scores, distance.MetricCosine))
	assert.Equal(t, []int{0, 2, 1, 3}, Rank(scores, distance.MetricEuclidean))
	assert.Empty(t, Rank(nil, distance.MetricCosine))
}

func TestEvaluateReturnsPrediction(t *testing.T) {
	inputs := []model.Input{{Image: redSquare(), Caption: "red"}}
	pred := model.Prediction{
		ImageEmbedding: embeddings.MustMatrix(embeddings.Vector{3, 4}),
		TextEmbedding:  embeddings.MustMatrix(embeddings.Vector{0, 0}),
	}
	m := new(model.MockModel)
	m.On("Predict", mock.Anything, inputs).Return(pred, nil).Once()

	res, err := New(m, distance.Euclidean{}).Evaluate(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, res.Scores, 1)
	assert.InDelta(t, 5, res.Scores[0], 1e-5)
	assert.Equal(t, pred, res.Prediction)
}
