// Package similarity scores how well captions describe images by comparing the
// embeddings a model produces for both.
package similarity

import (
	"context"
	"fmt"
	"sort"

	"clip-similarity/internal/distance"
	"clip-similarity/internal/model"
)

// Calculator runs a Model and a distance Calculator as one pipeline.
type Calculator struct {
	model    model.Model
	distance distance.Calculator
}

func New(m model.Model, d distance.Calculator) *Calculator {
	return &Calculator{model: m, distance: d}
}

// Metric reports which distance the scores are measured in.
func (c *Calculator) Metric() distance.Metric {
	return c.distance.Metric()
}

// Result is a scored batch together with the embeddings behind the scores.
type Result struct {
	Scores     []float32
	Prediction model.Prediction
}

// Calculate returns one score per input, in input order. The whole batch goes
// to the model in a single Predict call.
func (c *Calculator) Calculate(ctx context.Context, inputs []model.Input) ([]float32, error) {
	res, err := c.Evaluate(ctx, inputs)
	if err != nil {
		return nil, err
	}
	return res.Scores, nil
}

// Evaluate is Calculate that also returns the prediction, for callers that
// persist embeddings.
func (c *Calculator) Evaluate(ctx context.Context, inputs []model.Input) (Result, error) {
	if len(inputs) == 0 {
		return Result{}, model.ErrEmptyBatch
	}
	pred, err := c.model.Predict(ctx, inputs)
	if err != nil {
		return Result{}, fmt.Errorf("predict: %w", err)
	}
	scores, err := c.distance.CalculateDistance(pred.ImageEmbedding, pred.TextEmbedding)
	if err != nil {
		return Result{}, fmt.Errorf("distance: %w", err)
	}
	return Result{Scores: scores, Prediction: pred}, nil
}

// Rank returns input indices ordered from best to worst match under metric.
// Ties keep input order.
func Rank(scores []float32, metric distance.Metric) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	higher := metric.HigherIsBetter()
	sort.SliceStable(idx, func(a, b int) bool {
		if higher {
			return scores[idx[a]] > scores[idx[b]]
		}
		return scores[idx[a]] < scores[idx[b]]
	})
	return idx
}
