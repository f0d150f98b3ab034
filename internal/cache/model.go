package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"image"
	"log/slog"
	"time"

	"clip-similarity/internal/embeddings"
	"clip-similarity/internal/model"
)

// Model serves embeddings from a Cache and only sends misses to the wrapped model.
type Model struct {
	inner model.Model
	cache Cache
	name  string
	ttl   time.Duration
	log   *slog.Logger
}

var _ model.Model = (*Model)(nil)

// NewModel wraps inner. name must identify the checkpoint inner runs, since it is
// part of every key.
func NewModel(inner model.Model, c Cache, name string, ttl time.Duration, log *slog.Logger) *Model {
	return &Model{inner: inner, cache: c, name: name, ttl: ttl, log: log}
}

// ImageKey is Key over a digest of the decoded pixels. Equal pixels share a key
// whatever format the image was decoded from.
func ImageKey(name string, img image.Image, caption string) string {
	return Key(name, PixelDigest(img), caption)
}

// PixelDigest hashes the size and 16-bit RGBA value of every pixel of img.
func PixelDigest(img image.Image) []byte {
	h := sha256.New()
	b := img.Bounds()
	var px [8]byte
	binary.BigEndian.PutUint32(px[:4], uint32(b.Dx()))
	binary.BigEndian.PutUint32(px[4:], uint32(b.Dy()))
	h.Write(px[:])

	row := make([]byte, 8*b.Dx())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			o := 8 * (x - b.Min.X)
			binary.BigEndian.PutUint16(row[o:], uint16(r))
			binary.BigEndian.PutUint16(row[o+2:], uint16(g))
			binary.BigEndian.PutUint16(row[o+4:], uint16(bl))
			binary.BigEndian.PutUint16(row[o+6:], uint16(a))
		}
		h.Write(row)
	}
	return h.Sum(nil)
}

// Predict keeps input order: cached and freshly computed rows are merged by position.
// Cache failures are logged and treated as misses.
func (m *Model) Predict(ctx context.Context, inputs []model.Input) (model.Prediction, error) {
	if err := model.ValidateInputs(inputs); err != nil {
		return model.Prediction{}, err
	}

	keys := make([]string, len(inputs))
	rows := make([]*Row, len(inputs))
	var misses []int
	for i, in := range inputs {
		key := ImageKey(m.name, in.Image, in.Caption)
		keys[i] = key
		row, err := m.cache.GetRow(ctx, key)
		if err != nil {
			m.log.Warn("embedding cache read failed", "err", err)
		}
		if row != nil && len(row.Image) > 0 && len(row.Image) == len(row.Text) {
			rows[i] = row
			continue
		}
		misses = append(misses, i)
	}

	if len(misses) > 0 {
		batch := make([]model.Input, len(misses))
		for j, i := range misses {
			batch[j] = inputs[i]
		}
		pred, err := m.inner.Predict(ctx, batch)
		if err != nil {
			return model.Prediction{}, err
		}
		if err := model.CheckPrediction(pred, len(batch)); err != nil {
			return model.Prediction{}, err
		}
		for j, i := range misses {
			row := &Row{
				Image: append(embeddings.Vector(nil), pred.ImageEmbedding.Row(j)...),
				Text:  append(embeddings.Vector(nil), pred.TextEmbedding.Row(j)...),
			}
			rows[i] = row
			if err := m.cache.SetRow(ctx, keys[i], row, m.ttl); err != nil {
				m.log.Warn("embedding cache write failed", "err", err)
			}
		}
	}
	m.log.Debug("embedding cache lookup", "inputs", len(inputs), "misses", len(misses))

	images := make([]embeddings.Vector, len(rows))
	texts := make([]embeddings.Vector, len(rows))
	for i, r := range rows {
		images[i], texts[i] = r.Image, r.Text
	}
	img, err := embeddings.NewMatrix(images)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("cached image rows: %w", err)
	}
	txt, err := embeddings.NewMatrix(texts)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("cached text rows: %w", err)
	}
	return model.Prediction{ImageEmbedding: img, TextEmbedding: txt}, nil
}
