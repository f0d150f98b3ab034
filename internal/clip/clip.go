package clip

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"clip-similarity/internal/embeddings"
	"clip-similarity/internal/model"
)

const (
	defaultTimeout = 60 * time.Second
	embedPath      = "/v1/embeddings/clip"
	maxErrorBody   = 4 << 10
)

// ErrMalformedResponse means the server answered 2xx with embeddings that do not
// line up with the request.
var ErrMalformedResponse = errors.New("clip: malformed embedding response")

// ServerError is returned for non-2xx answers from the inference server.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("clip: server returned %d: %s", e.StatusCode, e.Body)
}

// Config selects the checkpoint and the inference server that hosts it.
type Config struct {
	BaseURL string
	Model   model.Name
	Timeout time.Duration
	// MaxBatchSize splits large batches into sequential requests. Zero sends the
	// whole batch at once.
	MaxBatchSize int
	HTTPClient   *http.Client
}

// Model embeds image/caption pairs through a CLIP inference server.
type Model struct {
	baseURL  string
	name     model.Name
	params   model.Params
	maxBatch int
	client   *http.Client
}

var _ model.Model = (*Model)(nil)

// New validates cfg and returns a ready model. An unknown checkpoint fails here
// rather than on the first Predict.
func New(cfg Config) (*Model, error) {
	if cfg.Model == "" {
		cfg.Model = model.DefaultName
	}
	params, ok := cfg.Model.Params()
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedModel, cfg.Model)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("clip: server url required")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Model{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		name:     cfg.Model,
		params:   params,
		maxBatch: cfg.MaxBatchSize,
		client:   client,
	}, nil
}

func (m *Model) Name() model.Name { return m.name }

type embedRequest struct {
	Model      string   `json:"model"`
	Images     []string `json:"images"`
	Texts      []string `json:"texts"`
	Padding    bool     `json:"padding"`
	Truncation bool     `json:"truncation"`
	MaxLength  int      `json:"max_length"`
}

type embedResponse struct {
	ImageEmbeds []embeddings.Vector `json:"image_embeds"`
	TextEmbeds  []embeddings.Vector `json:"text_embeds"`
}

// Predict embeds every input. Rows of the result follow input order.
func (m *Model) Predict(ctx context.Context, inputs []model.Input) (model.Prediction, error) {
	if err := model.ValidateInputs(inputs); err != nil {
		return model.Prediction{}, err
	}
	size := len(inputs)
	if m.maxBatch > 0 && m.maxBatch < size {
		size = m.maxBatch
	}

	var out model.Prediction
	for start := 0; start < len(inputs); start += size {
		end := min(start+size, len(inputs))
		p, err := m.predictChunk(ctx, inputs[start:end])
		if err != nil {
			return model.Prediction{}, err
		}
		if out.ImageEmbedding, err = embeddings.Concat(out.ImageEmbedding, p.ImageEmbedding); err != nil {
			return model.Prediction{}, err
		}
		if out.TextEmbedding, err = embeddings.Concat(out.TextEmbedding, p.TextEmbedding); err != nil {
			return model.Prediction{}, err
		}
	}
	return out, nil
}

func (m *Model) predictChunk(ctx context.Context, inputs []model.Input) (model.Prediction, error) {
	req := embedRequest{
		Model:      string(m.name),
		Images:     make([]string, len(inputs)),
		Texts:      make([]string, len(inputs)),
		Padding:    true,
		Truncation: true,
		MaxLength:  m.params.MaxTokens,
	}
	for i, in := range inputs {
		encoded, err := EncodePNG(Downscale(in.Image, m.params.ImageSize))
		if err != nil {
			return model.Prediction{}, fmt.Errorf("clip: encode image %d: %w", i, err)
		}
		req.Images[i] = base64.StdEncoding.EncodeToString(encoded)
		req.Texts[i] = in.Caption
	}

	resp, err := m.post(ctx, req)
	if err != nil {
		return model.Prediction{}, err
	}
	return m.toPrediction(resp, len(inputs))
}

func (m *Model) post(ctx context.Context, body embedRequest) (embedResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return embedResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+embedPath, bytes.NewReader(payload))
	if err != nil {
		return embedResponse{}, fmt.Errorf("clip: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return embedResponse{}, fmt.Errorf("clip: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return embedResponse{}, &ServerError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return embedResponse{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return out, nil
}

func (m *Model) toPrediction(resp embedResponse, n int) (model.Prediction, error) {
	if len(resp.ImageEmbeds) != n || len(resp.TextEmbeds) != n {
		return model.Prediction{}, fmt.Errorf("%w: got %d image and %d text rows for %d inputs",
			ErrMalformedResponse, len(resp.ImageEmbeds), len(resp.TextEmbeds), n)
	}
	img, err := embeddings.NewMatrix(resp.ImageEmbeds)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("%w: image embeds: %v", ErrMalformedResponse, err)
	}
	txt, err := embeddings.NewMatrix(resp.TextEmbeds)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("%w: text embeds: %v", ErrMalformedResponse, err)
	}
	if img.Dim() != m.params.EmbeddingDim || txt.Dim() != m.params.EmbeddingDim {
		return model.Prediction{}, fmt.Errorf("%w: got dims %d/%d, %s produces %d",
			ErrMalformedResponse, img.Dim(), txt.Dim(), m.name, m.params.EmbeddingDim)
	}
	return model.Prediction{ImageEmbedding: img, TextEmbedding: txt}, nil
}

// Downscale shrinks img so its shorter side equals size, keeping the aspect ratio.
// Smaller images are returned unchanged; the server handles upscaling and cropping.
func Downscale(img image.Image, size int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	short := min(w, h)
	if size <= 0 || short <= size {
		return img
	}
	nw, nh := w*size/short, h*size/short
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// EncodePNG returns the lossless PNG encoding of img.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
