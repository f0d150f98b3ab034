// Package cliptest provides an in-process stand-in for the CLIP inference server.
//
// Image rows encode the mean colour of the image, text rows encode colour and
// scene words found in the caption, so "a red square" lands next to a red image
// and far from "a photo of the ocean".
package cliptest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Request mirrors the JSON body the clip package sends.
type Request struct {
	Model      string   `json:"model"`
	Images     []string `json:"images"`
	Texts      []string `json:"texts"`
	Padding    bool     `json:"padding"`
	Truncation bool     `json:"truncation"`
	MaxLength  int      `json:"max_length"`
}

// Server records requests and answers with deterministic embeddings of size Dim.
type Server struct {
	*httptest.Server
	Dim int

	mu       sync.Mutex
	requests []Request
}

// NewServer starts a fake server producing dim-sized embeddings.
func NewServer(dim int) *Server {
	s := &Server{Dim: dim}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Requests returns the requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/v1/embeddings/clip" {
		http.NotFound(w, r)
		return
	}
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	resp := struct {
		ImageEmbeds [][]float32 `json:"image_embeds"`
		TextEmbeds  [][]float32 `json:"text_embeds"`
	}{}
	for _, b64 := range req.Images {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		img, err := png.Decode(bytes.NewReader(raw))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp.ImageEmbeds = append(resp.ImageEmbeds, s.ImageEmbedding(img))
	}
	for _, text := range req.Texts {
		resp.TextEmbeds = append(resp.TextEmbeds, s.TextEmbedding(text))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// ImageEmbedding is the unit-length mean RGB of img, padded to Dim.
func (s *Server) ImageEmbedding(img image.Image) []float32 {
	b := img.Bounds()
	var r, g, bl float64
	n := float64(b.Dx() * b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			r += float64(cr)
			g += float64(cg)
			bl += float64(cb)
		}
	}
	return s.vector(r/n, g/n, bl/n, 0.05*0xffff)
}

// TextEmbedding maps colour and scene words onto the same axes as ImageEmbedding.
func (s *Server) TextEmbedding(text string) []float32 {
	var r, g, b float64
	for _, w := range strings.Fields(strings.ToLower(text)) {
		switch strings.Trim(w, ".,!?") {
		case "red":
			r++
		case "green", "forest", "grass":
			g++
		case "blue", "ocean", "sea", "sky":
			b++
		}
	}
	return s.vector(r, g, b, 0.05)
}

func (s *Server) vector(r, g, b, bias float64) []float32 {
	v := make([]float32, s.Dim)
	vals := []float64{r, g, b, bias}
	var norm float64
	for _, x := range vals {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	for i := 0; i < len(vals) && i < s.Dim; i++ {
		v[i] = float32(vals[i] / norm)
	}
	return v
}
