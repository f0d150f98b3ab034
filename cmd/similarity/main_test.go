package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clip-similarity/internal/clip/cliptest"
	"clip-similarity/internal/distance"
)

func newRedImageServer(t *testing.T) *httptest.Server {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunTable(t *testing.T) {
	clipSrv := cliptest.NewServer(512)
	defer clipSrv.Close()
	images := newRedImageServer(t)

	var out bytes.Buffer
	err := run(context.Background(), &out, options{
		Images:   []string{images.URL + "/red.png"},
		Captions: []string{"a photo of the ocean", "a red square"},
		ClipURL:  clipSrv.URL,
	})
	require.NoError(t, err)

	var ocean, red string
	for _, line := range strings.Split(out.String(), "\n") {
		switch {
		case strings.Contains(line, "a photo of the ocean"):
			ocean = line
		case strings.Contains(line, "a red square"):
			red = line
		}
	}
	require.NotEmpty(t, ocean)
	require.NotEmpty(t, red)
	assert.Less(t, strings.Index(out.String(), ocean), strings.Index(out.String(), red), "rows keep input order")
	assert.Contains(t, red, "*")
	assert.NotContains(t, ocean, "*")

	reqs := clipSrv.Requests()
	require.Len(t, reqs, 1)
	assert.Len(t, reqs[0].Images, 2)
}

func TestRunJSONEuclidean(t *testing.T) {
	clipSrv := cliptest.NewServer(512)
	defer clipSrv.Close()
	images := newRedImageServer(t)

	var out bytes.Buffer
	err := run(context.Background(), &out, options{
		Images:   []string{images.URL + "/a.png", images.URL + "/b.png"},
		Captions: []string{"a red square", "a green forest"},
		Metric:   "euclidean",
		ClipURL:  clipSrv.URL,
		JSON:     true,
	})
	require.NoError(t, err)

	var resp struct {
		Metric  string      `json:"metric"`
		Results []scoreLine `json:"results"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, string(distance.MetricEuclidean), resp.Metric)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a red square", resp.Results[0].Caption)
	assert.True(t, resp.Results[0].Best)
	assert.False(t, resp.Results[1].Best)
	assert.Less(t, resp.Results[0].Score, resp.Results[1].Score)
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name string
		opts options
	}{
		{name: "no captions", opts: options{Images: []string{"http://x/a.png"}, ClipURL: "http://localhost"}},
		{name: "image count mismatch", opts: options{Images: []string{"http://x/a.png", "http://x/b.png"}, Captions: []string{"a", "b", "c"}, ClipURL: "http://localhost"}},
		{name: "unknown metric", opts: options{Images: []string{"http://x/a.png"}, Captions: []string{"a"}, Metric: "manhattan", ClipURL: "http://localhost"}},
		{name: "unknown model", opts: options{Images: []string{"http://x/a.png"}, Captions: []string{"a"}, Model: "openai/clip-rn50", ClipURL: "http://localhost"}},
		{name: "missing clip url", opts: options{Images: []string{"http://x/a.png"}, Captions: []string{"a"}}},
		{name: "invalid image url", opts: options{Images: []string{"file:///tmp/a.png"}, Captions: []string{"a"}, ClipURL: "http://localhost"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), &bytes.Buffer{}, tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestPairImages(t *testing.T) {
	got, err := pairImages([]string{"u"}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"u", "u", "u"}, got)

	got, err = pairImages([]string{"a", "b"}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	_, err = pairImages([]string{"a", "b"}, 3)
	assert.Error(t, err)
}
