package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"clip-similarity/internal/clip"
	"clip-similarity/internal/distance"
	"clip-similarity/internal/imageload"
	"clip-similarity/internal/model"
	"clip-similarity/internal/similarity"
)

type options struct {
	Images       []string
	Captions     []string
	Metric       string
	Model        string
	ClipURL      string
	FetchTimeout time.Duration
	MaxBatch     int
	JSON         bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:      "similarity",
		Usage:     "score how well captions describe images with CLIP",
		UsageText: "similarity --image URL --caption \"a red square\" --caption \"a photo of the ocean\"",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "image",
				Usage:    "image URL; give one to score every caption against it, or one per caption",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:     "caption",
				Usage:    "caption to score",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "metric",
				Usage:   "cosine or euclidean",
				Value:   string(distance.MetricCosine),
				Sources: cli.EnvVars("DISTANCE_METRIC"),
			},
			&cli.StringFlag{
				Name:    "model",
				Usage:   "CLIP checkpoint",
				Value:   string(model.DefaultName),
				Sources: cli.EnvVars("CLIP_MODEL"),
			},
			&cli.StringFlag{
				Name:    "clip-url",
				Usage:   "CLIP inference server base URL",
				Value:   "http://localhost:8000",
				Sources: cli.EnvVars("CLIP_SERVER_URL"),
			},
			&cli.DurationFlag{
				Name:    "fetch-timeout",
				Usage:   "per image download timeout",
				Value:   15 * time.Second,
				Sources: cli.EnvVars("FETCH_TIMEOUT"),
			},
			&cli.IntFlag{
				Name:    "max-batch",
				Usage:   "split requests to the CLIP server into batches of this size (0 = one request)",
				Sources: cli.EnvVars("CLIP_MAX_BATCH"),
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print JSON instead of a table",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(ctx, os.Stdout, options{
				Images:       cmd.StringSlice("image"),
				Captions:     cmd.StringSlice("caption"),
				Metric:       cmd.String("metric"),
				Model:        cmd.String("model"),
				ClipURL:      cmd.String("clip-url"),
				FetchTimeout: cmd.Duration("fetch-timeout"),
				MaxBatch:     int(cmd.Int("max-batch")),
				JSON:         cmd.Bool("json"),
			})
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

type scoreLine struct {
	Image   string  `json:"image"`
	Caption string  `json:"caption"`
	Score   float32 `json:"score"`
	Best    bool    `json:"best"`
}

func run(ctx context.Context, w io.Writer, opts options) error {
	urls, err := pairImages(opts.Images, len(opts.Captions))
	if err != nil {
		return err
	}
	metric, err := distance.ParseMetric(opts.Metric)
	if err != nil {
		return err
	}
	dist, err := distance.New(metric)
	if err != nil {
		return err
	}
	name, err := model.ParseName(opts.Model)
	if err != nil {
		return err
	}
	m, err := clip.New(clip.Config{BaseURL: opts.ClipURL, Model: name, MaxBatchSize: opts.MaxBatch})
	if err != nil {
		return err
	}

	images, err := loadUnique(ctx, imageload.New(imageload.Options{Timeout: opts.FetchTimeout}), urls)
	if err != nil {
		return err
	}
	inputs := make([]model.Input, len(urls))
	for i, u := range urls {
		inputs[i] = model.Input{Image: images[u], Caption: opts.Captions[i]}
	}

	scores, err := similarity.New(m, dist).Calculate(ctx, inputs)
	if err != nil {
		return err
	}
	best := similarity.Rank(scores, metric)[0]

	lines := make([]scoreLine, len(scores))
	for i, s := range scores {
		lines[i] = scoreLine{Image: urls[i], Caption: opts.Captions[i], Score: s, Best: i == best}
	}
	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"model": name, "metric": metric, "results": lines})
	}

	table := tablewriter.NewWriter(w)
	table.Header("#", "Caption", "Image", string(metric), "Best")
	for i, l := range lines {
		mark := ""
		if l.Best {
			mark = "*"
		}
		if err := table.Append(fmt.Sprintf("%d", i), l.Caption, l.Image, fmt.Sprintf("%.4f", l.Score), mark); err != nil {
			return err
		}
	}
	return table.Render()
}

// pairImages expands a single image to n rows; otherwise counts must match.
func pairImages(images []string, n int) ([]string, error) {
	switch {
	case n == 0:
		return nil, fmt.Errorf("at least one --caption is required")
	case len(images) == 1:
		out := make([]string, n)
		for i := range out {
			out[i] = images[0]
		}
		return out, nil
	case len(images) != n:
		return nil, fmt.Errorf("got %d images for %d captions; give one image or one per caption", len(images), n)
	}
	return images, nil
}

// loadUnique downloads each distinct URL once.
func loadUnique(ctx context.Context, loader *imageload.Loader, urls []string) (map[string]image.Image, error) {
	var distinct []string
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			distinct = append(distinct, u)
		}
	}
	imgs, err := loader.LoadAll(ctx, distinct)
	if err != nil {
		return nil, err
	}
	out := make(map[string]image.Image, len(distinct))
	for i, u := range distinct {
		out[u] = imgs[i]
	}
	return out, nil
}
