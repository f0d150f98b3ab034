// Package imageload fetches images over HTTP and decodes them in memory.
//
// Failures fall into three kinds callers can tell apart with errors.Is:
// ErrFetch (the request never produced a response), ErrBadStatus (the server
// answered non-2xx, see StatusError) and ErrDecode (the body is not an image).
package imageload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"time"

	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"clip-similarity/internal/retry"
)

var (
	ErrInvalidURL = errors.New("invalid image url")
	ErrFetch      = errors.New("image fetch failed")
	ErrBadStatus  = errors.New("image server returned non-2xx status")
	ErrDecode     = errors.New("image decode failed")
	ErrTooLarge   = errors.New("image exceeds size limit")
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxBytes    = 20 << 20
	defaultConcurrency = 4
	retryBase          = 250 * time.Millisecond
)

// StatusError carries the HTTP status of a failed fetch. It matches ErrBadStatus.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: GET %s: %d %s", ErrBadStatus, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *StatusError) Is(target error) bool { return target == ErrBadStatus }

// Options tune a Loader. Zero values pick the defaults.
type Options struct {
	Timeout     time.Duration
	MaxBytes    int64
	Retries     int
	Concurrency int
	HTTPClient  *http.Client
}

// Loader downloads and decodes images. It keeps no state between calls.
type Loader struct {
	client      *http.Client
	maxBytes    int64
	retries     int
	concurrency int
}

func New(opts Options) *Loader {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Loader{
		client:      client,
		maxBytes:    opts.MaxBytes,
		retries:     opts.Retries,
		concurrency: opts.Concurrency,
	}
}

// Load fetches rawURL and decodes the body. Transport errors, 429 and 5xx are
// retried up to Options.Retries times; everything else fails immediately.
func (l *Loader) Load(ctx context.Context, rawURL string) (image.Image, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	var body []byte
	err = retry.Do(ctx, l.retries, retryBase, func() error {
		b, err := l.fetch(ctx, u.String())
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && !retryableStatus(se.StatusCode) {
				return retry.Permanent(err)
			}
			if errors.Is(err, ErrTooLarge) || errors.Is(err, ErrInvalidURL) {
				return retry.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Decode(bytes.NewReader(body))
}

// LoadAll loads every URL concurrently. Result i belongs to urls[i]; the first
// failure cancels the rest.
func (l *Loader) LoadAll(ctx context.Context, urls []string) ([]image.Image, error) {
	out := make([]image.Image, len(urls))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			img, err := l.Load(ctx, u)
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			out[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Loader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}
	if int64(len(body)) > l.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, l.maxBytes)
	}
	return body, nil
}

// Decode reads a PNG, JPEG, GIF or WebP image from r.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
