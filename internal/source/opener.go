// Package source opens input tables named by location: a local path, a
// file:// or http(s):// URL, or s3://bucket/key.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"spectramerge/internal/blob"
	"spectramerge/internal/logging"
)

// S3Factory returns a store bound to bucket.
type S3Factory func(ctx context.Context, bucket string) (blob.Store, error)

// Options configures an Opener.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	S3         S3Factory
	Logger     *zap.Logger
}

// Opener resolves locations to readers.
type Opener struct {
	client *http.Client
	s3     S3Factory
	log    *zap.Logger
}

// New constructs an Opener. Without an S3 factory s3:// locations fail.
func New(opts Options) *Opener {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Opener{client: client, s3: opts.S3, log: logging.OrNop(opts.Logger)}
}

// S3FromConfig adapts blob S3 settings into an S3Factory.
func S3FromConfig(base blob.S3Config) S3Factory {
	return func(ctx context.Context, bucket string) (blob.Store, error) {
		cfg := base
		cfg.Bucket = bucket
		cfg.Prefix = ""
		return blob.NewS3(ctx, cfg)
	}
}

// Kind classifies a location for logging.
func Kind(location string) string {
	u, err := url.Parse(location)
	if err != nil || len(u.Scheme) <= 1 {
		return "file"
	}
	return strings.ToLower(u.Scheme)
}

// Open returns the content at location. The caller closes the reader.
func (o *Opener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("empty location")
	}
	switch Kind(location) {
	case "http", "https":
		return o.openHTTP(ctx, location)
	case "s3":
		return o.openS3(ctx, location)
	case "file":
		path := location
		if u, err := url.Parse(location); err == nil && u.Scheme == "file" {
			path = u.Path
		}
		return os.Open(path)
	default:
		return nil, fmt.Errorf("unsupported location scheme %q", Kind(location))
	}
}

func (o *Opener) openHTTP(ctx context.Context, location string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", location, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("GET %s: unexpected status %s", location, resp.Status)
	}
	o.log.Debug("fetched remote source",
		zap.String("location", location),
		zap.Int64("content_length", resp.ContentLength),
		zap.Duration("elapsed", time.Since(started)))
	return resp.Body, nil
}

func (o *Opener) openS3(ctx context.Context, location string) (io.ReadCloser, error) {
	if o.s3 == nil {
		return nil, fmt.Errorf("s3 source %s: no s3 configuration", location)
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, err
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return nil, fmt.Errorf("s3 location %s must look like s3://bucket/key", location)
	}
	store, err := o.s3(ctx, u.Host)
	if err != nil {
		return nil, err
	}
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return rc, nil
}
