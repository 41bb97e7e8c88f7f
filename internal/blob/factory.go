package blob

import (
	"context"
	"fmt"

	"spectramerge/internal/infra/blob/fs"
	memorystore "spectramerge/internal/infra/blob/memory"
	infraS3 "spectramerge/internal/infra/blob/s3"
)

// S3Config re-exports the infra S3 configuration type.
type S3Config = infraS3.Config

// Options selects and parameterizes a driver.
type Options struct {
	Driver Driver
	// Location is the directory root for fs and the key prefix for s3.
	Location string
	S3       S3Config
}

// Open constructs the store named by opts.Driver. An empty driver means fs.
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(opts.Location)
	case DriverS3:
		cfg := opts.S3
		cfg.Prefix = opts.Location
		return NewS3(ctx, cfg)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewFilesystem constructs a filesystem-backed store rooted at root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewMemory returns an in-memory store.
func NewMemory() Store { return memorystore.New() }

// NewS3 constructs an S3-backed store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// NewMockS3ForTests exposes the in-memory S3 transport fake for cross-package tests.
func NewMockS3ForTests(bucket, prefix string) Store { return infraS3.NewMockForTests(bucket, prefix) }
