// Package blob is the single entry point to blob storage. Callers depend on
// the Store interface; the infra packages stay behind Open.
package blob

import (
	"context"
	"fmt"

	"variantcore/internal/blob/core"
	"variantcore/internal/infra/blob/fs"
	"variantcore/internal/infra/blob/memory"
	"variantcore/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
	// S3Config configures the S3 driver.
	S3Config = s3.Config
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrExists is returned by Put for taken keys.
	ErrExists = core.ErrExists
	// ErrNotFound is returned for unknown keys.
	ErrNotFound = core.ErrNotFound
)

// Config selects and configures a blob driver.
type Config struct {
	Driver Driver
	Dir    string
	S3     S3Config
}

// Open returns the Store selected by cfg. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.Dir)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewMemory returns an in-memory store.
func NewMemory() Store { return memory.New() }

// NewFilesystem returns a store rooted at dir.
func NewFilesystem(dir string) (Store, error) {
	s, err := fs.New(dir)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewS3 returns an S3 store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	s, err := s3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewS3Mock returns an S3 store served by an in-process fake endpoint.
func NewS3Mock(ctx context.Context) (Store, error) {
	s, err := s3.NewMock(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}
