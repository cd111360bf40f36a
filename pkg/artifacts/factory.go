package artifacts

import (
	"context"
	"fmt"
	"path/filepath"
)

// StoreType names a blob store backend.
type StoreType string

const (
	StoreTypeFS     StoreType = "fs"
	StoreTypeMemory StoreType = "memory"
	StoreTypeS3     StoreType = "s3"
	StoreTypeGCS    StoreType = "gcs"
)

// StoreConfig selects and configures a blob store backend.
type StoreConfig struct {
	Type StoreType
	// Dir is the base directory for the fs backend.
	Dir      string
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// NewStore builds the backend named by cfg.Type; the empty type is "fs".
func NewStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	switch cfg.Type {
	case "", StoreTypeFS:
		dir := cfg.Dir
		if dir == "" {
			dir = filepath.Join("data", "blobs")
		}
		return NewDiskStore(dir)
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeS3:
		if cfg.Region == "" {
			cfg.Region = "us-east-1"
		}
		return NewS3Store(ctx, cfg)
	case StoreTypeGCS:
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", cfg.Type)
	}
}
