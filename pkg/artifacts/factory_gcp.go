//go:build gcp

package artifacts

import "context"

func newGCSStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	return NewGCSStore(ctx, cfg)
}
