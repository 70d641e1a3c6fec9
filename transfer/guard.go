package transfer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vstore/vstore/common/kv"
)

const (
	guardUploadPrefix   = "guard:upload:"
	guardDownloadPrefix = "guard:download:"
)

// Guard tracks files with a transfer in flight. It is backed by the
// persisted KV store so a crashed transfer leaves a visible trace, and its
// acquire is atomic so at most one transfer per file ever runs.
type Guard struct {
	store  kv.Store
	prefix string
}

func NewUploadGuard(store kv.Store) *Guard {
	return &Guard{store: store, prefix: guardUploadPrefix}
}

func NewDownloadGuard(store kv.Store) *Guard {
	return &Guard{store: store, prefix: guardDownloadPrefix}
}

// Acquire claims the file for a transfer. It reports false when another
// transfer already holds it.
func (g *Guard) Acquire(ctx context.Context, fileID string) (bool, error) {
	return g.store.SetNX(ctx, g.prefix+fileID, time.Now().UTC().Format(time.RFC3339))
}

// Release clears the claim. Releasing an unclaimed file is a no-op.
func (g *Guard) Release(ctx context.Context, fileID string) error {
	err := g.store.Delete(ctx, g.prefix+fileID)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	return err
}

// Held reports whether a transfer currently claims the file.
func (g *Guard) Held(ctx context.Context, fileID string) (bool, error) {
	_, err := g.store.Get(ctx, g.prefix+fileID)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InFlight lists the file ids currently claimed.
func (g *Guard) InFlight(ctx context.Context) ([]string, error) {
	keys, err := g.store.Keys(ctx, g.prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, g.prefix))
	}
	return ids, nil
}
