package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	metaCacheTTL     = 5 * time.Minute
	metaCacheTimeout = 300 * time.Millisecond
)

// metaCache keeps asset metadata (name, mime, dimensions) in Redis so the
// shell can populate pickers without round-tripping blobs. Optional: a nil
// cache is a no-op.
type metaCache struct {
	client *redis.Client
}

// NewMetaCache wraps a Redis client; nil client disables the cache.
func NewMetaCache(client *redis.Client) *metaCache {
	if client == nil {
		return nil
	}
	return &metaCache{client: client}
}

type assetMeta struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

func (m *metaCache) cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), metaCacheTimeout)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= metaCacheTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, metaCacheTimeout)
}

func (m *metaCache) key(assetID string) string {
	if m == nil || m.client == nil || assetID == "" {
		return ""
	}
	return fmt.Sprintf("assets:meta:%s", assetID)
}

func (m *metaCache) getMeta(ctx context.Context, assetID string) (*assetMeta, bool) {
	if m == nil || m.client == nil {
		return nil, false
	}
	key := m.key(assetID)
	if key == "" {
		return nil, false
	}

	ctx, cancel := m.cacheContext(ctx)
	defer cancel()

	data, err := m.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var meta assetMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, false
	}
	return &meta, true
}

func (m *metaCache) storeMeta(ctx context.Context, assetID string, meta assetMeta) {
	if m == nil || m.client == nil {
		return
	}
	key := m.key(assetID)
	if key == "" {
		return
	}

	payload, err := json.Marshal(meta)
	if err != nil {
		log.Printf("assets: marshal meta cache payload failed: %v", err)
		return
	}

	ctx, cancel := m.cacheContext(ctx)
	defer cancel()

	if err := m.client.Set(ctx, key, payload, metaCacheTTL).Err(); err != nil {
		log.Printf("assets: store meta cache failed: %v", err)
	}
}
