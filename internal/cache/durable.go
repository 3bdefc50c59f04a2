package cache

import (
	"context"
	"fmt"

	"tirds/internal/types"
)

// Durable 是持久层的只读视图；写入由外部 loader 负责。
// 返回的 error 均包裹 types.ErrCacheUnavailable。
type Durable interface {
	Get(ctx context.Context, key string) (types.CacheEntry, bool, error)
	Close() error
}

func unavailable(op, key string, err error) error {
	if key == "" {
		return fmt.Errorf("%w: %s: %v", types.ErrCacheUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s %s: %v", types.ErrCacheUnavailable, op, key, err)
}
