// Package cache is the process-wide key/value snapshot layer. Entries
// are advisory: a miss or stale value is always recoverable from the
// store, so writes on the hot path are best-effort.
package cache

import (
	"context"
	"strconv"
)

// Cache is the get/set contract the engine consumes. GetJSON reports
// (false, nil) on a miss so transport failures stay distinguishable.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any) error
	Ping(ctx context.Context) error
	Close() error
}

func ProductKey(symbol string) string {
	return "product:" + symbol
}

func AccountKey(userID int32) string {
	return "account:" + strconv.FormatInt(int64(userID), 10)
}
