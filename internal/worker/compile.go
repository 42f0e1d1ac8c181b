package worker

import (
	"context"

	"github.com/outlayer-net/cluster/pkg/types"
)

// Compiler produces a WASM module from a GitHub source. The two
// implementations - Docker and native-isolated - share this seam so the
// controller never branches on compilation mode itself (spec §4.6.1).
type Compiler interface {
	Compile(ctx context.Context, source types.GitHubSource, limits types.ResourceLimits) ([]byte, *CompilationError, error)
}

// CacheStore is the worker-side view of the signed compiled-artifact cache
// (C7): content-addressed by the source's VersionKey, with eviction and
// signature verification owned by the implementation.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, wasm []byte) error
}
