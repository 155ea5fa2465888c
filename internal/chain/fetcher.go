// Package chain defines the block-fetcher contract shared by the two
// interchangeable providers and the normalization rules that
// turn raw provider responses into SystemTx records.
package chain

import (
	"context"
	"fmt"

	"github.com/d4mr/coredrain/internal/domain/model"
)

// BlockFetcher is implemented by both the RPC and object-store
// variants. The matcher pool swaps the active implementation via an
// atomic pointer; consumers never type-switch on it.
type BlockFetcher interface {
	// FetchBlocks returns the requested blocks sorted by number. A
	// transient failure after exhausted retries is returned as
	// *FetchError; the caller (finder) propagates it unchanged and the
	// matcher leaves the transfer PENDING for retry.
	FetchBlocks(ctx context.Context, blockNumbers []int64) ([]model.BlockData, error)

	// Name identifies the variant for logging/metrics ("rpc" or
	// "objectstore").
	Name() string
}

// FetchError wraps a block-fetch failure after retries are exhausted.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch: %s: %v", e.Op, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }
