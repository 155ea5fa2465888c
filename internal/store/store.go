package store

import (
	"context"

	"github.com/d4mr/coredrain/internal/domain/model"
)

// EVMFields is the set of fields written when a Transfer transitions
// PENDING -> MATCHED. All fields are required together.
type EVMFields struct {
	InternalHash    string
	ExplorerHash    string
	BlockNumber     int64
	BlockHash       string
	BlockTime       int64
	ContractAddress *string
}

// TransferStore is the durable store for Transfer rows.
type TransferStore interface {
	// InsertTransferBatch performs an unordered, idempotent batch
	// insert keyed on CoreHash. A per-document duplicate is reported
	// in the result, not as an error; any other per-document error
	// fails the whole call.
	InsertTransferBatch(ctx context.Context, transfers []model.Transfer) (BatchResult, error)

	// GetPendingTransfers returns up to limit PENDING transfers,
	// oldest-first by CoreTime.
	GetPendingTransfers(ctx context.Context, limit int) ([]model.Transfer, error)

	// GetPendingCount returns the total number of PENDING transfers,
	// used by the matcher pool to pick a fetch strategy.
	GetPendingCount(ctx context.Context) (int, error)

	// MarkMatched is an idempotent update of a Transfer's terminal
	// state to MATCHED with the given EVM fields.
	MarkMatched(ctx context.Context, coreHash string, fields EVMFields) error

	// MarkFailed is an idempotent update of a Transfer's terminal
	// state to FAILED with a bounded reason string.
	MarkFailed(ctx context.Context, coreHash string, reason string) error
}

// AnchorStore is the durable store for AnchorTx rows and the query
// surface the finder uses to bracket and cache-probe.
type AnchorStore interface {
	// InsertAnchorTxBatch is idempotent; duplicates on InternalHash
	// are silently absorbed.
	InsertAnchorTxBatch(ctx context.Context, anchors []model.AnchorTx) (BatchResult, error)

	// FindBracketingAnchors returns the greatest anchor with
	// BlockTimestamp <= targetTime and the least anchor with
	// BlockTimestamp > targetTime.
	FindBracketingAnchors(ctx context.Context, targetTime int64) (model.Bracket, error)

	// FindMatchingAnchor returns the earliest anchor matching the
	// (from, recipient, amount) tuple within [minTime, maxTime], or
	// nil if none exists.
	FindMatchingAnchor(ctx context.Context, from, recipient, amountSmallest string, minTime, maxTime int64) (*model.AnchorTx, error)
}

// WatchedAddressStore is the durable store for indexer-worker
// configuration.
type WatchedAddressStore interface {
	GetActive(ctx context.Context) ([]model.WatchedAddress, error)
	UpdateCursor(ctx context.Context, address string, cursor int64) error
}
