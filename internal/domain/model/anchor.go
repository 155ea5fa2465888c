package model

import "github.com/google/uuid"

// AnchorTx is a system transaction observed in an EVM block. It doubles
// as both a correlation-cache entry (matched against pending Transfers
// by the (from, assetRecipient, amountSmallestUnit) tuple) and a
// timestamp<->block reference point for the finder's binary search.
//
// AnchorTx rows are inserted idempotently and never mutated or deleted
// by this service; retention is an external concern.
type AnchorTx struct {
	ID uuid.UUID

	InternalHash    string // unique
	ExplorerHash    string
	BlockNumber     int64
	BlockHash       string
	BlockTimestamp  int64 // ms
	From            string
	AssetRecipient  string
	AmountSmallest  string // decimal string of an arbitrary-width integer
	ContractAddress *string
}

// AnchorRef is the projection of an AnchorTx used to bracket a target
// timestamp: just enough to interpolate a block estimate.
type AnchorRef struct {
	BlockNumber    int64
	BlockTimestamp int64
}

// Bracket is the result of FindBracketingAnchors: the tightest known
// anchors straddling a target timestamp.
type Bracket struct {
	Before *AnchorRef
	After  *AnchorRef
}
