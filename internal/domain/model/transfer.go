package model

import "time"

// TransferStatus is the lifecycle state of a Transfer. Transitions are
// PENDING -> MATCHED or PENDING -> FAILED only; MATCHED is terminal.
type TransferStatus string

const (
	TransferPending TransferStatus = "PENDING"
	TransferMatched TransferStatus = "MATCHED"
	TransferFailed  TransferStatus = "FAILED"
)

// Transfer is a CORE-side spot-transfer event awaiting or holding
// correlation with its EVM-side transaction.
type Transfer struct {
	CoreHash       string // unique
	CoreTime       int64  // ms since epoch
	Token          string
	Amount         string // decimal string, human scale
	Recipient      string
	SystemAddress  string
	WatchedSender  string
	USDValue       *string
	Fee            *string
	NativeTokenFee *string

	EVMInternalHash  *string
	EVMExplorerHash  *string
	EVMBlockNumber   *int64
	EVMBlockHash     *string
	EVMBlockTime     *int64
	ContractAddress  *string

	Status     TransferStatus
	FailReason *string

	CreatedAt time.Time
}
