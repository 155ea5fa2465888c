package model

// BlockData is a transient, fetched EVM block. It is owned by whichever
// fetcher variant produced it and is never persisted as-is; its
// SystemTxs become AnchorTx rows.
type BlockData struct {
	Number    int64
	Hash      string
	Timestamp int64 // ms
	Txs       []SystemTx
}

// SystemTx is a normalized asset-transfer transaction. Normalization
// hides whether the underlying transaction was a native-value transfer
// or a contract call; matching logic consumes only these fields.
type SystemTx struct {
	InternalHash    string
	ExplorerHash    string
	From            string
	AssetRecipient  string
	AmountSmallest  string // decimal string of an arbitrary-width integer
	ContractAddress *string
}
