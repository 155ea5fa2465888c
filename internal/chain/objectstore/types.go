package objectstore

// blockRecord is the message-pack-encoded shape of one compressed
// block object. The object store is an external collaborator; this
// schema is this service's own decoding contract for it.
type blockRecord struct {
	Number    int64      `msgpack:"number"`
	Hash      string     `msgpack:"hash"`
	Timestamp int64      `msgpack:"timestamp"` // ms since epoch
	Txs       []txRecord `msgpack:"txs"`
}

type txRecord struct {
	Nonce    uint64        `msgpack:"nonce"`
	GasPrice []byte        `msgpack:"gas_price"` // big-endian bytes
	GasLimit uint64        `msgpack:"gas_limit"`
	To       *string       `msgpack:"to"`
	Value    []byte        `msgpack:"value"` // big-endian bytes
	Input    []byte        `msgpack:"input"`
	Logs     []logRecord   `msgpack:"logs"`
}

type logRecord struct {
	Address string   `msgpack:"address"`
	Topics  []string `msgpack:"topics"`
	Data    []byte   `msgpack:"data"`
}
