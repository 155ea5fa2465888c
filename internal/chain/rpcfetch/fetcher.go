// Package rpcfetch implements the free, slower RPC block-fetcher
// variant: JSON batch requests combining
// eth_getBlockByNumber and eth_getSystemTxsByBlockNumber, sequential
// chunks, jittered exponential backoff on transient failures.
package rpcfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/d4mr/coredrain/internal/backoff"
	"github.com/d4mr/coredrain/internal/chain"
	"github.com/d4mr/coredrain/internal/chain/normalize"
	"github.com/d4mr/coredrain/internal/domain/model"
	"github.com/d4mr/coredrain/internal/retry"
)

const (
	maxBatchSize   = 20 // MAX_BATCH_SIZE
	callsPerBlock  = 2  // eth_getBlockByNumber + eth_getSystemTxsByBlockNumber
	maxRetries     = 3
	backoffInitial = 200 * time.Millisecond
	backoffMax     = 5 * time.Second
)

type Fetcher struct {
	client               *wireClient
	chainID              int64
	nativeSystemAddress  string
	backoffCoordinator   *backoff.Coordinator
	logger               *slog.Logger
}

type Config struct {
	RPCURL              string
	ChainID             int64
	NativeSystemAddress string
	Timeout             time.Duration
}

func New(cfg Config, coordinator *backoff.Coordinator, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:              newWireClient(cfg.RPCURL, timeout),
		chainID:             cfg.ChainID,
		nativeSystemAddress: cfg.NativeSystemAddress,
		backoffCoordinator:  coordinator,
		logger:              logger.With("component", "rpcfetch"),
	}
}

func (f *Fetcher) Name() string { return "rpc" }

// FetchBlocks fetches blockNumbers in sequential chunks of
// MAX_BATCH_SIZE/2 (concurrency = 1, per).
func (f *Fetcher) FetchBlocks(ctx context.Context, blockNumbers []int64) ([]model.BlockData, error) {
	if len(blockNumbers) == 0 {
		return nil, nil
	}

	chunkSize := maxBatchSize / callsPerBlock
	if chunkSize < 1 {
		chunkSize = 1
	}

	var all []model.BlockData
	for start := 0; start < len(blockNumbers); start += chunkSize {
		end := start + chunkSize
		if end > len(blockNumbers) {
			end = len(blockNumbers)
		}
		chunk := blockNumbers[start:end]

		blocks, err := f.fetchChunkWithRetry(ctx, chunk)
		if err != nil {
			return nil, err
		}
		all = append(all, blocks...)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Number < all[j].Number })
	return all, nil
}

func (f *Fetcher) fetchChunkWithRetry(ctx context.Context, blockNumbers []int64) ([]model.BlockData, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if f.backoffCoordinator != nil {
			if err := f.backoffCoordinator.Wait(ctx); err != nil {
				return nil, err
			}
		}

		blocks, err := f.fetchChunk(ctx, blockNumbers)
		if err == nil {
			return blocks, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		decision := retry.Classify(err)
		if decision.Class == retry.ClassRateLimit && f.backoffCoordinator != nil {
			f.backoffCoordinator.Trigger(60 * time.Second)
		}
		if !decision.IsTransient() {
			return nil, &chain.FetchError{Op: "fetch_chunk", Err: err}
		}
		if attempt == maxRetries {
			break
		}

		delay := jitteredBackoff(attempt)
		f.logger.Warn("rpc fetch failed; retrying", "attempt", attempt, "delay", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, &chain.FetchError{Op: "fetch_chunk_exhausted", Err: lastErr}
}

func (f *Fetcher) fetchChunk(ctx context.Context, blockNumbers []int64) ([]model.BlockData, error) {
	calls := make([]call, 0, len(blockNumbers)*callsPerBlock)
	for _, n := range blockNumbers {
		hex := toBlockHex(n)
		calls = append(calls,
			call{method: "eth_getBlockByNumber", params: []interface{}{hex, false}},
			call{method: "eth_getSystemTxsByBlockNumber", params: []interface{}{hex}},
		)
	}

	results, err := f.client.batchCall(ctx, calls)
	if err != nil {
		return nil, err
	}

	blocks := make([]model.BlockData, 0, len(blockNumbers))
	for i, n := range blockNumbers {
		headerRaw := results[i*callsPerBlock]
		txsRaw := results[i*callsPerBlock+1]

		var header blockHeader
		if len(headerRaw) == 0 || string(headerRaw) == "null" {
			continue // block does not exist yet at the tip
		}
		if err := json.Unmarshal(headerRaw, &header); err != nil {
			return nil, fmt.Errorf("decode block header for %d: %w", n, err)
		}

		ts, err := parseHexInt(header.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("decode block timestamp for %d: %w", n, err)
		}

		var txs []systemTx
		if len(txsRaw) > 0 && string(txsRaw) != "null" {
			if err := json.Unmarshal(txsRaw, &txs); err != nil {
				return nil, fmt.Errorf("decode system txs for %d: %w", n, err)
			}
		}

		systemTxs, err := f.normalizeAll(txs)
		if err != nil {
			return nil, err
		}

		blocks = append(blocks, model.BlockData{
			Number:    n,
			Hash:      header.Hash,
			Timestamp: ts * 1000, // block timestamps are seconds-since-epoch on the wire
			Txs:       systemTxs,
		})
	}
	return blocks, nil
}

func (f *Fetcher) normalizeAll(txs []systemTx) ([]model.SystemTx, error) {
	out := make([]model.SystemTx, 0, len(txs))
	for _, tx := range txs {
		raw, err := toRawTx(tx, f.chainID)
		if err != nil {
			// Protocol-violation on a single tx: skip it, don't fail the block.
			f.logger.Warn("skipping malformed system tx", "error", err)
			continue
		}
		normalized, ok := normalize.Transaction(raw, f.nativeSystemAddress)
		if !ok {
			continue
		}
		out = append(out, normalized)
	}
	return out, nil
}

func toRawTx(tx systemTx, chainID int64) (normalize.RawTx, error) {
	nonce, err := parseHexInt(tx.Nonce)
	if err != nil {
		return normalize.RawTx{}, fmt.Errorf("parse nonce: %w", err)
	}
	gasPriceInt, ok := new(big.Int).SetString(trimHex(tx.GasPrice), 16)
	if !ok {
		gasPriceInt = big.NewInt(0)
	}
	gas, err := parseHexInt(tx.Gas)
	if err != nil {
		gas = 0
	}
	value, ok := new(big.Int).SetString(trimHex(tx.Value), 16)
	if !ok {
		value = big.NewInt(0)
	}

	data, err := hexToBytes(tx.Input)
	if err != nil {
		return normalize.RawTx{}, fmt.Errorf("decode input: %w", err)
	}

	var to *common.Address
	if tx.To != nil {
		a := common.HexToAddress(*tx.To)
		to = &a
	}

	logs := make([]normalize.Log, 0, len(tx.Logs))
	for _, l := range tx.Logs {
		topics := make([]common.Hash, 0, len(l.Topics))
		for _, t := range l.Topics {
			topics = append(topics, common.HexToHash(t))
		}
		logData, _ := hexToBytes(l.Data)
		logs = append(logs, normalize.Log{
			Address: common.HexToAddress(l.Address),
			Topics:  topics,
			Data:    logData,
		})
	}

	raw := normalize.RawTx{
		Nonce:    uint64(nonce),
		GasPrice: gasPriceInt,
		GasLimit: uint64(gas),
		To:       to,
		Value:    value,
		Data:     data,
		ChainID:  chainID,
		Logs:     logs,
	}
	return raw, nil
}

func jitteredBackoff(attempt int) time.Duration {
	delay := backoffInitial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > backoffMax {
			delay = backoffMax
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay + jitter
}

func trimHex(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}

func hexToBytes(s string) ([]byte, error) {
	trimmed := trimHex(s)
	if trimmed == "" {
		return nil, nil
	}
	if len(trimmed)%2 != 0 {
		trimmed = "0" + trimmed
	}
	out := make([]byte, len(trimmed)/2)
	for i := 0; i < len(out); i++ {
		b, err := strconv.ParseUint(trimmed[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, err
		}
		out[i] = byte(b)
	}
	return out, nil
}
