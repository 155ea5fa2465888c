// Package finder implements the block-finding engine: given a pending
// CORE transfer, it resolves the matching EVM transaction using binary
// search with linear interpolation over a growing anchor cache.
package finder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/d4mr/coredrain/internal/anchorindex"
	"github.com/d4mr/coredrain/internal/assetcache"
	"github.com/d4mr/coredrain/internal/chain"
	"github.com/d4mr/coredrain/internal/chain/amount"
	"github.com/d4mr/coredrain/internal/domain/model"
	"github.com/d4mr/coredrain/internal/tracing"
)

const (
	maxRounds  = 20
	batchSize  = 5
	cacheProbeBefore = 5 * time.Second
	cacheProbeAfter  = 120 * time.Second

	// genesisBlock/genesisTime seed the lower bound when no anchor is
	// yet cached below the target time.
	genesisBlock = int64(1)
	// genesisTimeMS is the deploy-time constant used as the seed
	// anchor's timestamp when the anchor cache is empty.
	genesisTimeMS = int64(1_700_000_000_000)

	// defaultBlockRateMS is used to extrapolate a block estimate when
	// only a lower bound is known.
	defaultBlockRateMS = 1000
)

// NotFoundError signals that the transfer is provably absent within
// the searched bound range.
type NotFoundError struct {
	BlocksSearched int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found after searching %d blocks", e.BlocksSearched)
}

// Result is a successful correlation.
type Result struct {
	Anchor         model.AnchorTx
	Rounds         int
	BlocksSearched int
	Elapsed        time.Duration
}

// Finder resolves CORE transfers to EVM anchors.
type Finder struct {
	anchors *anchorindex.Index
	assets  *assetcache.Cache
}

func New(anchors *anchorindex.Index, assets *assetcache.Cache) *Finder {
	return &Finder{anchors: anchors, assets: assets}
}

// Find produces the block and transaction that realize transfer, using
// fetcher to pull candidate blocks. A *NotFoundError means the search
// ended without a match; an error from fetcher (a *chain.FetchError or
// a context error) is returned unchanged; amount-parse and storage
// failures are returned wrapped.
func (f *Finder) Find(ctx context.Context, transfer model.Transfer, fetcher chain.BlockFetcher) (result Result, err error) {
	ctx, span := tracing.Tracer("finder").Start(ctx, "finder.Find",
		otelTrace.WithAttributes(
			attribute.String("core_hash", transfer.CoreHash),
			attribute.String("system_address", transfer.SystemAddress),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()

	asset, _ := f.assets.BySystemAddress(ctx, transfer.SystemAddress)
	wantAmount, err := amount.ToSmallestUnit(transfer.Amount, asset.EVMDecimals())
	if err != nil {
		return Result{}, fmt.Errorf("parse transfer amount: %w", err)
	}

	if hit, err := f.anchors.FindMatchingAnchor(ctx, transfer.SystemAddress, transfer.Recipient, wantAmount.String(),
		transfer.CoreTime-cacheProbeBefore.Milliseconds(), transfer.CoreTime+cacheProbeAfter.Milliseconds()); err != nil {
		return Result{}, fmt.Errorf("cache probe: %w", err)
	} else if hit != nil {
		return Result{Anchor: *hit, Rounds: 0, BlocksSearched: 0, Elapsed: time.Since(start)}, nil
	}

	bracket, err := f.anchors.FindBracketingAnchors(ctx, transfer.CoreTime)
	if err != nil {
		return Result{}, fmt.Errorf("initial bounds: %w", err)
	}

	lo := bracket.Before
	if lo == nil {
		lo = &model.AnchorRef{BlockNumber: genesisBlock, BlockTimestamp: genesisTimeMS}
	}
	hi := bracket.After

	blocksSearched := 0
	for round := 1; round <= maxRounds; round++ {
		est := estimate(transfer.CoreTime, lo, hi)

		blockNumbers := buildBatch(est, lo, hi)
		blocks, err := fetcher.FetchBlocks(ctx, blockNumbers)
		if err != nil {
			return Result{}, err
		}
		blocksSearched += len(blockNumbers)

		newAnchors := toAnchors(blocks)
		f.anchors.PersistAsync(ctx, newAnchors)

		if match := scanForMatch(newAnchors, transfer.SystemAddress, transfer.Recipient, transfer.Amount, asset.EVMDecimals()); match != nil {
			return Result{
				Anchor:         *match,
				Rounds:         round,
				BlocksSearched: blocksSearched,
				Elapsed:        time.Since(start),
			}, nil
		}

		lo, hi = tightenBounds(lo, hi, blocks, transfer.CoreTime)

		if hi != nil && hi.BlockNumber <= lo.BlockNumber+1 {
			return Result{}, &NotFoundError{BlocksSearched: blocksSearched}
		}
	}

	return Result{}, &NotFoundError{BlocksSearched: blocksSearched}
}

// estimate linearly interpolates a block number for targetTime between
// lo and hi. When hi is nil, it extrapolates forward at a fixed rate.
func estimate(targetTime int64, lo, hi *model.AnchorRef) int64 {
	if hi == nil || hi.BlockTimestamp == lo.BlockTimestamp {
		elapsed := targetTime - lo.BlockTimestamp
		return lo.BlockNumber + elapsed/defaultBlockRateMS
	}

	ratio := float64(targetTime-lo.BlockTimestamp) * float64(hi.BlockNumber-lo.BlockNumber) / float64(hi.BlockTimestamp-lo.BlockTimestamp)
	est := lo.BlockNumber + int64(math.Round(ratio))
	if est < lo.BlockNumber {
		est = lo.BlockNumber
	}
	if est > hi.BlockNumber {
		est = hi.BlockNumber
	}
	return est
}

// buildBatch returns batchSize contiguous block numbers centered on
// est, shifted to stay within [lo, hi] where that range is wide enough,
// and never below 1.
func buildBatch(est int64, lo, hi *model.AnchorRef) []int64 {
	half := int64(batchSize / 2)
	low := est - half
	high := low + int64(batchSize) - 1

	if low < lo.BlockNumber {
		shift := lo.BlockNumber - low
		low += shift
		high += shift
	}
	if hi != nil && high > hi.BlockNumber {
		shift := high - hi.BlockNumber
		low -= shift
		high -= shift
	}
	if low < 1 {
		shift := int64(1) - low
		low += shift
		high += shift
	}

	out := make([]int64, 0, batchSize)
	for n := low; n <= high; n++ {
		out = append(out, n)
	}
	return out
}

func toAnchors(blocks []model.BlockData) []model.AnchorTx {
	var out []model.AnchorTx
	for _, b := range blocks {
		for _, tx := range b.Txs {
			out = append(out, model.AnchorTx{
				InternalHash:    tx.InternalHash,
				ExplorerHash:    tx.ExplorerHash,
				BlockNumber:     b.Number,
				BlockHash:       b.Hash,
				BlockTimestamp:  b.Timestamp,
				From:            tx.From,
				AssetRecipient:  tx.AssetRecipient,
				AmountSmallest:  tx.AmountSmallest,
				ContractAddress: tx.ContractAddress,
			})
		}
	}
	return out
}

func scanForMatch(anchors []model.AnchorTx, from, recipient, humanAmount string, decimals int) *model.AnchorTx {
	for i := range anchors {
		a := &anchors[i]
		if a.From != from || a.AssetRecipient != recipient {
			continue
		}
		if eq, err := amount.EqualSmallestUnit(humanAmount, decimals, a.AmountSmallest); err == nil && eq {
			return a
		}
	}
	return nil
}

// tightenBounds raises lo / lowers hi using the fetched blocks, only
// when strictly tighter than the current bound.
func tightenBounds(lo, hi *model.AnchorRef, blocks []model.BlockData, targetTime int64) (*model.AnchorRef, *model.AnchorRef) {
	for _, b := range blocks {
		ref := &model.AnchorRef{BlockNumber: b.Number, BlockTimestamp: b.Timestamp}
		if b.Timestamp <= targetTime && ref.BlockNumber > lo.BlockNumber {
			lo = ref
		}
		if b.Timestamp > targetTime && (hi == nil || ref.BlockNumber < hi.BlockNumber) {
			hi = ref
		}
	}
	return lo, hi
}

// IsNotFound reports whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
