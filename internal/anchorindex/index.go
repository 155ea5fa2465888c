// Package anchorindex is a thin façade over the anchor store: it gives
// the finder and matcher a single place to persist newly-observed
// anchors without blocking on the write, and to query cached matches
// and bracketing points.
package anchorindex

import (
	"context"
	"log/slog"

	"github.com/d4mr/coredrain/internal/domain/model"
	"github.com/d4mr/coredrain/internal/store"
)

// Index wraps a store.AnchorStore with a non-blocking persistence path.
type Index struct {
	store  store.AnchorStore
	logger *slog.Logger
}

func New(anchorStore store.AnchorStore, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{store: anchorStore, logger: logger.With("component", "anchorindex")}
}

// FindMatchingAnchor probes for an already-observed anchor matching
// the (from, recipient, amount) tuple within the given time window.
func (idx *Index) FindMatchingAnchor(ctx context.Context, from, recipient, amountSmallest string, minTime, maxTime int64) (*model.AnchorTx, error) {
	return idx.store.FindMatchingAnchor(ctx, from, recipient, amountSmallest, minTime, maxTime)
}

// FindBracketingAnchors returns the tightest known anchors straddling
// targetTime.
func (idx *Index) FindBracketingAnchors(ctx context.Context, targetTime int64) (model.Bracket, error) {
	return idx.store.FindBracketingAnchors(ctx, targetTime)
}

// PersistAsync writes anchors in the background and only logs on
// failure: a lost anchor write degrades future searches to a wider
// window but never blocks the caller's own progress.
func (idx *Index) PersistAsync(ctx context.Context, anchors []model.AnchorTx) {
	if len(anchors) == 0 {
		return
	}
	go func() {
		result, err := idx.store.InsertAnchorTxBatch(context.WithoutCancel(ctx), anchors)
		if err != nil {
			idx.logger.Warn("anchor batch persist failed", "count", len(anchors), "error", err)
			return
		}
		if result.Duplicates > 0 {
			idx.logger.Debug("anchor batch persisted", "inserted", result.Inserted, "duplicates", result.Duplicates)
		}
	}()
}
