package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/d4mr/coredrain/internal/domain/model"
	"github.com/d4mr/coredrain/internal/store"
)

type AnchorRepo struct {
	db *DB
}

func NewAnchorRepo(db *DB) *AnchorRepo {
	return &AnchorRepo{db: db}
}

// InsertAnchorTxBatch is idempotent on InternalHash. Duplicates are
// absorbed the same way InsertTransferBatch absorbs them: diff the
// RETURNING row count against the input count.
func (r *AnchorRepo) InsertAnchorTxBatch(ctx context.Context, anchors []model.AnchorTx) (store.BatchResult, error) {
	if len(anchors) == 0 {
		return store.BatchResult{}, nil
	}

	const cols = 10
	args := make([]interface{}, 0, len(anchors)*cols)
	valuesClauses := make([]string, 0, len(anchors))

	for i, a := range anchors {
		id := a.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		base := i * cols
		valuesClauses = append(valuesClauses, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
			base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			id, a.InternalHash, a.ExplorerHash, a.BlockNumber, a.BlockHash,
			a.BlockTimestamp, a.From, a.AssetRecipient, a.AmountSmallest, a.ContractAddress,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO anchor_txs (
			id, internal_hash, explorer_hash, block_number, block_hash,
			block_timestamp, from_address, asset_recipient, amount_smallest, contract_address
		)
		VALUES %s
		ON CONFLICT (internal_hash) DO NOTHING
		RETURNING internal_hash
	`, strings.Join(valuesClauses, ", "))

	ctx, cancel := withTimeout(ctx, LongQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return store.BatchResult{}, &store.StorageError{Op: "insert anchor batch", Err: err}
	}
	defer rows.Close()

	inserted := 0
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return store.BatchResult{}, &store.StorageError{Op: "insert anchor batch scan", Err: err}
		}
		inserted++
	}
	if err := rows.Err(); err != nil {
		return store.BatchResult{}, &store.StorageError{Op: "insert anchor batch rows", Err: err}
	}

	return store.BatchResult{Inserted: inserted, Duplicates: len(anchors) - inserted}, nil
}

// FindBracketingAnchors runs two independent one-shot queries: the
// latest anchor at or before targetTime, and the earliest anchor
// strictly after it.
func (r *AnchorRepo) FindBracketingAnchors(ctx context.Context, targetTime int64) (model.Bracket, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var bracket model.Bracket

	var before model.AnchorRef
	err := r.db.QueryRowContext(ctx, `
		SELECT block_number, block_timestamp FROM anchor_txs
		WHERE block_timestamp <= $1
		ORDER BY block_timestamp DESC, block_number DESC
		LIMIT 1
	`, targetTime).Scan(&before.BlockNumber, &before.BlockTimestamp)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return bracket, &store.StorageError{Op: "find bracket before", Err: err}
	default:
		bracket.Before = &before
	}

	var after model.AnchorRef
	err = r.db.QueryRowContext(ctx, `
		SELECT block_number, block_timestamp FROM anchor_txs
		WHERE block_timestamp > $1
		ORDER BY block_timestamp ASC, block_number ASC
		LIMIT 1
	`, targetTime).Scan(&after.BlockNumber, &after.BlockTimestamp)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return bracket, &store.StorageError{Op: "find bracket after", Err: err}
	default:
		bracket.After = &after
	}

	return bracket, nil
}

// FindMatchingAnchor looks up the earliest anchor tying to the
// (from, recipient, amount) tuple within a bounded time window; the
// finder uses it as its cache probe.
func (r *AnchorRepo) FindMatchingAnchor(ctx context.Context, from, recipient, amountSmallest string, minTime, maxTime int64) (*model.AnchorTx, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var a model.AnchorTx
	err := r.db.QueryRowContext(ctx, `
		SELECT id, internal_hash, explorer_hash, block_number, block_hash,
		       block_timestamp, from_address, asset_recipient, amount_smallest, contract_address
		FROM anchor_txs
		WHERE from_address = $1 AND asset_recipient = $2 AND amount_smallest = $3
		  AND block_timestamp BETWEEN $4 AND $5
		ORDER BY block_timestamp ASC
		LIMIT 1
	`, from, recipient, amountSmallest, minTime, maxTime).Scan(
		&a.ID, &a.InternalHash, &a.ExplorerHash, &a.BlockNumber, &a.BlockHash,
		&a.BlockTimestamp, &a.From, &a.AssetRecipient, &a.AmountSmallest, &a.ContractAddress,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &store.StorageError{Op: "find matching anchor", Err: err}
	}
	return &a, nil
}
