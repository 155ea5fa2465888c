package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/d4mr/coredrain/internal/domain/model"
	"github.com/d4mr/coredrain/internal/store"
)

type TransferRepo struct {
	db *DB
}

func NewTransferRepo(db *DB) *TransferRepo {
	return &TransferRepo{db: db}
}

// InsertTransferBatch performs a single multi-VALUES INSERT ... ON
// CONFLICT (core_hash) DO NOTHING RETURNING core_hash, then derives
// the duplicate count from the gap between the input size and the
// number of rows actually returned.
func (r *TransferRepo) InsertTransferBatch(ctx context.Context, transfers []model.Transfer) (store.BatchResult, error) {
	if len(transfers) == 0 {
		return store.BatchResult{}, nil
	}

	const cols = 10
	args := make([]interface{}, 0, len(transfers)*cols)
	valuesClauses := make([]string, 0, len(transfers))

	for i, t := range transfers {
		base := i * cols
		valuesClauses = append(valuesClauses, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
			base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			t.CoreHash, t.CoreTime, t.Token, t.Amount, t.Recipient,
			t.SystemAddress, t.WatchedSender, t.USDValue, t.Fee, t.NativeTokenFee,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO transfers (
			core_hash, core_time, token, amount, recipient,
			system_address, watched_sender, usd_value, fee, native_token_fee
		)
		VALUES %s
		ON CONFLICT (core_hash) DO NOTHING
		RETURNING core_hash
	`, strings.Join(valuesClauses, ", "))

	ctx, cancel := withTimeout(ctx, LongQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return store.BatchResult{}, &store.StorageError{Op: "insert transfer batch", Err: err}
	}
	defer rows.Close()

	inserted := 0
	for rows.Next() {
		var coreHash string
		if err := rows.Scan(&coreHash); err != nil {
			return store.BatchResult{}, &store.StorageError{Op: "insert transfer batch scan", Err: err}
		}
		inserted++
	}
	if err := rows.Err(); err != nil {
		return store.BatchResult{}, &store.StorageError{Op: "insert transfer batch rows", Err: err}
	}

	return store.BatchResult{Inserted: inserted, Duplicates: len(transfers) - inserted}, nil
}

func (r *TransferRepo) GetPendingTransfers(ctx context.Context, limit int) ([]model.Transfer, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT core_hash, core_time, token, amount, recipient, system_address, watched_sender,
		       usd_value, fee, native_token_fee, status, created_at
		FROM transfers
		WHERE status = $1
		ORDER BY core_time ASC
		LIMIT $2
	`, model.TransferPending, limit)
	if err != nil {
		return nil, &store.StorageError{Op: "get pending transfers", Err: err}
	}
	defer rows.Close()

	var out []model.Transfer
	for rows.Next() {
		var t model.Transfer
		if err := rows.Scan(
			&t.CoreHash, &t.CoreTime, &t.Token, &t.Amount, &t.Recipient, &t.SystemAddress, &t.WatchedSender,
			&t.USDValue, &t.Fee, &t.NativeTokenFee, &t.Status, &t.CreatedAt,
		); err != nil {
			return nil, &store.StorageError{Op: "get pending transfers scan", Err: err}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.StorageError{Op: "get pending transfers rows", Err: err}
	}
	return out, nil
}

func (r *TransferRepo) GetPendingCount(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var count int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM transfers WHERE status = $1`, model.TransferPending).Scan(&count)
	if err != nil {
		return 0, &store.StorageError{Op: "get pending count", Err: err}
	}
	return count, nil
}

func (r *TransferRepo) MarkMatched(ctx context.Context, coreHash string, fields store.EVMFields) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	// WHERE ... AND status = PENDING makes this idempotent: a retry
	// after a crash between commit and ack just affects zero rows.
	_, err := r.db.ExecContext(ctx, `
		UPDATE transfers SET
			status = $2,
			evm_internal_hash = $3,
			evm_explorer_hash = $4,
			evm_block_number = $5,
			evm_block_hash = $6,
			evm_block_time = $7,
			contract_address = $8
		WHERE core_hash = $1 AND status = $9
	`, coreHash, model.TransferMatched,
		fields.InternalHash, fields.ExplorerHash, fields.BlockNumber, fields.BlockHash, fields.BlockTime, fields.ContractAddress,
		model.TransferPending,
	)
	if err != nil {
		return &store.StorageError{Op: "mark matched", Err: err}
	}
	return nil
}

func (r *TransferRepo) MarkFailed(ctx context.Context, coreHash string, reason string) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE transfers SET status = $2, fail_reason = $3
		WHERE core_hash = $1 AND status = $4
	`, coreHash, model.TransferFailed, reason, model.TransferPending)
	if err != nil {
		return &store.StorageError{Op: "mark failed", Err: err}
	}
	return nil
}
