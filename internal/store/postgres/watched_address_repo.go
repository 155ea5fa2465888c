package postgres

import (
	"context"

	"github.com/d4mr/coredrain/internal/domain/model"
	"github.com/d4mr/coredrain/internal/store"
)

type WatchedAddressRepo struct {
	db *DB
}

func NewWatchedAddressRepo(db *DB) *WatchedAddressRepo {
	return &WatchedAddressRepo{db: db}
}

func (r *WatchedAddressRepo) GetActive(ctx context.Context) ([]model.WatchedAddress, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT address, last_indexed_time, is_active FROM watched_addresses WHERE is_active = true
	`)
	if err != nil {
		return nil, &store.StorageError{Op: "get active watched addresses", Err: err}
	}
	defer rows.Close()

	var out []model.WatchedAddress
	for rows.Next() {
		var wa model.WatchedAddress
		if err := rows.Scan(&wa.Address, &wa.LastIndexedTime, &wa.IsActive); err != nil {
			return nil, &store.StorageError{Op: "get active watched addresses scan", Err: err}
		}
		out = append(out, wa)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.StorageError{Op: "get active watched addresses rows", Err: err}
	}
	return out, nil
}

func (r *WatchedAddressRepo) UpdateCursor(ctx context.Context, address string, cursor int64) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE watched_addresses SET last_indexed_time = $2 WHERE address = $1
	`, address, cursor)
	if err != nil {
		return &store.StorageError{Op: "update cursor", Err: err}
	}
	return nil
}
