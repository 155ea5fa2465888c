package assetcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/d4mr/coredrain/internal/domain/model"
)

// snapshot is the atomically-swapped, read-only view of the asset
// universe. Populate replaces the whole snapshot at once so lookups
// never observe a partially-updated table.
type snapshot struct {
	byName          map[string]model.Asset
	byIndex         map[int]model.Asset
	bySystemAddress map[string]model.Asset
}

// Cache is the process-wide token-metadata cache. It is populated once
// at startup and refreshed on demand when a lookup misses, so that a
// newly-listed token becomes matchable without a restart.
type Cache struct {
	client MetadataClient
	logger *slog.Logger

	current atomic.Pointer[snapshot]

	refreshMu       chanMutex
	lastRefresh     atomic.Int64 // unix nanos
	minRefreshEvery time.Duration
}

// chanMutex is a non-blocking-friendly mutex: TryLock never blocks the
// caller behind a slow in-flight refresh.
type chanMutex chan struct{}

func newChanMutex() chanMutex { return make(chanMutex, 1) }

func (m chanMutex) TryLock() bool {
	select {
	case m <- struct{}{}:
		return true
	default:
		return false
	}
}

func (m chanMutex) Unlock() { <-m }

// New builds an empty Cache; call Populate before serving lookups.
func New(client MetadataClient, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		client:          client,
		logger:          logger.With("component", "assetcache"),
		refreshMu:       newChanMutex(),
		minRefreshEvery: 5 * time.Second,
	}
	c.current.Store(&snapshot{
		byName:          map[string]model.Asset{},
		byIndex:         map[int]model.Asset{},
		bySystemAddress: map[string]model.Asset{},
	})
	return c
}

// Populate fetches the full token universe and atomically replaces the
// cache contents.
func (c *Cache) Populate(ctx context.Context) error {
	tokens, err := c.client.FetchTokens(ctx)
	if err != nil {
		return fmt.Errorf("fetch token metadata: %w", err)
	}

	snap := &snapshot{
		byName:          make(map[string]model.Asset, len(tokens)),
		byIndex:         make(map[int]model.Asset, len(tokens)),
		bySystemAddress: make(map[string]model.Asset, len(tokens)),
	}

	for _, t := range tokens {
		asset := toAsset(t)
		snap.byName[asset.Name] = asset
		snap.byIndex[asset.Index] = asset
		snap.bySystemAddress[asset.SystemAddress] = asset
	}

	// The native token's system-address entry is always this fixed
	// asset with NativeDecimals, replacing any upstream token mapped to
	// the native address above.
	native := model.Asset{
		Name:          "native",
		SystemAddress: model.NativeSystemAddress,
		WeiDecimals:   model.NativeDecimals,
	}
	snap.bySystemAddress[native.SystemAddress] = native

	c.current.Store(snap)
	c.lastRefresh.Store(time.Now().UnixNano())
	c.logger.Info("asset cache populated", "count", len(tokens))
	return nil
}

func toAsset(t TokenMetadata) model.Asset {
	asset := model.Asset{
		Name:        t.Name,
		Index:       t.Index,
		WeiDecimals: t.WeiDecimals,
	}
	if t.EVMContract != nil {
		addr := t.EVMContract.Address
		asset.ContractAddress = &addr
		asset.EVMExtraDecimals = t.EVMContract.EVMExtraWeiDecimals
		asset.SystemAddress = systemAddressForIndex(t.Index)
	} else {
		asset.SystemAddress = model.NativeSystemAddress
	}
	return asset
}

func systemAddressForIndex(index int) string {
	return fmt.Sprintf("%s%03x", model.ContractSystemAddressPrefix, index)
}

// ByName looks up an asset by its CORE token name.
func (c *Cache) ByName(name string) (model.Asset, bool) {
	snap := c.current.Load()
	asset, ok := snap.byName[name]
	return asset, ok
}

// ByIndex looks up an asset by its CORE spot-token index.
func (c *Cache) ByIndex(index int) (model.Asset, bool) {
	snap := c.current.Load()
	asset, ok := snap.byIndex[index]
	return asset, ok
}

// BySystemAddress resolves the EVM decimal scaling for a system
// address observed on-chain. When the address is unknown it runs at
// most one throttled refresh inline (see maybeRefresh) and, if the
// address is still unresolved, falls back to DefaultDecimals.
func (c *Cache) BySystemAddress(ctx context.Context, address string) (model.Asset, bool) {
	snap := c.current.Load()
	if asset, ok := snap.bySystemAddress[address]; ok {
		return asset, true
	}

	c.maybeRefresh(ctx)

	snap = c.current.Load()
	if asset, ok := snap.bySystemAddress[address]; ok {
		return asset, true
	}

	return model.Asset{
		SystemAddress: address,
		WeiDecimals:   model.DefaultDecimals,
	}, false
}

// maybeRefresh triggers at most one concurrent refresh, throttled to
// minRefreshEvery so a burst of unknown-address lookups doesn't hammer
// the upstream endpoint.
func (c *Cache) maybeRefresh(ctx context.Context) {
	if time.Since(time.Unix(0, c.lastRefresh.Load())) < c.minRefreshEvery {
		return
	}
	if !c.refreshMu.TryLock() {
		return
	}
	defer c.refreshMu.Unlock()

	if err := c.Populate(ctx); err != nil {
		c.logger.Warn("asset cache refresh failed", "error", err)
	}
}
