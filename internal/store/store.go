// Package store defines the persistence abstraction used by the syncers,
// the balance engine, and the read-only API: four per-token collections
// (tx, accounts, balances, anomalies) plus one global sync_status
// collection, with upsert semantics and retry-wrapped writes (spec §4.2).
package store

import (
	"context"

	"github.com/withobsrvr/icrc-ledger-indexer/internal/model"
)

// TokenStore scopes every operation to a single token's collection set
// (I5 — per-token isolation). Obtained via Store.ForToken.
type TokenStore interface {
	SaveTx(ctx context.Context, tx model.Transaction) error
	AddAccountTx(ctx context.Context, account string, index uint64) error
	GetLatestTxIndex(ctx context.Context) (int64, bool, error)
	GetTxRange(ctx context.Context, lo, hi uint64) ([]model.Transaction, error)
	GetTxByIndices(ctx context.Context, indices []uint64) ([]model.Transaction, error)
	GetTxAt(ctx context.Context, index uint64) (model.Transaction, bool, error)
	ExistingIndicesInRange(ctx context.Context, lo, hi uint64) (map[uint64]bool, error)

	GetAccount(ctx context.Context, account string) (model.AccountRecord, bool, error)
	ListAccounts(ctx context.Context) ([]model.AccountRecord, error)

	SaveBalance(ctx context.Context, account string, balance string, updatedAt int64) error
	GetBalance(ctx context.Context, account string) (model.BalanceRecord, bool, error)
	ListBalances(ctx context.Context) ([]model.BalanceRecord, error)

	LogAnomaly(ctx context.Context, a model.BalanceAnomaly) error
	RecentAnomalies(ctx context.Context, limit int64) ([]model.BalanceAnomaly, error)

	SaveTotalSupply(ctx context.Context, value string) error
	GetTotalSupply(ctx context.Context) (string, error)

	ClearTx(ctx context.Context) error
	ClearAccounts(ctx context.Context) error
	ClearBalances(ctx context.Context) error
	ClearSupply(ctx context.Context) error

	EnsureIndexes(ctx context.Context) error
}

// Store is the top-level handle shared across syncers, the balance engine,
// and the API surface (§9 "Ownership of the store handle").
type Store interface {
	ForToken(symbol string) TokenStore

	GetSyncStatus(ctx context.Context, token string) (model.SyncStatus, bool, error)
	UpdateSyncStatus(ctx context.Context, s model.SyncStatus) error
	ClearSyncStatus(ctx context.Context, token string) error

	Close(ctx context.Context) error
}
