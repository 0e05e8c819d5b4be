// Package scheduler orchestrates the per-token lifecycle: bootstrap,
// reset/initial-sync/resume, and the steady-state round-robin loop
// (spec §4.8).
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/withobsrvr/icrc-ledger-indexer/internal/balance"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/model"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/store"
)

const (
	interTokenDelay      = 2 * time.Second
	maxConsecutiveErrors = 5
)

// ArchiveSyncer is the subset of archivesync.Syncer the scheduler drives.
type ArchiveSyncer interface {
	Run(ctx context.Context) ([]model.Transaction, error)
}

// LedgerSyncer is the subset of ledgersync.Syncer the scheduler drives.
type LedgerSyncer interface {
	Run(ctx context.Context, status model.SyncStatus) ([]model.Transaction, model.SyncStatus, error)
}

// TokenUnit bundles one token's configured symbol with its wired syncers
// and balance engine.
type TokenUnit struct {
	Symbol        string
	Store         store.TokenStore
	ArchiveSyncer ArchiveSyncer
	LedgerSyncer  LedgerSyncer
	BalanceEngine *balance.Engine
}

// Scheduler drives every configured token's lifecycle and steady-state
// loop.
type Scheduler struct {
	st     store.Store
	units  []TokenUnit
	log    *zap.Logger
	errors map[string]int
}

func New(st store.Store, units []TokenUnit, log *zap.Logger) *Scheduler {
	return &Scheduler{st: st, units: units, log: log, errors: make(map[string]int)}
}

// Bootstrap runs each token's reset, initial-sync, or resume path
// depending on its persisted SyncStatus. If resetSymbol is non-empty, that
// token's path is forced to Reset regardless of its existing status.
func (s *Scheduler) Bootstrap(ctx context.Context, resetSymbol string) error {
	for _, u := range s.units {
		status, ok, err := s.st.GetSyncStatus(ctx, u.Symbol)
		if err != nil {
			return err
		}
		switch {
		case u.Symbol == resetSymbol:
			if err := s.ResetToken(ctx, u); err != nil {
				return err
			}
		case !ok:
			if err := s.initialSync(ctx, u); err != nil {
				return err
			}
		default:
			if err := s.resume(ctx, u, status); err != nil {
				return err
			}
		}
	}
	return nil
}

// ResetToken clears the token's transactions, accounts, balances and total
// supply collections and its sync_status row, then runs a full archive
// sync, full ledger sync, and full balance pass. The balance anomalies
// collection is not cleared.
func (s *Scheduler) ResetToken(ctx context.Context, u TokenUnit) error {
	s.log.Info("reset path", zap.String("token", u.Symbol))
	if err := u.Store.ClearTx(ctx); err != nil {
		return err
	}
	if err := u.Store.ClearAccounts(ctx); err != nil {
		return err
	}
	if err := u.Store.ClearBalances(ctx); err != nil {
		return err
	}
	if err := u.Store.ClearSupply(ctx); err != nil {
		return err
	}
	if err := s.st.ClearSyncStatus(ctx, u.Symbol); err != nil {
		return err
	}
	if err := u.Store.EnsureIndexes(ctx); err != nil {
		return err
	}
	return s.fullBootstrap(ctx, u)
}

// initialSync is the reset path without the clearing step (no prior
// SyncStatus exists, so there is nothing to clear).
func (s *Scheduler) initialSync(ctx context.Context, u TokenUnit) error {
	s.log.Info("initial sync path", zap.String("token", u.Symbol))
	if err := u.Store.EnsureIndexes(ctx); err != nil {
		return err
	}
	return s.fullBootstrap(ctx, u)
}

func (s *Scheduler) fullBootstrap(ctx context.Context, u TokenUnit) error {
	if _, err := u.ArchiveSyncer.Run(ctx); err != nil {
		return err
	}
	_, status, err := u.LedgerSyncer.Run(ctx, model.SyncStatus{Token: u.Symbol, SyncMode: model.SyncModeFull})
	if err != nil {
		return err
	}
	if _, err := u.BalanceEngine.CalculateAll(ctx); err != nil {
		return err
	}
	status.SyncMode = model.SyncModeIncremental
	return s.st.UpdateSyncStatus(ctx, status)
}

// resume verifies and continues from a valid incremental SyncStatus,
// skipping the initial full sync.
func (s *Scheduler) resume(ctx context.Context, u TokenUnit, status model.SyncStatus) error {
	s.log.Info("resume path", zap.String("token", u.Symbol), zap.Int64("last_synced_index", status.LastSyncedIndex))
	newTxs, updated, err := u.LedgerSyncer.Run(ctx, status)
	if err != nil {
		return err
	}
	if len(newTxs) > 0 {
		if _, err := u.BalanceEngine.CalculateIncremental(ctx, newTxs); err != nil {
			return err
		}
	}
	return s.st.UpdateSyncStatus(ctx, updated)
}

// RunSteadyState round-robins across tokens forever (or until ctx is
// cancelled), sleeping interTokenDelay between tokens.
func (s *Scheduler) RunSteadyState(ctx context.Context) {
	for {
		for _, u := range s.units {
			if ctx.Err() != nil {
				return
			}
			if err := s.tick(ctx, u); err != nil {
				s.errors[u.Symbol]++
				s.log.Warn("tick failed", zap.String("token", u.Symbol), zap.Int("consecutive_errors", s.errors[u.Symbol]), zap.Error(err))
				if s.errors[u.Symbol] >= maxConsecutiveErrors {
					s.log.Error("token error threshold reached, will retry next rotation", zap.String("token", u.Symbol))
					s.errors[u.Symbol] = 0
				}
			} else {
				s.errors[u.Symbol] = 0
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(interTokenDelay):
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, u TokenUnit) error {
	status, ok, err := s.st.GetSyncStatus(ctx, u.Symbol)
	if err != nil {
		return err
	}
	if !ok {
		status = model.SyncStatus{Token: u.Symbol, SyncMode: model.SyncModeIncremental}
	}

	newTxs, updated, err := u.LedgerSyncer.Run(ctx, status)
	if err != nil {
		return err
	}
	if len(newTxs) > 0 {
		if _, err := u.BalanceEngine.CalculateIncremental(ctx, newTxs); err != nil {
			return err
		}
	}
	return s.st.UpdateSyncStatus(ctx, updated)
}
