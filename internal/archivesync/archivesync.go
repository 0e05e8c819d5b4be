// Package archivesync enumerates and pulls historical ranges from archive
// canisters (spec §4.4).
package archivesync

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/withobsrvr/icrc-ledger-indexer/internal/account"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/api"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/model"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/store"
)

const (
	DefaultBatchSize  = 2000
	maxConsecutiveErr = 3
	interBatchSleepLo = 100 * time.Millisecond
	interBatchSleepHi = 200 * time.Millisecond
)

// LedgerClient is the subset of the ledger contract archivesync depends on.
type LedgerClient interface {
	ListArchives(ctx context.Context) ([]model.ArchiveInfo, error)
	FetchArchive(ctx context.Context, canisterID string, start, length uint64) ([]model.Transaction, error)
}

// Syncer pulls every archive's full range into the token's store.
type Syncer struct {
	client    LedgerClient
	st        store.TokenStore
	token     string
	metrics   *api.Metrics
	batchSize uint64
	log       *zap.Logger
	sleep     func(time.Duration)
}

func New(client LedgerClient, st store.TokenStore, token string, metrics *api.Metrics, log *zap.Logger) *Syncer {
	return &Syncer{client: client, st: st, token: token, metrics: metrics, batchSize: DefaultBatchSize, log: log, sleep: time.Sleep}
}

// Run syncs every archive in range-start order and returns every
// transaction persisted (used only to seed balance recomputation in reset
// mode).
func (s *Syncer) Run(ctx context.Context) ([]model.Transaction, error) {
	archives, err := s.client.ListArchives(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(archives, func(i, j int) bool { return archives[i].RangeStart < archives[j].RangeStart })

	var persisted []model.Transaction
	for _, a := range archives {
		if ctx.Err() != nil {
			return persisted, ctx.Err()
		}
		if !s.probe(ctx, a) {
			s.log.Info("archive skipped on probe", zap.String("canister", a.CanisterID))
			continue
		}
		txs, err := s.runArchive(ctx, a)
		persisted = append(persisted, txs...)
		if err != nil {
			s.log.Error("archive abandoned", zap.String("canister", a.CanisterID), zap.Error(err))
			continue
		}
	}
	return persisted, nil
}

func (s *Syncer) probe(ctx context.Context, a model.ArchiveInfo) bool {
	txs, err := s.client.FetchArchive(ctx, a.CanisterID, a.RangeStart, 1)
	if err != nil || len(txs) == 0 {
		return false
	}
	return true
}

func (s *Syncer) runArchive(ctx context.Context, a model.ArchiveInfo) ([]model.Transaction, error) {
	var persisted []model.Transaction
	cursor := a.RangeStart
	consecutiveErrors := 0

	for cursor <= a.RangeEnd {
		if ctx.Err() != nil {
			return persisted, ctx.Err()
		}
		remaining := a.RangeEnd - cursor + 1
		batchLen := s.batchSize
		if remaining < batchLen {
			batchLen = remaining
		}

		txs, err := s.client.FetchArchive(ctx, a.CanisterID, cursor, batchLen)
		if err != nil {
			consecutiveErrors++
			s.log.Warn("archive batch fetch failed", zap.String("canister", a.CanisterID),
				zap.Uint64("cursor", cursor), zap.Int("consecutive_errors", consecutiveErrors), zap.Error(err))
			if consecutiveErrors >= maxConsecutiveErr {
				return persisted, err
			}
			cursor += batchLen / 2
			continue
		}
		consecutiveErrors = 0
		if s.metrics != nil {
			s.metrics.BatchesProcessed.WithLabelValues(s.token, "archive").Inc()
		}

		sort.Slice(txs, func(i, j int) bool { return txs[i].Index < txs[j].Index })
		saved := 0
		for _, tx := range txs {
			if err := s.st.SaveTx(ctx, tx); err != nil {
				s.log.Error("save_tx failed", zap.Uint64("index", tx.Index), zap.Error(err))
				continue
			}
			for _, acc := range account.AccountsOf(&tx) {
				if err := s.st.AddAccountTx(ctx, acc, tx.Index); err != nil {
					s.log.Error("add_account_tx failed", zap.String("account", acc), zap.Error(err))
				}
			}
			persisted = append(persisted, tx)
			saved++
		}
		if s.metrics != nil && saved > 0 {
			s.metrics.TxPersisted.WithLabelValues(s.token).Add(float64(saved))
		}

		if len(txs) == 0 {
			break
		}
		cursor += uint64(len(txs))
		s.sleep(interBatchSleepLo + time.Duration(rand.Int63n(int64(interBatchSleepHi-interBatchSleepLo))))
	}
	return persisted, nil
}
