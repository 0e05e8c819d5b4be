// Package ledgersync implements the resumable head-following pull from the
// live ledger canister, including gap correction and resume-point
// verification (spec §4.5, §4.6).
package ledgersync

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/withobsrvr/icrc-ledger-indexer/internal/account"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/api"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/model"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/store"
)

const (
	DefaultBatchSize      = 2000
	MaxConsecutiveEmpty   = 3
	StatusUpdateFrequency = 100
	MaxRetries            = 5
	resumeVerifyWindow    = 20
	emptyBatchBumpDivisor = 10
	emptyBatchSleep       = 2 * time.Second
	retryAdvanceDivisor   = 4
)

// backoffFor mirrors original_source/src/sync/ledger.rs's 2u64.pow(retry_count)
// exponential backoff on a transport error.
func backoffFor(retries int) time.Duration {
	return time.Duration(1<<uint(retries)) * time.Second
}

// LedgerClient is the subset of the ledger contract ledgersync depends on.
type LedgerClient interface {
	FetchLedger(ctx context.Context, start, length uint64) (model.FetchResult, error)
	FirstIndex(ctx context.Context) (uint64, error)
}

// Syncer follows the live ledger head for one token.
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

// Run pulls from the resume point to the live head and returns every newly
// persisted transaction, used by the caller to drive incremental balance
// recomputation. It also returns the updated SyncStatus for persistence.
func (s *Syncer) Run(ctx context.Context, status model.SyncStatus) ([]model.Transaction, model.SyncStatus, error) {
	cursor, err := s.resumePoint(ctx, status)
	if err != nil {
		return nil, status, err
	}

	var newTxs []model.Transaction
	consecutiveEmpty := 0
	sinceStatusUpdate := 0
	retries := 0
	maxIndex := status.LastSyncedIndex
	maxTimestamp := status.LastSyncedTimestamp
	lastLogLength := uint64(0)

	for {
		if ctx.Err() != nil {
			break
		}
		res, err := s.client.FetchLedger(ctx, cursor, s.batchSize)
		if err != nil {
			retries++
			s.log.Warn("ledger fetch failed", zap.Uint64("cursor", cursor), zap.Int("retries", retries), zap.Error(err))
			if retries >= MaxRetries {
				status.LastSyncedIndex = maxIndex
				status.LastSyncedTimestamp = maxTimestamp
				status.SyncMode = model.SyncModeIncremental
				cursor += s.batchSize / retryAdvanceDivisor
				s.sleep(backoffFor(retries))
				retries = 0
				continue
			}
			s.sleep(backoffFor(retries))
			continue
		}
		retries = 0

		if res.FirstIndex > cursor {
			// Gap correction: those indices were archived; not our job.
			s.log.Info("gap correction", zap.Uint64("from", cursor), zap.Uint64("to", res.FirstIndex))
			cursor = res.FirstIndex
			continue
		}

		lastLogLength = res.LogLength

		if len(res.Transactions) == 0 {
			consecutiveEmpty++
			if res.LogLength > cursor {
				cursor = res.LogLength
			} else {
				cursor += s.batchSize / emptyBatchBumpDivisor
				s.sleep(emptyBatchSleep)
			}
			if consecutiveEmpty >= MaxConsecutiveEmpty {
				s.log.Info("caught up", zap.Uint64("cursor", cursor))
				break
			}
			continue
		}
		consecutiveEmpty = 0
		if s.metrics != nil {
			s.metrics.BatchesProcessed.WithLabelValues(s.token, "ledger").Inc()
		}

		sort.Slice(res.Transactions, func(i, j int) bool { return res.Transactions[i].Index < res.Transactions[j].Index })
		saved := 0
		for _, tx := range res.Transactions {
			if err := s.st.SaveTx(ctx, tx); err != nil {
				s.log.Error("save_tx failed", zap.Uint64("index", tx.Index), zap.Error(err))
				continue
			}
			for _, acc := range account.AccountsOf(&tx) {
				if err := s.st.AddAccountTx(ctx, acc, tx.Index); err != nil {
					s.log.Error("add_account_tx failed", zap.String("account", acc), zap.Error(err))
				}
			}
			newTxs = append(newTxs, tx)
			if int64(tx.Index) > maxIndex {
				maxIndex = int64(tx.Index)
				maxTimestamp = tx.Timestamp
			}
			cursor = tx.Index + 1
			saved++
		}
		if s.metrics != nil && saved > 0 {
			s.metrics.TxPersisted.WithLabelValues(s.token).Add(float64(saved))
		}

		sinceStatusUpdate += len(res.Transactions)
		if sinceStatusUpdate >= StatusUpdateFrequency {
			status.LastSyncedIndex = maxIndex
			status.LastSyncedTimestamp = maxTimestamp
			status.SyncMode = model.SyncModeIncremental
			status.Token = s.token
			sinceStatusUpdate = 0
		}
	}

	status.LastSyncedIndex = maxIndex
	status.LastSyncedTimestamp = maxTimestamp
	status.SyncMode = model.SyncModeIncremental
	status.Token = s.token
	if s.metrics != nil && lastLogLength > 0 {
		lag := int64(lastLogLength) - maxIndex
		if lag < 0 {
			lag = 0
		}
		s.metrics.SyncLag.WithLabelValues(s.token).Set(float64(lag))
	}
	return newTxs, status, nil
}

// resumePoint derives the starting cursor per §4.5: prefer a valid
// incremental SyncStatus (after resume verification), else the store's
// latest index, else the client's first index, else zero.
func (s *Syncer) resumePoint(ctx context.Context, status model.SyncStatus) (uint64, error) {
	if status.SyncMode == model.SyncModeIncremental && status.LastSyncedIndex > 0 {
		verified, err := s.verifyResume(ctx, uint64(status.LastSyncedIndex))
		if err != nil {
			return 0, err
		}
		return verified + 1, nil
	}

	if latest, ok, err := s.st.GetLatestTxIndex(ctx); err == nil && ok {
		return uint64(latest) + 1, nil
	}

	if first, err := s.client.FirstIndex(ctx); err == nil {
		return first, nil
	}

	return 0, nil
}

// verifyResume implements §4.6: confirm tx[lastSyncedIndex] exists and the
// trailing window before it has no gaps, rolling lastSyncedIndex back as
// needed to guard against a crash mid-write.
func (s *Syncer) verifyResume(ctx context.Context, lastSyncedIndex uint64) (uint64, error) {
	_, exists, err := s.st.GetTxAt(ctx, lastSyncedIndex)
	if err != nil {
		return 0, err
	}
	if !exists {
		lo := int64(lastSyncedIndex) - resumeVerifyWindow
		if lo < 0 {
			lo = 0
		}
		present, err := s.st.ExistingIndicesInRange(ctx, uint64(lo), lastSyncedIndex)
		if err != nil {
			return 0, err
		}
		var nearest uint64
		found := false
		for i := int64(lastSyncedIndex) - 1; i >= lo; i-- {
			if present[uint64(i)] {
				nearest = uint64(i)
				found = true
				break
			}
		}
		if !found {
			if lo < 0 {
				lo = 0
			}
			nearest = uint64(lo)
		}
		s.log.Warn("resume verification: tx missing at last_synced_index, rolled back",
			zap.Uint64("was", lastSyncedIndex), zap.Uint64("now", nearest))
		lastSyncedIndex = nearest
	}

	lo := int64(lastSyncedIndex) - resumeVerifyWindow
	if lo < 0 {
		lo = 0
	}
	present, err := s.st.ExistingIndicesInRange(ctx, uint64(lo), lastSyncedIndex)
	if err != nil {
		return 0, err
	}
	for i := lo; i < int64(lastSyncedIndex); i++ {
		if !present[uint64(i)] {
			// Roll back to the largest index with a fully present tail.
			rolled := uint64(i)
			if rolled > 0 {
				rolled--
			}
			s.log.Warn("resume verification: gap in trailing window, rolled back",
				zap.Uint64("was", lastSyncedIndex), zap.Uint64("now", rolled))
			return rolled, nil
		}
	}
	return lastSyncedIndex, nil
}
