// Package memstore is an in-memory store.Store used by unit tests so the
// sync and balance engines can be exercised without a live MongoDB.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/withobsrvr/icrc-ledger-indexer/internal/model"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/store"
)

type Mem struct {
	mu       sync.Mutex
	tokens   map[string]*memToken
	statuses map[string]model.SyncStatus
}

func New() *Mem {
	return &Mem{tokens: make(map[string]*memToken), statuses: make(map[string]model.SyncStatus)}
}

func (m *Mem) ForToken(symbol string) store.TokenStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[symbol]
	if !ok {
		t = &memToken{
			tx:        make(map[uint64]model.Transaction),
			accounts:  make(map[string]model.AccountRecord),
			balances:  make(map[string]model.BalanceRecord),
			supply:    "0",
			anomalies: nil,
		}
		m.tokens[symbol] = t
	}
	return t
}

func (m *Mem) GetSyncStatus(ctx context.Context, token string) (model.SyncStatus, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[token]
	return s, ok, nil
}

func (m *Mem) UpdateSyncStatus(ctx context.Context, s model.SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.StatusType = model.SyncStatusType
	s.UpdatedAt = time.Now().Unix()
	m.statuses[s.Token] = s
	return nil
}

func (m *Mem) ClearSyncStatus(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, token)
	return nil
}

func (m *Mem) Close(ctx context.Context) error { return nil }

type memToken struct {
	mu        sync.Mutex
	tx        map[uint64]model.Transaction
	accounts  map[string]model.AccountRecord
	balances  map[string]model.BalanceRecord
	supply    string
	anomalies []model.BalanceAnomaly
}

func (t *memToken) EnsureIndexes(ctx context.Context) error { return nil }

func (t *memToken) SaveTx(ctx context.Context, tx model.Transaction) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tx[tx.Index] = tx
	return nil
}

func (t *memToken) AddAccountTx(ctx context.Context, account string, index uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.accounts[account]
	rec.Account = account
	for _, i := range rec.TransactionIndices {
		if i == index {
			t.accounts[account] = rec
			return nil
		}
	}
	rec.TransactionIndices = append(rec.TransactionIndices, index)
	t.accounts[account] = rec
	return nil
}

func (t *memToken) GetLatestTxIndex(ctx context.Context) (int64, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.tx) == 0 {
		return 0, false, nil
	}
	var max int64 = -1
	for idx := range t.tx {
		if int64(idx) > max {
			max = int64(idx)
		}
	}
	return max, true, nil
}

func (t *memToken) GetTxRange(ctx context.Context, lo, hi uint64) ([]model.Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []model.Transaction
	for i := lo; i <= hi; i++ {
		if tx, ok := t.tx[i]; ok {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (t *memToken) GetTxByIndices(ctx context.Context, indices []uint64) ([]model.Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sorted := append([]uint64(nil), indices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var out []model.Transaction
	for _, i := range sorted {
		if tx, ok := t.tx[i]; ok {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (t *memToken) GetTxAt(ctx context.Context, index uint64) (model.Transaction, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tx, ok := t.tx[index]
	return tx, ok, nil
}

func (t *memToken) ExistingIndicesInRange(ctx context.Context, lo, hi uint64) (map[uint64]bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[uint64]bool)
	for i := lo; i <= hi; i++ {
		if _, ok := t.tx[i]; ok {
			out[i] = true
		}
	}
	return out, nil
}

func (t *memToken) GetAccount(ctx context.Context, account string) (model.AccountRecord, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.accounts[account]
	return rec, ok, nil
}

func (t *memToken) ListAccounts(ctx context.Context) ([]model.AccountRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.AccountRecord, 0, len(t.accounts))
	for _, rec := range t.accounts {
		out = append(out, rec)
	}
	return out, nil
}

func (t *memToken) SaveBalance(ctx context.Context, account string, balance string, updatedAt int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[account] = model.BalanceRecord{Account: account, Balance: balance, LastUpdated: updatedAt}
	return nil
}

func (t *memToken) GetBalance(ctx context.Context, account string) (model.BalanceRecord, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.balances[account]
	return rec, ok, nil
}

func (t *memToken) ListBalances(ctx context.Context) ([]model.BalanceRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.BalanceRecord, 0, len(t.balances))
	for _, rec := range t.balances {
		out = append(out, rec)
	}
	return out, nil
}

func (t *memToken) LogAnomaly(ctx context.Context, a model.BalanceAnomaly) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	a.AnomalyType = "insufficient_balance"
	t.anomalies = append(t.anomalies, a)
	return nil
}

func (t *memToken) RecentAnomalies(ctx context.Context, limit int64) ([]model.BalanceAnomaly, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.anomalies)
	start := 0
	if limit > 0 && int64(n) > limit {
		start = n - int(limit)
	}
	out := append([]model.BalanceAnomaly(nil), t.anomalies[start:]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

func (t *memToken) SaveTotalSupply(ctx context.Context, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.supply = value
	return nil
}

func (t *memToken) GetTotalSupply(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supply, nil
}

func (t *memToken) ClearTx(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tx = make(map[uint64]model.Transaction)
	return nil
}

func (t *memToken) ClearAccounts(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accounts = make(map[string]model.AccountRecord)
	return nil
}

func (t *memToken) ClearBalances(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances = make(map[string]model.BalanceRecord)
	return nil
}

func (t *memToken) ClearSupply(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.supply = "0"
	return nil
}
