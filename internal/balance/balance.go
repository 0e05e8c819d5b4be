// Package balance implements replay-based per-account balance
// reconstruction, anomaly detection, and total-supply aggregation
// (spec §4.7).
package balance

import (
	"context"
	"math/big"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/withobsrvr/icrc-ledger-indexer/internal/account"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/api"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/locks"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/model"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/store"
)

// Result is returned for each replayed account; HadAnomaly surfaces
// insufficient-balance events so the scheduler can log a summary.
type Result struct {
	Account    string
	Balance    *big.Int
	HadAnomaly bool
}

// Engine replays transactions per account to derive balances and the
// token's total supply.
type Engine struct {
	st       store.TokenStore
	locks    *locks.Registry
	token    string
	metrics  *api.Metrics
	log      *zap.Logger
	parallel int
}

func New(st store.TokenStore, reg *locks.Registry, token string, metrics *api.Metrics, log *zap.Logger) *Engine {
	return &Engine{st: st, locks: reg, token: token, metrics: metrics, log: log, parallel: 8}
}

// CalculateAll clears the balances collection and replays every known
// account from scratch, then recomputes total supply.
func (e *Engine) CalculateAll(ctx context.Context) ([]Result, error) {
	if err := e.st.ClearBalances(ctx); err != nil {
		return nil, err
	}
	accounts, err := e.st.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(accounts))
	for _, a := range accounts {
		names = append(names, a.Account)
	}
	results, err := e.replayAndSave(ctx, names)
	if err != nil {
		return nil, err
	}
	if err := e.recalculateTotalSupply(ctx); err != nil {
		return nil, err
	}
	e.logSummary("full", results)
	return results, nil
}

// CalculateIncremental restricts replay to the accounts touched by newTxs.
func (e *Engine) CalculateIncremental(ctx context.Context, newTxs []model.Transaction) ([]Result, error) {
	if len(newTxs) == 0 {
		return nil, nil
	}
	affected := make(map[string]struct{})
	for i := range newTxs {
		for _, a := range account.AccountsOf(&newTxs[i]) {
			affected[a] = struct{}{}
		}
	}
	names := make([]string, 0, len(affected))
	for a := range affected {
		names = append(names, a)
	}
	results, err := e.replayAndSave(ctx, names)
	if err != nil {
		return nil, err
	}
	if err := e.recalculateTotalSupply(ctx); err != nil {
		return nil, err
	}
	e.logSummary("incremental", results)
	return results, nil
}

func (e *Engine) logSummary(mode string, results []Result) {
	flagged := 0
	for _, r := range results {
		if r.HadAnomaly {
			flagged++
		}
	}
	e.log.Info("balance pass complete", zap.String("mode", mode), zap.Int("accounts", len(results)), zap.Int("flagged", flagged))
}

// replayAndSave replays each account under its lock, with up to e.parallel
// replays proceeding concurrently (§4.7 "implementation-defined
// parallelism"); per-account ordering is unaffected since each replay only
// touches its own account's data.
func (e *Engine) replayAndSave(ctx context.Context, accounts []string) ([]Result, error) {
	results := make([]Result, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallel)

	for i, acc := range accounts {
		i, acc := i, acc
		g.Go(func() error {
			guard := e.locks.Acquire(acc)
			defer guard.Release()

			rec, ok, err := e.st.GetAccount(gctx, acc)
			if err != nil {
				return err
			}
			if !ok || len(rec.TransactionIndices) == 0 {
				results[i] = Result{Account: acc, Balance: model.ZeroNat()}
				return nil
			}
			txs, err := e.st.GetTxByIndices(gctx, rec.TransactionIndices)
			if err != nil {
				return err
			}
			bal, hadAnomaly, err := e.replay(gctx, acc, txs)
			if err != nil {
				return err
			}
			if err := e.st.SaveBalance(gctx, acc, bal.String(), time.Now().Unix()); err != nil {
				return err
			}
			results[i] = Result{Account: acc, Balance: bal, HadAnomaly: hadAnomaly}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// replay folds txs (sorted by index) into a single balance for account a,
// per the kind-specific rules of §4.7.
func (e *Engine) replay(ctx context.Context, a string, txs []model.Transaction) (*big.Int, bool, error) {
	sort.Slice(txs, func(i, j int) bool { return txs[i].Index < txs[j].Index })

	balance := model.ZeroNat()
	hadAnomaly := false

	safeSub := func(tx model.Transaction, reason string, amountStr string) {
		amount, ok := new(big.Int).SetString(amountStr, 10)
		if !ok {
			return
		}
		if balance.Cmp(amount) >= 0 {
			balance.Sub(balance, amount)
			return
		}
		anomaly := model.BalanceAnomaly{
			Account:       a,
			TxIndex:       tx.Index,
			TxType:        reason,
			AnomalyType:   "insufficient_balance",
			BalanceBefore: balance.String(),
			Amount:        amountStr,
			Description:   "insufficient balance for " + reason,
			Timestamp:     time.Now().Unix(),
		}
		if err := e.st.LogAnomaly(ctx, anomaly); err != nil {
			e.log.Error("log_anomaly failed", zap.String("account", a), zap.Error(err))
		}
		if e.metrics != nil {
			e.metrics.AnomaliesLogged.WithLabelValues(e.token).Inc()
		}
		balance.SetInt64(0)
		hadAnomaly = true
	}

	for _, tx := range txs {
		if !tx.AppliesToBalance() {
			continue
		}
		switch tx.Kind {
		case model.KindTransfer:
			if tx.Transfer == nil {
				continue
			}
			if account.MatchAccount(tx.Transfer.From, a) {
				safeSub(tx, "transfer", tx.Transfer.Amount)
				if tx.Transfer.Fee != nil {
					safeSub(tx, "transfer_fee", *tx.Transfer.Fee)
				}
			}
			if account.MatchAccount(tx.Transfer.To, a) {
				amount, ok := new(big.Int).SetString(tx.Transfer.Amount, 10)
				if ok {
					balance.Add(balance, amount)
				}
			}
			// Spender role has no balance effect.

		case model.KindMint:
			if tx.Mint == nil {
				continue
			}
			if account.MatchAccount(tx.Mint.To, a) {
				amount, ok := new(big.Int).SetString(tx.Mint.Amount, 10)
				if ok {
					balance.Add(balance, amount)
				}
			}

		case model.KindBurn:
			if tx.Burn == nil {
				continue
			}
			if account.MatchAccount(tx.Burn.From, a) {
				safeSub(tx, "burn", tx.Burn.Amount)
			}

		case model.KindApprove:
			if tx.Approve == nil {
				continue
			}
			if account.MatchAccount(tx.Approve.From, a) && tx.Approve.Fee != nil {
				safeSub(tx, "approve_fee", *tx.Approve.Fee)
			}

		case model.KindNotify:
			// No balance effect.
		}
	}

	return balance, hadAnomaly, nil
}

// recalculateTotalSupply scans the balances collection and sums into
// total_supply (I4).
func (e *Engine) recalculateTotalSupply(ctx context.Context) error {
	balances, err := e.st.ListBalances(ctx)
	if err != nil {
		return err
	}
	sum := model.ZeroNat()
	for _, rec := range balances {
		v, ok := new(big.Int).SetString(rec.Balance, 10)
		if !ok {
			continue
		}
		sum.Add(sum, v)
	}
	return e.st.SaveTotalSupply(ctx, sum.String())
}
