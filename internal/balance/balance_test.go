package balance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/withobsrvr/icrc-ledger-indexer/internal/account"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/api"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/locks"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/model"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/store/memstore"
)

func seed(t *testing.T, st *memstore.Mem, token string, txs []model.Transaction) {
	t.Helper()
	ts := st.ForToken(token)
	ctx := context.Background()
	for _, tx := range txs {
		require.NoError(t, ts.SaveTx(ctx, tx))
		for _, a := range account.AccountsOf(&tx) {
			require.NoError(t, ts.AddAccountTx(ctx, a, tx.Index))
		}
	}
}

func newEngine(st *memstore.Mem, token string) *Engine {
	return New(st.ForToken(token), locks.NewRegistry(), token, api.NewMetrics(), zap.NewNop())
}

// Scenario 1: mint then transfer with fee.
func TestCalculateAll_MintThenTransferWithFee(t *testing.T) {
	st := memstore.New()
	fee := "1"
	seed(t, st, "tok", []model.Transaction{
		{Index: 1, Kind: model.KindMint, Mint: &model.Mint{To: model.Account{Owner: "A"}, Amount: "1000"}},
		{Index: 2, Kind: model.KindTransfer, Transfer: &model.Transfer{
			From: model.Account{Owner: "A"}, To: model.Account{Owner: "B"}, Amount: "300", Fee: &fee,
		}},
	})

	eng := newEngine(st, "tok")
	results, err := eng.CalculateAll(context.Background())
	require.NoError(t, err)

	balances := map[string]string{}
	for _, r := range results {
		balances[r.Account] = r.Balance.String()
		require.False(t, r.HadAnomaly)
	}
	require.Equal(t, "699", balances["A"])
	require.Equal(t, "300", balances["B"])

	supply, err := st.ForToken("tok").GetTotalSupply(context.Background())
	require.NoError(t, err)
	require.Equal(t, "999", supply)
}

// Scenario 2: insufficient balance produces an anomaly and clamps to zero.
func TestCalculateAll_InsufficientBalance(t *testing.T) {
	st := memstore.New()
	seed(t, st, "tok", []model.Transaction{
		{Index: 1, Kind: model.KindTransfer, Transfer: &model.Transfer{
			From: model.Account{Owner: "A"}, To: model.Account{Owner: "B"}, Amount: "50",
		}},
	})

	eng := newEngine(st, "tok")
	results, err := eng.CalculateAll(context.Background())
	require.NoError(t, err)

	balances := map[string]*Result{}
	for i, r := range results {
		balances[r.Account] = &results[i]
	}
	require.Equal(t, "0", balances["A"].Balance.String())
	require.True(t, balances["A"].HadAnomaly)
	require.Equal(t, "50", balances["B"].Balance.String())

	anomalies, err := st.ForToken("tok").RecentAnomalies(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	require.Equal(t, "A", anomalies[0].Account)
	require.Equal(t, uint64(1), anomalies[0].TxIndex)
	require.Equal(t, "transfer", anomalies[0].TxType)
	require.Equal(t, "0", anomalies[0].BalanceBefore)
	require.Equal(t, "50", anomalies[0].Amount)

	supply, err := st.ForToken("tok").GetTotalSupply(context.Background())
	require.NoError(t, err)
	require.Equal(t, "50", supply)
}

// Scenario 3: subaccount canonicalization collapses to one balance row.
func TestCalculateAll_SubaccountCanonicalization(t *testing.T) {
	st := memstore.New()
	zero32 := make([]byte, 32)
	seed(t, st, "tok", []model.Transaction{
		{Index: 1, Kind: model.KindMint, Mint: &model.Mint{To: model.Account{Owner: "X", Subaccount: zero32}, Amount: "100"}},
	})

	eng := newEngine(st, "tok")
	results, err := eng.CalculateAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "X", results[0].Account)
	require.Equal(t, "100", results[0].Balance.String())
}

// Scenario 6: approve has no principal effect, only the fee is debited.
func TestCalculateAll_ApproveNoPrincipalEffect(t *testing.T) {
	st := memstore.New()
	fee := "1"
	seed(t, st, "tok", []model.Transaction{
		{Index: 1, Kind: model.KindMint, Mint: &model.Mint{To: model.Account{Owner: "A"}, Amount: "100"}},
		{Index: 2, Kind: model.KindApprove, Approve: &model.Approve{
			From: model.Account{Owner: "A"}, Spender: model.Account{Owner: "S"}, Amount: "50", Fee: &fee,
		}},
	})

	eng := newEngine(st, "tok")
	results, err := eng.CalculateAll(context.Background())
	require.NoError(t, err)

	balances := map[string]string{}
	for _, r := range results {
		balances[r.Account] = r.Balance.String()
	}
	require.Equal(t, "99", balances["A"])
	require.Equal(t, "0", balances["S"])

	supply, err := st.ForToken("tok").GetTotalSupply(context.Background())
	require.NoError(t, err)
	require.Equal(t, "99", supply)
}

// Status filtering: a non-completed transaction is skipped by replay.
func TestReplay_SkipsIncompleteStatus(t *testing.T) {
	st := memstore.New()
	seed(t, st, "tok", []model.Transaction{
		{Index: 1, Status: "PENDING", Kind: model.KindMint, Mint: &model.Mint{To: model.Account{Owner: "A"}, Amount: "100"}},
	})

	eng := newEngine(st, "tok")
	results, err := eng.CalculateAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "0", results[0].Balance.String())
}

// P6: running CalculateAll twice is deterministic.
func TestCalculateAll_Deterministic(t *testing.T) {
	st := memstore.New()
	fee := "1"
	seed(t, st, "tok", []model.Transaction{
		{Index: 1, Kind: model.KindMint, Mint: &model.Mint{To: model.Account{Owner: "A"}, Amount: "1000"}},
		{Index: 2, Kind: model.KindTransfer, Transfer: &model.Transfer{
			From: model.Account{Owner: "A"}, To: model.Account{Owner: "B"}, Amount: "300", Fee: &fee,
		}},
	})

	eng := newEngine(st, "tok")
	first, err := eng.CalculateAll(context.Background())
	require.NoError(t, err)
	second, err := eng.CalculateAll(context.Background())
	require.NoError(t, err)

	toMap := func(rs []Result) map[string]string {
		m := map[string]string{}
		for _, r := range rs {
			m[r.Account] = r.Balance.String()
		}
		return m
	}
	require.Equal(t, toMap(first), toMap(second))
}

// P7: incremental recomputation over affected accounts matches a full pass.
func TestCalculateIncremental_MatchesFullPass(t *testing.T) {
	st := memstore.New()
	fee := "1"
	txs := []model.Transaction{
		{Index: 1, Kind: model.KindMint, Mint: &model.Mint{To: model.Account{Owner: "A"}, Amount: "1000"}},
		{Index: 2, Kind: model.KindTransfer, Transfer: &model.Transfer{
			From: model.Account{Owner: "A"}, To: model.Account{Owner: "B"}, Amount: "300", Fee: &fee,
		}},
	}
	seed(t, st, "tok", txs)

	eng := newEngine(st, "tok")
	incResults, err := eng.CalculateIncremental(context.Background(), txs)
	require.NoError(t, err)

	st2 := memstore.New()
	seed(t, st2, "tok", txs)
	eng2 := newEngine(st2, "tok")
	fullResults, err := eng2.CalculateAll(context.Background())
	require.NoError(t, err)

	toMap := func(rs []Result) map[string]string {
		m := map[string]string{}
		for _, r := range rs {
			m[r.Account] = r.Balance.String()
		}
		return m
	}
	full := toMap(fullResults)
	for _, r := range incResults {
		require.Equal(t, full[r.Account], r.Balance.String())
	}
}
