package ledgersync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/withobsrvr/icrc-ledger-indexer/internal/api"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/model"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/store/memstore"
)

type fakeClient struct {
	responses []model.FetchResult
	calls     int
	firstIdx  uint64
}

func (f *fakeClient) FetchLedger(ctx context.Context, start, length uint64) (model.FetchResult, error) {
	if f.calls >= len(f.responses) {
		return model.FetchResult{}, nil
	}
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

func (f *fakeClient) FirstIndex(ctx context.Context) (uint64, error) { return f.firstIdx, nil }

// Scenario 4: gap correction jumps cursor to first_index without re-fetching.
func TestRun_GapCorrection(t *testing.T) {
	st := memstore.New()
	ts := st.ForToken("tok")
	ctx := context.Background()
	for i := uint64(0); i <= 10; i++ {
		require.NoError(t, ts.SaveTx(ctx, model.Transaction{Index: i, Kind: model.KindNotify}))
	}

	client := &fakeClient{
		responses: []model.FetchResult{
			{FirstIndex: 25, LogLength: 30, Transactions: nil},
			{FirstIndex: 25, LogLength: 30, Transactions: nil},
			{FirstIndex: 25, LogLength: 30, Transactions: nil},
		},
	}
	s := New(client, ts, "tok", api.NewMetrics(), zap.NewNop())
	s.sleep = func(d time.Duration) {}
	_, _, err := s.Run(ctx, model.SyncStatus{Token: "tok", LastSyncedIndex: 10, SyncMode: model.SyncModeIncremental})
	require.NoError(t, err)
}

// Scenario 5: resume verification rolls back over a trailing-window gap.
func TestVerifyResume_RollsBackOverGap(t *testing.T) {
	st := memstore.New()
	ts := st.ForToken("tok")
	ctx := context.Background()
	for i := uint64(0); i <= 100; i++ {
		if i >= 95 && i <= 100 {
			continue // simulate deleted tail
		}
		require.NoError(t, ts.SaveTx(ctx, model.Transaction{Index: i, Kind: model.KindNotify}))
	}

	s := New(&fakeClient{}, ts, "tok", api.NewMetrics(), zap.NewNop())
	rolled, err := s.verifyResume(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(94), rolled)
}
