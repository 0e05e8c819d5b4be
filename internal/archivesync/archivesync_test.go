package archivesync

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

type fakeArchiveClient struct {
	archives []model.ArchiveInfo
	txs      map[string][]model.Transaction
}

func (f *fakeArchiveClient) ListArchives(ctx context.Context) ([]model.ArchiveInfo, error) {
	return f.archives, nil
}

func (f *fakeArchiveClient) FetchArchive(ctx context.Context, canisterID string, start, length uint64) ([]model.Transaction, error) {
	all := f.txs[canisterID]
	var out []model.Transaction
	for _, tx := range all {
		if tx.Index >= start && tx.Index < start+length {
			out = append(out, tx)
		}
	}
	return out, nil
}

func TestRun_PersistsArchiveRange(t *testing.T) {
	txs := []model.Transaction{
		{Index: 0, Kind: model.KindMint, Mint: &model.Mint{To: model.Account{Owner: "A"}, Amount: "1"}},
		{Index: 1, Kind: model.KindMint, Mint: &model.Mint{To: model.Account{Owner: "A"}, Amount: "1"}},
	}
	client := &fakeArchiveClient{
		archives: []model.ArchiveInfo{{CanisterID: "arch1", RangeStart: 0, RangeEnd: 1}},
		txs:      map[string][]model.Transaction{"arch1": txs},
	}

	st := memstore.New()
	ts := st.ForToken("tok")
	s := New(client, ts, "tok", api.NewMetrics(), zap.NewNop())
	s.sleep = func(d time.Duration) {}

	persisted, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, persisted, 2)

	rec, ok, err := ts.GetAccount(context.Background(), "A")
	require.NoError(t, err)
	require.True(t, ok)
	require.ElementsMatch(t, []uint64{0, 1}, rec.TransactionIndices)
}

func TestRun_SkipsUnprobableArchive(t *testing.T) {
	client := &fakeArchiveClient{
		archives: []model.ArchiveInfo{{CanisterID: "empty", RangeStart: 0, RangeEnd: 5}},
		txs:      map[string][]model.Transaction{},
	}
	st := memstore.New()
	ts := st.ForToken("tok")
	s := New(client, ts, "tok", api.NewMetrics(), zap.NewNop())

	persisted, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, persisted)
}
