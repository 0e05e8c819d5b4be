package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/withobsrvr/icrc-ledger-indexer/internal/config"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/model"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/store"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/store/memstore"
)

func newTestServer(t *testing.T) (*httptest.Server, *memstore.Mem, store.TokenStore) {
	t.Helper()
	st := memstore.New()
	ts := st.ForToken("ckbtc")
	s := NewServer(st, map[string]store.TokenStore{"ckbtc": ts}, NewMetrics(), zap.NewNop())
	router := s.Router(config.APIServerConfig{Enabled: true, Port: 0, CORSEnabled: true})
	return httptest.NewServer(router), st, ts
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
}

func TestHandleBalance_UnknownAccountDefaultsZero(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/tokens/ckbtc/balance/nobody")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "0", body["balance"])
}

func TestHandleBalance_KnownAccount(t *testing.T) {
	srv, _, ts := newTestServer(t)
	defer srv.Close()

	require.NoError(t, ts.SaveBalance(context.Background(), "owner-a", "42", 0))

	resp, err := http.Get(srv.URL + "/tokens/ckbtc/balance/owner-a")
	require.NoError(t, err)
	defer resp.Body.Close()

	var rec model.BalanceRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	require.Equal(t, "42", rec.Balance)
}

func TestHandleBalance_UnknownTokenIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/tokens/doesnotexist/balance/a")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleSyncStatus_NotFoundBeforeFirstSync(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/tokens/ckbtc/sync-status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleSyncStatus_ReturnsPersistedStatus(t *testing.T) {
	srv, st, _ := newTestServer(t)
	defer srv.Close()

	require.NoError(t, st.UpdateSyncStatus(context.Background(), model.SyncStatus{
		Token: "ckbtc", LastSyncedIndex: 7, SyncMode: model.SyncModeIncremental,
	}))

	resp, err := http.Get(srv.URL + "/tokens/ckbtc/sync-status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status model.SyncStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, int64(7), status.LastSyncedIndex)
}

func TestHandleAnomalies_RespectsLimit(t *testing.T) {
	srv, _, ts := newTestServer(t)
	defer srv.Close()

	for i := uint64(0); i < 3; i++ {
		require.NoError(t, ts.LogAnomaly(context.Background(), model.BalanceAnomaly{Account: "a", TxIndex: i}))
	}

	resp, err := http.Get(srv.URL + "/tokens/ckbtc/anomalies?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()

	var anomalies []model.BalanceAnomaly
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&anomalies))
	require.Len(t, anomalies, 2)
}

func TestHandleSupply(t *testing.T) {
	srv, _, ts := newTestServer(t)
	defer srv.Close()

	require.NoError(t, ts.SaveTotalSupply(context.Background(), "1000"))

	resp, err := http.Get(srv.URL + "/tokens/ckbtc/supply")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "1000", body["total_supply"])
}
