// Package api exposes the thin read-only HTTP surface over the derived
// state: balance-by-account, total-supply, sync-status, and recent
// anomalies per token (spec §1, §6).
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/withobsrvr/icrc-ledger-indexer/internal/account"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/config"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/store"
)

// Server is the HTTP handler wrapping a Store for all configured tokens.
type Server struct {
	st      store.Store
	tokens  map[string]store.TokenStore
	log     *zap.Logger
	start   time.Time
	metrics *Metrics
}

func NewServer(st store.Store, tokens map[string]store.TokenStore, metrics *Metrics, log *zap.Logger) *Server {
	return &Server{st: st, tokens: tokens, log: log, start: time.Now(), metrics: metrics}
}

// Router builds the chi router, wiring CORS per cfg.CORSEnabled.
func (s *Server) Router(cfg config.APIServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if cfg.CORSEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	r.Route("/tokens/{token}", func(r chi.Router) {
		r.Get("/balance/{account}", s.handleBalance)
		r.Get("/supply", s.handleSupply)
		r.Get("/sync-status", s.handleSyncStatus)
		r.Get("/anomalies", s.handleAnomalies)
	})
	return r
}

func (s *Server) tokenStore(w http.ResponseWriter, r *http.Request) (store.TokenStore, string, bool) {
	token := chi.URLParam(r, "token")
	ts, ok := s.tokens[token]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown token"})
		return nil, "", false
	}
	return ts, token, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime_sec": int(time.Since(s.start).Seconds()),
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	ts, _, ok := s.tokenStore(w, r)
	if !ok {
		return
	}
	acc := account.NormalizeString(chi.URLParam(r, "account"))
	rec, found, err := ts.GetBalance(r.Context(), acc)
	if err != nil {
		s.log.Error("get balance failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]string{"account": acc, "balance": "0"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	ts, _, ok := s.tokenStore(w, r)
	if !ok {
		return
	}
	supply, err := ts.GetTotalSupply(r.Context())
	if err != nil {
		s.log.Error("get total supply failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"total_supply": supply})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.tokenStore(w, r)
	if !ok {
		return
	}
	status, found, err := s.st.GetSyncStatus(r.Context(), token)
	if err != nil {
		s.log.Error("get sync status failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no sync status yet"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	ts, _, ok := s.tokenStore(w, r)
	if !ok {
		return
	}
	limit := int64(50)
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.ParseInt(q, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}
	anomalies, err := ts.RecentAnomalies(r.Context(), limit)
	if err != nil {
		s.log.Error("get anomalies failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, anomalies)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
