// Package server exposes the engine over HTTP: a WebSocket endpoint fanning
// token updates to clients, and REST endpoints for wallet management and
// trade execution.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pumpwatch/engine/internal/metrics"
	"github.com/pumpwatch/engine/internal/notify"
	"github.com/pumpwatch/engine/internal/store"
	"github.com/pumpwatch/engine/internal/trade"
	"github.com/pumpwatch/engine/internal/wallet"
)

// Server is the HTTP collaborator around the engine core.
type Server struct {
	notifier   *notify.Notifier
	tokens     *store.TokenStore
	wallets    *wallet.Store
	balances   *wallet.BalanceClient
	trader     *trade.Client
	tracker    *metrics.Tracker
	upgrader   websocket.Upgrader
	sendBuffer int
	httpSrv    *http.Server

	clientsMu sync.Mutex
	clients   map[string]*ClientAdapter
}

// New creates a Server listening on addr.
func New(addr string, notifier *notify.Notifier, tokens *store.TokenStore, wallets *wallet.Store, balances *wallet.BalanceClient, trader *trade.Client, tracker *metrics.Tracker, sendBuffer int) *Server {
	s := &Server{
		notifier: notifier,
		tokens:   tokens,
		wallets:  wallets,
		balances: balances,
		trader:   trader,
		tracker:  tracker,
		upgrader: websocket.Upgrader{
			// the operator frontend runs anywhere; origin checks are
			// handled by the deployment, not the engine
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sendBuffer: sendBuffer,
		clients:    make(map[string]*ClientAdapter),
	}

	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	return s
}

// Handler builds the route table with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("POST /wallet", s.handleWallet)
	mux.HandleFunc("GET /wallet-status", s.handleWalletStatus)
	mux.HandleFunc("POST /trading-settings", s.handleTradingSettings)
	mux.HandleFunc("POST /execute-trade", s.handleExecuteTrade)
	mux.HandleFunc("GET /tokens", s.handleTokens)
	mux.HandleFunc("GET /tokens/{mint}", s.handleToken)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.tracker.Registry(), promhttp.HandlerOpts{}))

	return corsMiddleware(mux)
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	slog.Info("http_server_starting", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes the attached WebSocket clients, then stops the HTTP server
// gracefully. Upgraded connections are hijacked and outlive httpSrv.Shutdown,
// so they get closed explicitly.
func (s *Server) Shutdown(ctx context.Context) error {
	s.clientsMu.Lock()
	clients := make([]*ClientAdapter, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()

	for _, c := range clients {
		c.Close()
	}

	return s.httpSrv.Shutdown(ctx)
}

// corsMiddleware mirrors the permissive policy of the operator frontend.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWS upgrades the client and attaches it to the fan-out.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws_upgrade_failed", "error", err)
		return
	}

	id := uuid.NewString()
	client := NewClientAdapter(id, conn, s.sendBuffer, func(id string) {
		s.notifier.Remove(id)
		s.tracker.SetObserverCount(s.notifier.Count())

		s.clientsMu.Lock()
		delete(s.clients, id)
		s.clientsMu.Unlock()
	})

	s.clientsMu.Lock()
	s.clients[id] = client
	s.clientsMu.Unlock()

	s.notifier.Register(client)
	s.tracker.SetObserverCount(s.notifier.Count())
	client.Start()
}

// walletRequest is the add/remove payload for POST /wallet.
type walletRequest struct {
	Action     string `json:"action"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
	APIKey     string `json:"api_key"`
	Pool       string `json:"pool"`
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Action {
	case "add":
		err := s.wallets.AddWallet(wallet.Wallet{
			PublicKey:  req.PublicKey,
			PrivateKey: req.PrivateKey,
			APIKey:     req.APIKey,
			Pool:       req.Pool,
		})
		switch {
		case errors.Is(err, wallet.ErrMissingKeys):
			writeError(w, http.StatusBadRequest, "missing required wallet information")
		case errors.Is(err, wallet.ErrWalletExists):
			writeError(w, http.StatusBadRequest, "wallet already exists")
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Wallet added successfully"})
		}

	case "remove":
		if err := s.wallets.RemoveWallet(req.PublicKey); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Wallet removed successfully"})

	default:
		writeError(w, http.StatusBadRequest, "invalid action")
	}
}

// walletStatusResponse summarizes registered wallets and their balances.
type walletStatusResponse struct {
	ActiveWallets int                 `json:"active_wallets"`
	TotalWallets  int                 `json:"total_wallets"`
	TotalSol      float64             `json:"total_sol"`
	Wallets       []walletStatusEntry `json:"wallets"`
}

type walletStatusEntry struct {
	PublicKey string  `json:"public_key"`
	LastUsed  string  `json:"last_used,omitempty"`
	Pool      string  `json:"pool"`
	Balance   float64 `json:"balance"`
}

func (s *Server) handleWalletStatus(w http.ResponseWriter, r *http.Request) {
	wallets := s.wallets.Wallets()
	total := s.balances.FillBalances(r.Context(), wallets)

	entries := make([]walletStatusEntry, 0, len(wallets))
	for _, wl := range wallets {
		entries = append(entries, walletStatusEntry{
			PublicKey: wl.PublicKey,
			LastUsed:  wl.LastUsed,
			Pool:      wl.Pool,
			Balance:   wl.Balance,
		})
	}

	writeJSON(w, http.StatusOK, walletStatusResponse{
		ActiveWallets: len(wallets),
		TotalWallets:  len(wallets),
		TotalSol:      total,
		Wallets:       entries,
	})
}

// settingsRequest is the partial-update payload for POST /trading-settings.
type settingsRequest struct {
	Slippage    *float64 `json:"slippage"`
	PriorityFee *float64 `json:"priority_fee"`
}

func (s *Server) handleTradingSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	settings, err := s.wallets.UpdateSettings(req.Slippage, req.PriorityFee)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "settings": settings})
}

// tradeRequest is the order payload for POST /execute-trade.
type tradeRequest struct {
	Mint             string  `json:"mint"`
	Action           string  `json:"action"`
	WalletPublicKey  string  `json:"wallet_public_key"`
	Amount           float64 `json:"amount"`
	DenominatedInSol *bool   `json:"denominated_in_sol"`
}

func (s *Server) handleExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wl, err := s.wallets.Find(req.WalletPublicKey)
	if errors.Is(err, wallet.ErrWalletNotFound) {
		writeError(w, http.StatusNotFound, "wallet not found")
		return
	}

	denominated := true
	if req.DenominatedInSol != nil {
		denominated = *req.DenominatedInSol
	}

	settings := s.wallets.Settings()
	result, err := s.trader.Execute(r.Context(), wl.APIKey, trade.Request{
		Action:           req.Action,
		Mint:             req.Mint,
		Amount:           req.Amount,
		DenominatedInSol: denominated,
		Slippage:         settings.Slippage,
		PriorityFee:      settings.PriorityFee,
		Pool:             wl.Pool,
	})
	if err != nil {
		slog.Error("trade_execution_failed", "mint", req.Mint, "wallet", req.WalletPublicKey, "error", err)

		var apiErr *trade.APIError
		if errors.As(err, &apiErr) {
			writeError(w, apiErr.StatusCode, strings.TrimSpace(apiErr.Body))
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if err := s.wallets.MarkUsed(wl.PublicKey); err != nil {
		slog.Warn("wallet_mark_used_failed", "wallet", wl.PublicKey, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result)
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tokens": s.tokens.All()})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	rec := s.tokens.Get(r.PathValue("mint"))
	if rec == nil {
		writeError(w, http.StatusNotFound, "token not tracked")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response_encode_failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
