package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/hoyzach/dexcore/pkg/core"
	"github.com/hoyzach/dexcore/pkg/core/asset"
	"github.com/hoyzach/dexcore/pkg/core/book"
	"github.com/hoyzach/dexcore/pkg/core/engine"
	"github.com/hoyzach/dexcore/pkg/core/ledger"
)

// Server exposes the exchange core over REST and streams trades over
// WebSocket.
type Server struct {
	ex     *core.Exchange
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

// NewServer creates an API server over an exchange and wires executed
// trades into the WebSocket hub.
func NewServer(ex *core.Exchange, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ex:     ex,
		router: mux.NewRouter(),
		hub:    NewHub(),
		log:    logger.Sugar(),
	}

	ex.SetTradeHook(func(tr engine.Trade) {
		s.hub.BroadcastToChannel("trades:"+tr.Ticker, WSMessage{Type: "trade", Data: tr})
	})

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Asset endpoints
	api.HandleFunc("/assets", s.handleListAssets).Methods("GET")
	api.HandleFunc("/assets", s.handleRegisterAsset).Methods("POST")
	api.HandleFunc("/assets/{ticker}/orderbook", s.handleGetOrderBook).Methods("GET")
	api.HandleFunc("/assets/{ticker}/trades", s.handleGetTrades).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdraw", s.handleWithdraw).Methods("POST")

	// Order endpoints
	api.HandleFunc("/orders/limit", s.handlePlaceLimitOrder).Methods("POST")
	api.HandleFunc("/orders/market", s.handleMarketOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	// WebSocket trade stream
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the WebSocket hub and serves HTTP on addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	s.log.Infow("api_listening", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.ex.Assets())
}

func (s *Server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	var req RegisterAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "invalid token address", req.Address)
		return
	}

	if err := s.ex.RegisterAsset(caller, req.Ticker, common.HexToAddress(req.Address)); err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "registered", "ticker": req.Ticker})
}

func (s *Server) handleGetOrderBook(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	side, err := book.ParseSide(r.URL.Query().Get("side"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}

	orders, err := s.ex.GetOrderBook(ticker, side)
	if err != nil {
		respondCoreError(w, err)
		return
	}

	infos := make([]OrderInfo, len(orders))
	for i, o := range orders {
		infos[i] = OrderInfo{
			ID:     o.ID,
			Trader: o.Trader.Hex(),
			Ticker: o.Ticker,
			Side:   o.Side.String(),
			Price:  o.Price,
			Amount: o.Amount,
			Filled: o.Filled,
		}
	}
	respondJSON(w, BookSnapshot{
		Ticker:    ticker,
		Side:      side.String(),
		Orders:    infos,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	trades, err := s.ex.RecentTrades(ticker, limit)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	if trades == nil {
		trades = []engine.Trade{}
	}
	respondJSON(w, trades)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}

	balances := s.ex.Balances(account)
	infos := make([]BalanceInfo, 0, len(balances))
	for ticker, b := range balances {
		infos = append(infos, BalanceInfo{Ticker: ticker, Available: b.Available, Locked: b.Locked})
	}
	respondJSON(w, infos)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, s.ex.Deposit, "deposited")
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, s.ex.Withdraw, "withdrawn")
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, op func(common.Address, string, uint64) error, status string) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	account, ok := parseAddress(w, req.Account)
	if !ok {
		return
	}

	if err := op(account, req.Ticker, req.Amount); err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": status})
}

func (s *Server) handlePlaceLimitOrder(w http.ResponseWriter, r *http.Request) {
	var req LimitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	trader, ok := parseAddress(w, req.Trader)
	if !ok {
		return
	}
	side, err := book.ParseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}

	id, err := s.ex.PlaceLimitOrder(trader, req.Ticker, side, req.Price, req.Amount)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, LimitOrderResponse{OrderID: id})
}

func (s *Server) handleMarketOrder(w http.ResponseWriter, r *http.Request) {
	var req MarketOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	trader, ok := parseAddress(w, req.Trader)
	if !ok {
		return
	}
	side, err := book.ParseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}

	report, err := s.ex.ExecuteMarketOrder(trader, req.Ticker, side, req.Amount)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, report)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	trader, ok := parseAddress(w, req.Trader)
	if !ok {
		return
	}

	if err := s.ex.CancelOrder(trader, req.OrderID); err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "cancelled"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// parseAddress validates a hex address, writing a 400 response on failure.
func parseAddress(w http.ResponseWriter, raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid address", raw)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// respondCoreError maps the core error taxonomy onto HTTP statuses.
func respondCoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, asset.ErrUnknownAsset), errors.Is(err, book.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientAvailable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, book.ErrOverflow):
		status = http.StatusBadRequest
	case errors.Is(err, asset.ErrUnauthorized), errors.Is(err, book.ErrNotOrderOwner):
		status = http.StatusForbidden
	case errors.Is(err, asset.ErrDuplicateAsset):
		status = http.StatusConflict
	}
	respondError(w, status, err.Error(), "")
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: error, Message: message})
}
