package api

// Request and response types for the REST endpoints and WebSocket stream.

// RegisterAssetRequest registers a ticker for trading (admin only).
type RegisterAssetRequest struct {
	Caller  string `json:"caller"`  // 0x... address of the caller
	Ticker  string `json:"ticker"`  // e.g., "LINK"
	Address string `json:"address"` // token contract address
}

// TransferRequest moves bridged funds in or out of the ledger.
type TransferRequest struct {
	Account string `json:"account"`
	Ticker  string `json:"ticker"`
	Amount  uint64 `json:"amount"`
}

// LimitOrderRequest places a resting limit order.
type LimitOrderRequest struct {
	Trader string `json:"trader"`
	Ticker string `json:"ticker"`
	Side   string `json:"side"` // "buy" or "sell"
	Price  uint64 `json:"price"`
	Amount uint64 `json:"amount"`
}

// MarketOrderRequest executes immediately against resting liquidity.
type MarketOrderRequest struct {
	Trader string `json:"trader"`
	Ticker string `json:"ticker"`
	Side   string `json:"side"`
	Amount uint64 `json:"amount"`
}

// CancelOrderRequest cancels a resting order owned by the trader.
type CancelOrderRequest struct {
	Trader  string `json:"trader"`
	OrderID uint64 `json:"orderId"`
}

// LimitOrderResponse returns the id of a freshly rested order.
type LimitOrderResponse struct {
	OrderID uint64 `json:"orderId"`
}

// OrderInfo is one resting order in a book snapshot.
type OrderInfo struct {
	ID     uint64 `json:"id"`
	Trader string `json:"trader"`
	Ticker string `json:"ticker"`
	Side   string `json:"side"`
	Price  uint64 `json:"price"`
	Amount uint64 `json:"amount"`
	Filled uint64 `json:"filled"`
}

// BookSnapshot is one side of a book in priority order.
type BookSnapshot struct {
	Ticker    string      `json:"ticker"`
	Side      string      `json:"side"`
	Orders    []OrderInfo `json:"orders"`
	Timestamp int64       `json:"timestamp"` // Unix milliseconds
}

// BalanceInfo is one (ticker, balance) entry of an account.
type BalanceInfo struct {
	Ticker    string `json:"ticker"`
	Available uint64 `json:"available"`
	Locked    uint64 `json:"locked"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is the client -> server subscription message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSMessage is the server -> client envelope.
type WSMessage struct {
	Type string `json:"type"` // "trade"
	Data any    `json:"data"`
}
