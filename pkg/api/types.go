package api

import "github.com/shopspring/decimal"

// ==============================
// Request Types
// ==============================

// RegisterRequest redeems a bridge-issued auth code for a web account.
type RegisterRequest struct {
	Code     string `json:"code"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// BookRequest selects the item whose book to snapshot.
type BookRequest struct {
	Item string `json:"item"`
}

// OrderRequest places a buy or sell; the side comes from the route.
type OrderRequest struct {
	Item     string `json:"item"`
	Quantity int64  `json:"quantity"`
	Price    string `json:"price"` // decimal string, e.g. "12.50"
}

type WithdrawRequest struct {
	Item     string `json:"item"`
	Quantity int64  `json:"quantity"`
}

// ==============================
// Response Types
// ==============================

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type AuthStatus struct {
	LoggedIn bool   `json:"loggedIn"`
	UUID     string `json:"uuid,omitempty"`
}

// BookEntry is one resting order as shown to the frontend. Trader identity
// stays server-side.
type BookEntry struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Own      bool            `json:"own"`
}

type BookSnapshot struct {
	Item      string      `json:"item"`
	Buys      []BookEntry `json:"buys"`
	Sells     []BookEntry `json:"sells"`
	Timestamp int64       `json:"timestamp"`
}

// OrderResult reports what happened to a submitted order.
type OrderResult struct {
	Status   string `json:"status"`
	OrderID  string `json:"orderId,omitempty"`
	Executed int64  `json:"executed"`
	Residual int64  `json:"residual"`
}

type VaultEntry struct {
	Hash          string `json:"hash"`
	Stack         int    `json:"stack"`
	MaxDurability int    `json:"maxDurability"`
	Payload       string `json:"payload"`
	Quantity      int64  `json:"quantity"`
}

// WSSubscribeRequest is the only client-to-server WebSocket message.
// Channels look like "trades:emerald" or "book:emerald".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSUpdate wraps a dispatcher event for WebSocket delivery.
type WSUpdate struct {
	Channel string      `json:"channel"`
	Kind    string      `json:"kind"`
	Data    interface{} `json:"data"`
}
