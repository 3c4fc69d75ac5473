// Package api exposes the market over HTTP: session-backed auth, vault
// inspection, order placement, candle history, and a WebSocket stream of
// book and trade updates.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradepost/tradepost/params"
	"github.com/tradepost/tradepost/pkg/account"
	"github.com/tradepost/tradepost/pkg/candle"
	"github.com/tradepost/tradepost/pkg/market"
	"github.com/tradepost/tradepost/pkg/vault"
)

const (
	sessionName = "tradepost"
	sessionKey  = "uuid"

	// bookDepth is how many resting orders per side a snapshot returns.
	bookDepth = 16
)

// Server handles the REST API and WebSocket connections.
type Server struct {
	engine   *market.Engine
	orders   market.OrderStore
	accounts *account.Manager
	vault    *vault.Vault
	bridge   *vault.Bridge
	candles  candle.Store
	periods  map[string]time.Duration

	router   *mux.Router
	hub      *Hub
	sessions *sessions.CookieStore
	srv      *http.Server
	cors     []string
	log      *zap.SugaredLogger
}

type Deps struct {
	Engine   *market.Engine
	Orders   market.OrderStore
	Accounts *account.Manager
	Vault    *vault.Vault
	Bridge   *vault.Bridge // nil disables withdrawals
	Candles  candle.Store
}

func NewServer(deps Deps, cfg params.Server, periods map[string]time.Duration, log *zap.SugaredLogger) *Server {
	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.Options.HttpOnly = true
	store.Options.SameSite = http.SameSiteLaxMode

	s := &Server{
		engine:   deps.Engine,
		orders:   deps.Orders,
		accounts: deps.Accounts,
		vault:    deps.Vault,
		bridge:   deps.Bridge,
		candles:  deps.Candles,
		periods:  periods,
		router:   mux.NewRouter(),
		hub:      NewHub(log),
		sessions: store,
		cors:     cfg.CORSOrigins,
		log:      log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Auth
	s.router.HandleFunc("/auth/register", s.handleRegister).Methods("POST")
	s.router.HandleFunc("/auth/login", s.handleLogin).Methods("POST")
	s.router.HandleFunc("/auth/logout", s.handleLogout).Methods("POST")
	s.router.HandleFunc("/auth/check", s.handleAuthCheck).Methods("GET", "POST")

	// Vault
	s.router.HandleFunc("/vault/get", s.handleVaultGet).Methods("GET")
	s.router.HandleFunc("/vault/withdraw", s.handleVaultWithdraw).Methods("POST")

	// Orderbook
	s.router.HandleFunc("/orderbook/get", s.handleBookGet).Methods("POST")
	s.router.HandleFunc("/orderbook/buy", s.handleOrder(market.Buy)).Methods("POST")
	s.router.HandleFunc("/orderbook/sell", s.handleOrder(market.Sell)).Methods("POST")

	// Candles
	s.router.HandleFunc("/api/candles/latest/{item}/{period}/{limit:[0-9]+}", s.handleLatestCandles).Methods("GET")
	s.router.HandleFunc("/api/candles/{item}/{period}/{start:[0-9]+}-{stop:[0-9]+}", s.handleCandleRange).Methods("GET")

	// WebSocket + health
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler exposes the routed handler without the CORS wrapper.
func (s *Server) Handler() http.Handler { return s.router }

// Start runs the hub and the HTTP listener on a background goroutine.
func (s *Server) Start(addr string) {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cors,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})

	s.srv = &http.Server{Addr: addr, Handler: c.Handler(s.router)}
	go func() {
		s.log.Infow("api server listening", "addr", addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorw("api server stopped", "err", err)
		}
	}()
}

func (s *Server) Stop() {
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

// ==============================
// Auth Handlers
// ==============================

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Code == "" || req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "code, email and password are required", "")
		return
	}

	uuid, err := s.accounts.Register(req.Email, req.Password, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrUnknownCode), errors.Is(err, account.ErrCodeExpired):
			respondError(w, http.StatusBadRequest, "invalid auth code", err.Error())
		case errors.Is(err, account.ErrEmailUsed):
			respondError(w, http.StatusConflict, "email already registered", "")
		default:
			s.log.Errorw("register failed", "err", err)
			respondError(w, http.StatusInternalServerError, "registration failed", "")
		}
		return
	}

	s.setSession(w, r, uuid)
	respondJSON(w, AuthStatus{LoggedIn: true, UUID: uuid})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	uuid, err := s.accounts.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrUnknownUser) || errors.Is(err, account.ErrWrongPassword) {
			respondError(w, http.StatusUnauthorized, "wrong email or password", "")
			return
		}
		s.log.Errorw("login failed", "err", err)
		respondError(w, http.StatusInternalServerError, "login failed", "")
		return
	}

	s.setSession(w, r, uuid)
	respondJSON(w, AuthStatus{LoggedIn: true, UUID: uuid})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := s.sessions.Get(r, sessionName)
	sess.Options.MaxAge = -1
	_ = sess.Save(r, w)
	respondJSON(w, AuthStatus{LoggedIn: false})
}

func (s *Server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	uuid := s.sessionUUID(r)
	respondJSON(w, AuthStatus{LoggedIn: uuid != "", UUID: uuid})
}

// ==============================
// Vault Handlers
// ==============================

func (s *Server) handleVaultGet(w http.ResponseWriter, r *http.Request) {
	uuid := s.sessionUUID(r)
	if uuid == "" {
		respondError(w, http.StatusUnauthorized, "not logged in", "")
		return
	}

	entries, err := s.vault.List(uuid)
	if err != nil {
		s.log.Errorw("vault list failed", "player", uuid, "err", err)
		respondError(w, http.StatusInternalServerError, "vault unavailable", "")
		return
	}

	out := make([]VaultEntry, len(entries))
	for i, e := range entries {
		out[i] = VaultEntry{
			Hash:          e.Item.Hash,
			Stack:         e.Item.Stack,
			MaxDurability: e.Item.MaxDurability,
			Payload:       e.Item.Payload,
			Quantity:      e.Quantity,
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleVaultWithdraw(w http.ResponseWriter, r *http.Request) {
	uuid := s.sessionUUID(r)
	if uuid == "" {
		respondError(w, http.StatusUnauthorized, "not logged in", "")
		return
	}
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Item == "" || req.Quantity <= 0 {
		respondError(w, http.StatusBadRequest, "item and positive quantity required", "")
		return
	}
	if s.bridge == nil {
		respondError(w, http.StatusServiceUnavailable, "game bridge not running", "")
		return
	}

	// The bridge only debits once a game client is attached, so a refused
	// withdrawal leaves the balance untouched.
	sent, err := s.bridge.Withdraw(uuid, req.Item, req.Quantity)
	if err != nil {
		if errors.Is(err, vault.ErrInsufficient) {
			respondError(w, http.StatusBadRequest, "insufficient balance", "")
			return
		}
		s.log.Errorw("vault withdraw failed", "player", uuid, "err", err)
		respondError(w, http.StatusInternalServerError, "withdrawal failed", "")
		return
	}
	if !sent {
		respondError(w, http.StatusServiceUnavailable, "game client not connected", "")
		return
	}
	respondJSON(w, map[string]string{"status": "sent"})
}

// ==============================
// Orderbook Handlers
// ==============================

func (s *Server) handleBookGet(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Item == "" {
		respondError(w, http.StatusBadRequest, "item required", "")
		return
	}
	uuid := s.sessionUUID(r)

	buys, err := s.orders.FetchPriorityPage(r.Context(), req.Item, market.Buy, bookDepth, 0)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "order store unavailable", "")
		return
	}
	sells, err := s.orders.FetchPriorityPage(r.Context(), req.Item, market.Sell, bookDepth, 0)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "order store unavailable", "")
		return
	}

	respondJSON(w, BookSnapshot{
		Item:      req.Item,
		Buys:      bookEntries(buys, uuid),
		Sells:     bookEntries(sells, uuid),
		Timestamp: time.Now().UnixMilli(),
	})
}

func bookEntries(orders []market.Order, viewer string) []BookEntry {
	out := make([]BookEntry, len(orders))
	for i, o := range orders {
		out[i] = BookEntry{Price: o.Price, Quantity: o.Quantity, Own: viewer != "" && o.Trader == viewer}
	}
	return out
}

func (s *Server) handleOrder(side market.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uuid := s.sessionUUID(r)
		if uuid == "" {
			respondError(w, http.StatusUnauthorized, "not logged in", "")
			return
		}

		var req OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
		price, err := decimal.NewFromString(strings.TrimSpace(req.Price))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid price", err.Error())
			return
		}

		out, err := s.engine.Submit(r.Context(), uuid, req.Item, side, req.Quantity, price)
		result := OrderResult{
			Status:   string(out.Status),
			OrderID:  out.OrderID,
			Executed: out.Executed,
			Residual: out.Residual,
		}
		switch {
		case errors.Is(err, market.ErrInvalidOrder):
			respondError(w, http.StatusBadRequest, "invalid order", "quantity and price must be positive")
		case errors.Is(err, market.ErrStoreUnavailable):
			// Executed quantity is already traded; the caller must not
			// resubmit the full amount.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(result)
		case err != nil:
			s.log.Errorw("order submit failed", "player", uuid, "err", err)
			respondError(w, http.StatusInternalServerError, "order failed", "")
		default:
			respondJSON(w, result)
		}
	}
}

// ==============================
// Candle Handlers
// ==============================

func (s *Server) handleCandleRange(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	item, period := vars["item"], vars["period"]
	if _, ok := s.periods[period]; !ok {
		respondError(w, http.StatusBadRequest, "unknown period", period)
		return
	}
	start, _ := strconv.ParseInt(vars["start"], 10, 64)
	stop, _ := strconv.ParseInt(vars["stop"], 10, 64)
	if stop <= start {
		respondError(w, http.StatusBadRequest, "empty range", fmt.Sprintf("%d-%d", start, stop))
		return
	}

	candles, err := s.candles.Candles(item, period, start, stop)
	if err != nil {
		s.log.Errorw("candle range failed", "item", item, "err", err)
		respondError(w, http.StatusInternalServerError, "candles unavailable", "")
		return
	}
	respondJSON(w, candles)
}

func (s *Server) handleLatestCandles(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	item, period := vars["item"], vars["period"]
	if _, ok := s.periods[period]; !ok {
		respondError(w, http.StatusBadRequest, "unknown period", period)
		return
	}
	limit, _ := strconv.Atoi(vars["limit"])
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	candles, err := s.candles.LatestCandles(item, period, limit)
	if err != nil {
		s.log.Errorw("latest candles failed", "item", item, "err", err)
		respondError(w, http.StatusInternalServerError, "candles unavailable", "")
		return
	}
	respondJSON(w, candles)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Event Fanout
// ==============================

// HandleEvent implements market.Consumer: every book mutation goes out on
// "book:<item>", executions additionally on "trades:<item>".
func (s *Server) HandleEvent(ev market.Event) {
	s.hub.BroadcastToChannel("book:"+ev.Item, WSUpdate{
		Channel: "book:" + ev.Item,
		Kind:    string(ev.Kind),
		Data:    ev,
	})
	if ev.Kind == market.EventTransactionExecuted {
		s.hub.BroadcastToChannel("trades:"+ev.Item, WSUpdate{
			Channel: "trades:" + ev.Item,
			Kind:    string(ev.Kind),
			Data:    ev.Execution,
		})
	}
}

// ==============================
// Helpers
// ==============================

func (s *Server) setSession(w http.ResponseWriter, r *http.Request, uuid string) {
	sess, _ := s.sessions.Get(r, sessionName)
	sess.Values[sessionKey] = uuid
	if err := sess.Save(r, w); err != nil {
		s.log.Errorw("save session", "err", err)
	}
}

func (s *Server) sessionUUID(r *http.Request) string {
	sess, err := s.sessions.Get(r, sessionName)
	if err != nil {
		return ""
	}
	uuid, _ := sess.Values[sessionKey].(string)
	return uuid
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: error, Message: message})
}

var _ market.Consumer = (*Server)(nil)
