package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tradepost/tradepost/params"
	"github.com/tradepost/tradepost/pkg/account"
	"github.com/tradepost/tradepost/pkg/candle"
	"github.com/tradepost/tradepost/pkg/market"
	"github.com/tradepost/tradepost/pkg/storage"
	"github.com/tradepost/tradepost/pkg/util"
	"github.com/tradepost/tradepost/pkg/vault"
)

type testRig struct {
	srv      *httptest.Server
	accounts *account.Manager
	store    *storage.Store
}

// newTestRig wires the full stack minus the game bridge and Kafka feed onto
// a pebble store in a temp dir.
func newTestRig(t *testing.T) *testRig {
	t.Helper()
	log := zap.NewNop().Sugar()

	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := params.Default()
	clock := &util.ManualClock{T: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	accounts := account.NewManager(store, clock, log)
	playerVault := vault.New(store, log)

	disp := market.NewDispatcher()
	engine := market.NewEngine(store, disp, clock, log, market.EngineConfig{
		PageSize: cfg.Market.PageSize,
	})
	disp.Subscribe(vault.NewSettlement(store, log))
	disp.Subscribe(candle.NewAggregator(store, cfg.Candles.Periods, log))

	server := NewServer(Deps{
		Engine:   engine,
		Orders:   store,
		Accounts: accounts,
		Vault:    playerVault,
		Candles:  store,
	}, cfg.Server, cfg.Candles.Periods, log)
	disp.Subscribe(server)

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &testRig{srv: srv, accounts: accounts, store: store}
}

// client returns an http client with its own cookie jar, i.e. one browser.
func (r *testRig) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func (r *testRig) post(t *testing.T, c *http.Client, path string, body, out interface{}) int {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := c.Post(r.srv.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (r *testRig) get(t *testing.T, c *http.Client, path string, out interface{}) int {
	t.Helper()
	resp, err := c.Get(r.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return resp.StatusCode
}

// register creates a logged-in client for a fresh game player.
func (r *testRig) register(t *testing.T, player, email string) *http.Client {
	t.Helper()
	code, err := r.accounts.IssueCode(player)
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}
	c := r.client(t)
	var status AuthStatus
	if got := r.post(t, c, "/auth/register", RegisterRequest{Code: code.Code, Email: email, Password: "pw"}, &status); got != http.StatusOK {
		t.Fatalf("register status = %d", got)
	}
	if !status.LoggedIn || status.UUID != player {
		t.Fatalf("register = %+v, want logged-in %s", status, player)
	}
	return c
}

func TestAuthFlow(t *testing.T) {
	rig := newTestRig(t)
	c := rig.register(t, "player-1", "m@example.com")

	var status AuthStatus
	rig.get(t, c, "/auth/check", &status)
	if !status.LoggedIn || status.UUID != "player-1" {
		t.Errorf("check = %+v, want logged in", status)
	}

	rig.post(t, c, "/auth/logout", struct{}{}, nil)
	rig.get(t, c, "/auth/check", &status)
	if status.LoggedIn {
		t.Errorf("check after logout = %+v, want logged out", status)
	}

	// Fresh client, wrong password.
	c2 := rig.client(t)
	if got := rig.post(t, c2, "/auth/login", LoginRequest{Email: "m@example.com", Password: "nope"}, nil); got != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", got)
	}
	if got := rig.post(t, c2, "/auth/login", LoginRequest{Email: "m@example.com", Password: "pw"}, &status); got != http.StatusOK || !status.LoggedIn {
		t.Errorf("login = %d %+v, want 200 logged in", got, status)
	}
}

func TestOrderFlowEndToEnd(t *testing.T) {
	rig := newTestRig(t)
	seller := rig.register(t, "seller", "s@example.com")
	buyer := rig.register(t, "buyer", "b@example.com")

	var result OrderResult
	if got := rig.post(t, seller, "/orderbook/sell", OrderRequest{Item: "emerald", Quantity: 10, Price: "12.50"}, &result); got != http.StatusOK {
		t.Fatalf("sell status = %d", got)
	}
	if result.Status != string(market.StatusRested) || result.OrderID == "" {
		t.Fatalf("sell result = %+v, want rested", result)
	}

	// Buy 4 at a crossing price: executes at the resting 12.50.
	if got := rig.post(t, buyer, "/orderbook/buy", OrderRequest{Item: "emerald", Quantity: 4, Price: "13"}, &result); got != http.StatusOK {
		t.Fatalf("buy status = %d", got)
	}
	if result.Status != string(market.StatusFilled) || result.Executed != 4 {
		t.Fatalf("buy result = %+v, want filled 4", result)
	}

	var book BookSnapshot
	rig.post(t, buyer, "/orderbook/get", BookRequest{Item: "emerald"}, &book)
	if len(book.Sells) != 1 || book.Sells[0].Quantity != 6 || len(book.Buys) != 0 {
		t.Fatalf("book = %+v, want one sell of 6", book)
	}
	if book.Sells[0].Own {
		t.Errorf("seller's order marked as buyer's own")
	}

	// Settlement credited the buyer's vault.
	var entries []VaultEntry
	rig.get(t, buyer, "/vault/get", &entries)
	if len(entries) != 1 || entries[0].Hash != "emerald" || entries[0].Quantity != 4 {
		t.Errorf("vault = %+v, want 4 emerald", entries)
	}

	// The trade landed in a candle.
	var candles []candle.Candle
	if got := rig.get(t, buyer, "/api/candles/latest/emerald/1m/10", &candles); got != http.StatusOK {
		t.Fatalf("candles status = %d", got)
	}
	if len(candles) != 1 || candles[0].Volume != 4 {
		t.Errorf("candles = %+v, want one with volume 4", candles)
	}
}

func TestOrderValidation(t *testing.T) {
	rig := newTestRig(t)
	c := rig.register(t, "player-1", "m@example.com")

	// Not logged in.
	anon := rig.client(t)
	if got := rig.post(t, anon, "/orderbook/buy", OrderRequest{Item: "emerald", Quantity: 1, Price: "1"}, nil); got != http.StatusUnauthorized {
		t.Errorf("anonymous buy status = %d, want 401", got)
	}

	// Unparseable price.
	if got := rig.post(t, c, "/orderbook/buy", OrderRequest{Item: "emerald", Quantity: 1, Price: "cheap"}, nil); got != http.StatusBadRequest {
		t.Errorf("bad price status = %d, want 400", got)
	}

	// Non-positive quantity and price are rejected by the engine.
	if got := rig.post(t, c, "/orderbook/buy", OrderRequest{Item: "emerald", Quantity: 0, Price: "1"}, nil); got != http.StatusBadRequest {
		t.Errorf("zero quantity status = %d, want 400", got)
	}
	if got := rig.post(t, c, "/orderbook/sell", OrderRequest{Item: "emerald", Quantity: 1, Price: "-2"}, nil); got != http.StatusBadRequest {
		t.Errorf("negative price status = %d, want 400", got)
	}
}

func TestCandleRoutes(t *testing.T) {
	rig := newTestRig(t)
	c := rig.client(t)

	if got := rig.get(t, c, "/api/candles/emerald/2m/0-1000", nil); got != http.StatusBadRequest {
		t.Errorf("unknown period status = %d, want 400", got)
	}
	if got := rig.get(t, c, "/api/candles/emerald/1m/500-100", nil); got != http.StatusBadRequest {
		t.Errorf("empty range status = %d, want 400", got)
	}

	var candles []candle.Candle
	if got := rig.get(t, c, "/api/candles/emerald/1m/0-1000", &candles); got != http.StatusOK {
		t.Errorf("range status = %d, want 200", got)
	}
	if len(candles) != 0 {
		t.Errorf("candles = %+v, want none", candles)
	}
}

func TestHealth(t *testing.T) {
	rig := newTestRig(t)
	var out map[string]string
	if got := rig.get(t, rig.client(t), "/health", &out); got != http.StatusOK || out["status"] != "ok" {
		t.Errorf("health = %d %+v", got, out)
	}
}
