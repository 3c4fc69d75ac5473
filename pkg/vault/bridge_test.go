package vault

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tradepost/tradepost/pkg/account"
	"github.com/tradepost/tradepost/pkg/util"
)

type memAccounts struct {
	players map[string]*account.Player
}

func (m *memAccounts) PlayerByUUID(uuid string) (*account.Player, error) {
	if p, ok := m.players[uuid]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *memAccounts) PlayerByCode(code string) (*account.Player, error) {
	for _, p := range m.players {
		if p.Code != "" && p.Code == code {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memAccounts) PlayerByEmail(email string) (*account.Player, error) {
	for _, p := range m.players {
		if p.Email != "" && p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memAccounts) SavePlayer(p *account.Player) error {
	cp := *p
	m.players[p.UUID] = &cp
	return nil
}

// dialBridge runs the bridge handler on a test server and connects a fake
// game client to it.
func dialBridge(t *testing.T, b *Bridge) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(b.handleConnect))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial bridge: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func newTestBridge(t *testing.T) (*Bridge, *memStore) {
	t.Helper()
	store := newMemStore()
	log := zap.NewNop().Sugar()
	v := New(store, log)
	accounts := account.NewManager(
		&memAccounts{players: make(map[string]*account.Player)},
		&util.ManualClock{T: time.UnixMilli(1_000_000)},
		log,
	)
	return NewBridge(v, accounts, log), store
}

func TestBridgeDepositFrames(t *testing.T) {
	b, store := newTestBridge(t)
	conn := dialBridge(t, b)

	send := func(frame string) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}

	send("ITEM_DEPOSIT|player-1|64,0,emerald|5")
	send("MONEY_DEPOSIT|player-1|250")
	// AUTH_CODE both exercises code issuance and, by its reply, proves the
	// earlier frames were processed.
	send("AUTH_CODE|player-1")

	_, reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	parts := strings.Split(string(reply), "|")
	if len(parts) != 3 || parts[0] != "AUTH_CODE" || parts[1] != "ACCOUNT_CREATED" || parts[2] == "" {
		t.Errorf("reply = %q, want AUTH_CODE|ACCOUNT_CREATED|<code>", reply)
	}

	item, err := parsePayload("64,0,emerald")
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if got, _ := store.Balance("player-1", item.Hash); got != 5 {
		t.Errorf("item balance = %d, want 5", got)
	}
	if got, _ := store.Balance("player-1", MoneyHash); got != 250 {
		t.Errorf("money balance = %d, want 250", got)
	}
}

func TestBridgeRejectedDepositReportsError(t *testing.T) {
	b, store := newTestBridge(t)
	conn := dialBridge(t, b)

	// Quantity is not a number; the items must bounce back to the game.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("ITEM_DEPOSIT|player-1|64,0,emerald|lots")); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	_, reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if want := "DEPOSIT_ERROR|player-1|64,0,emerald|lots"; string(reply) != want {
		t.Errorf("reply = %q, want %q", reply, want)
	}
	if len(store.balances) != 0 {
		t.Errorf("balances = %+v, want none", store.balances)
	}
}

func TestBridgeWithdraw(t *testing.T) {
	b, store := newTestBridge(t)

	// No game client attached: refuse without touching the balance.
	store.balances["player-1"] = map[string]int64{"h1": 5}
	sent, err := b.Withdraw("player-1", "h1", 3)
	if err != nil || sent {
		t.Fatalf("withdraw without client = %v, %v, want false, nil", sent, err)
	}
	if got, _ := store.Balance("player-1", "h1"); got != 5 {
		t.Errorf("balance = %d, want untouched 5", got)
	}

	conn := dialBridge(t, b)
	waitForClient(t, b)

	sent, err = b.Withdraw("player-1", "h1", 3)
	if err != nil || !sent {
		t.Fatalf("withdraw = %v, %v, want true, nil", sent, err)
	}
	if got, _ := store.Balance("player-1", "h1"); got != 2 {
		t.Errorf("balance = %d, want 2", got)
	}

	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if want := "ITEM_WITHDRAWAL|player-1|h1|3"; string(frame) != want {
		t.Errorf("frame = %q, want %q", frame, want)
	}

	// Insufficient balance never emits a frame.
	if sent, err := b.Withdraw("player-1", "h1", 99); sent || err == nil {
		t.Errorf("overdraw = %v, %v, want false with error", sent, err)
	}
}

func TestBridgeWithdrawRefundsOnFailedWrite(t *testing.T) {
	b, store := newTestBridge(t)
	store.balances["player-1"] = map[string]int64{"h1": 5}

	// Attach a server-side connection that is already dead so the
	// withdrawal frame cannot be delivered.
	b.mu.Lock()
	b.conn = deadServerConn(t)
	b.mu.Unlock()

	sent, err := b.Withdraw("player-1", "h1", 3)
	if sent || err == nil {
		t.Fatalf("withdraw on dead client = %v, %v, want false with error", sent, err)
	}
	if got, _ := store.Balance("player-1", "h1"); got != 5 {
		t.Errorf("balance = %d, want 5 refunded", got)
	}

	// The dead connection is dropped, so a retry reports no client.
	if sent, err := b.Withdraw("player-1", "h1", 3); sent || err != nil {
		t.Errorf("retry = %v, %v, want false, nil", sent, err)
	}
}

// deadServerConn upgrades a throwaway websocket and returns the server half
// with its network connection already closed.
func deadServerConn(t *testing.T) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	conn := <-conns
	conn.UnderlyingConn().Close()
	return conn
}

func waitForClient(t *testing.T, b *Bridge) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		connected := b.conn != nil
		b.mu.Unlock()
		if connected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("game client never attached")
}
