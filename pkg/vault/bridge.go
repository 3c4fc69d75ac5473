package vault

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tradepost/tradepost/pkg/account"
)

var bridgeUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The game plugin connects from the game server's own address.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Bridge is the websocket link to the in-game client plugin. Frames are
// pipe-delimited:
//
//	inbound:  ITEM_DEPOSIT|player|stack,maxDurability,data|quantity
//	          MONEY_DEPOSIT|player|amount
//	          AUTH_CODE|player
//	outbound: ITEM_WITHDRAWAL|player|itemHash|quantity
//	          DEPOSIT_ERROR|player|data|quantity
//	          AUTH_CODE|ACCOUNT_EXISTS|email
//	          AUTH_CODE|ACCOUNT_CREATED|code
//
// Only one game client is expected at a time; a new connection replaces the
// previous one.
type Bridge struct {
	vault    *Vault
	accounts *account.Manager
	log      *zap.SugaredLogger

	mu   sync.Mutex
	conn *websocket.Conn
	srv  *http.Server
}

func NewBridge(v *Vault, accounts *account.Manager, log *zap.SugaredLogger) *Bridge {
	return &Bridge{vault: v, accounts: accounts, log: log}
}

// Start listens for the game client on addr. It returns immediately; the
// server runs until Stop.
func (b *Bridge) Start(addr string) {
	m := http.NewServeMux()
	m.HandleFunc("/", b.handleConnect)
	b.srv = &http.Server{Addr: addr, Handler: m}

	go func() {
		b.log.Infow("bridge_listening", "addr", addr)
		if err := b.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			b.log.Errorw("bridge_server_failed", "err", err)
		}
	}()
}

func (b *Bridge) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if b.srv != nil {
		_ = b.srv.Shutdown(ctx)
	}
}

func (b *Bridge) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := bridgeUpgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warnw("bridge_upgrade_failed", "err", err)
		return
	}

	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.conn = conn
	b.mu.Unlock()
	b.log.Debugw("game_client_connected", "remote", conn.RemoteAddr().String())

	defer func() {
		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		b.mu.Unlock()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			b.log.Debugw("game_client_disconnected", "err", err)
			return
		}
		b.handleFrame(string(msg))
	}
}

func (b *Bridge) handleFrame(frame string) {
	parts := strings.Split(frame, "|")
	switch parts[0] {
	case "ITEM_DEPOSIT":
		if len(parts) != 4 {
			b.log.Warnw("malformed_frame", "frame", frame)
			return
		}
		b.itemDeposit(parts[1], parts[2], parts[3])
	case "MONEY_DEPOSIT":
		if len(parts) != 3 {
			b.log.Warnw("malformed_frame", "frame", frame)
			return
		}
		b.moneyDeposit(parts[1], parts[2])
	case "AUTH_CODE":
		if len(parts) != 2 {
			b.log.Warnw("malformed_frame", "frame", frame)
			return
		}
		b.authCode(parts[1])
	default:
		b.log.Warnw("unknown_frame_type", "type", parts[0])
	}
}

func (b *Bridge) itemDeposit(player, data, qtyStr string) {
	qty, err := strconv.ParseInt(qtyStr, 10, 64)
	if err != nil || qty <= 0 {
		b.send(fmt.Sprintf("DEPOSIT_ERROR|%s|%s|%s", player, data, qtyStr))
		return
	}
	if _, err := b.vault.Deposit(player, data, qty); err != nil {
		// A deposit that cannot be applied is reported back to the game so
		// the items can be returned to the player, never silently dropped.
		b.log.Warnw("deposit_failed", "player", player, "err", err)
		b.send(fmt.Sprintf("DEPOSIT_ERROR|%s|%s|%d", player, data, qty))
	}
}

func (b *Bridge) moneyDeposit(player, amountStr string) {
	amount, err := strconv.ParseInt(amountStr, 10, 64)
	if err != nil || amount <= 0 {
		b.log.Warnw("malformed_money_deposit", "player", player, "amount", amountStr)
		return
	}
	if err := b.vault.DepositMoney(player, amount); err != nil {
		b.log.Warnw("money_deposit_failed", "player", player, "err", err)
	}
}

func (b *Bridge) authCode(player string) {
	res, err := b.accounts.IssueCode(player)
	if err != nil {
		b.log.Errorw("auth_code_failed", "player", player, "err", err)
		return
	}
	if res.Email != "" {
		b.send("AUTH_CODE|ACCOUNT_EXISTS|" + res.Email)
		return
	}
	b.send("AUTH_CODE|ACCOUNT_CREATED|" + res.Code)
}

// Withdraw debits the vault and tells the game client to hand the items
// over. Reports false when no game client is connected. The connection is
// held across the debit and the write, and a failed write re-credits the
// balance, so the items are never debited without the frame going out.
func (b *Bridge) Withdraw(player, itemHash string, quantity int64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return false, nil
	}

	if err := b.vault.Withdraw(player, itemHash, quantity); err != nil {
		return false, err
	}
	if err := b.writeLocked(fmt.Sprintf("ITEM_WITHDRAWAL|%s|%s|%d", player, itemHash, quantity)); err != nil {
		if rerr := b.vault.Refund(player, itemHash, quantity); rerr != nil {
			b.log.Errorw("withdrawal_refund_failed",
				"player", player, "item", itemHash, "quantity", quantity, "err", rerr)
		}
		return false, fmt.Errorf("deliver withdrawal frame: %w", err)
	}
	return true, nil
}

// writeLocked sends one frame on the current connection, dropping the
// connection on a failed write. Caller holds b.mu.
func (b *Bridge) writeLocked(frame string) error {
	if b.conn == nil {
		return fmt.Errorf("no game client connected")
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		b.conn.Close()
		b.conn = nil
		return err
	}
	return nil
}

func (b *Bridge) send(frame string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writeLocked(frame); err != nil {
		b.log.Warnw("frame_send_failed", "frame", frame, "err", err)
	}
}
