package vault

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// ErrInsufficient rejects a withdrawal larger than the stored balance.
var ErrInsufficient = errors.New("vault: insufficient balance")

// MoneyHash is the reserved item hash for currency balances deposited through
// the bridge's MONEY_DEPOSIT frames.
const MoneyHash = "money"

// Item is a registry entry for a depositable good, deduplicated by the
// 64-bit xxhash of its raw payload. The hash doubles as the item id
// everywhere: vault balances and book orders both reference it.
type Item struct {
	Hash          string `json:"hash"`
	Stack         int    `json:"stack"`         // stack size reported by the game client
	MaxDurability int    `json:"maxDurability"` // 0 for non-durable items
	Payload       string `json:"payload"`       // raw serialized item data
}

// Entry is one vault balance joined with its registry item.
type Entry struct {
	Item     Item  `json:"item"`
	Quantity int64 `json:"quantity"`
}

// Store is the persistence boundary for vault balances and the item
// registry. Balance mutations are atomic per (player, item); zero balances
// are deleted, never stored.
type Store interface {
	UpsertItem(item Item) error
	ItemByHash(hash string) (*Item, error) // nil if absent
	Deposit(player, itemHash string, quantity int64) error
	Withdraw(player, itemHash string, quantity int64) error
	Balance(player, itemHash string) (int64, error)
	ListItems(player string) ([]Entry, error)
}

// Vault tracks per-player item holdings fed by the game bridge and drained
// by withdrawals and trade settlement.
type Vault struct {
	store Store
	log   *zap.SugaredLogger
}

func New(store Store, log *zap.SugaredLogger) *Vault {
	return &Vault{store: store, log: log}
}

// Deposit registers the item carried by a raw bridge payload and credits the
// player's balance. The payload is "stack,maxDurability,<item data>" as sent
// by the game client; the item data's hash identifies the item.
func (v *Vault) Deposit(player, payload string, quantity int64) (Item, error) {
	if quantity <= 0 {
		return Item{}, fmt.Errorf("deposit quantity %d", quantity)
	}
	item, err := parsePayload(payload)
	if err != nil {
		return Item{}, err
	}

	if err := v.store.UpsertItem(item); err != nil {
		return Item{}, fmt.Errorf("register item: %w", err)
	}
	if err := v.store.Deposit(player, item.Hash, quantity); err != nil {
		return Item{}, fmt.Errorf("credit vault: %w", err)
	}

	v.log.Debugw("item_deposited", "player", player, "item", item.Hash, "quantity", quantity)
	return item, nil
}

// DepositMoney credits the player's currency balance.
func (v *Vault) DepositMoney(player string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit amount %d", amount)
	}
	if err := v.store.Deposit(player, MoneyHash, amount); err != nil {
		return fmt.Errorf("credit money: %w", err)
	}
	v.log.Debugw("money_deposited", "player", player, "amount", amount)
	return nil
}

// Withdraw debits the player's balance for an item they hold.
func (v *Vault) Withdraw(player, itemHash string, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("withdraw quantity %d", quantity)
	}
	if err := v.store.Withdraw(player, itemHash, quantity); err != nil {
		return err
	}
	v.log.Debugw("item_withdrawn", "player", player, "item", itemHash, "quantity", quantity)
	return nil
}

// Refund re-credits a balance debited for a withdrawal whose frame never
// reached the game client.
func (v *Vault) Refund(player, itemHash string, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("refund quantity %d", quantity)
	}
	if err := v.store.Deposit(player, itemHash, quantity); err != nil {
		return fmt.Errorf("re-credit vault: %w", err)
	}
	v.log.Warnw("withdrawal_refunded", "player", player, "item", itemHash, "quantity", quantity)
	return nil
}

// List returns the player's holdings joined with the item registry.
func (v *Vault) List(player string) ([]Entry, error) {
	return v.store.ListItems(player)
}

// parsePayload splits the bridge's "stack,maxDurability,<item data>" frame
// field. The item data itself may contain commas; only the first two are
// separators.
func parsePayload(payload string) (Item, error) {
	first := strings.Index(payload, ",")
	if first < 0 {
		return Item{}, fmt.Errorf("malformed item payload")
	}
	second := strings.Index(payload[first+1:], ",")
	if second < 0 {
		return Item{}, fmt.Errorf("malformed item payload")
	}
	second += first + 1

	stack, err := strconv.Atoi(payload[:first])
	if err != nil {
		return Item{}, fmt.Errorf("parse stack size: %w", err)
	}
	maxDurability, err := strconv.Atoi(payload[first+1 : second])
	if err != nil {
		return Item{}, fmt.Errorf("parse durability: %w", err)
	}
	data := payload[second+1:]

	return Item{
		Hash:          strconv.FormatUint(xxhash.Sum64String(data), 16),
		Stack:         stack,
		MaxDurability: maxDurability,
		Payload:       data,
	}, nil
}
