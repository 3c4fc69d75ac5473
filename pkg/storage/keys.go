package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tradepost/tradepost/pkg/market"
)

// Key schema:
//
//	o:<len><item>:<side>:<price(8)><ts(8)>:<uuid> → Order (JSON)
//	oi:<uuid>                                     → primary order key
//	p:<uuid>                                      → Player (JSON)
//	pc:<code>                                     → player uuid
//	pe:<email>                                    → player uuid
//	v:<player>:<itemHash>                         → balance (8-byte BE)
//	i:<hash>                                      → Item (JSON)
//	c:<len><item>:<period>:<bucket(8)>            → Candle (JSON)
//
// Item names are caller input, so wherever an item is followed by more key
// material it is length-prefixed (one byte): an item containing the ':'
// separator can then never alias another item's prefix scan.
//
// Order keys encode the book's priority directly: within one item/side prefix
// a forward scan yields price-time order. The price component is the
// price scaled to priceScale decimals, big-endian; on the buy side it is
// bit-inverted so higher prices sort first. The timestamp component is
// big-endian and ascends on both sides. The uuid suffix keeps keys unique.
const (
	prefixOrder      = "o:"
	prefixOrderIndex = "oi:"
	prefixPlayer     = "p:"
	prefixPlayerCode = "pc:"
	prefixPlayerMail = "pe:"
	prefixVault      = "v:"
	prefixItem       = "i:"
	prefixCandle     = "c:"
)

// priceScale is the decimal resolution of the key's price component. Prices
// finer than 1e-8 would collide in key order, so inserts reject them.
const priceScale = 8

// maxItemLen bounds item names so their length fits the one-byte key prefix.
const maxItemLen = 255

// itemComponent length-prefixes an item name for use inside a composite key.
func itemComponent(item string) ([]byte, error) {
	if len(item) == 0 || len(item) > maxItemLen {
		return nil, fmt.Errorf("item name length %d, want 1..%d", len(item), maxItemLen)
	}
	out := make([]byte, 0, 1+len(item))
	out = append(out, byte(len(item)))
	return append(out, item...), nil
}

func sideTag(side market.Side) byte {
	if side == market.Buy {
		return 'B'
	}
	return 'S'
}

// priceKeyComponent encodes a positive decimal price into 8 byte-sortable
// bytes for the given side.
func priceKeyComponent(price decimal.Decimal, side market.Side) ([8]byte, error) {
	var out [8]byte
	scaled := price.Shift(priceScale)
	if !scaled.IsInteger() {
		return out, fmt.Errorf("price %s exceeds %d decimal places", price, priceScale)
	}
	if !scaled.BigInt().IsInt64() {
		// IntPart would silently truncate and corrupt the sort position.
		return out, fmt.Errorf("price %s out of key range", price)
	}
	u := uint64(scaled.IntPart())
	if side == market.Buy {
		u = ^u
	}
	binary.BigEndian.PutUint64(out[:], u)
	return out, nil
}

func orderKey(o market.Order) ([]byte, error) {
	prefix, err := orderPrefix(o.Item, o.Side)
	if err != nil {
		return nil, err
	}
	p, err := priceKeyComponent(o.Price, o.Side)
	if err != nil {
		return nil, err
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(o.Timestamp))

	key := make([]byte, 0, len(prefix)+16+1+len(o.ID))
	key = append(key, prefix...)
	key = append(key, p[:]...)
	key = append(key, ts[:]...)
	key = append(key, ':')
	key = append(key, o.ID...)
	return key, nil
}

func orderPrefix(item string, side market.Side) ([]byte, error) {
	ic, err := itemComponent(item)
	if err != nil {
		return nil, err
	}
	key := make([]byte, 0, len(prefixOrder)+len(ic)+4)
	key = append(key, prefixOrder...)
	key = append(key, ic...)
	return append(key, ':', sideTag(side), ':'), nil
}

func orderIndexKey(id string) []byte { return []byte(prefixOrderIndex + id) }

func playerKey(uuid string) []byte      { return []byte(prefixPlayer + uuid) }
func playerCodeKey(code string) []byte  { return []byte(prefixPlayerCode + code) }
func playerMailKey(email string) []byte { return []byte(prefixPlayerMail + email) }

func vaultKey(player, itemHash string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixVault, player, itemHash))
}

func vaultPrefix(player string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixVault, player))
}

func itemKey(hash string) []byte { return []byte(prefixItem + hash) }

func candleKey(item, period string, bucket int64) ([]byte, error) {
	prefix, err := candlePrefix(item, period)
	if err != nil {
		return nil, err
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(bucket))
	return append(prefix, b[:]...), nil
}

func candlePrefix(item, period string) ([]byte, error) {
	ic, err := itemComponent(item)
	if err != nil {
		return nil, err
	}
	key := make([]byte, 0, len(prefixCandle)+len(ic)+len(period)+2)
	key = append(key, prefixCandle...)
	key = append(key, ic...)
	key = append(key, ':')
	key = append(key, period...)
	return append(key, ':'), nil
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil // prefix is all 0xff, scan to the end
}
