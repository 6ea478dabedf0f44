package discovery

import (
	"sort"
	"time"

	"github.com/towerlink-protocol/towerlink-go/pkg/wire"
)

// table is the bounded discovery table, keyed by hardware address.
// It is not synchronized; the owning engine serializes access.
type table struct {
	entries  map[wire.HWAddr]*Entry
	capacity int
}

func newTable(capacity int) *table {
	if capacity <= 0 {
		capacity = wire.MaxDiscovered
	}
	return &table{
		entries:  make(map[wire.HWAddr]*Entry),
		capacity: capacity,
	}
}

// observeResult says what observe did with an advertisement.
type observeResult uint8

const (
	observeCreated   observeResult = iota // new entry
	observeUpdated                        // known entry, fresh advertisement
	observeDuplicate                      // retransmit, entry untouched
	observeFull                           // table at capacity, dropped
)

// observe folds an advertisement into the table. A retransmit (same nonce
// and sequence as the last one seen) leaves the entry untouched, so pure
// retransmissions of one frame cannot keep an entry alive past the TTL.
// FirstSeen is never reset while the entry lives.
func (t *table) observe(now time.Time, adv *wire.Advertisement, rssi int) (*Entry, observeResult) {
	if e, ok := t.entries[adv.Addr]; ok {
		if e.Nonce == adv.Nonce && e.Sequence == adv.Sequence {
			return e, observeDuplicate
		}
		e.LastSeen = now
		e.RSSI = rssi
		e.Nonce = adv.Nonce
		e.Sequence = adv.Sequence
		e.DeviceType = adv.DeviceType
		e.Firmware = adv.Firmware
		e.Capabilities = adv.Capabilities
		return e, observeUpdated
	}

	if len(t.entries) >= t.capacity {
		return nil, observeFull
	}

	e := &Entry{
		Addr:         adv.Addr,
		DeviceType:   adv.DeviceType,
		Firmware:     adv.Firmware,
		Capabilities: adv.Capabilities,
		Nonce:        adv.Nonce,
		Sequence:     adv.Sequence,
		RSSI:         rssi,
		FirstSeen:    now,
		LastSeen:     now,
		State:        EntryDiscovered,
	}
	t.entries[adv.Addr] = e
	return e, observeCreated
}

func (t *table) get(addr wire.HWAddr) *Entry {
	return t.entries[addr]
}

func (t *table) remove(addr wire.HWAddr) {
	delete(t.entries, addr)
}

func (t *table) len() int {
	return len(t.entries)
}

// sweep removes entries not refreshed within ttl. Bound entries never
// expire. Returns the removed entries.
func (t *table) sweep(now time.Time, ttl time.Duration) []Entry {
	var expired []Entry
	for addr, e := range t.entries {
		if e.State == EntryBound {
			continue
		}
		if now.Sub(e.LastSeen) >= ttl {
			expired = append(expired, *e)
			delete(t.entries, addr)
		}
	}
	return expired
}

// clearUnbound removes everything that is not bound. Returns the removed
// entries.
func (t *table) clearUnbound() []Entry {
	var cleared []Entry
	for addr, e := range t.entries {
		if e.State == EntryBound {
			continue
		}
		cleared = append(cleared, *e)
		delete(t.entries, addr)
	}
	return cleared
}

// snapshot returns entry copies ordered by first appearance.
func (t *table) snapshot() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].Addr.String() < out[j].Addr.String()
		}
		return out[i].FirstSeen.Before(out[j].FirstSeen)
	})
	return out
}
