package discovery

import (
	"time"

	"github.com/towerlink-protocol/towerlink-go/pkg/wire"
)

// window is the permit-join window. Expiry is tick-driven, not timer-driven,
// so it composes with the engine's injected clock.
type window struct {
	open  bool
	until time.Time
	max   time.Duration
}

func newWindow(max time.Duration) *window {
	if max <= 0 {
		max = wire.MaxPermitJoin
	}
	return &window{max: max}
}

// openFor opens (or extends) the window for d, clamped to the maximum.
// A non-positive d selects the protocol default. Returns the applied
// duration.
func (w *window) openFor(now time.Time, d time.Duration) time.Duration {
	if d <= 0 {
		d = wire.DefaultPermitJoin
	}
	if d > w.max {
		d = w.max
	}
	w.open = true
	w.until = now.Add(d)
	return d
}

func (w *window) close() {
	w.open = false
	w.until = time.Time{}
}

func (w *window) isOpen(now time.Time) bool {
	return w.open && now.Before(w.until)
}

// remaining returns the time left, or 0 when closed.
func (w *window) remaining(now time.Time) time.Duration {
	if !w.isOpen(now) {
		return 0
	}
	return w.until.Sub(now)
}

// tick reports whether the window just expired, closing it if so.
func (w *window) tick(now time.Time) bool {
	if w.open && !now.Before(w.until) {
		w.close()
		return true
	}
	return false
}
