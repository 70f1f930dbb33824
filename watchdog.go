package webbridge

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// loadGen is the session's load generation: a counter advanced by every
// top-level navigation, explicit stop, and teardown. It only ever increments
// and is compared for exact equality, so reading it from the timer goroutine
// without the main context is safe; a stale read causes at most one extra
// no-op check.
type loadGen struct {
	n atomic.Int64
}

func (g *loadGen) advance() { g.n.Add(1) }

// ticket captures the current generation for a later validity check.
func (g *loadGen) ticket() TimeoutTicket {
	return TimeoutTicket{gen: g.n.Load(), owner: g}
}

// TimeoutTicket pins the load generation observed when a deferred action was
// scheduled. There is no handle to cancel; advancing the generation
// invalidates every outstanding ticket at once.
type TimeoutTicket struct {
	gen   int64
	owner *loadGen
}

// Valid reports whether no navigation, stop, or teardown superseded the
// ticket.
func (t TimeoutTicket) Valid() bool {
	return t.owner != nil && t.owner.n.Load() == t.gen
}

// watchdog synthesizes a connection-failure event when a page load outlives
// the configured deadline. One instance per session; the expiry action runs
// on the bridge main context.
type watchdog struct {
	gen     loadGen
	looper  *looper
	timeout func() time.Duration // reads the live preference per load
	expired func(url string)     // stop the load and deliver the failure
	log     *zap.Logger
}

func newWatchdog(l *looper, timeout func() time.Duration, expired func(url string)) *watchdog {
	return &watchdog{
		looper:  l,
		timeout: timeout,
		expired: expired,
		log:     logNamed("watchdog"),
	}
}

// arm supersedes every outstanding ticket, mints one for a load of url, and
// schedules the expiry check when a positive timeout is configured. A zero or
// negative timeout disables the monitor; the generation still advances so
// the new load cancels deferred actions of the old one.
func (w *watchdog) arm(url string) TimeoutTicket {
	w.gen.advance()
	t := w.gen.ticket()
	d := w.timeout()
	if d <= 0 {
		return t
	}
	w.looper.postDelayed(d, t.Valid, func() {
		w.gen.advance()
		w.log.Warn("load timed out", zap.String("url", url), zap.Duration("after", d))
		w.expired(url)
	})
	return t
}

// ticket captures the current generation without scheduling anything. Used
// by other deferred actions that share the cancellation discipline.
func (w *watchdog) ticket() TimeoutTicket { return w.gen.ticket() }

// invalidate cancels every outstanding ticket.
func (w *watchdog) invalidate() { w.gen.advance() }
