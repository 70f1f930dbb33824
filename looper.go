package webbridge

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// looper is the bridge's main execution context: a single goroutine
// consuming posted funcs in order. Everything that touches engine or view
// state runs here. Background work (timeout waits, delayed fallbacks) never
// mutates shared state directly; it posts a completion action instead.
type looper struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
	log    *zap.Logger
}

func newLooper() *looper {
	l := &looper{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		log:  logNamed("looper"),
	}
	go l.run()
	return l
}

// Post queues fn on the loop. Safe from any goroutine. Funcs posted after
// Close are dropped.
func (l *looper) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.log.Debug("dropping func posted after close")
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// sync posts a barrier and waits for it, so callers can observe everything
// posted earlier. Returns immediately if the loop is closed.
func (l *looper) sync() {
	ch := make(chan struct{})
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, func() { close(ch) })
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-ch
}

// Close drains already-posted work, stops the loop, and waits for the loop
// goroutine to exit. Never call Close from the loop itself.
func (l *looper) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *looper) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if closed {
			// One final drain so Close after Post never loses work.
			l.mu.Lock()
			batch = l.queue
			l.queue = nil
			l.mu.Unlock()
			for _, fn := range batch {
				fn()
			}
			return
		}
		if len(batch) == 0 {
			<-l.wake
		}
	}
}

// postDelayed runs fn on the loop after d, but only if guard still approves
// at fire time. There is no cancellation handle: callers cancel by making
// guard return false, usually via a generation comparison. The wait happens
// off the loop; the guard check and fn both run on it.
func (l *looper) postDelayed(d time.Duration, guard func() bool, fn func()) {
	time.AfterFunc(d, func() {
		l.Post(func() {
			if guard == nil || guard() {
				fn()
			}
		})
	})
}
