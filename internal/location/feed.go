package location

import (
	"context"
	"sync"
	"time"
)

// Feed is a push-backed Provider. Device reports arriving over HTTP are
// fanned out to watch subscribers, and Current waits for the next report
// unless a cached fix is fresh enough for the caller's MaximumAge.
type Feed struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]*feedSub
	waiters map[int]chan Fix
	nextW   int
	last    Fix
	hasLast bool
	closed  bool
}

type feedSub struct {
	onFix func(Fix)
	onErr func(error)
}

func NewFeed() *Feed {
	return &Feed{
		subs:    map[int]*feedSub{},
		waiters: map[int]chan Fix{},
	}
}

// Report delivers a device fix to all subscribers and pending Current
// calls. The fix timestamp defaults to now.
func (f *Feed) Report(fix Fix) {
	if fix.At.IsZero() {
		fix.At = time.Now()
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.last = fix
	f.hasLast = true
	subs := make([]*feedSub, 0, len(f.subs))
	for _, sub := range f.subs {
		subs = append(subs, sub)
	}
	for id, w := range f.waiters {
		select {
		case w <- fix:
		default:
		}
		delete(f.waiters, id)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.onFix(fix)
	}
}

// Fail propagates a source error (permission revoked, GPS lost) to all
// watch subscribers.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	subs := make([]*feedSub, 0, len(f.subs))
	for _, sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.onErr(err)
	}
}

// Close marks the feed dead: subsequent reports are dropped and pending
// Current calls fail with ErrUnavailable.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	waiters := f.waiters
	f.waiters = map[int]chan Fix{}
	f.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

func (f *Feed) Watch(_ Options, onFix func(Fix), onErr func(error)) (CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrUnavailable
	}

	id := f.nextID
	f.nextID++
	f.subs[id] = &feedSub{onFix: onFix, onErr: onErr}

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}, nil
}

func (f *Feed) Current(ctx context.Context, opts Options) (Fix, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return Fix{}, ErrUnavailable
	}
	// only serve a cached fix when the caller tolerates one
	if f.hasLast && opts.MaximumAge > 0 && time.Since(f.last.At) <= opts.MaximumAge {
		fix := f.last
		f.mu.Unlock()
		return fix, nil
	}

	w := make(chan Fix, 1)
	id := f.nextW
	f.nextW++
	f.waiters[id] = w
	f.mu.Unlock()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultOptions().Timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case fix, ok := <-w:
		if !ok {
			return Fix{}, ErrUnavailable
		}
		return fix, nil
	case <-timer.C:
		f.dropWaiter(id)
		return Fix{}, ErrTimeout
	case <-ctx.Done():
		f.dropWaiter(id)
		return Fix{}, ctx.Err()
	}
}

func (f *Feed) dropWaiter(id int) {
	f.mu.Lock()
	delete(f.waiters, id)
	f.mu.Unlock()
}
