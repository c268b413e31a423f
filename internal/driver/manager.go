package driver

import (
	"context"
	"errors"
	"sync"

	"backend-busbuddy/internal/location"
	"backend-busbuddy/internal/metrics"
	"backend-busbuddy/internal/session"
)

var ErrUnknownTrip = errors.New("unknown trip session")

// Manager keeps one Controller per open trip and bridges device reports
// into that trip's location feed.
type Manager struct {
	store    SessionStore
	notifier Notifier
	metrics  *metrics.Collector

	newProvider func() location.Provider

	mu    sync.Mutex
	trips map[string]*trip
}

type trip struct {
	controller *Controller
	feed       *location.Feed
}

func NewManager(store SessionStore, notifier Notifier, m *metrics.Collector) *Manager {
	mgr := &Manager{
		store:    store,
		notifier: notifier,
		metrics:  m,
		trips:    map[string]*trip{},
	}
	mgr.newProvider = func() location.Provider { return location.NewFeed() }
	return mgr
}

// Start opens a trip and registers its controller. Nothing is registered
// when the start fails, so a failed start leaves no open trip behind.
func (m *Manager) Start(ctx context.Context, routeID, driverUserID string) (session.TripSession, error) {
	provider := m.newProvider()
	ctrl := NewController(m.store, provider, m.notifier, m.metrics)

	sess, err := ctrl.Start(ctx, routeID, driverUserID)
	if err != nil {
		if feed, ok := provider.(*location.Feed); ok {
			feed.Close()
		}
		return session.TripSession{}, err
	}

	feed, _ := provider.(*location.Feed)
	m.mu.Lock()
	m.trips[sess.ID] = &trip{controller: ctrl, feed: feed}
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.OpenControllers.Inc()
	}
	return sess, nil
}

// Report feeds one device reading into the trip's primary channel.
func (m *Manager) Report(sessionID string, fix location.Fix) error {
	t := m.lookup(sessionID)
	if t == nil {
		return ErrUnknownTrip
	}
	if t.controller.Finished() {
		m.remove(sessionID)
		return ErrTripFinished
	}
	if t.feed == nil {
		return ErrLocationUnavailable
	}
	t.feed.Report(fix)
	return nil
}

// ReportFailure feeds a device-side location error into the trip. The
// controller reacts by cancelling the trip, after which the manager
// drops it.
func (m *Manager) ReportFailure(sessionID string, cause error) error {
	t := m.lookup(sessionID)
	if t == nil {
		return ErrUnknownTrip
	}
	if t.feed == nil {
		return ErrLocationUnavailable
	}
	t.feed.Fail(cause)
	if t.controller.Finished() {
		m.remove(sessionID)
	}
	return nil
}

func (m *Manager) Pause(ctx context.Context, sessionID string) error {
	t := m.lookup(sessionID)
	if t == nil {
		return ErrUnknownTrip
	}
	return t.controller.Pause(ctx)
}

func (m *Manager) Resume(ctx context.Context, sessionID string) error {
	t := m.lookup(sessionID)
	if t == nil {
		return ErrUnknownTrip
	}
	err := t.controller.Resume(ctx)
	if t.controller.Finished() {
		m.remove(sessionID)
	}
	return err
}

func (m *Manager) End(ctx context.Context, sessionID string, outcome session.Status) error {
	t := m.lookup(sessionID)
	if t == nil {
		return ErrUnknownTrip
	}
	err := t.controller.End(ctx, outcome)
	if err == nil || errors.Is(err, ErrTripFinished) {
		m.remove(sessionID)
	}
	return err
}

// Open reports how many trips the manager currently holds.
func (m *Manager) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trips)
}

func (m *Manager) lookup(sessionID string) *trip {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trips[sessionID]
}

func (m *Manager) remove(sessionID string) {
	m.mu.Lock()
	t, ok := m.trips[sessionID]
	if ok {
		delete(m.trips, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if t.feed != nil {
		t.feed.Close()
	}
	if m.metrics != nil {
		m.metrics.OpenControllers.Dec()
	}
}
