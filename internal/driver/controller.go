// Package driver owns the trip lifecycle on behalf of a driver: the
// start/pause/resume/end state machine and the continuous location
// reporting that runs while a trip is active.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"backend-busbuddy/internal/location"
	"backend-busbuddy/internal/metrics"
	"backend-busbuddy/internal/session"
)

var (
	ErrLocationUnavailable = errors.New("location source unavailable")
	ErrTransitionInFlight  = errors.New("another transition is in progress")
	ErrInvalidState        = errors.New("trip state does not allow this")
	ErrTripFinished        = errors.New("trip already finished")

	// ErrOutOfSync means the local trip state changed but the backing
	// store rejected the write. The UI state is kept; the caller must
	// surface the inconsistency instead of pretending success.
	ErrOutOfSync = errors.New("trip state out of sync with store")
)

const defaultPollInterval = 5 * time.Second

// SessionStore is the boundary to the persistence layer; implemented by
// session.Service.
type SessionStore interface {
	CreateSession(ctx context.Context, routeID, driverUserID string) (session.TripSession, error)
	SetSessionStatus(ctx context.Context, id string, status session.Status) (session.TripSession, error)
	SetSessionLocation(ctx context.Context, id string, latitude, longitude float64) (session.TripSession, error)
}

// Notifier surfaces driver-facing notices. A location-source failure is
// reported exactly once per trip.
type Notifier interface {
	Notify(sessionID, message string)
}

type LogNotifier struct{}

func (LogNotifier) Notify(sessionID, message string) {
	log.Printf("trip %s: %s", sessionID, message)
}

// Controller runs one trip. It reports positions over two channels: the
// provider's push watch is primary, and a fixed-interval poll is armed as
// backup once the watch has delivered its first reading. Both channels
// funnel into a single at-most-one-in-flight submission gate, and both
// consult the controller's current state at delivery time, so a reading
// that arrives after a pause or end is discarded rather than written.
type Controller struct {
	store    SessionStore
	provider location.Provider
	notifier Notifier
	metrics  *metrics.Collector

	// PollInterval and Acquire may be adjusted before Start.
	PollInterval time.Duration
	Acquire      location.Options

	mu            sync.Mutex
	sess          session.TripSession
	status        session.Status
	transitioning bool
	inFlight      bool
	notified      bool
	cancelWatch   location.CancelFunc
	pollStop      chan struct{}
}

func NewController(store SessionStore, provider location.Provider, notifier Notifier, m *metrics.Collector) *Controller {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Controller{
		store:        store,
		provider:     provider,
		notifier:     notifier,
		metrics:      m,
		PollInterval: defaultPollInterval,
		Acquire:      location.DefaultOptions(),
	}
}

// Start creates the session, activates it and begins location reporting.
// If no location source can be acquired the session is rolled back to
// cancelled: a trip must never sit active with no location feed.
func (c *Controller) Start(ctx context.Context, routeID, driverUserID string) (session.TripSession, error) {
	if err := c.beginTransition(); err != nil {
		return session.TripSession{}, err
	}
	defer c.endTransition()

	c.mu.Lock()
	if c.sess.ID != "" {
		c.mu.Unlock()
		return session.TripSession{}, fmt.Errorf("%w: controller already ran a trip", ErrInvalidState)
	}
	c.mu.Unlock()

	if c.provider == nil {
		return session.TripSession{}, ErrLocationUnavailable
	}

	created, err := c.store.CreateSession(ctx, routeID, driverUserID)
	if err != nil {
		return session.TripSession{}, err
	}

	activated, err := c.store.SetSessionStatus(ctx, created.ID, session.StatusActive)
	if err != nil {
		c.rollback(ctx, created.ID)
		return session.TripSession{}, err
	}

	cancelWatch, err := c.provider.Watch(c.Acquire, c.onPrimaryFix, c.onPrimaryError)
	if err != nil {
		c.rollback(ctx, created.ID)
		return session.TripSession{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}

	c.mu.Lock()
	c.sess = activated
	c.status = session.StatusActive
	c.cancelWatch = cancelWatch
	c.mu.Unlock()
	return activated, nil
}

// Pause stops location reporting and moves the trip back to pending.
// The paused state is kept locally even if the store write fails.
func (c *Controller) Pause(ctx context.Context) error {
	if err := c.beginTransition(); err != nil {
		return err
	}
	defer c.endTransition()

	c.mu.Lock()
	if c.status != session.StatusActive {
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot pause a %s trip", ErrInvalidState, c.status)
	}
	c.teardownLocked()
	c.status = session.StatusPending
	id := c.sess.ID
	c.mu.Unlock()

	sess, err := c.store.SetSessionStatus(ctx, id, session.StatusPending)
	if err != nil {
		return fmt.Errorf("%w: pause not persisted: %v", ErrOutOfSync, err)
	}
	c.setSession(sess)
	return nil
}

// Resume restarts location reporting on a paused trip.
func (c *Controller) Resume(ctx context.Context) error {
	if err := c.beginTransition(); err != nil {
		return err
	}
	defer c.endTransition()

	c.mu.Lock()
	if c.status != session.StatusPending || c.sess.StartedAt == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot resume a %s trip", ErrInvalidState, c.status)
	}
	id := c.sess.ID
	c.mu.Unlock()

	cancelWatch, err := c.provider.Watch(c.Acquire, c.onPrimaryFix, c.onPrimaryError)
	if err != nil {
		c.mu.Lock()
		c.status = session.StatusCancelled
		c.mu.Unlock()
		c.rollback(ctx, id)
		return fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}

	c.mu.Lock()
	c.status = session.StatusActive
	c.cancelWatch = cancelWatch
	c.mu.Unlock()

	sess, err := c.store.SetSessionStatus(ctx, id, session.StatusActive)
	if err != nil {
		return fmt.Errorf("%w: resume not persisted: %v", ErrOutOfSync, err)
	}
	c.setSession(sess)
	return nil
}

// End finishes the trip with the given outcome and stops reporting.
func (c *Controller) End(ctx context.Context, outcome session.Status) error {
	if outcome != session.StatusCompleted && outcome != session.StatusCancelled {
		return fmt.Errorf("%w: outcome must be completed or cancelled", ErrInvalidState)
	}
	if err := c.beginTransition(); err != nil {
		return err
	}
	defer c.endTransition()

	c.mu.Lock()
	if c.status.Terminal() {
		c.mu.Unlock()
		return ErrTripFinished
	}
	if c.status != session.StatusActive && c.sess.StartedAt == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: trip never ran", ErrInvalidState)
	}
	c.teardownLocked()
	c.status = outcome
	id := c.sess.ID
	c.mu.Unlock()

	sess, err := c.store.SetSessionStatus(ctx, id, outcome)
	if err != nil {
		return fmt.Errorf("%w: end not persisted: %v", ErrOutOfSync, err)
	}
	c.setSession(sess)
	return nil
}

func (c *Controller) Status() session.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) Session() session.TripSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *Controller) Finished() bool {
	return c.Status().Terminal()
}

// onPrimaryFix handles a push reading. The first one arms the backup
// poll; every reading goes through the submission gate.
func (c *Controller) onPrimaryFix(fix location.Fix) {
	c.armBackup()
	c.submit(fix)
}

// onPrimaryError is the fail-safe path: notify the driver once, tear both
// channels down and force the trip to cancelled.
func (c *Controller) onPrimaryError(err error) {
	if c.metrics != nil {
		c.metrics.SourceErrors.Inc()
	}

	c.mu.Lock()
	if c.status.Terminal() {
		c.mu.Unlock()
		return
	}
	first := !c.notified
	c.notified = true
	c.teardownLocked()
	c.status = session.StatusCancelled
	id := c.sess.ID
	c.mu.Unlock()

	if first {
		c.notifier.Notify(id, fmt.Sprintf("location tracking failed (%v), trip cancelled", err))
	}
	if c.metrics != nil {
		c.metrics.ForcedCancellations.Inc()
	}
	if _, serr := c.store.SetSessionStatus(context.Background(), id, session.StatusCancelled); serr != nil {
		log.Printf("trip %s: forced cancellation not persisted: %v", id, serr)
	}
}

func (c *Controller) armBackup() {
	c.mu.Lock()
	if c.pollStop != nil || c.status != session.StatusActive {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.pollStop = stop
	c.mu.Unlock()

	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	go c.pollLoop(stop, interval)
}

func (c *Controller) pollLoop(stop chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.Acquire.Timeout)
			fix, err := c.provider.Current(ctx, c.Acquire)
			cancel()
			if err != nil {
				// backup errors never cancel the trip; the watch is
				// the authoritative failure signal
				c.mu.Lock()
				active := c.status == session.StatusActive
				id := c.sess.ID
				c.mu.Unlock()
				if active {
					log.Printf("trip %s: backup location poll failed: %v", id, err)
				}
				continue
			}
			c.submit(fix)
		}
	}
}

// submit writes one reading, dropping it when a write is already in
// flight or the trip is no longer active at delivery time.
func (c *Controller) submit(fix location.Fix) {
	c.mu.Lock()
	if c.status != session.StatusActive || c.sess.ID == "" {
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.ReadingsDiscarded.Inc()
		}
		return
	}
	if c.inFlight {
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.SubmissionDrops.Inc()
		}
		return
	}
	c.inFlight = true
	id := c.sess.ID
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.LocationSubmissions.Inc()
	}

	go func() {
		sess, err := c.store.SetSessionLocation(context.Background(), id, fix.Latitude, fix.Longitude)
		c.mu.Lock()
		c.inFlight = false
		if err == nil && c.status == session.StatusActive {
			c.sess = sess
		}
		c.mu.Unlock()
		if err != nil {
			// dropped sample; the next reading supersedes it
			log.Printf("trip %s: location submission failed: %v", id, err)
		}
	}()
}

// teardownLocked releases the watch and the backup poll. Idempotent, and
// every exit path (pause, end, cancel, source failure) converges here.
func (c *Controller) teardownLocked() {
	if c.cancelWatch != nil {
		c.cancelWatch()
		c.cancelWatch = nil
	}
	if c.pollStop != nil {
		close(c.pollStop)
		c.pollStop = nil
	}
}

func (c *Controller) rollback(ctx context.Context, id string) {
	if _, err := c.store.SetSessionStatus(ctx, id, session.StatusCancelled); err != nil {
		log.Printf("trip %s: rollback to cancelled failed: %v", id, err)
	}
}

func (c *Controller) setSession(sess session.TripSession) {
	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()
}

// One transition at a time per trip; concurrent requests are rejected
// rather than queued.
func (c *Controller) beginTransition() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transitioning {
		return ErrTransitionInFlight
	}
	c.transitioning = true
	return nil
}

func (c *Controller) endTransition() {
	c.mu.Lock()
	c.transitioning = false
	c.mu.Unlock()
}
