// Package sweeper cancels active sessions whose driver stopped reporting
// and never ended the trip. Crashed apps and dead batteries would
// otherwise leave sessions active forever.
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"backend-busbuddy/internal/db"
	"backend-busbuddy/internal/metrics"
)

// Sessions with no location write for this long are considered abandoned.
// Kept well above the deriver's offline threshold so riders see "offline"
// long before the session is force-cancelled.
const defaultStaleAfter = 30 * time.Minute

const sweepQuery = `UPDATE trip_sessions
	SET status = 'cancelled', completed_at = $2
	WHERE status = 'active' AND COALESCE(last_location_update, started_at) < $1`

type Sweeper struct {
	db      db.Querier
	metrics *metrics.Collector
	cron    *cron.Cron

	StaleAfter time.Duration
}

func New(q db.Querier, m *metrics.Collector) *Sweeper {
	return &Sweeper{db: q, metrics: m, StaleAfter: defaultStaleAfter}
}

// Start runs Sweep on the given cron schedule until Stop is called.
func (s *Sweeper) Start(schedule string) error {
	if schedule == "" {
		schedule = "@every 1m"
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			log.Printf("session sweep failed: %v", err)
		}
	}); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep cancels abandoned active sessions and returns how many it closed.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	now := time.Now()
	tag, err := s.db.Exec(ctx, sweepQuery, now.Add(-s.StaleAfter), now)
	if err != nil {
		return 0, err
	}
	n := tag.RowsAffected()
	if n > 0 {
		log.Printf("swept %d abandoned session(s)", n)
		if s.metrics != nil {
			s.metrics.SweptSessions.Add(float64(n))
		}
	}
	return n, nil
}
