// Package busstatus derives the rider-facing status of a trip session
// from its latest position report and the route's stop schedule. It is a
// pure computation layer: missing or stale inputs degrade the result, they
// never produce an error.
package busstatus

import (
	"math"
	"sort"
	"time"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusDelayed Status = "delayed"
	StatusOffline Status = "offline"
)

// Session is the view of a trip session the deriver needs. Zero times mean
// the corresponding event never happened.
type Session struct {
	Status             string
	StartedAt          time.Time
	LastLocationUpdate time.Time
	CurrentStopID      string
}

// Stop mirrors a route stop's schedule fields. ScheduledArrivalMinutes is
// minutes after trip start; nil when the stop has no published schedule.
type Stop struct {
	ID                      string
	OrderIndex              int
	ScheduledArrivalMinutes *int
}

type Calculation struct {
	Status                Status `json:"status"`
	MinutesBehindSchedule int    `json:"minutes_behind_schedule"`
}

// Thresholds are policy constants, overridable but fixed by default: a bus
// is offline after 10 minutes of silence and delayed once it runs more
// than 5 minutes behind its schedule.
type Thresholds struct {
	OfflineAfter        time.Duration
	DelayedAfterMinutes int
}

var DefaultThresholds = Thresholds{
	OfflineAfter:        10 * time.Minute,
	DelayedAfterMinutes: 5,
}

// Calculate derives the status with the default thresholds.
func Calculate(s *Session, stops []Stop, now time.Time) Calculation {
	return DefaultThresholds.Calculate(s, stops, now)
}

func (t Thresholds) Calculate(s *Session, stops []Stop, now time.Time) Calculation {
	if s == nil || s.Status != string(StatusActive) {
		return Calculation{Status: StatusOffline}
	}

	// no update at all counts as infinitely stale
	if s.LastLocationUpdate.IsZero() || now.Sub(s.LastLocationUpdate) > t.OfflineAfter {
		return Calculation{Status: StatusOffline}
	}

	if s.StartedAt.IsZero() {
		return Calculation{Status: StatusActive}
	}

	scheduled := scheduledMinutesFor(s.CurrentStopID, stops)
	if scheduled == nil {
		return Calculation{Status: StatusActive}
	}

	minutesSinceStart := now.Sub(s.StartedAt).Minutes()
	behind := int(math.Round(minutesSinceStart - float64(*scheduled)))
	if behind > t.DelayedAfterMinutes {
		return Calculation{Status: StatusDelayed, MinutesBehindSchedule: behind}
	}
	return Calculation{Status: StatusActive, MinutesBehindSchedule: behind}
}

// EstimateCurrentStop walks the schedule and returns the last stop the bus
// should already have reached. Before the first scheduled stop it returns
// that stop rather than nil: a just-started bus is assumed to still be
// near the top of its route. Nil only when there are no stops or the trip
// never started.
func EstimateCurrentStop(s *Session, stops []Stop, now time.Time) *Stop {
	if s == nil || s.StartedAt.IsZero() || len(stops) == 0 {
		return nil
	}

	ordered := make([]Stop, len(stops))
	copy(ordered, stops)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].OrderIndex < ordered[j].OrderIndex
	})

	elapsed := now.Sub(s.StartedAt).Minutes()

	var last, earliest *Stop
	for i := range ordered {
		st := &ordered[i]
		if st.ScheduledArrivalMinutes == nil {
			continue
		}
		if earliest == nil || *st.ScheduledArrivalMinutes < *earliest.ScheduledArrivalMinutes {
			earliest = st
		}
		if float64(*st.ScheduledArrivalMinutes) <= elapsed {
			last = st
		}
	}

	if earliest == nil {
		// no stop carries a schedule: fall back to the first by sequence
		return &ordered[0]
	}
	if last == nil {
		return earliest
	}
	return last
}

func scheduledMinutesFor(stopID string, stops []Stop) *int {
	if stopID == "" {
		return nil
	}
	for i := range stops {
		if stops[i].ID == stopID {
			return stops[i].ScheduledArrivalMinutes
		}
	}
	return nil
}
