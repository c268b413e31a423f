// Package location abstracts the device capability trips report positions
// from: a continuous watch subscription plus a one-shot current-position
// request, both always asking for a fresh high-accuracy fix.
package location

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrUnavailable      = errors.New("location unavailable")
	ErrTimeout          = errors.New("location request timed out")
)

type Fix struct {
	Latitude  float64
	Longitude float64
	At        time.Time
}

// Options mirrors the acquisition settings the device honors. MaximumAge
// zero means a cached fix must never be returned; position requests always
// wait for a fresh reading.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

func DefaultOptions() Options {
	return Options{
		HighAccuracy: true,
		Timeout:      10 * time.Second,
		MaximumAge:   0,
	}
}

// CancelFunc releases a watch subscription. Safe to call more than once.
type CancelFunc func()

// Provider is the consumed device capability. Watch delivers fixes as the
// source produces them until cancelled; Current requests one fresh fix.
type Provider interface {
	Watch(opts Options, onFix func(Fix), onErr func(error)) (CancelFunc, error)
	Current(ctx context.Context, opts Options) (Fix, error)
}
