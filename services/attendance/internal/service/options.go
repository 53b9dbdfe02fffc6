package service

import (
	"context"
	"time"
)

// Option customizes a service at construction.
type Option func(*options)

// CacheInvalidator drops derived state after attendance changes.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, programID, participantID int64) error
}

type options struct {
	now         func() time.Time
	invalidator CacheInvalidator
}

// WithClock replaces time.Now, mainly for tests that pin check-in times.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithInvalidator makes the check-in service drop cached settlements
// synchronously after each write, in addition to the published event.
func WithInvalidator(inv CacheInvalidator) Option {
	return func(o *options) {
		o.invalidator = inv
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
