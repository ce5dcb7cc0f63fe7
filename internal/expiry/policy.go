// Package expiry implements the eviction policy shared by the key store and the profile cache:
// entries expire a fixed time after their timestamp, collections may be capped and are then
// trimmed down to a fraction of their capacity, and sweeps only run when an interval has passed
// since the last one (or when the collection outgrew its cap).
package expiry

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/sauerbraten/fallbackauth/internal/linkedmap"
)

var ErrInvalidConfig = errors.New("expiry: invalid config")

type Config struct {
	// TTL is how long an entry lives after its timestamp. 0 disables expiry.
	TTL time.Duration
	// Interval is the minimum time between two sweeps.
	Interval time.Duration
	// MaxSize caps the collection. 0 means unbounded.
	MaxSize int
	// TargetRatio is the fraction of MaxSize an oversized collection is trimmed to.
	TargetRatio float64
}

func (c Config) Validate() error {
	switch {
	case c.TTL < 0, c.Interval < 0, c.MaxSize < 0:
		return ErrInvalidConfig
	case c.MaxSize > 0 && (c.TargetRatio <= 0 || c.TargetRatio > 1):
		return ErrInvalidConfig
	}
	return nil
}

type Policy struct {
	Config
	clock clock.Clock

	µ       sync.Mutex
	lastRun time.Time
}

// New returns a policy reading time from clk. A nil clock means the wall clock.
func New(c Config, clk clock.Clock) *Policy {
	if clk == nil {
		clk = clock.New()
	}
	return &Policy{Config: c, clock: clk}
}

func (p *Policy) Now() time.Time { return p.clock.Now() }

// Due reports whether a sweep should run now, given the collection's current size.
// A true result counts as the start of a sweep: the interval restarts.
func (p *Policy) Due(size int) bool {
	now := p.clock.Now()
	p.µ.Lock()
	defer p.µ.Unlock()
	if !p.OverCapacity(size) && !p.lastRun.IsZero() && now.Sub(p.lastRun) < p.Interval {
		return false
	}
	p.lastRun = now
	return true
}

// Cutoff returns the oldest timestamp that is not expired yet.
func (p *Policy) Cutoff() time.Time { return p.clock.Now().Add(-p.TTL) }

func (p *Policy) Expired(t time.Time) bool {
	return p.TTL > 0 && t.Before(p.Cutoff())
}

func (p *Policy) OverCapacity(size int) bool { return p.MaxSize > 0 && size > p.MaxSize }

// TrimTarget is the size an oversized collection is trimmed to.
func (p *Policy) TrimTarget() int { return int(float64(p.MaxSize) * p.TargetRatio) }

// SweepFront removes expired entries from the front of m and returns their keys. It relies on m
// being ordered by timestamp, oldest first, and stops at the first live entry.
func SweepFront[K comparable, V any](p *Policy, m *linkedmap.Map[K, V], stamp func(V) time.Time) []K {
	if p.TTL <= 0 {
		return nil
	}
	cutoff := p.Cutoff()
	var removed []K
	m.PopFrontWhile(func(k K, v V) bool {
		if stamp(v).Before(cutoff) {
			removed = append(removed, k)
			return true
		}
		return false
	})
	return removed
}

// Trim removes entries from the front of m down to the policy's trim target, if m is over capacity.
func Trim[K comparable, V any](p *Policy, m *linkedmap.Map[K, V]) []K {
	if !p.OverCapacity(m.Len()) {
		return nil
	}
	return m.TrimFront(p.TrimTarget())
}
