package engine

import (
	"sync"
	"time"

	"github.com/colebrumley/amitrigger/internal/ami"
)

// Freshness tracks the instant of the last matching pass.
type Freshness struct {
	mu      sync.Mutex
	lastRun time.Time
}

// NewFreshness starts tracking at lastRun.
func NewFreshness(lastRun time.Time) *Freshness {
	return &Freshness{lastRun: lastRun}
}

func (f *Freshness) LastRun() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRun
}

// IsNew reports whether img was created at or after the current marker.
func (f *Freshness) IsNew(img *ami.Image) bool {
	return ami.IsNew(img, f.LastRun())
}

// Advance moves the marker to t.
func (f *Freshness) Advance(t time.Time) {
	f.mu.Lock()
	f.lastRun = t
	f.mu.Unlock()
}
