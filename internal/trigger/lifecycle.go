// internal/trigger/lifecycle.go
package trigger

import (
	"github.com/colebrumley/amitrigger/internal/config"
)

// Lifecycle polls on daemon lifecycle events. Only daemon_start exists,
// enabled by poll_on_start.
type Lifecycle struct {
	passive
	pollOnStart bool
}

func NewLifecycle(def *config.TriggerDef) *Lifecycle {
	return &Lifecycle{passive: passive{name: def.Name}, pollOnStart: def.PollOnStart}
}

// ShouldFireOn reports whether eventType causes a poll.
func (l *Lifecycle) ShouldFireOn(eventType string) bool {
	return eventType == SourceDaemonStart && l.pollOnStart
}

// Fire queues a poll if the definition listens for eventType. It returns
// false when nothing was queued.
func (l *Lifecycle) Fire(eventType string, events chan<- Event) bool {
	if !l.ShouldFireOn(eventType) {
		return false
	}
	return queue(events, l.name, eventType, nil)
}
