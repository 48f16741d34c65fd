// internal/trigger/factory.go
package trigger

import (
	"github.com/colebrumley/amitrigger/internal/config"
)

// Set is every poll source of one definition.
type Set struct {
	Scheduled *Scheduled
	Webhook   *Webhook
	Lifecycle *Lifecycle
	Manual    *Manual
}

// New builds the poll sources for a definition. The webhook is nil unless
// configured.
func New(def *config.TriggerDef) (*Set, error) {
	sched, err := NewScheduled(def)
	if err != nil {
		return nil, err
	}
	s := &Set{
		Scheduled: sched,
		Lifecycle: NewLifecycle(def),
		Manual:    NewManual(def.Name),
	}
	if def.Webhook != nil {
		s.Webhook = NewWebhook(def.Name, def.Webhook)
	}
	return s, nil
}

// All returns the non-nil sources.
func (s *Set) All() []Trigger {
	all := []Trigger{s.Scheduled, s.Lifecycle, s.Manual}
	if s.Webhook != nil {
		all = append(all, s.Webhook)
	}
	return all
}
