// internal/trigger/scheduled.go
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/colebrumley/amitrigger/internal/config"
)

// Scheduled fires poll events on the definition's cron schedule
type Scheduled struct {
	name    string
	spec    string
	cron    *cron.Cron
	entryID cron.EntryID

	mu     sync.Mutex
	ctx    context.Context
	events chan<- Event
}

// NewScheduled creates a new scheduled trigger
func NewScheduled(def *config.TriggerDef) (*Scheduled, error) {
	c := cron.New(cron.WithParser(config.CronParser))

	s := &Scheduled{
		name: def.Name,
		spec: def.ScheduleSpec(),
		cron: c,
	}

	id, err := c.AddFunc(s.spec, s.fire)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", s.spec, err)
	}
	s.entryID = id

	return s, nil
}

func (s *Scheduled) TriggerName() string {
	return s.name
}

func (s *Scheduled) Spec() string {
	return s.spec
}

// Next returns the next time the schedule fires, or zero before Start.
func (s *Scheduled) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

func (s *Scheduled) Start(ctx context.Context, events chan<- Event) error {
	s.mu.Lock()
	s.ctx = ctx
	s.events = events
	s.mu.Unlock()
	s.cron.Start()

	<-ctx.Done()
	return ctx.Err()
}

func (s *Scheduled) Stop() error {
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduled) fire() {
	s.mu.Lock()
	ctx, events := s.ctx, s.events
	s.mu.Unlock()
	if events == nil {
		return
	}
	select {
	case events <- Event{
		Trigger:   s.name,
		Source:    SourceScheduled,
		Timestamp: time.Now(),
		Data:      map[string]any{"schedule": s.spec},
	}:
	case <-ctx.Done():
	}
}
