// internal/trigger/trigger.go
package trigger

import (
	"context"
	"time"
)

// Sources of a poll request.
const (
	SourceScheduled   = "scheduled"
	SourceWebhook     = "webhook"
	SourceDaemonStart = "daemon_start"
	SourceManual      = "manual"
)

// Event asks the daemon to run an evaluation pass for a trigger
type Event struct {
	Trigger   string
	Source    string
	Timestamp time.Time
	Data      map[string]any
}

// Trigger is the interface all poll sources implement
type Trigger interface {
	// Start begins producing events, sending them to the channel
	Start(ctx context.Context, events chan<- Event) error
	// Stop stops the trigger
	Stop() error
	// TriggerName returns the name of the definition this source belongs to
	TriggerName() string
}

// passive is embedded by sources that only fire when called from outside
// the source itself. Start blocks until ctx is done.
type passive struct {
	name string
}

func (p passive) TriggerName() string { return p.name }

func (p passive) Start(ctx context.Context, events chan<- Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func (p passive) Stop() error { return nil }

// queue offers a poll request without blocking. It reports false when the
// channel is full.
func queue(events chan<- Event, name, source string, data map[string]any) bool {
	if data == nil {
		data = map[string]any{}
	}
	select {
	case events <- Event{Trigger: name, Source: source, Timestamp: time.Now(), Data: data}:
		return true
	default:
		return false
	}
}
