// internal/trigger/manual.go
package trigger

// Manual polls when asked through the API, the CLI or the MCP server.
type Manual struct {
	passive
}

func NewManual(name string) *Manual {
	return &Manual{passive{name: name}}
}

// Fire queues a poll. Returns false if the channel is full.
func (m *Manual) Fire(events chan<- Event, data map[string]any) bool {
	return queue(events, m.name, SourceManual, data)
}
