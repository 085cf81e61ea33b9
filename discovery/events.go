package discovery

import "time"

// EventType distinguishes pipeline outcome notifications.
type EventType string

const (
	EventAccepted EventType = "accepted"
	EventRejected EventType = "rejected"
)

// Event is a fire-and-forget notification of a pipeline verdict. Consumers
// read Events(); a lagging consumer loses events rather than slowing the
// pipeline.
type Event struct {
	Type        EventType `json:"type"`
	RunID       string    `json:"run_id"`
	IdentityURL string    `json:"identity_url"`
	SourceName  string    `json:"source_name"`
	Stage       string    `json:"stage,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Created     bool      `json:"created,omitempty"`
	At          time.Time `json:"at"`
}

// Events returns the outcome notification channel.
func (s *Service) Events() <-chan Event { return s.events }

// emit publishes without blocking. Dropped events only cost the consumer a
// notification; the durable record is in the store either way.
func (s *Service) emit(e Event) {
	e.At = time.Now()
	select {
	case s.events <- e:
	default:
		s.logger.Debug("event dropped", "type", e.Type, "url", e.IdentityURL)
	}
}
