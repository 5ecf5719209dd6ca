// Package broadcast defines the port for pushing application events to
// connected clients.
package broadcast

import "context"

// Event types sent to clients.
const (
	EventTransition = "application.transition"
	EventTrace      = "application.trace"
)

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Scoped is implemented by payloads that belong to one application. Clients
// watching a single application receive only payloads scoped to it.
type Scoped interface {
	ApplicationKey() string
}
