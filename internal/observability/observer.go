package observability

import (
	"context"
	"fmt"

	"github.com/agenthub/agenthub/internal/events"
	"github.com/agenthub/agenthub/internal/events/bus"
)

// BusObserver derives client and session metrics from hub lifecycle
// events so the emitting components stay free of metrics plumbing.
type BusObserver struct {
	subs []bus.Subscription
}

// NewBusObserver subscribes to client and session lifecycle events and
// records them as Prometheus metrics.
func NewBusObserver(eventBus bus.EventBus) (*BusObserver, error) {
	o := &BusObserver{}

	clientSub, err := eventBus.Subscribe(events.ClientWildcardSubject(), o.onClientEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to client events: %w", err)
	}
	o.subs = append(o.subs, clientSub)

	sessionSub, err := eventBus.Subscribe(events.SessionWildcardSubject(), o.onSessionEvent)
	if err != nil {
		o.Close()
		return nil, fmt.Errorf("failed to subscribe to session events: %w", err)
	}
	o.subs = append(o.subs, sessionSub)

	return o, nil
}

// Close removes the observer's subscriptions.
func (o *BusObserver) Close() {
	for _, sub := range o.subs {
		_ = sub.Unsubscribe()
	}
	o.subs = nil
}

func (o *BusObserver) onClientEvent(_ context.Context, event *bus.Event) error {
	clientType := stringField(event, "client_type")

	switch event.Type {
	case events.ClientRegistered:
		RecordRegistration(clientType, "confirmed")
		RecordClientConnected(clientType)
	case events.ClientEvicted:
		RecordEviction(clientType)
	case events.ClientDisconnected:
		RecordClientDisconnected(clientType)
	}
	return nil
}

func (o *BusObserver) onSessionEvent(_ context.Context, event *bus.Event) error {
	switch event.Type {
	case events.SessionStarted:
		RecordSessionStarted()
	case events.SessionCompleted:
		RecordSessionEnded("completed", floatField(event, "duration_seconds"))
	case events.SessionFailed:
		RecordSessionEnded("failed", floatField(event, "duration_seconds"))
	case events.SessionCancelled:
		RecordSessionEnded("cancelled", floatField(event, "duration_seconds"))
	}
	return nil
}

func stringField(event *bus.Event, key string) string {
	if event.Data == nil {
		return "unknown"
	}
	if v, ok := event.Data[key].(string); ok && v != "" {
		return v
	}
	return "unknown"
}

func floatField(event *bus.Event, key string) float64 {
	if event.Data == nil {
		return 0
	}
	if v, ok := event.Data[key].(float64); ok {
		return v
	}
	return 0
}
