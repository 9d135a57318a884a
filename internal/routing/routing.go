package routing

import (
	"fmt"

	"event-pipeline/internal/events"
)

// Kafka topics, one per event type.
const (
	TopicAccountActivity = "account-activity"
	TopicAPIRequests     = "api-requests"
	TopicEmailEvents     = "email-events"
)

// Table is the analytical table every variant lands in after normalization.
const Table = "events"

// Destination is where an event of a given type is produced and stored.
type Destination struct {
	Topic string
	Table string
}

// Route maps an event type onto its destination. The table is closed:
// any other type fails with events.ErrUnknownEventType.
func Route(t events.Type) (Destination, error) {
	switch t {
	case events.TypeAccountActivity:
		return Destination{Topic: TopicAccountActivity, Table: Table}, nil
	case events.TypeAPIRequest:
		return Destination{Topic: TopicAPIRequests, Table: Table}, nil
	case events.TypeEmailSend:
		return Destination{Topic: TopicEmailEvents, Table: Table}, nil
	}
	return Destination{}, fmt.Errorf("%w: %q", events.ErrUnknownEventType, string(t))
}

// TopicFor is Route reduced to the topic name.
func TopicFor(t events.Type) (string, error) {
	dest, err := Route(t)
	if err != nil {
		return "", err
	}
	return dest.Topic, nil
}

// RouteEvent routes a validated event by its concrete variant.
func RouteEvent(e events.Event) (Destination, error) {
	switch e.(type) {
	case *events.AccountActivityEvent:
		return Route(events.TypeAccountActivity)
	case *events.APIRequestEvent:
		return Route(events.TypeAPIRequest)
	case *events.EmailEvent:
		return Route(events.TypeEmailSend)
	}
	return Destination{}, fmt.Errorf("%w: %T", events.ErrUnknownEventType, e)
}

// Topics returns every routed topic in canonical event-type order.
func Topics() []string {
	out := make([]string, 0, len(events.Types))
	for _, t := range events.Types {
		topic, err := TopicFor(t)
		if err != nil {
			panic(err)
		}
		out = append(out, topic)
	}
	return out
}
