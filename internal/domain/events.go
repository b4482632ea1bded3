package domain

import "time"

// NotificationEvent is one transition addressed to one group.
type NotificationEvent struct {
	ID         string         `json:"id"`
	Subscriber SubscriberRef  `json:"subscriber"`
	Key        ServerKey      `json:"server_key"`
	Kind       TransitionKind `json:"transition"`
	Host       string         `json:"host"`
	Port       int            `json:"port"`
	Protocol   ProtocolKind   `json:"type"`
	// Names are the group's subscription names bound to this server.
	Names []string  `json:"names"`
	At    time.Time `json:"at"`
}

// QueryResult is one live reading returned by an on-demand query.
// Reading is nil when the server was unreachable.
type QueryResult struct {
	Subscriber SubscriberRef  `json:"subscriber"`
	Key        ServerKey      `json:"server_key"`
	Name       string         `json:"name"`
	Host       string         `json:"host"`
	Port       int            `json:"port"`
	Protocol   ProtocolKind   `json:"type"`
	Reading    *StatusReading `json:"reading,omitempty"`
}

func (q QueryResult) Reachable() bool {
	return q.Reading != nil
}
