package bus

import "time"

// Event is a domain event published on the bus.
//
// Kind namespaces used across the monitor:
//
//	conn.*     transport connection state changes
//	push.*     raw domain events received on the push channel
//	session.*  session registry status changes
//	chat.*     chat cache mutations that were applied
//	message.*  message cache mutations that were applied
//	alert.*    alert overlay updates
//	auth.*     credential failures detected on any backend
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
