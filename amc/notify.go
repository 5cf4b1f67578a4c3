/*
notify.go - Post-commit event emission

PURPOSE:
  After every successful lifecycle operation the engine emits an event
  that an external delivery component may turn into e-mails or alerts.
  Emission is fire-and-forget: a failing notifier never rolls back or
  fails the operation that produced the event.

SEE ALSO:
  - engine.go: Emits events after commit
*/
package amc

import "log"

// =============================================================================
// EVENTS
// =============================================================================

type EventType string

const (
	EventContractCreated  EventType = "contract_created"
	EventServiceInitiated EventType = "service_initiated"
	EventServiceClosed    EventType = "service_closed"
	EventRepairInitiated  EventType = "repair_initiated"
	EventRepairClosed     EventType = "repair_closed"
	EventContractExtended EventType = "contract_extended"
	EventContractClosed   EventType = "contract_closed"
)

// Event describes a committed lifecycle change.
type Event struct {
	Type          EventType
	ContractID    ContractID
	ServiceNumber ServiceNumber // empty for contract-level events
}

// Notifier receives post-commit events. Implementations must not block;
// the engine ignores any failure.
type Notifier interface {
	Notify(e Event)
}

// =============================================================================
// IMPLEMENTATIONS
// =============================================================================

// LogNotifier writes events to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(e Event) {
	if e.ServiceNumber != "" {
		log.Printf("event %s contract=%s service=%s", e.Type, e.ContractID, e.ServiceNumber)
		return
	}
	log.Printf("event %s contract=%s", e.Type, e.ContractID)
}

// NopNotifier drops events.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}
