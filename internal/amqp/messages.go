package amqp

import (
	"encoding/json"
	"time"
)

// Event kinds published on the ledger stream.
const (
	EventObligationCreated = "obligation.created"
	EventObligationUpdated = "obligation.updated"
	EventPaymentAdded      = "payment.added"
	EventPaymentUpdated    = "payment.updated"
	EventPaymentDeleted    = "payment.deleted"
)

// LedgerEvent announces a committed ledger mutation. It carries identifiers
// only; consumers fetch current state from the store. The auditor uses the
// obligation id to re-derive the balance and detect drift.
type LedgerEvent struct {
	Kind         string    `json:"kind"`
	MemberID     string    `json:"member_id"`
	ObligationID string    `json:"obligation_id"`
	Timestamp    time.Time `json:"timestamp"`
}

func NewLedgerEvent(kind, memberID, obligationID string) *LedgerEvent {
	return &LedgerEvent{
		Kind:         kind,
		MemberID:     memberID,
		ObligationID: obligationID,
		Timestamp:    time.Now(),
	}
}

func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var ev LedgerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
