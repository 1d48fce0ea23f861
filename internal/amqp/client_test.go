package amqp

import (
	"testing"
	"time"
)

func TestLedgerEventJSONRoundTrip(t *testing.T) {
	ev := NewLedgerEvent(EventPaymentAdded, "mem-1", "obl-7")

	data, err := ev.ToJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := LedgerEventFromJSON(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Kind != EventPaymentAdded || got.MemberID != "mem-1" || got.ObligationID != "obl-7" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Fatal("timestamp was not preserved")
	}
}

func TestLedgerEventFromJSONInvalid(t *testing.T) {
	if _, err := LedgerEventFromJSON([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid payload")
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	c := &Client{}

	if c.isCircuitOpen() {
		t.Fatal("new client should start closed")
	}

	for i := 0; i < maxFailures; i++ {
		c.recordFailure()
	}
	if !c.isCircuitOpen() {
		t.Fatal("circuit should be open after max failures")
	}
}

func TestCircuitBreakerHalfOpensAfterTimeout(t *testing.T) {
	c := &Client{}
	for i := 0; i < maxFailures; i++ {
		c.recordFailure()
	}
	c.lastFailure = time.Now().Add(-openTimeout - time.Second)

	if c.isCircuitOpen() {
		t.Fatal("circuit should half-open once the timeout has passed")
	}
	if c.state != StateHalfOpen {
		t.Fatalf("state = %d, want %d", c.state, StateHalfOpen)
	}
}

func TestCircuitBreakerClosesOnSuccess(t *testing.T) {
	c := &Client{}
	for i := 0; i < maxFailures; i++ {
		c.recordFailure()
	}

	c.recordSuccess()
	if c.isCircuitOpen() {
		t.Fatal("circuit should close after a success")
	}
	if c.failureCount != 0 {
		t.Fatalf("failure count = %d, want 0", c.failureCount)
	}
}

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{20, 30 * time.Second},
		{63, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := exponentialBackoff(tt.attempt); got != tt.want {
			t.Errorf("exponentialBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
