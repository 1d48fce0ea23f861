// Package services implements the reconciliation engine on top of the ledger
// ports: obligation creation with debt carry-forward and overpayment
// application, payment mutations, and balance recomputation.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"duesledger/internal/amqp"
	"duesledger/internal/core"
	"duesledger/internal/ledger"
)

type LedgerService struct {
	store  ledger.TxStore
	events *amqp.Client // optional; nil disables event publishing
	now    func() time.Time

	// Mutations for one member are serialized so concurrent requests cannot
	// interleave the multi-step carry-forward and overpayment passes.
	mu          sync.Mutex
	memberLocks map[string]*sync.Mutex
}

func NewLedgerService(store ledger.TxStore, events *amqp.Client) *LedgerService {
	return &LedgerService{
		store:       store,
		events:      events,
		now:         time.Now,
		memberLocks: make(map[string]*sync.Mutex),
	}
}

func (s *LedgerService) memberLock(memberID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.memberLocks[memberID]
	if !ok {
		l = &sync.Mutex{}
		s.memberLocks[memberID] = l
	}
	return l
}

// recomputeObligation re-derives RemainingBalance and Status from the stored
// payment set and writes the obligation back. Must run inside a transaction.
func recomputeObligation(ctx context.Context, store ledger.Store, id string, now time.Time) (core.Obligation, error) {
	o, err := store.GetObligation(ctx, id)
	if err != nil {
		return core.Obligation{}, err
	}
	payments, err := store.ListPaymentsByObligation(ctx, id)
	if err != nil {
		return core.Obligation{}, err
	}
	res := core.ComputeBalance(o, payments)
	o.RemainingBalance = res.RemainingBalance
	o.Status = res.Status
	o.UpdatedAt = now
	if err := store.UpdateObligation(ctx, o); err != nil {
		return core.Obligation{}, err
	}
	return o, nil
}

// Recompute re-derives one obligation's balance and status from its payments.
// Exposed for repair jobs; normal mutations recompute on their own.
func (s *LedgerService) Recompute(ctx context.Context, obligationID string) (core.Obligation, error) {
	o, err := s.store.GetObligation(ctx, obligationID)
	if err != nil {
		return core.Obligation{}, err
	}

	lock := s.memberLock(o.MemberID)
	lock.Lock()
	defer lock.Unlock()

	var out core.Obligation
	err = s.store.InTx(ctx, func(tx ledger.Store) error {
		out, err = recomputeObligation(ctx, tx, obligationID, s.now())
		return err
	})
	if err != nil {
		return core.Obligation{}, fmt.Errorf("recompute obligation %s: %w", obligationID, err)
	}
	return out, nil
}

func (s *LedgerService) GetObligation(ctx context.Context, id string) (core.Obligation, error) {
	return s.store.GetObligation(ctx, id)
}

func (s *LedgerService) ListObligations(ctx context.Context, memberID string) ([]core.Obligation, error) {
	return s.store.ListObligationsByMember(ctx, memberID)
}

func (s *LedgerService) ListPayments(ctx context.Context, obligationID string) ([]core.Payment, error) {
	if _, err := s.store.GetObligation(ctx, obligationID); err != nil {
		return nil, err
	}
	return s.store.ListPaymentsByObligation(ctx, obligationID)
}

// MemberDues summarizes what a member currently owes.
type MemberDues struct {
	MemberID         string
	TotalOutstanding core.Money
	OwedObligations  []core.Obligation
}

// OutstandingDues sums the member's positive remaining balances. Overpaid
// obligations do not offset the total; they only apply when a new obligation
// is created.
func (s *LedgerService) OutstandingDues(ctx context.Context, memberID string) (MemberDues, error) {
	owed, err := s.store.ListOwedObligations(ctx, memberID)
	if err != nil {
		return MemberDues{}, err
	}
	dues := MemberDues{MemberID: memberID, OwedObligations: owed}
	for _, o := range owed {
		dues.TotalOutstanding = dues.TotalOutstanding.Add(o.RemainingBalance)
	}
	return dues, nil
}

// publishEvent notifies downstream consumers of a committed mutation. Publish
// failures are logged and swallowed: the ledger write already succeeded and
// the auditor's periodic sweep covers missed events.
func (s *LedgerService) publishEvent(ctx context.Context, kind, memberID, obligationID string) {
	if s.events == nil {
		return
	}
	ev := amqp.NewLedgerEvent(kind, memberID, obligationID)
	if err := s.events.PublishLedgerEvent(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"error", err,
			"kind", kind,
			"obligation_id", obligationID)
	}
}
