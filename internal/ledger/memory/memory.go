// Package memory is the in-memory ledger store: the default backend for
// local runs and the fake behind service and handler tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"duesledger/internal/core"
	"duesledger/internal/ledger"
)

// tables holds the actual records. Kept separate from Store so a transaction
// can snapshot and restore the whole thing.
type tables struct {
	obligations map[string]core.Obligation
	payments    map[string]core.Payment
	seq         map[string]int64 // insertion order, per record id
	nextSeq     int64
	nextObl     int64
	nextPay     int64
}

func newTables() *tables {
	return &tables{
		obligations: make(map[string]core.Obligation),
		payments:    make(map[string]core.Payment),
		seq:         make(map[string]int64),
	}
}

func (t *tables) clone() *tables {
	c := &tables{
		obligations: make(map[string]core.Obligation, len(t.obligations)),
		payments:    make(map[string]core.Payment, len(t.payments)),
		seq:         make(map[string]int64, len(t.seq)),
		nextSeq:     t.nextSeq,
		nextObl:     t.nextObl,
		nextPay:     t.nextPay,
	}
	for k, v := range t.obligations {
		c.obligations[k] = v
	}
	for k, v := range t.payments {
		c.payments[k] = v
	}
	for k, v := range t.seq {
		c.seq[k] = v
	}
	return c
}

// Store implements ledger.TxStore over plain maps guarded by one mutex.
type Store struct {
	mu   sync.Mutex
	data *tables
}

func New() *Store {
	return &Store{data: newTables()}
}

// InTx snapshots the tables, runs fn against an unlocked view, and restores
// the snapshot if fn fails. The mutex is held for the whole transaction, so
// per-member operations are serialized here as well.
func (s *Store) InTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.data.clone()
	if err := fn(view{s.data}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) InsertObligation(ctx context.Context, o *core.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.data}.InsertObligation(ctx, o)
}

func (s *Store) GetObligation(ctx context.Context, id string) (core.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.data}.GetObligation(ctx, id)
}

func (s *Store) FindObligationByMemberYear(ctx context.Context, memberID string, year int) (core.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.data}.FindObligationByMemberYear(ctx, memberID, year)
}

func (s *Store) ListObligationsByMember(ctx context.Context, memberID string) ([]core.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.data}.ListObligationsByMember(ctx, memberID)
}

func (s *Store) ListOwedObligations(ctx context.Context, memberID string) ([]core.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.data}.ListOwedObligations(ctx, memberID)
}

func (s *Store) ListOverpaidObligations(ctx context.Context, memberID string) ([]core.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.data}.ListOverpaidObligations(ctx, memberID)
}

func (s *Store) UpdateObligation(ctx context.Context, o core.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.data}.UpdateObligation(ctx, o)
}

func (s *Store) InsertPayment(ctx context.Context, p *core.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.data}.InsertPayment(ctx, p)
}

func (s *Store) GetPayment(ctx context.Context, id string) (core.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.data}.GetPayment(ctx, id)
}

func (s *Store) UpdatePayment(ctx context.Context, p core.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.data}.UpdatePayment(ctx, p)
}

func (s *Store) DeletePayment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.data}.DeletePayment(ctx, id)
}

func (s *Store) ListPaymentsByObligation(ctx context.Context, obligationID string) ([]core.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.data}.ListPaymentsByObligation(ctx, obligationID)
}

func (s *Store) ListObligationsUpdatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]core.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.data}.ListObligationsUpdatedBefore(ctx, cutoff, limit)
}

// view is the unlocked implementation used both directly (under the Store
// mutex) and inside InTx.
type view struct {
	t *tables
}

func (v view) InTx(ctx context.Context, fn func(ledger.Store) error) error {
	// Already inside a transaction; just run fn against the same view.
	return fn(v)
}

func (v view) InsertObligation(_ context.Context, o *core.Obligation) error {
	for _, existing := range v.t.obligations {
		if existing.MemberID == o.MemberID && existing.SubscriptionYear == o.SubscriptionYear {
			return fmt.Errorf("member %s year %d: %w", o.MemberID, o.SubscriptionYear, core.ErrDuplicateObligation)
		}
	}
	if o.ID == "" {
		v.t.nextObl++
		o.ID = fmt.Sprintf("obl-%d", v.t.nextObl)
	}
	v.t.nextSeq++
	v.t.seq[o.ID] = v.t.nextSeq
	v.t.obligations[o.ID] = *o
	return nil
}

func (v view) GetObligation(_ context.Context, id string) (core.Obligation, error) {
	o, ok := v.t.obligations[id]
	if !ok {
		return core.Obligation{}, fmt.Errorf("obligation %s: %w", id, core.ErrNotFound)
	}
	return o, nil
}

func (v view) FindObligationByMemberYear(_ context.Context, memberID string, year int) (core.Obligation, error) {
	for _, o := range v.t.obligations {
		if o.MemberID == memberID && o.SubscriptionYear == year {
			return o, nil
		}
	}
	return core.Obligation{}, fmt.Errorf("member %s year %d: %w", memberID, year, core.ErrNotFound)
}

func (v view) ListObligationsByMember(_ context.Context, memberID string) ([]core.Obligation, error) {
	return v.listObligations(memberID, func(core.Obligation) bool { return true }), nil
}

func (v view) ListOwedObligations(_ context.Context, memberID string) ([]core.Obligation, error) {
	return v.listObligations(memberID, func(o core.Obligation) bool { return o.RemainingBalance.IsPositive() }), nil
}

func (v view) ListOverpaidObligations(_ context.Context, memberID string) ([]core.Obligation, error) {
	return v.listObligations(memberID, func(o core.Obligation) bool { return o.RemainingBalance.IsNegative() }), nil
}

func (v view) listObligations(memberID string, keep func(core.Obligation) bool) []core.Obligation {
	var out []core.Obligation
	for _, o := range v.t.obligations {
		if o.MemberID == memberID && keep(o) {
			out = append(out, o)
		}
	}
	// Oldest year first; member and year are unique together.
	sort.Slice(out, func(i, j int) bool { return out[i].SubscriptionYear < out[j].SubscriptionYear })
	return out
}

func (v view) UpdateObligation(_ context.Context, o core.Obligation) error {
	if _, ok := v.t.obligations[o.ID]; !ok {
		return fmt.Errorf("obligation %s: %w", o.ID, core.ErrNotFound)
	}
	v.t.obligations[o.ID] = o
	return nil
}

func (v view) InsertPayment(_ context.Context, p *core.Payment) error {
	if p.ID == "" {
		v.t.nextPay++
		p.ID = fmt.Sprintf("pay-%d", v.t.nextPay)
	}
	v.t.nextSeq++
	v.t.seq[p.ID] = v.t.nextSeq
	v.t.payments[p.ID] = *p
	return nil
}

func (v view) GetPayment(_ context.Context, id string) (core.Payment, error) {
	p, ok := v.t.payments[id]
	if !ok {
		return core.Payment{}, fmt.Errorf("payment %s: %w", id, core.ErrNotFound)
	}
	return p, nil
}

func (v view) UpdatePayment(_ context.Context, p core.Payment) error {
	if _, ok := v.t.payments[p.ID]; !ok {
		return fmt.Errorf("payment %s: %w", p.ID, core.ErrNotFound)
	}
	v.t.payments[p.ID] = p
	return nil
}

func (v view) DeletePayment(_ context.Context, id string) error {
	if _, ok := v.t.payments[id]; !ok {
		return fmt.Errorf("payment %s: %w", id, core.ErrNotFound)
	}
	delete(v.t.payments, id)
	delete(v.t.seq, id)
	return nil
}

func (v view) ListObligationsUpdatedBefore(_ context.Context, cutoff time.Time, limit int) ([]core.Obligation, error) {
	var out []core.Obligation
	for _, o := range v.t.obligations {
		if o.UpdatedAt.Before(cutoff) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v view) ListPaymentsByObligation(_ context.Context, obligationID string) ([]core.Payment, error) {
	var out []core.Payment
	for _, p := range v.t.payments {
		if p.ObligationID == obligationID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return v.t.seq[out[i].ID] < v.t.seq[out[j].ID] })
	return out, nil
}

var (
	_ ledger.TxStore = (*Store)(nil)
	_ ledger.TxStore = view{}
)
