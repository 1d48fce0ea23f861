package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"duesledger/internal/amqp"
	"duesledger/internal/core"
	"duesledger/internal/ledger"
)

// AddPayment records a caller-submitted payment and recomputes the
// obligation's balance in the same transaction. Transfer methods are
// rejected; only the reconciliation passes write those.
func (s *LedgerService) AddPayment(ctx context.Context, p core.Payment) (core.Payment, core.Obligation, error) {
	if err := p.Validate(); err != nil {
		return core.Payment{}, core.Obligation{}, err
	}

	o, err := s.store.GetObligation(ctx, p.ObligationID)
	if err != nil {
		return core.Payment{}, core.Obligation{}, err
	}

	lock := s.memberLock(o.MemberID)
	lock.Lock()
	defer lock.Unlock()

	err = s.store.InTx(ctx, func(tx ledger.Store) error {
		if err := tx.InsertPayment(ctx, &p); err != nil {
			return err
		}
		o, err = recomputeObligation(ctx, tx, p.ObligationID, s.now())
		return err
	})
	if err != nil {
		return core.Payment{}, core.Obligation{}, fmt.Errorf("add payment: %w", err)
	}

	slog.InfoContext(ctx, "Recorded payment",
		"payment_id", p.ID,
		"obligation_id", o.ID,
		"member_id", o.MemberID,
		"amount", p.AmountPaid.Decimal(),
		"method", string(p.Method),
		"remaining_balance", o.RemainingBalance.Decimal(),
		"status", string(o.Status))
	s.publishEvent(ctx, amqp.EventPaymentAdded, o.MemberID, o.ID)

	return p, o, nil
}

// PaymentUpdate carries the fields of a payment that may change. Nil fields
// are left as stored. A payment can never move to another obligation.
type PaymentUpdate struct {
	AmountPaid  *core.Money
	PaymentDate *time.Time
	Method      *core.Method
	Notes       *string
}

// UpdatePayment edits a stored payment and recomputes the affected
// obligation. Transfer records may be edited too; the balance stays derived
// either way.
func (s *LedgerService) UpdatePayment(ctx context.Context, id string, upd PaymentUpdate) (core.Payment, core.Obligation, error) {
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return core.Payment{}, core.Obligation{}, err
	}
	o, err := s.store.GetObligation(ctx, p.ObligationID)
	if err != nil {
		return core.Payment{}, core.Obligation{}, err
	}

	if upd.AmountPaid != nil {
		if err := upd.AmountPaid.Validate(); err != nil {
			return core.Payment{}, core.Obligation{}, err
		}
		p.AmountPaid = *upd.AmountPaid
	}
	if upd.PaymentDate != nil {
		if upd.PaymentDate.IsZero() {
			return core.Payment{}, core.Obligation{}, fmt.Errorf("payment date cannot be zero")
		}
		p.PaymentDate = *upd.PaymentDate
	}
	if upd.Method != nil {
		if !upd.Method.Valid() || upd.Method.SystemGenerated() {
			return core.Payment{}, core.Obligation{}, core.ErrInvalidMethod
		}
		p.Method = *upd.Method
	}
	if upd.Notes != nil {
		p.Notes = *upd.Notes
	}

	lock := s.memberLock(o.MemberID)
	lock.Lock()
	defer lock.Unlock()

	err = s.store.InTx(ctx, func(tx ledger.Store) error {
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		o, err = recomputeObligation(ctx, tx, p.ObligationID, s.now())
		return err
	})
	if err != nil {
		return core.Payment{}, core.Obligation{}, fmt.Errorf("update payment %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Updated payment",
		"payment_id", p.ID,
		"obligation_id", o.ID,
		"remaining_balance", o.RemainingBalance.Decimal(),
		"status", string(o.Status))
	s.publishEvent(ctx, amqp.EventPaymentUpdated, o.MemberID, o.ID)

	return p, o, nil
}

// DeletePayment removes a payment and recomputes the obligation, which may
// move back to Partial or Unpaid.
func (s *LedgerService) DeletePayment(ctx context.Context, id string) (core.Obligation, error) {
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return core.Obligation{}, err
	}
	o, err := s.store.GetObligation(ctx, p.ObligationID)
	if err != nil {
		return core.Obligation{}, err
	}

	lock := s.memberLock(o.MemberID)
	lock.Lock()
	defer lock.Unlock()

	err = s.store.InTx(ctx, func(tx ledger.Store) error {
		if err := tx.DeletePayment(ctx, id); err != nil {
			return err
		}
		o, err = recomputeObligation(ctx, tx, p.ObligationID, s.now())
		return err
	})
	if err != nil {
		return core.Obligation{}, fmt.Errorf("delete payment %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Deleted payment",
		"payment_id", id,
		"obligation_id", o.ID,
		"remaining_balance", o.RemainingBalance.Decimal(),
		"status", string(o.Status))
	s.publishEvent(ctx, amqp.EventPaymentDeleted, o.MemberID, o.ID)

	return o, nil
}

// ObligationUpdate carries the editable obligation fields. The carried
// forward debt is fixed at creation time and never edited.
type ObligationUpdate struct {
	AnnualAmount *core.Money
}

// UpdateObligation edits an obligation's annual amount and recomputes its
// balance against the existing payment set.
func (s *LedgerService) UpdateObligation(ctx context.Context, id string, upd ObligationUpdate) (core.Obligation, error) {
	o, err := s.store.GetObligation(ctx, id)
	if err != nil {
		return core.Obligation{}, err
	}

	if upd.AnnualAmount != nil {
		if err := upd.AnnualAmount.Validate(); err != nil {
			return core.Obligation{}, err
		}
		o.AnnualAmount = *upd.AnnualAmount
	}

	lock := s.memberLock(o.MemberID)
	lock.Lock()
	defer lock.Unlock()

	err = s.store.InTx(ctx, func(tx ledger.Store) error {
		if err := tx.UpdateObligation(ctx, o); err != nil {
			return err
		}
		o, err = recomputeObligation(ctx, tx, id, s.now())
		return err
	})
	if err != nil {
		return core.Obligation{}, fmt.Errorf("update obligation %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Updated obligation",
		"obligation_id", o.ID,
		"annual_amount", o.AnnualAmount.Decimal(),
		"remaining_balance", o.RemainingBalance.Decimal(),
		"status", string(o.Status))
	s.publishEvent(ctx, amqp.EventObligationUpdated, o.MemberID, o.ID)

	return o, nil
}
