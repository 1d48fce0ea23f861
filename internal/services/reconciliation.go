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

// CreateObligation opens a member's dues record for a subscription year and
// reconciles it against the member's history in one transaction:
//
//  1. Reject a duplicate member/year pair.
//  2. Carry forward debt: every prior obligation with a positive balance is
//     cleared by a Debt Transfer payment, and the sum becomes the new
//     obligation's carried-forward debt.
//  3. Apply prior overpayment: negative balances are drained, up to what the
//     new obligation owes, via an Overpayment Transfer credited to the new
//     obligation and matching negative transfers on the overpaid records.
//
// Every balance remains derivable from its payment set afterwards.
func (s *LedgerService) CreateObligation(ctx context.Context, memberID string, annualAmount core.Money, year int) (core.Obligation, error) {
	now := s.now()
	o := core.Obligation{
		MemberID:         memberID,
		SubscriptionYear: year,
		AnnualAmount:     annualAmount,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.Validate(); err != nil {
		return core.Obligation{}, err
	}

	lock := s.memberLock(memberID)
	lock.Lock()
	defer lock.Unlock()

	var out core.Obligation
	err := s.store.InTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.FindObligationByMemberYear(ctx, memberID, year); err == nil {
			return fmt.Errorf("member %s year %d: %w", memberID, year, core.ErrDuplicateObligation)
		}

		carried, err := carryForwardDebt(ctx, tx, memberID, year, now)
		if err != nil {
			return err
		}

		o.CarriedForwardDebt = carried
		o.RemainingBalance = annualAmount.Add(carried)
		o.Status = core.StatusUnpaid
		if err := tx.InsertObligation(ctx, &o); err != nil {
			return err
		}

		if err := applyOverpayment(ctx, tx, o, now); err != nil {
			return err
		}

		out, err = recomputeObligation(ctx, tx, o.ID, now)
		return err
	})
	if err != nil {
		return core.Obligation{}, err
	}

	slog.InfoContext(ctx, "Created obligation",
		"member_id", memberID,
		"obligation_id", out.ID,
		"year", year,
		"annual_amount", annualAmount.Decimal(),
		"carried_forward_debt", out.CarriedForwardDebt.Decimal(),
		"remaining_balance", out.RemainingBalance.Decimal())
	s.publishEvent(ctx, amqp.EventObligationCreated, memberID, out.ID)

	return out, nil
}

// carryForwardDebt clears every prior obligation still owing money with a
// Debt Transfer payment and returns the total moved onto the new year.
func carryForwardDebt(ctx context.Context, tx ledger.Store, memberID string, year int, now time.Time) (core.Money, error) {
	owed, err := tx.ListOwedObligations(ctx, memberID)
	if err != nil {
		return core.Money{}, err
	}

	var total core.Money
	for _, prior := range owed {
		debt := prior.RemainingBalance
		transfer := core.Payment{
			ObligationID: prior.ID,
			AmountPaid:   debt,
			PaymentDate:  now,
			Method:       core.MethodDebtTransfer,
			Notes:        fmt.Sprintf("Debt of %s transferred to %d subscription.", debt.Decimal(), year),
		}
		if err := tx.InsertPayment(ctx, &transfer); err != nil {
			return core.Money{}, err
		}
		if _, err := recomputeObligation(ctx, tx, prior.ID, now); err != nil {
			return core.Money{}, err
		}
		total = total.Add(debt)
	}
	return total, nil
}

// applyOverpayment drains prior negative balances into the new obligation:
// one positive Overpayment Transfer on the new record, and a matching
// negative transfer on each overpaid record so its balance rises toward zero.
// Only as much as the new obligation owes is applied; any excess stays on the
// overpaid records for the next year.
func applyOverpayment(ctx context.Context, tx ledger.Store, o core.Obligation, now time.Time) error {
	overpaid, err := tx.ListOverpaidObligations(ctx, o.MemberID)
	if err != nil {
		return err
	}
	if len(overpaid) == 0 {
		return nil
	}

	var total core.Money
	for _, prior := range overpaid {
		total = total.Add(prior.RemainingBalance.Neg())
	}
	applied := core.MinMoney(total, o.RemainingBalance)
	if !applied.IsPositive() {
		return nil
	}

	credit := core.Payment{
		ObligationID: o.ID,
		AmountPaid:   applied,
		PaymentDate:  now,
		Method:       core.MethodOverpaymentTransfer,
		Notes:        fmt.Sprintf("Applied from previous overpayment (total overpayment: %s).", total.Decimal()),
	}
	if err := tx.InsertPayment(ctx, &credit); err != nil {
		return err
	}

	pool := applied
	for _, prior := range overpaid {
		if !pool.IsPositive() {
			break
		}
		take := core.MinMoney(pool, prior.RemainingBalance.Neg())
		debit := core.Payment{
			ObligationID: prior.ID,
			AmountPaid:   take.Neg(),
			PaymentDate:  now,
			Method:       core.MethodOverpaymentTransfer,
			Notes:        fmt.Sprintf("Overpayment of %s applied to %d subscription.", take.Decimal(), o.SubscriptionYear),
		}
		if err := tx.InsertPayment(ctx, &debit); err != nil {
			return err
		}
		if _, err := recomputeObligation(ctx, tx, prior.ID, now); err != nil {
			return err
		}
		pool = pool.Sub(take)
	}
	return nil
}
