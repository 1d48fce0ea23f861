// Package worker verifies stored balances against their payment sets. It
// reacts to ledger events and runs a periodic sweep as a backup in case
// events are lost.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"duesledger/internal/amqp"
	"duesledger/internal/core"
	"duesledger/internal/ledger"
)

// AuditableStore is what the auditor needs from a backend.
type AuditableStore interface {
	ledger.TxStore
	ledger.AuditStore
}

type Auditor struct {
	store     AuditableStore
	batchSize int
	now       func() time.Time
}

func NewAuditor(store AuditableStore, batchSize int) *Auditor {
	return &Auditor{
		store:     store,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// HandleLedgerEvent re-derives the balance of the obligation named by one
// event and repairs it if the stored value drifted.
func (a *Auditor) HandleLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	slog.InfoContext(ctx, "Auditing obligation from event",
		"kind", ev.Kind,
		"obligation_id", ev.ObligationID,
		"member_id", ev.MemberID)

	_, err := a.VerifyObligation(ctx, ev.ObligationID)
	return err
}

// VerifyObligation checks one obligation's stored balance and status against
// its payment set, repairing the record when they disagree. Reports whether
// drift was found.
func (a *Auditor) VerifyObligation(ctx context.Context, id string) (bool, error) {
	var drifted bool
	err := a.store.InTx(ctx, func(tx ledger.Store) error {
		o, err := tx.GetObligation(ctx, id)
		if err != nil {
			return err
		}
		payments, err := tx.ListPaymentsByObligation(ctx, id)
		if err != nil {
			return err
		}

		res := core.ComputeBalance(o, payments)
		if res.RemainingBalance == o.RemainingBalance && res.Status == o.Status {
			return nil
		}

		drifted = true
		slog.WarnContext(ctx, "Balance drift detected, repairing",
			"obligation_id", o.ID,
			"member_id", o.MemberID,
			"stored_balance", o.RemainingBalance.Decimal(),
			"derived_balance", res.RemainingBalance.Decimal(),
			"stored_status", string(o.Status),
			"derived_status", string(res.Status))

		o.RemainingBalance = res.RemainingBalance
		o.Status = res.Status
		o.UpdatedAt = a.now()
		return tx.UpdateObligation(ctx, o)
	})
	if err != nil {
		return false, fmt.Errorf("verify obligation %s: %w", id, err)
	}
	return drifted, nil
}

// RunSweep verifies one batch of the least recently updated obligations.
// Returns how many were checked and how many had drifted.
func (a *Auditor) RunSweep(ctx context.Context) (checked, repaired int, err error) {
	obligations, err := a.store.ListObligationsUpdatedBefore(ctx, a.now(), a.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("list obligations for sweep: %w", err)
	}

	for _, o := range obligations {
		drifted, err := a.VerifyObligation(ctx, o.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Sweep verification failed",
				"obligation_id", o.ID, "error", err)
			continue
		}
		checked++
		if drifted {
			repaired++
		}
	}

	if repaired > 0 {
		slog.WarnContext(ctx, "Sweep found drifted balances",
			"checked", checked, "repaired", repaired)
	} else {
		slog.InfoContext(ctx, "Sweep completed", "checked", checked)
	}
	return checked, repaired, nil
}

// RunPeriodicSweep sweeps on the given interval until ctx is cancelled.
func (a *Auditor) RunPeriodicSweep(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, _, err := a.RunSweep(ctx); err != nil {
				slog.ErrorContext(ctx, "Periodic sweep failed", "error", err)
			}
		}
	}
}
