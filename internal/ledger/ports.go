// Package ledger defines the ports the reconciliation engine talks through.
// Implementations live in internal/ledger/memory and internal/storage.
package ledger

import (
	"context"
	"time"

	"duesledger/internal/core"
)

type (
	// ObligationStore is the per-member obligation persistence contract.
	// Lookups that miss return core.ErrNotFound.
	ObligationStore interface {
		// InsertObligation persists a new obligation and fills in its ID.
		// Inserting a second obligation for the same member and year fails
		// with core.ErrDuplicateObligation.
		InsertObligation(ctx context.Context, o *core.Obligation) error
		GetObligation(ctx context.Context, id string) (core.Obligation, error)
		FindObligationByMemberYear(ctx context.Context, memberID string, year int) (core.Obligation, error)
		ListObligationsByMember(ctx context.Context, memberID string) ([]core.Obligation, error)
		// ListOwedObligations returns the member's obligations with a
		// strictly positive remaining balance, oldest year first.
		ListOwedObligations(ctx context.Context, memberID string) ([]core.Obligation, error)
		// ListOverpaidObligations returns the member's obligations with a
		// strictly negative remaining balance, oldest year first. The
		// overpayment pass drains records in this order.
		ListOverpaidObligations(ctx context.Context, memberID string) ([]core.Obligation, error)
		UpdateObligation(ctx context.Context, o core.Obligation) error
	}

	// PaymentStore is the payment persistence contract.
	PaymentStore interface {
		// InsertPayment persists a new payment and fills in its ID.
		InsertPayment(ctx context.Context, p *core.Payment) error
		GetPayment(ctx context.Context, id string) (core.Payment, error)
		UpdatePayment(ctx context.Context, p core.Payment) error
		DeletePayment(ctx context.Context, id string) error
		ListPaymentsByObligation(ctx context.Context, obligationID string) ([]core.Payment, error)
	}

	// Store is the full ledger persistence surface.
	Store interface {
		ObligationStore
		PaymentStore
	}

	// AuditStore feeds background verification sweeps. Results come back
	// least recently updated first, at most limit of them.
	AuditStore interface {
		ListObligationsUpdatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]core.Obligation, error)
	}

	// Transactor runs a function against the store atomically: either every
	// write inside fn commits, or none do. The multi-step carry-forward and
	// overpayment passes rely on this to never leave prior obligations marked
	// Paid while the new obligation failed to persist.
	Transactor interface {
		InTx(ctx context.Context, fn func(Store) error) error
	}

	// TxStore is what the engine requires from a backend.
	TxStore interface {
		Store
		Transactor
	}
)
