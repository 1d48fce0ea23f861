package core

// BalanceResult is the output of one balance derivation.
type BalanceResult struct {
	TotalPaid        Money
	RemainingBalance Money
	Status           Status
}

// ComputeBalance derives the remaining balance and status of one obligation
// from the full set of payments recorded against it. Every payment counts,
// transfers included; the caller is responsible for passing exactly the
// payments whose ObligationID matches.
//
// remaining = (annual amount + carried-forward debt) - sum(amount paid).
// A negative remaining balance means the obligation is overpaid and still
// reads as Paid. Zero payments against zero due is Paid with balance 0.
func ComputeBalance(o Obligation, payments []Payment) BalanceResult {
	var paid Money
	for _, p := range payments {
		paid = paid.Add(p.AmountPaid)
	}

	due := o.AnnualAmount.Add(o.CarriedForwardDebt)
	remaining := due.Sub(paid)

	status := StatusUnpaid
	switch {
	case remaining.Cents <= 0:
		status = StatusPaid
	case paid.IsPositive():
		status = StatusPartial
	}

	return BalanceResult{
		TotalPaid:        paid,
		RemainingBalance: remaining,
		Status:           status,
	}
}
