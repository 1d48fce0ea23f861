package core

import (
	"errors"
	"strings"
	"time"
)

const (
	StatusPaid    Status = "Paid"
	StatusPartial Status = "Partial"
	StatusUnpaid  Status = "Unpaid"
)

const (
	MethodCash         Method = "Cash"
	MethodOnline       Method = "Online"
	MethodBankTransfer Method = "Bank Transfer"

	// System-generated methods, written only by the reconciliation engine.
	MethodOverpaymentTransfer Method = "Overpayment Transfer"
	MethodDebtTransfer        Method = "Debt Transfer"
)

type (
	// Status is the derived settlement state of an obligation.
	Status string

	// Method identifies how a payment was made.
	Method string

	Money struct {
		Cents int64
	}

	// Obligation is one member's dues record for one subscription year.
	// RemainingBalance and Status are derived from the payment set plus
	// CarriedForwardDebt and must only be written by a recompute.
	Obligation struct {
		ID                 string
		MemberID           string
		SubscriptionYear   int
		AnnualAmount       Money
		CarriedForwardDebt Money
		RemainingBalance   Money
		Status             Status
		CreatedAt          time.Time
		UpdatedAt          time.Time
	}

	// Payment is one recorded transfer of money against an obligation,
	// including the engine's own transfer records.
	Payment struct {
		ID           string
		ObligationID string
		AmountPaid   Money
		PaymentDate  time.Time
		Method       Method
		Notes        string
	}
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidYear         = errors.New("invalid subscription year")
	ErrInvalidMethod       = errors.New("invalid payment method")
	ErrEmptyMemberID       = errors.New("empty member id")
	ErrEmptyObligationID   = errors.New("empty obligation id")
	ErrNotFound            = errors.New("not found")
	ErrDuplicateObligation = errors.New("obligation already exists for this member and year")
)

// SystemGenerated reports whether the method may only be written by the
// reconciliation engine, never chosen by a caller.
func (m Method) SystemGenerated() bool {
	return m == MethodOverpaymentTransfer || m == MethodDebtTransfer
}

func (m Method) Valid() bool {
	switch m {
	case MethodCash, MethodOnline, MethodBankTransfer,
		MethodOverpaymentTransfer, MethodDebtTransfer:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPaid, StatusPartial, StatusUnpaid:
		return true
	}
	return false
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Validate checks an obligation as submitted for creation. Derived fields are
// not inspected.
func (o Obligation) Validate() error {
	if strings.TrimSpace(o.MemberID) == "" {
		return ErrEmptyMemberID
	}
	if o.SubscriptionYear < 1900 || o.SubscriptionYear > 9999 {
		return ErrInvalidYear
	}
	if err := o.AnnualAmount.Validate(); err != nil {
		return err
	}
	if o.CarriedForwardDebt.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Validate checks a caller-submitted payment. Transfer methods are rejected
// here; the engine records those directly without going through this path.
func (p Payment) Validate() error {
	if strings.TrimSpace(p.ObligationID) == "" {
		return ErrEmptyObligationID
	}
	if err := p.AmountPaid.Validate(); err != nil {
		return err
	}
	if p.PaymentDate.IsZero() {
		return errors.New("payment date cannot be zero")
	}
	if !p.Method.Valid() || p.Method.SystemGenerated() {
		return ErrInvalidMethod
	}
	return nil
}
