package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"duesledger/internal/ledger/memory"
	"duesledger/internal/services"
)

func newTestServer() *Server {
	return NewServer(":0", services.NewLedgerService(memory.New(), nil))
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
	return v
}

func createObligation(t *testing.T, s *Server, member, amount string, year int) obligationResponse {
	t.Helper()
	rec := doJSON(t, s.Handler, http.MethodPost, "/obligations", createObligationRequest{
		MemberID:         member,
		SubscriptionYear: year,
		AnnualAmount:     amount,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create obligation: status %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[obligationResponse](t, rec)
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer()
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doJSON(t, s.Handler, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status %d", path, rec.Code)
		}
	}
}

func TestCreateObligation(t *testing.T) {
	s := newTestServer()

	o := createObligation(t, s, "mem-1", "1200.00", 2025)
	if o.MemberID != "mem-1" || o.SubscriptionYear != 2025 {
		t.Fatalf("unexpected obligation: %+v", o)
	}
	if o.AnnualAmount != "1200.00" || o.RemainingBalance != "1200.00" || o.CarriedForwardDebt != "0.00" {
		t.Fatalf("unexpected amounts: %+v", o)
	}
	if o.Status != "Unpaid" {
		t.Fatalf("status = %s, want Unpaid", o.Status)
	}
}

func TestCreateObligationRejections(t *testing.T) {
	s := newTestServer()
	createObligation(t, s, "mem-1", "1200.00", 2025)

	tests := []struct {
		name       string
		req        createObligationRequest
		wantStatus int
	}{
		{
			"duplicate year",
			createObligationRequest{MemberID: "mem-1", SubscriptionYear: 2025, AnnualAmount: "1200.00"},
			http.StatusConflict,
		},
		{
			"bad amount",
			createObligationRequest{MemberID: "mem-1", SubscriptionYear: 2026, AnnualAmount: "abc"},
			http.StatusUnprocessableEntity,
		},
		{
			"zero amount",
			createObligationRequest{MemberID: "mem-1", SubscriptionYear: 2026, AnnualAmount: "0"},
			http.StatusUnprocessableEntity,
		},
		{
			"missing member",
			createObligationRequest{SubscriptionYear: 2026, AnnualAmount: "1200.00"},
			http.StatusUnprocessableEntity,
		},
		{
			"bad year",
			createObligationRequest{MemberID: "mem-1", SubscriptionYear: 10001, AnnualAmount: "1200.00"},
			http.StatusUnprocessableEntity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s.Handler, http.MethodPost, "/obligations", tt.req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status %d, want %d (body: %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestCreateObligationCarriesDebtOverHTTP(t *testing.T) {
	s := newTestServer()

	prior := createObligation(t, s, "mem-1", "1200.00", 2024)
	rec := doJSON(t, s.Handler, http.MethodPost, "/payments", addPaymentRequest{
		ObligationID: prior.ID,
		AmountPaid:   "900.00",
		PaymentDate:  "2024-06-01",
		Method:       "Cash",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add payment: status %d, body %s", rec.Code, rec.Body.String())
	}

	next := createObligation(t, s, "mem-1", "1200.00", 2025)
	if next.CarriedForwardDebt != "300.00" {
		t.Errorf("carried forward debt = %s, want 300.00", next.CarriedForwardDebt)
	}
	if next.RemainingBalance != "1500.00" {
		t.Errorf("remaining balance = %s, want 1500.00", next.RemainingBalance)
	}

	rec = doJSON(t, s.Handler, http.MethodGet, "/obligations/"+prior.ID, nil)
	cleared := decode[obligationResponse](t, rec)
	if cleared.RemainingBalance != "0.00" || cleared.Status != "Paid" {
		t.Errorf("prior obligation not cleared: %+v", cleared)
	}

	rec = doJSON(t, s.Handler, http.MethodGet, "/obligations/"+prior.ID+"/payments", nil)
	payments := decode[[]paymentResponse](t, rec)
	if len(payments) != 2 {
		t.Fatalf("expected 2 payments on prior obligation, got %d", len(payments))
	}
	if payments[1].Method != "Debt Transfer" || payments[1].AmountPaid != "300.00" {
		t.Errorf("transfer payment = %+v", payments[1])
	}
}

func TestPaymentLifecycleOverHTTP(t *testing.T) {
	s := newTestServer()
	o := createObligation(t, s, "mem-1", "1200.00", 2025)

	rec := doJSON(t, s.Handler, http.MethodPost, "/payments", addPaymentRequest{
		ObligationID: o.ID,
		AmountPaid:   "500.00",
		PaymentDate:  "2025-02-01",
		Method:       "Online",
		Notes:        "first installment",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: status %d, body %s", rec.Code, rec.Body.String())
	}
	added := decode[struct {
		Payment    paymentResponse    `json:"payment"`
		Obligation obligationResponse `json:"obligation"`
	}](t, rec)
	if added.Obligation.Status != "Partial" || added.Obligation.RemainingBalance != "700.00" {
		t.Fatalf("after add: %+v", added.Obligation)
	}
	if added.Payment.PaymentDate != "2025-02-01" || added.Payment.Notes != "first installment" {
		t.Fatalf("payment payload: %+v", added.Payment)
	}

	amount := "1200.00"
	rec = doJSON(t, s.Handler, http.MethodPut, "/payments/"+added.Payment.ID, updatePaymentRequest{
		AmountPaid: &amount,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d, body %s", rec.Code, rec.Body.String())
	}
	updated := decode[struct {
		Payment    paymentResponse    `json:"payment"`
		Obligation obligationResponse `json:"obligation"`
	}](t, rec)
	if updated.Obligation.Status != "Paid" || updated.Obligation.RemainingBalance != "0.00" {
		t.Fatalf("after update: %+v", updated.Obligation)
	}

	rec = doJSON(t, s.Handler, http.MethodDelete, "/payments/"+added.Payment.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status %d, body %s", rec.Code, rec.Body.String())
	}
	afterDelete := decode[obligationResponse](t, rec)
	if afterDelete.Status != "Unpaid" || afterDelete.RemainingBalance != "1200.00" {
		t.Fatalf("after delete: %+v", afterDelete)
	}

	rec = doJSON(t, s.Handler, http.MethodDelete, "/payments/"+added.Payment.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: status %d", rec.Code)
	}
}

func TestAddPaymentRejections(t *testing.T) {
	s := newTestServer()
	o := createObligation(t, s, "mem-1", "1200.00", 2025)

	tests := []struct {
		name       string
		req        addPaymentRequest
		wantStatus int
	}{
		{
			"reserved method",
			addPaymentRequest{ObligationID: o.ID, AmountPaid: "100.00", PaymentDate: "2025-02-01", Method: "Debt Transfer"},
			http.StatusUnprocessableEntity,
		},
		{
			"unknown method",
			addPaymentRequest{ObligationID: o.ID, AmountPaid: "100.00", PaymentDate: "2025-02-01", Method: "Barter"},
			http.StatusUnprocessableEntity,
		},
		{
			"bad amount",
			addPaymentRequest{ObligationID: o.ID, AmountPaid: "-5", PaymentDate: "2025-02-01", Method: "Cash"},
			http.StatusUnprocessableEntity,
		},
		{
			"bad date",
			addPaymentRequest{ObligationID: o.ID, AmountPaid: "100.00", PaymentDate: "01/02/2025", Method: "Cash"},
			http.StatusUnprocessableEntity,
		},
		{
			"missing obligation",
			addPaymentRequest{ObligationID: "nope", AmountPaid: "100.00", PaymentDate: "2025-02-01", Method: "Cash"},
			http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s.Handler, http.MethodPost, "/payments", tt.req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status %d, want %d (body: %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestMemberListingsRefreshAfterMutation(t *testing.T) {
	s := newTestServer()

	createObligation(t, s, "mem-1", "1200.00", 2024)

	rec := doJSON(t, s.Handler, http.MethodGet, "/members/mem-1/obligations", nil)
	if got := decode[[]obligationResponse](t, rec); len(got) != 1 {
		t.Fatalf("expected 1 obligation, got %d", len(got))
	}

	// A second create must show up even though the first listing was cached.
	createObligation(t, s, "mem-1", "1200.00", 2025)
	rec = doJSON(t, s.Handler, http.MethodGet, "/members/mem-1/obligations", nil)
	got := decode[[]obligationResponse](t, rec)
	if len(got) != 2 {
		t.Fatalf("expected 2 obligations after invalidation, got %d", len(got))
	}
	if got[0].SubscriptionYear != 2024 || got[1].SubscriptionYear != 2025 {
		t.Fatalf("listing out of order: %+v", got)
	}
}

func TestMemberDues(t *testing.T) {
	s := newTestServer()

	o := createObligation(t, s, "mem-1", "1200.00", 2024)
	doJSON(t, s.Handler, http.MethodPost, "/payments", addPaymentRequest{
		ObligationID: o.ID, AmountPaid: "900.00", PaymentDate: "2024-06-01", Method: "Cash",
	})
	createObligation(t, s, "mem-1", "1200.00", 2025)

	rec := doJSON(t, s.Handler, http.MethodGet, "/members/mem-1/dues", nil)
	dues := decode[memberDuesResponse](t, rec)
	// The 2024 debt moved onto 2025, so only 2025 owes: 1200 + 300.
	if dues.TotalOutstanding != "1500.00" {
		t.Errorf("total outstanding = %s, want 1500.00", dues.TotalOutstanding)
	}
	if len(dues.OwedObligations) != 1 || dues.OwedObligations[0].SubscriptionYear != 2025 {
		t.Errorf("owed obligations = %+v", dues.OwedObligations)
	}

	rec = doJSON(t, s.Handler, http.MethodGet, "/members/unknown/dues", nil)
	empty := decode[memberDuesResponse](t, rec)
	if empty.TotalOutstanding != "0.00" || len(empty.OwedObligations) != 0 {
		t.Errorf("unknown member dues = %+v", empty)
	}
}

func TestUpdateObligationOverHTTP(t *testing.T) {
	s := newTestServer()
	o := createObligation(t, s, "mem-1", "1200.00", 2025)

	amount := "1000.00"
	rec := doJSON(t, s.Handler, http.MethodPut, "/obligations/"+o.ID, updateObligationRequest{AnnualAmount: &amount})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d, body %s", rec.Code, rec.Body.String())
	}
	got := decode[obligationResponse](t, rec)
	if got.AnnualAmount != "1000.00" || got.RemainingBalance != "1000.00" {
		t.Fatalf("after update: %+v", got)
	}

	rec = doJSON(t, s.Handler, http.MethodPut, "/obligations/missing", updateObligationRequest{AnnualAmount: &amount})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing obligation: status %d", rec.Code)
	}
}

func TestRecomputeEndpoint(t *testing.T) {
	s := newTestServer()
	o := createObligation(t, s, "mem-1", "1200.00", 2025)

	rec := doJSON(t, s.Handler, http.MethodPost, fmt.Sprintf("/obligations/%s/recompute", o.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recompute: status %d, body %s", rec.Code, rec.Body.String())
	}
	got := decode[obligationResponse](t, rec)
	if got.RemainingBalance != "1200.00" || got.Status != "Unpaid" {
		t.Fatalf("recompute changed a settled balance: %+v", got)
	}
}
