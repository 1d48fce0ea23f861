package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"duesledger/internal/core"
	"duesledger/internal/services"
)

// Amounts cross the wire as decimal strings ("1200.00"); cents stay internal.
type (
	obligationResponse struct {
		ID                 string `json:"id"`
		MemberID           string `json:"memberId"`
		SubscriptionYear   int    `json:"subscriptionYear"`
		AnnualAmount       string `json:"annualAmount"`
		CarriedForwardDebt string `json:"carriedForwardDebt"`
		RemainingBalance   string `json:"remainingBalance"`
		Status             string `json:"status"`
		CreatedAt          string `json:"createdAt"`
		UpdatedAt          string `json:"updatedAt"`
	}

	paymentResponse struct {
		ID           string `json:"id"`
		ObligationID string `json:"obligationId"`
		AmountPaid   string `json:"amountPaid"`
		PaymentDate  string `json:"paymentDate"`
		Method       string `json:"method"`
		Notes        string `json:"notes,omitempty"`
	}

	memberDuesResponse struct {
		MemberID         string               `json:"memberId"`
		TotalOutstanding string               `json:"totalOutstanding"`
		OwedObligations  []obligationResponse `json:"owedObligations"`
	}

	createObligationRequest struct {
		MemberID         string `json:"memberId"`
		SubscriptionYear int    `json:"subscriptionYear"`
		AnnualAmount     string `json:"annualAmount"`
	}

	updateObligationRequest struct {
		AnnualAmount *string `json:"annualAmount"`
	}

	addPaymentRequest struct {
		ObligationID string `json:"obligationId"`
		AmountPaid   string `json:"amountPaid"`
		PaymentDate  string `json:"paymentDate"`
		Method       string `json:"method"`
		Notes        string `json:"notes"`
	}

	updatePaymentRequest struct {
		AmountPaid  *string `json:"amountPaid"`
		PaymentDate *string `json:"paymentDate"`
		Method      *string `json:"method"`
		Notes       *string `json:"notes"`
	}
)

func toObligationResponse(o core.Obligation) obligationResponse {
	return obligationResponse{
		ID:                 o.ID,
		MemberID:           o.MemberID,
		SubscriptionYear:   o.SubscriptionYear,
		AnnualAmount:       o.AnnualAmount.Decimal(),
		CarriedForwardDebt: o.CarriedForwardDebt.Decimal(),
		RemainingBalance:   o.RemainingBalance.Decimal(),
		Status:             string(o.Status),
		CreatedAt:          o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toPaymentResponse(p core.Payment) paymentResponse {
	return paymentResponse{
		ID:           p.ID,
		ObligationID: p.ObligationID,
		AmountPaid:   p.AmountPaid.Decimal(),
		PaymentDate:  p.PaymentDate.UTC().Format("2006-01-02"),
		Method:       string(p.Method),
		Notes:        p.Notes,
	}
}

func (s *Server) handleCreateObligation(w http.ResponseWriter, r *http.Request) {
	var req createObligationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cents, err := core.ParseDecimalToCents(req.AnnualAmount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid annual amount")
		return
	}

	o, err := s.svc.CreateObligation(r.Context(), req.MemberID, core.Money{Cents: cents}, req.SubscriptionYear)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.invalidateMember(o.MemberID)
	writeJSON(w, http.StatusCreated, toObligationResponse(o))
}

func (s *Server) handleGetObligation(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.GetObligation(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationResponse(o))
}

func (s *Server) handleUpdateObligation(w http.ResponseWriter, r *http.Request) {
	var req updateObligationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var upd services.ObligationUpdate
	if req.AnnualAmount != nil {
		cents, err := core.ParseDecimalToCents(*req.AnnualAmount)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid annual amount")
			return
		}
		upd.AnnualAmount = &core.Money{Cents: cents}
	}

	o, err := s.svc.UpdateObligation(r.Context(), r.PathValue("id"), upd)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.invalidateMember(o.MemberID)
	writeJSON(w, http.StatusOK, toObligationResponse(o))
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.Recompute(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.invalidateMember(o.MemberID)
	writeJSON(w, http.StatusOK, toObligationResponse(o))
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := s.svc.ListPayments(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	out := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddPayment(w http.ResponseWriter, r *http.Request) {
	var req addPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cents, err := core.ParseDecimalToCents(req.AmountPaid)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid payment amount")
		return
	}
	date, err := time.Parse("2006-01-02", req.PaymentDate)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid payment date, expected YYYY-MM-DD")
		return
	}

	p, o, err := s.svc.AddPayment(r.Context(), core.Payment{
		ObligationID: req.ObligationID,
		AmountPaid:   core.Money{Cents: cents},
		PaymentDate:  date,
		Method:       core.Method(req.Method),
		Notes:        req.Notes,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.invalidateMember(o.MemberID)
	writeJSON(w, http.StatusCreated, struct {
		Payment    paymentResponse    `json:"payment"`
		Obligation obligationResponse `json:"obligation"`
	}{toPaymentResponse(p), toObligationResponse(o)})
}

func (s *Server) handleUpdatePayment(w http.ResponseWriter, r *http.Request) {
	var req updatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var upd services.PaymentUpdate
	if req.AmountPaid != nil {
		cents, err := core.ParseDecimalToCents(*req.AmountPaid)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid payment amount")
			return
		}
		upd.AmountPaid = &core.Money{Cents: cents}
	}
	if req.PaymentDate != nil {
		date, err := time.Parse("2006-01-02", *req.PaymentDate)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid payment date, expected YYYY-MM-DD")
			return
		}
		upd.PaymentDate = &date
	}
	if req.Method != nil {
		method := core.Method(*req.Method)
		upd.Method = &method
	}
	upd.Notes = req.Notes

	p, o, err := s.svc.UpdatePayment(r.Context(), r.PathValue("id"), upd)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.invalidateMember(o.MemberID)
	writeJSON(w, http.StatusOK, struct {
		Payment    paymentResponse    `json:"payment"`
		Obligation obligationResponse `json:"obligation"`
	}{toPaymentResponse(p), toObligationResponse(o)})
}

func (s *Server) handleDeletePayment(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.DeletePayment(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.invalidateMember(o.MemberID)
	writeJSON(w, http.StatusOK, toObligationResponse(o))
}

func (s *Server) handleListMemberObligations(w http.ResponseWriter, r *http.Request) {
	memberID := r.PathValue("id")

	obligations, found := s.obligationsCache.Get(memberID)
	if !found {
		var err error
		obligations, err = s.svc.ListObligations(r.Context(), memberID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		s.obligationsCache.Set(memberID, obligations)
	}

	out := make([]obligationResponse, 0, len(obligations))
	for _, o := range obligations {
		out = append(out, toObligationResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMemberDues(w http.ResponseWriter, r *http.Request) {
	memberID := r.PathValue("id")

	dues, found := s.duesCache.Get(memberID)
	if !found {
		var err error
		dues, err = s.svc.OutstandingDues(r.Context(), memberID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		s.duesCache.Set(memberID, dues)
	}

	resp := memberDuesResponse{
		MemberID:         dues.MemberID,
		TotalOutstanding: dues.TotalOutstanding.Decimal(),
		OwedObligations:  make([]obligationResponse, 0, len(dues.OwedObligations)),
	}
	for _, o := range dues.OwedObligations {
		resp.OwedObligations = append(resp.OwedObligations, toObligationResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrDuplicateObligation):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidYear),
		errors.Is(err, core.ErrInvalidMethod),
		errors.Is(err, core.ErrEmptyMemberID),
		errors.Is(err, core.ErrEmptyObligationID):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.ErrorContext(r.Context(), "Request failed",
			"error", err, "method", r.Method, "url", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{msg})
}
