// Package http exposes the dues ledger as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"duesledger/internal/cache"
	"duesledger/internal/core"
	"duesledger/internal/services"
)

type Server struct {
	http.Server
	svc         *services.LedgerService
	rateLimiter *rateLimiter

	// Per-member read caches, invalidated on every mutation that touches
	// the member's records.
	obligationsCache *cache.LRUCache[[]core.Obligation]
	duesCache        *cache.LRUCache[services.MemberDues]
	cacheManager     *cache.Manager

	shutdownOnce sync.Once
}

// NewServer configures routes and caches, returning a ready-to-run server.
func NewServer(addr string, svc *services.LedgerService) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		svc:              svc,
		rateLimiter:      newRateLimiter(),
		obligationsCache: cache.NewLRUCache[[]core.Obligation](200, 5*time.Minute),
		duesCache:        cache.NewLRUCache[services.MemberDues](200, 5*time.Minute),
		cacheManager:     cache.NewManager(),
	}

	s.cacheManager.Register(s.obligationsCache)
	s.cacheManager.Register(s.duesCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("POST /obligations", s.withMiddleware(s.handleCreateObligation))
	mux.HandleFunc("GET /obligations/{id}", s.withMiddleware(s.handleGetObligation))
	mux.HandleFunc("PUT /obligations/{id}", s.withMiddleware(s.handleUpdateObligation))
	mux.HandleFunc("POST /obligations/{id}/recompute", s.withMiddleware(s.handleRecompute))
	mux.HandleFunc("GET /obligations/{id}/payments", s.withMiddleware(s.handleListPayments))

	mux.HandleFunc("POST /payments", s.withMiddleware(s.handleAddPayment))
	mux.HandleFunc("PUT /payments/{id}", s.withMiddleware(s.handleUpdatePayment))
	mux.HandleFunc("DELETE /payments/{id}", s.withMiddleware(s.handleDeletePayment))

	mux.HandleFunc("GET /members/{id}/obligations", s.withMiddleware(s.handleListMemberObligations))
	mux.HandleFunc("GET /members/{id}/dues", s.withMiddleware(s.handleMemberDues))

	return s
}

// invalidateMember drops the member's cached listings after a mutation.
func (s *Server) invalidateMember(memberID string) {
	s.obligationsCache.Delete(memberID)
	s.duesCache.Delete(memberID)
}

// Shutdown stops the HTTP server plus the cache and rate limiter cleanup
// goroutines. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
