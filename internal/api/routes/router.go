package routes

import (
	"net/http"

	"github.com/zatekoja/insurance-eligibility/backend/internal/api/handlers"
	"github.com/zatekoja/insurance-eligibility/backend/internal/api/middleware"
	"github.com/zatekoja/insurance-eligibility/backend/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	eligibilityHandler *handlers.EligibilityHandler
	sseHandler         *handlers.SSEHandler

	allowedOrigins []string
	metrics        *observability.Metrics
}

// NewRouter creates a new router
func NewRouter(
	eligibilityHandler *handlers.EligibilityHandler,
	sseHandler *handlers.SSEHandler,
	allowedOrigins []string,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:                http.NewServeMux(),
		eligibilityHandler: eligibilityHandler,
		sseHandler:         sseHandler,
		allowedOrigins:     allowedOrigins,
		metrics:            metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	// Health check endpoint
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})

	// Verification
	r.mux.HandleFunc("POST /api/eligibility/verify", r.eligibilityHandler.VerifyEligibility)
	r.mux.HandleFunc("POST /api/eligibility/manual", r.eligibilityHandler.RecordManualVerification)

	// Audit history and overrides
	r.mux.HandleFunc("GET /api/eligibility/patients/{patientId}/history", r.eligibilityHandler.GetHistory)
	r.mux.HandleFunc("POST /api/eligibility/checks/{id}/override", r.eligibilityHandler.ApplyOverride)
	r.mux.HandleFunc("GET /api/eligibility/stats", r.eligibilityHandler.GetStats)

	// Cache administration
	r.mux.HandleFunc("GET /api/eligibility/cache/stats", r.eligibilityHandler.GetCacheStats)
	r.mux.HandleFunc("DELETE /api/eligibility/cache/{searchKey}", r.eligibilityHandler.InvalidateCache)

	// Event streams
	if r.sseHandler != nil {
		r.mux.HandleFunc("GET /api/eligibility/events", r.sseHandler.StreamEligibilityEvents)
		r.mux.HandleFunc("GET /api/eligibility/patients/{patientId}/events", r.sseHandler.StreamPatientEvents)
	}

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(r.mux)(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics, r.mux)(handler)
	handler = middleware.NoStore(handler)
	handler = middleware.Compression(handler)
	handler = middleware.CORSMiddleware(r.allowedOrigins)(handler)

	return handler
}
