package httpserver

import (
	"net/http"

	"parkgate/backend/services/gate-service/internal/http/handlers"
	"parkgate/backend/services/gate-service/internal/http/middleware"
)

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	BookingHandlers *handlers.BookingHandlers
	GateHandlers    *handlers.GateHandlers
	SessionHandlers *handlers.SessionHandlers
	ZoneHandlers    *handlers.ZoneHandlers
	HealthHandler   http.HandlerFunc
	// MetricsHandler and ScannerHandler are optional.
	MetricsHandler http.Handler
	ScannerHandler http.HandlerFunc
}

// NewRouter wires HTTP routes with middleware. Scanner readers authenticate with their
// device key instead of a JWT.
func NewRouter(deps RouterDeps, authMiddleware func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", method(http.MethodGet, deps.HealthHandler))
	if deps.MetricsHandler != nil {
		mux.Handle("/metrics", method(http.MethodGet, deps.MetricsHandler))
	}
	if deps.ScannerHandler != nil {
		mux.Handle("/ws/scanner", method(http.MethodGet, deps.ScannerHandler))
	}

	authenticated := func(handler http.HandlerFunc, roles ...middleware.Role) http.Handler {
		if len(roles) == 0 {
			return middleware.Chain(handler, authMiddleware)
		}
		return middleware.Chain(handler, authMiddleware, middleware.RequireRole(roles...))
	}
	staff := middleware.RoleStaff

	mux.Handle("/api/bookings", method(http.MethodPost, authenticated(deps.BookingHandlers.Create, middleware.RoleGuest)))
	mux.Handle("/api/bookings/current", method(http.MethodGet, authenticated(deps.BookingHandlers.Current, middleware.RoleGuest)))

	mux.Handle("/api/zones/availability", method(http.MethodGet, authenticated(deps.ZoneHandlers.Availability)))
	mux.Handle("/api/tariff", method(http.MethodGet, authenticated(deps.ZoneHandlers.Tariff)))

	mux.Handle("/api/gate/entry", method(http.MethodPost, authenticated(deps.GateHandlers.Entry, staff)))
	mux.Handle("/api/gate/exit", method(http.MethodPost, authenticated(deps.GateHandlers.Exit, staff)))
	mux.Handle("/api/gate/exit/quote", method(http.MethodGet, authenticated(deps.GateHandlers.Quote, staff)))

	mux.Handle("/api/sessions/cancel", method(http.MethodPost, authenticated(deps.SessionHandlers.Cancel, staff)))
	mux.Handle("/api/sessions/active", method(http.MethodGet, authenticated(deps.SessionHandlers.Active, staff)))
	mux.Handle("/api/sessions/receipt", method(http.MethodGet, authenticated(deps.SessionHandlers.Receipt, staff)))
	mux.Handle("/api/sessions/qr", method(http.MethodGet, authenticated(deps.SessionHandlers.QRImage)))

	return mux
}

func method(expected string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
