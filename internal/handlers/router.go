package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ukydev/fleet-driver/internal/middleware"
)

// Mutating shift calls hit the backend; cap a client at this many per minute.
const mutationsPerMinute = 30

// NewRouter builds the loopback API. allowedOrigins enables CORS for
// webview shells; leave it empty for native callers.
func NewRouter(authMW *middleware.AuthMiddleware, shifts ShiftService, feed FeedService, allowedOrigins ...string) http.Handler {
	sh := NewShiftHandler(shifts)
	nh := NewNotificationHandler(feed)
	limiter := middleware.NewRateLimitMiddleware(mutationsPerMinute, time.Minute)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         300,
		}))
	}
	r.Use(authMW.Authenticate)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		RespondJSON(w, http.StatusOK, map[string]string{"status": "ok", "state": shifts.Snapshot().State.String()})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/shift", func(r chi.Router) {
			r.With(authMW.RequirePermission("view_shifts")).Get("/", sh.Get)
			r.Group(func(r chi.Router) {
				r.Use(limiter.Limit)
				r.With(authMW.RequirePermission("view_shifts")).Post("/refresh", sh.Refresh)
				r.With(authMW.RequirePermission("activate_shift")).Post("/activate", sh.Activate)
				r.With(authMW.RequirePermission("end_shift")).Post("/end", sh.End)
			})
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Use(authMW.RequirePermission("view_notifications"))
			r.Get("/", nh.List)
			r.Post("/{id}/read", nh.MarkRead)
			r.Delete("/{id}", nh.Dismiss)
			r.Get("/{id}/target", nh.Target)
		})
	})

	return r
}
