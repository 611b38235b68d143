package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/notifyhub/internal/api/handler"
	apimw "github.com/notifyhub/notifyhub/internal/api/middleware"
	"github.com/notifyhub/notifyhub/internal/realtime"
	"github.com/notifyhub/notifyhub/internal/service"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	Engine      *service.Engine
	Lanes       handler.LaneDepths
	Broadcaster *realtime.Broadcaster
	// Gateway serves /ws; nil leaves the route unregistered.
	Gateway http.Handler
	// Store is pinged by /health; nil for the in-memory backend.
	Store          handler.Pinger
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins(d.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID", "X-Correlation-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(apimw.CorrelationID)
	r.Use(apimw.UserID)
	r.Use(apimw.RequestLogger(d.Logger))

	nh := handler.NewNotificationHandler(d.Engine, d.Logger)
	th := handler.NewTemplateHandler(d.Engine, d.Logger)
	ph := handler.NewPreferenceHandler(d.Engine, d.Logger)
	rh := handler.NewRealtimeHandler(d.Broadcaster, d.Broadcaster.Registry(), d.Logger)
	mh := handler.NewMetricsHandler(d.Lanes, d.Engine, d.Broadcaster.Registry())
	hh := handler.NewHealthHandler(d.Store)

	r.Get("/health", hh.Health)
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	if d.Gateway != nil {
		r.Handle("/ws", d.Gateway)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.RequestSize(1 << 20))
		r.Use(chimw.AllowContentType("application/json"))

		// Literal segments are registered before /{id} so chi does not
		// treat "bulk" or "stats" as an ID.
		r.Route("/notifications", func(r chi.Router) {
			r.Post("/", nh.Create)
			r.Get("/", nh.Search)
			r.Post("/bulk", nh.Bulk)
			r.Get("/stats", nh.Stats)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", nh.Get)
				r.Patch("/", nh.Update)
				r.Delete("/", nh.Delete)
				r.Post("/cancel", nh.Cancel)
				r.Post("/delivery", nh.DeliveryReceipt)
				r.With(apimw.RequireUser).Post("/read", nh.MarkRead)
				r.With(apimw.RequireUser).Post("/click", nh.Click)
			})
		})

		r.Route("/templates", func(r chi.Router) {
			r.Post("/", th.Create)
			r.Get("/", th.List)
			r.Get("/{id}", th.Get)
			r.Patch("/{id}", th.SetActive)
		})

		r.Route("/preferences", func(r chi.Router) {
			r.Use(apimw.RequireUser)
			r.Get("/", ph.Get)
			r.Put("/", ph.Update)
		})

		r.Route("/realtime", func(r chi.Router) {
			r.Post("/system", rh.System)
			r.Post("/maintenance", rh.Maintenance)
			r.Get("/presence/{userID}", rh.Presence)
		})

		r.Get("/metrics", mh.GetMetrics)
	})

	return r
}

func origins(allowed []string) []string {
	if len(allowed) == 0 {
		return []string{"*"}
	}
	return allowed
}
