package www

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"greasetrack/engine"
)

const sessionName = "greasetrack"

type Handlers struct {
	engine   *engine.Engine
	sessions *sessions.CookieStore
	eventHub *EventHub
	log      *zap.Logger
}

// NewRouter builds the HTTP surface. The returned func detaches the SSE hub
// from the engine's event bus and should be called on shutdown.
func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	log := eng.Logger()
	secret := []byte(eng.AppConfig().Web.SessionSecret)
	if len(secret) == 0 {
		log.Warn("www: no session secret configured, operator sessions will not survive a restart")
		secret = securecookie.GenerateRandomKey(32)
	}
	cookies := sessions.NewCookieStore(secret)
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int((12 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	h := &Handlers{
		engine:   eng,
		sessions: cookies,
		eventHub: NewEventHub(eng.Events, log),
		log:      log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.apiHealthCheck)
		r.Get("/clusters", h.apiListClusters)
		r.Get("/consumers", h.apiListConsumers)
		r.Get("/tanks", h.apiListTanks)
		r.Get("/tanks/{id}/movements", h.apiTankMovements)
		r.Get("/movements", h.apiListMovements)
		r.Post("/movements", h.apiCreateMovement)
		r.Get("/audit", h.apiAuditLog)
		r.Get("/reconciliations", h.apiListReconciliations)
		r.Post("/reconcile", h.apiReconcile)
		r.Post("/messaging/reconnect", h.apiReconnectMessaging)
		r.Get("/operator", h.apiGetOperator)
		r.Post("/operator", h.apiSetOperator)
		r.Get("/events", h.eventHub.ServeHTTP)
	})
	r.Handle("/metrics", promhttp.HandlerFor(eng.Metrics().Registry, promhttp.HandlerOpts{}))

	return r, h.eventHub.Stop
}

func (h *Handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("www: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
