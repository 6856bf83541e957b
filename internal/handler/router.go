package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/nattskiftet/chatbot/internal/handler/session"
	"github.com/nattskiftet/chatbot/internal/handler/stream"
	"github.com/nattskiftet/chatbot/internal/logging"
	"github.com/nattskiftet/chatbot/internal/metrics"
	middlewarePkg "github.com/nattskiftet/chatbot/internal/middleware"
	"github.com/nattskiftet/chatbot/pkg/utils"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Widgets        session.Widgets
	Cookies        session.CookieJar
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
	Metrics        *metrics.Recorder
	Logger         zerolog.Logger
}

// NewRouter wires HTTP routes to the widget registry.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.AccessLog(logging.Component(deps.Logger, "http")))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	var onReject func()
	if deps.Metrics != nil {
		onReject = deps.Metrics.RateLimited
	}
	limiter := middlewarePkg.NewRateLimiter(deps.RateLimit, deps.RateBurst, session.LimitKey, onReject)

	sessionHandler := session.New(deps.Cookies, logging.Component(deps.Logger, "session"))
	streamHandler := stream.New(deps.Cookies, deps.AllowedOrigins, logging.Component(deps.Logger, "stream"))

	r.Route("/api", func(api chi.Router) {
		api.Use(session.Resolve(deps.Widgets, deps.Cookies))

		sessionHandler.RegisterRoutes(api, limiter.Middleware)
		streamHandler.RegisterRoutes(api)
	})

	return r
}
