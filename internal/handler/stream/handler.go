package stream

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nattskiftet/chatbot/internal/handler/session"
	"github.com/nattskiftet/chatbot/internal/middleware"
	"github.com/nattskiftet/chatbot/pkg/utils"
)

const heartbeatPeriod = 25 * time.Second

// Handler pushes widget views to the browser over WebSocket or
// Server-Sent Events.
type Handler struct {
	cookies   session.CookieJar
	logger    zerolog.Logger
	upgrader  websocket.Upgrader
	heartbeat time.Duration
}

// New creates a stream handler. allowedOrigins restricts WebSocket upgrades
// the same way CORS restricts plain requests.
func New(cookies session.CookieJar, allowedOrigins []string, logger zerolog.Logger) *Handler {
	originAllowed := middleware.OriginMatcher(allowedOrigins)
	return &Handler{
		cookies:   cookies,
		logger:    logger,
		heartbeat: heartbeatPeriod,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(origin)
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/session/ws", h.handleWebSocket)
	r.Get("/session/events", h.handleEvents)
}

// handleEvents streams a "view" event for the current state and for every
// change after it.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	wd, ok := session.WidgetFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "widget not resolved")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h.cookies.Write(w, r, wd.ID(), wd.Store().Load())
	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	views := wd.Watch(ctx)
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	if err := utils.SendSSEEvent(w, flusher, "view", wd.View()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case view, ok := <-views:
			if !ok {
				_ = utils.SendSSEEvent(w, flusher, "closed", map[string]string{"widgetId": wd.ID()})
				return
			}
			wd.Touch()
			if err := utils.SendSSEEvent(w, flusher, "view", view); err != nil {
				h.logger.Debug().Err(err).Str("widget_id", wd.ID()).Msg("event stream closed")
				return
			}
		case <-ticker.C:
			wd.Touch()
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
