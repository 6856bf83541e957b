package session

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/nattskiftet/chatbot/internal/service/agent"
	"github.com/nattskiftet/chatbot/internal/service/chat"
	"github.com/nattskiftet/chatbot/internal/service/widget"
	"github.com/nattskiftet/chatbot/pkg/utils"
)

const maxBodyBytes = 16 << 10

// Handler exposes a widget's session over REST.
type Handler struct {
	cookies CookieJar
	logger  zerolog.Logger
}

func New(cookies CookieJar, logger zerolog.Logger) *Handler {
	return &Handler{cookies: cookies, logger: logger}
}

// RegisterRoutes registers the session routes. Requests must have passed
// Resolve. limit wraps the mutating routes.
func (h *Handler) RegisterRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Get("/session", h.handleSnapshot)

	r.Group(func(r chi.Router) {
		if limit != nil {
			r.Use(limit)
		}
		r.Post("/session/start", h.handleStart)
		r.Post("/session/restart", h.handleRestart)
		r.Post("/session/finish", h.handleFinish)
		r.Post("/session/messages", h.handleMessage)
		r.Post("/session/actions", h.handleAction)
		r.Post("/session/typing", h.handleTyping)
		r.Post("/session/ping", h.handlePing)
		r.Post("/widget/open", h.handleOpen)
		r.Post("/widget/close", h.handleClose)
	})
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	wd, ok := h.widget(w, r)
	if !ok {
		return
	}
	h.respond(w, r, wd, http.StatusOK)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(wd *widget.Widget) error { return wd.Manager().Start(r.Context()) })
}

func (h *Handler) handleRestart(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(wd *widget.Widget) error { return wd.Restart(r.Context()) })
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(wd *widget.Widget) error { return wd.Finish(r.Context()) })
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(wd *widget.Widget) error { return wd.Open(r.Context()) })
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(wd *widget.Widget) error {
		wd.Close()
		return nil
	})
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message string `json:"message"`
	}
	if !decode(w, r, &payload) {
		return
	}
	h.run(w, r, func(wd *widget.Widget) error {
		return wd.Manager().SendMessage(r.Context(), payload.Message)
	})
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID string `json:"id"`
	}
	if !decode(w, r, &payload) {
		return
	}
	h.run(w, r, func(wd *widget.Widget) error {
		return wd.Manager().SendAction(r.Context(), payload.ID)
	})
}

func (h *Handler) handleTyping(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Draft string `json:"draft"`
	}
	if !decode(w, r, &payload) {
		return
	}
	wd, ok := h.widget(w, r)
	if !ok {
		return
	}
	wd.Manager().Compose(payload.Draft)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	wd, ok := h.widget(w, r)
	if !ok {
		return
	}
	wd.Manager().SendPing(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

// run executes action against the request's widget and responds with the
// resulting view, or the mapped error.
func (h *Handler) run(w http.ResponseWriter, r *http.Request, action func(*widget.Widget) error) {
	wd, ok := h.widget(w, r)
	if !ok {
		return
	}
	if err := action(wd); err != nil {
		status, code := StatusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Warn().Err(err).Str("widget_id", wd.ID()).Str("path", r.URL.Path).Msg("session action failed")
		}
		h.cookies.Write(w, r, wd.ID(), wd.Store().Load())
		utils.RespondErrorCode(w, status, code, err.Error())
		return
	}
	h.respond(w, r, wd, http.StatusOK)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, wd *widget.Widget, status int) {
	wd.Touch()
	view := wd.View()
	h.cookies.Write(w, r, wd.ID(), wd.Store().Load())
	utils.RespondJSON(w, status, view)
}

func (h *Handler) widget(w http.ResponseWriter, r *http.Request) (*widget.Widget, bool) {
	wd, ok := WidgetFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "widget not resolved")
	}
	return wd, ok
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// StatusFor maps session errors to an HTTP status and error code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrMessageTooLong),
		errors.Is(err, chat.ErrEmptyActionLink):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, chat.ErrNoConversation),
		errors.Is(err, chat.ErrNotStartable):
		return http.StatusConflict, "conflict"
	case errors.Is(err, chat.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	}

	switch code := agent.Classify(err); code {
	case agent.CodeCanceled:
		return 499, string(code)
	case agent.CodeSessionEnded:
		return http.StatusGone, string(code)
	default:
		return http.StatusBadGateway, string(code)
	}
}
