package session

import (
	"context"
	"net"
	"net/http"

	"github.com/nattskiftet/chatbot/internal/model/prefs"
	"github.com/nattskiftet/chatbot/internal/service/widget"
	"github.com/nattskiftet/chatbot/pkg/utils"
)

// Widgets hands out the widget a request belongs to.
type Widgets interface {
	Acquire(id string, saved prefs.Preferences, language string) (*widget.Widget, bool)
}

type widgetKey struct{}

type resolved struct {
	widget  *widget.Widget
	created bool
}

// WithWidget returns ctx carrying w. created marks a widget made for this
// request.
func WithWidget(ctx context.Context, w *widget.Widget, created bool) context.Context {
	return context.WithValue(ctx, widgetKey{}, resolved{widget: w, created: created})
}

// WidgetFrom returns the widget stored by Resolve.
func WidgetFrom(ctx context.Context) (*widget.Widget, bool) {
	v, ok := ctx.Value(widgetKey{}).(resolved)
	return v.widget, ok && v.widget != nil
}

// LimitKey is the rate limit key of a request. Requests on a known widget
// share its budget; requests that had to create a widget are keyed by the
// client address, so dropping the cookie does not buy a fresh budget.
func LimitKey(r *http.Request) string {
	if v, ok := r.Context().Value(widgetKey{}).(resolved); ok && v.widget != nil && !v.created {
		return "widget:" + v.widget.ID()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// Resolve attaches the widget named by the request cookies, creating it
// when unknown.
func Resolve(widgets Widgets, cookies CookieJar) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, saved := cookies.Read(r)
			wd, created := widgets.Acquire(id, saved, prefs.PreferredLanguage(r.Header.Get("Accept-Language")))
			if wd == nil {
				utils.RespondError(w, http.StatusServiceUnavailable, "widget unavailable")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithWidget(r.Context(), wd, created)))
		})
	}
}
