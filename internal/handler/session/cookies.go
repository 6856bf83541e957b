package session

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/nattskiftet/chatbot/internal/config"
	"github.com/nattskiftet/chatbot/internal/model/prefs"
)

const (
	cookieWidget       = "widget"
	cookieConversation = "conversation"
	cookieLanguage     = "language"
	cookieOpen         = "open"
	cookieUnread       = "unread"
)

// CookieJar maps widget state to the nav-chatbot:* cookies.
//
// The names contain a colon, which net/http rejects as a cookie name token,
// so the headers are read and written directly.
type CookieJar struct {
	cfg config.CookieConfig
}

func NewCookieJar(cfg config.CookieConfig) CookieJar {
	if cfg.Prefix == "" {
		cfg.Prefix = "nav-chatbot"
	}
	return CookieJar{cfg: cfg}
}

// Read returns the widget id and saved preferences carried by r.
func (j CookieJar) Read(r *http.Request) (widgetID string, saved prefs.Preferences) {
	values := parseCookies(r.Header.Values("Cookie"))

	widgetID = values[j.cfg.CookieName(cookieWidget)]
	saved.ConversationID = values[j.cfg.CookieName(cookieConversation)]
	saved.Language = values[j.cfg.CookieName(cookieLanguage)]
	saved.Open = values[j.cfg.CookieName(cookieOpen)] == "true"
	if unread, err := strconv.Atoi(values[j.cfg.CookieName(cookieUnread)]); err == nil && unread > 0 {
		saved.Unread = unread
	}
	return widgetID, saved
}

// Write sets the cookies for widgetID and p on w.
func (j CookieJar) Write(w http.ResponseWriter, r *http.Request, widgetID string, p prefs.Preferences) {
	j.Apply(w.Header(), r, widgetID, p)
}

// Apply adds Set-Cookie lines for widgetID and p to h. An empty
// conversation id expires the conversation cookie.
func (j CookieJar) Apply(h http.Header, r *http.Request, widgetID string, p prefs.Preferences) {
	domain := j.cfg.DomainFor(r.Host)
	maxAge := int(j.cfg.MaxAge.Seconds())

	h.Add("Set-Cookie", j.line(cookieWidget, widgetID, maxAge, domain))
	if p.ConversationID == "" {
		h.Add("Set-Cookie", j.line(cookieConversation, "", -1, domain))
	} else {
		h.Add("Set-Cookie", j.line(cookieConversation, p.ConversationID, maxAge, domain))
	}
	if p.Language != "" {
		h.Add("Set-Cookie", j.line(cookieLanguage, p.Language, maxAge, domain))
	}
	h.Add("Set-Cookie", j.line(cookieOpen, strconv.FormatBool(p.Open), maxAge, domain))
	h.Add("Set-Cookie", j.line(cookieUnread, strconv.Itoa(p.Unread), maxAge, domain))
}

func (j CookieJar) line(key, value string, maxAge int, domain string) string {
	var b strings.Builder
	b.WriteString(j.cfg.CookieName(key))
	b.WriteByte('=')
	b.WriteString(url.QueryEscape(value))
	b.WriteString("; Path=/")
	if maxAge < 0 {
		b.WriteString("; Max-Age=0")
	} else if maxAge > 0 {
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.Itoa(maxAge))
	}
	if domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(domain)
		if j.cfg.Secure {
			b.WriteString("; Secure")
		}
	}
	b.WriteString("; HttpOnly; SameSite=Lax")
	return b.String()
}

func parseCookies(headers []string) map[string]string {
	values := make(map[string]string)
	for _, header := range headers {
		for _, part := range strings.Split(header, ";") {
			name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok || name == "" {
				continue
			}
			value = strings.Trim(value, `"`)
			if unescaped, err := url.QueryUnescape(value); err == nil {
				value = unescaped
			}
			values[name] = value
		}
	}
	return values
}
