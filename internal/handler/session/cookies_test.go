package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nattskiftet/chatbot/internal/config"
	"github.com/nattskiftet/chatbot/internal/model/prefs"
)

func testJar() CookieJar {
	return NewCookieJar(config.CookieConfig{
		Domain: ".nav.no",
		Prefix: "nav-chatbot",
		Secure: true,
		MaxAge: time.Hour,
	})
}

func TestCookieJarReadsColonNames(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://www.nav.no/api/session", nil)
	req.Header.Set("Cookie", "other=1; nav-chatbot:widget=w-1; nav-chatbot:conversation=c%3A1; nav-chatbot:open=true; nav-chatbot:unread=3; nav-chatbot:language=en-US")

	id, saved := testJar().Read(req)
	assert.Equal(t, "w-1", id)
	assert.Equal(t, prefs.Preferences{ConversationID: "c:1", Language: "en-US", Open: true, Unread: 3}, saved)
}

func TestCookieJarIgnoresMalformedUnread(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Cookie", "nav-chatbot:unread=-4; nav-chatbot:open=yes")

	_, saved := testJar().Read(req)
	assert.Zero(t, saved.Unread)
	assert.False(t, saved.Open)
}

func TestCookieJarWritesDomainCookies(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://www.nav.no/api/session", nil)
	rec := httptest.NewRecorder()

	testJar().Write(rec, req, "w-1", prefs.Preferences{ConversationID: "c-1", Open: true, Unread: 2})

	lines := rec.Header().Values("Set-Cookie")
	require.Len(t, lines, 4)
	assert.Equal(t, "nav-chatbot:widget=w-1; Path=/; Max-Age=3600; Domain=.nav.no; Secure; HttpOnly; SameSite=Lax", lines[0])
	assert.Contains(t, lines[1], "nav-chatbot:conversation=c-1;")
	assert.Contains(t, lines[2], "nav-chatbot:open=true;")
	assert.Contains(t, lines[3], "nav-chatbot:unread=2;")
}

func TestCookieJarExpiresConversationOnLocalhost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://localhost:8080/api/session", nil)
	rec := httptest.NewRecorder()

	testJar().Write(rec, req, "w-1", prefs.Preferences{Language: "nb-NO"})

	lines := rec.Header().Values("Set-Cookie")
	require.Len(t, lines, 5)
	assert.Equal(t, "nav-chatbot:conversation=; Path=/; Max-Age=0; HttpOnly; SameSite=Lax", lines[1])
	assert.Contains(t, lines[2], "nav-chatbot:language=nb-NO;")
	for _, line := range lines {
		assert.NotContains(t, line, "Domain=")
		assert.NotContains(t, line, "Secure")
	}
}
