package handler

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nattskiftet/chatbot/internal/config"
	"github.com/nattskiftet/chatbot/internal/handler/session"
	"github.com/nattskiftet/chatbot/internal/metrics"
	"github.com/nattskiftet/chatbot/internal/service/agent"
	"github.com/nattskiftet/chatbot/internal/service/chat"
	"github.com/nattskiftet/chatbot/internal/service/widget"
)

const conversationJSON = `{"id":"c-1","state":{"chat_status":"virtual_agent","allow_delete_conversation":true,"max_input_chars":20}}`

type agentCall struct {
	Command string `json:"command"`
	Value   string `json:"value"`
	ID      string `json:"id"`
}

type fakeAgent struct {
	mu    sync.Mutex
	calls []agentCall
}

func (a *fakeAgent) commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.calls))
	for _, c := range a.calls {
		out = append(out, c.Command)
	}
	return out
}

func (a *fakeAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var call agentCall
	_ = json.NewDecoder(r.Body).Decode(&call)
	a.mu.Lock()
	a.calls = append(a.calls, call)
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch call.Command {
	case "START":
		w.Write([]byte(`{"conversation":` + conversationJSON + `,"response":{"id":"r-1","source":"bot","elements":[{"type":"text","payload":{"text":"Hei"}}]}}`))
	case "POST":
		w.Write([]byte(`{"conversation":` + conversationJSON + `,"responses":[{"id":"r-2","source":"client","date_created":"2030-01-01T10:00:00Z","elements":[{"type":"text","payload":{"text":"` + call.Value + `"}}]}]}`))
	case "DELETE", "TYPING":
		w.Write([]byte(`{"conversation":` + conversationJSON + `}`))
	default:
		w.Write([]byte(`{"conversation":` + conversationJSON + `,"responses":[]}`))
	}
}

type gateway struct {
	agent   *fakeAgent
	widgets *widget.Registry
	server  *httptest.Server
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	return newLimitedGateway(t, 100, 100)
}

func newLimitedGateway(t *testing.T, rate float64, burst int) *gateway {
	t.Helper()

	fake := &fakeAgent{}
	agentSrv := httptest.NewServer(fake)
	t.Cleanup(agentSrv.Close)

	recorder := metrics.New()
	client := agent.NewClient(agentSrv.URL, agent.WithObserver(recorder))

	sessionCfg := chat.DefaultConfig()
	sessionCfg.PollMin = time.Hour
	sessionCfg.PollMax = time.Hour

	registry := widget.NewRegistry(client, time.Hour, widget.Options{
		Session:  sessionCfg,
		Logger:   zerolog.Nop(),
		OnStatus: func(from, to chat.Status) { recorder.StatusChanged(string(from), string(to)) },
	}, recorder.Widgets())
	t.Cleanup(registry.CloseAll)

	router := NewRouter(Deps{
		Widgets:   registry,
		Cookies:   session.NewCookieJar(config.CookieConfig{Prefix: "nav-chatbot", Domain: ".nav.no", MaxAge: time.Hour}),
		RateLimit: rate,
		RateBurst: burst,
		Metrics:   recorder,
		Logger:    zerolog.Nop(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &gateway{agent: fake, widgets: registry, server: srv}
}

func TestCookielessRequestsShareAddressBudget(t *testing.T) {
	g := newLimitedGateway(t, 0.001, 2)

	codes := make([]int, 0, 4)
	for range 4 {
		resp, _ := g.do(t, http.MethodPost, "/api/session/typing", "", `{"draft":"hei"}`)
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)

	// A widget that already exists has its own budget.
	resp, _ := g.do(t, http.MethodGet, "/api/session", "", "")
	widgetID := cookieValues(resp)["nav-chatbot:widget"]
	require.NotEmpty(t, widgetID)

	resp, _ = g.do(t, http.MethodPost, "/api/session/typing", widgetID, `{"draft":"hei"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

// cookieValues extracts the values set by Set-Cookie lines. net/http drops
// cookie names with a colon, so the lines are split by hand.
func cookieValues(resp *http.Response) map[string]string {
	out := make(map[string]string)
	for _, line := range resp.Header.Values("Set-Cookie") {
		pair, _, _ := strings.Cut(line, ";")
		name, value, _ := strings.Cut(pair, "=")
		out[name] = value
	}
	return out
}

func (g *gateway) do(t *testing.T, method, path, widgetID, body string) (*http.Response, widget.View) {
	t.Helper()

	req, err := http.NewRequest(method, g.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if widgetID != "" {
		req.Header.Set("Cookie", "nav-chatbot:widget="+widgetID)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var view widget.View
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	}
	return resp, view
}

func TestHealthz(t *testing.T) {
	g := newGateway(t)

	resp, err := http.Get(g.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionLifecycleOverREST(t *testing.T) {
	g := newGateway(t)

	resp, view := g.do(t, http.MethodGet, "/api/session", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, chat.StatusDisconnected, view.Status)
	assert.Empty(t, view.Responses)

	widgetID := cookieValues(resp)["nav-chatbot:widget"]
	require.NotEmpty(t, widgetID)
	assert.Equal(t, widgetID, view.WidgetID)

	resp, view = g.do(t, http.MethodPost, "/api/widget/open", widgetID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, view.Open)
	assert.Equal(t, chat.StatusConnected, view.Status)
	assert.Equal(t, "c-1", view.ConversationID)
	require.Len(t, view.Responses, 1)
	assert.Equal(t, "c-1", cookieValues(resp)["nav-chatbot:conversation"])
	assert.Equal(t, "true", cookieValues(resp)["nav-chatbot:open"])

	resp, view = g.do(t, http.MethodPost, "/api/session/messages", widgetID, `{"message":"hallo"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, view.Responses, 2)
	assert.Nil(t, view.Queue)

	resp, view = g.do(t, http.MethodPost, "/api/session/finish", widgetID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, chat.StatusEnded, view.Status)
	assert.False(t, view.Open)
	assert.Empty(t, cookieValues(resp)["nav-chatbot:conversation"])

	assert.Equal(t, []string{"START", "POST", "DELETE"}, g.agent.commands())
}

func TestSessionErrorsMapToStatus(t *testing.T) {
	g := newGateway(t)

	resp, _ := g.do(t, http.MethodGet, "/api/session", "", "")
	widgetID := cookieValues(resp)["nav-chatbot:widget"]

	resp, _ = g.do(t, http.MethodPost, "/api/session/messages", widgetID, `{"message":"hei"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = g.do(t, http.MethodPost, "/api/session/start", widgetID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = g.do(t, http.MethodPost, "/api/session/messages", widgetID, `{"message":"`+strings.Repeat("x", 40)+`"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = g.do(t, http.MethodPost, "/api/session/actions", widgetID, `{"id":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = g.do(t, http.MethodPost, "/api/session/messages", widgetID, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusForAgentErrors(t *testing.T) {
	status, code := session.StatusFor(&agent.APIError{Command: agent.CommandPoll, StatusCode: 400, Message: agent.SessionEndedMessage})
	assert.Equal(t, http.StatusGone, status)
	assert.Equal(t, "session_ended", code)

	status, code = session.StatusFor(&agent.NetworkError{Command: agent.CommandPoll, Err: assert.AnError})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "network_error", code)

	status, _ = session.StatusFor(chat.ErrClosed)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestEventStreamSendsInitialView(t *testing.T) {
	g := newGateway(t)

	resp, err := http.Get(g.server.URL + "/api/session/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, cookieValues(resp)["nav-chatbot:widget"])

	reader := bufio.NewReader(resp.Body)
	event, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: view\n", event)

	data, err := reader.ReadString('\n')
	require.NoError(t, err)
	var view widget.View
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(data), "data: ")), &view))
	assert.Equal(t, chat.StatusDisconnected, view.Status)
}

func TestWebSocketCommands(t *testing.T) {
	g := newGateway(t)

	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/api/session/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.NotEmpty(t, cookieValues(resp)["nav-chatbot:widget"])

	type frame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	readView := func() widget.View {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		for {
			var f frame
			require.NoError(t, conn.ReadJSON(&f))
			if f.Type != "view" {
				continue
			}
			var view widget.View
			require.NoError(t, json.Unmarshal(f.Data, &view))
			return view
		}
	}

	assert.Equal(t, chat.StatusDisconnected, readView().Status)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "start"}))
	deadline := time.Now().Add(5 * time.Second)
	for {
		view := readView()
		if view.Status == chat.StatusConnected {
			assert.Equal(t, "c-1", view.ConversationID)
			break
		}
		require.True(t, time.Now().Before(deadline), "session never connected")
	}

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "bogus"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var f struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == "error" {
			assert.Equal(t, "bogus", f.Data["command"])
			break
		}
	}
}
