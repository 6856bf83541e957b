package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nattskiftet/chatbot/internal/service/agent"
)

type recordedRequest struct {
	Command        string `json:"command"`
	ConversationID string `json:"conversation_id"`
	Language       string `json:"language"`
	Value          string `json:"value"`
	Type           string `json:"type"`
	ID             string `json:"id"`
}

func newAgentServer(t *testing.T, reply func(w http.ResponseWriter, req recordedRequest)) (*httptest.Server, *[]recordedRequest) {
	t.Helper()

	var (
		mu       sync.Mutex
		recorded []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req recordedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Errorf("missing request id header")
		}
		mu.Lock()
		recorded = append(recorded, req)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		reply(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv, &recorded
}

const conversationJSON = `{"id":"c-1","reference":"ref","state":{"chat_status":"virtual_agent","allow_delete_conversation":true,"human_is_typing":false,"max_input_chars":110}}`

func TestClientCommandsSendExpectedBodies(t *testing.T) {
	srv, recorded := newAgentServer(t, func(w http.ResponseWriter, req recordedRequest) {
		switch req.Command {
		case "START":
			w.Write([]byte(`{"conversation":` + conversationJSON + `,"response":{"id":"r-1","source":"bot","date_created":"2020-01-01T10:00:00Z","elements":[{"type":"text","payload":{"text":"Hei"}}]}}`))
		case "TYPING", "DELETE":
			w.Write([]byte(`{"conversation":` + conversationJSON + `}`))
		default:
			w.Write([]byte(`{"conversation":` + conversationJSON + `,"responses":[]}`))
		}
	})

	client := agent.NewClient(srv.URL)
	ctx := context.Background()

	started, err := client.Create(ctx, "nb-NO")
	require.NoError(t, err)
	assert.Equal(t, "c-1", started.Conversation.ID)
	assert.Equal(t, "r-1", started.Response.ID.String())
	assert.True(t, started.Conversation.State.AllowDeleteConversation)

	_, err = client.Resume(ctx, "c-1", "en-US")
	require.NoError(t, err)

	polled, err := client.Poll(ctx, "c-1", "r-1")
	require.NoError(t, err)
	assert.Empty(t, polled.Responses)

	_, err = client.Post(ctx, "c-1", agent.Text("Hello"))
	require.NoError(t, err)
	_, err = client.Post(ctx, "c-1", agent.ActionLink("42"))
	require.NoError(t, err)

	_, err = client.Ping(ctx, "c-1")
	require.NoError(t, err)
	_, err = client.Remove(ctx, "c-1")
	require.NoError(t, err)

	assert.Equal(t, []recordedRequest{
		{Command: "START", Language: "nb-NO"},
		{Command: "RESUME", ConversationID: "c-1", Language: "en-US"},
		{Command: "POLL", ConversationID: "c-1", Value: "r-1"},
		{Command: "POST", ConversationID: "c-1", Type: "text", Value: "Hello"},
		{Command: "POST", ConversationID: "c-1", Type: "action_link", ID: "42"},
		{Command: "TYPING", ConversationID: "c-1"},
		{Command: "DELETE", ConversationID: "c-1"},
	}, *recorded)
}

func TestClientClassifiesSessionEnded(t *testing.T) {
	srv, _ := newAgentServer(t, func(w http.ResponseWriter, _ recordedRequest) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"session ended"}`))
	})

	_, err := agent.NewClient(srv.URL).Resume(context.Background(), "gone", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrSessionEnded)
	assert.Equal(t, agent.CodeSessionEnded, agent.Classify(err))

	var apiErr *agent.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestClientClassifiesGenericFailure(t *testing.T) {
	srv, _ := newAgentServer(t, func(w http.ResponseWriter, _ recordedRequest) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`oops`))
	})

	_, err := agent.NewClient(srv.URL).Poll(context.Background(), "c-1", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, agent.ErrSessionEnded)
	assert.Equal(t, agent.CodeGeneric, agent.Classify(err))
}

func TestClientClassifiesNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := agent.NewClient(url).Create(context.Background(), "nb-NO")
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrNetwork)
	assert.Equal(t, agent.CodeNetwork, agent.Classify(err))
}

func TestClientTimesOutStuckRequests(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	client := agent.NewClient(srv.URL, agent.WithTimeout(50*time.Millisecond))
	_, err := client.Poll(context.Background(), "c-1", "r-1")
	require.Error(t, err)
	assert.Equal(t, agent.CodeNetwork, agent.Classify(err))
}

func TestClientCallerCancellationIsNotNetworkError(t *testing.T) {
	srv, _ := newAgentServer(t, func(w http.ResponseWriter, _ recordedRequest) {
		w.Write([]byte(`{}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := agent.NewClient(srv.URL).Poll(ctx, "c-1", "")
	require.Error(t, err)
	assert.Equal(t, agent.CodeCanceled, agent.Classify(err))
}

func TestClientRejectsEmptyPost(t *testing.T) {
	_, err := agent.NewClient("http://127.0.0.1:1").Post(context.Background(), "c-1", agent.Text(""))
	assert.ErrorIs(t, err, agent.ErrInvalidMessage)
}

type countingObserver struct {
	mu    sync.Mutex
	codes []string
}

func (o *countingObserver) ObserveRequest(command string, _ time.Duration, code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes = append(o.codes, command+":"+code)
}

func TestClientReportsToObserver(t *testing.T) {
	srv, _ := newAgentServer(t, func(w http.ResponseWriter, _ recordedRequest) {
		w.Write([]byte(`{"conversation":` + conversationJSON + `}`))
	})

	observer := &countingObserver{}
	_, err := agent.NewClient(srv.URL, agent.WithObserver(observer)).Ping(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"TYPING:"}, observer.codes)
}
