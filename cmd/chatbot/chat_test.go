package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatmodel "github.com/nattskiftet/chatbot/internal/model/chat"
	"github.com/nattskiftet/chatbot/internal/model/prefs"
	"github.com/nattskiftet/chatbot/internal/service/agent"
	"github.com/nattskiftet/chatbot/internal/service/chat"
	"github.com/nattskiftet/chatbot/internal/service/reveal"
)

type scriptedAgent struct {
	mu     sync.Mutex
	posted []agent.Message
}

func (a *scriptedAgent) conversation() chatmodel.Conversation {
	return chatmodel.Conversation{ID: "c-1", State: chatmodel.ConversationState{ChatStatus: "virtual_agent", AllowDeleteConversation: true}}
}

func (a *scriptedAgent) Create(context.Context, string) (*agent.StartResult, error) {
	return &agent.StartResult{
		Conversation: a.conversation(),
		Response: chatmodel.Response{ID: "r-1", Source: chatmodel.SourceBot, Elements: chatmodel.Elements{
			chatmodel.TextElement{Text: "Hei, hva lurer du på?"},
			chatmodel.LinksElement{Links: []chatmodel.Link{
				{ID: "l-1", Text: "Dagpenger", Type: "action_link"},
				{ID: "l-2", Text: "Kontakt", Type: chatmodel.LinkTypeExternal, URL: "https://www.nav.no/kontakt"},
			}},
		}},
	}, nil
}

func (a *scriptedAgent) Resume(context.Context, string, string) (*agent.Result, error) {
	return &agent.Result{Conversation: a.conversation()}, nil
}

func (a *scriptedAgent) Poll(context.Context, string, string) (*agent.Result, error) {
	return &agent.Result{Conversation: a.conversation()}, nil
}

func (a *scriptedAgent) Post(_ context.Context, _ string, msg agent.Message) (*agent.Result, error) {
	a.mu.Lock()
	a.posted = append(a.posted, msg)
	a.mu.Unlock()
	return &agent.Result{Conversation: a.conversation()}, nil
}

func (a *scriptedAgent) Ping(context.Context, string) (*chatmodel.Conversation, error) {
	conv := a.conversation()
	return &conv, nil
}

func (a *scriptedAgent) Remove(context.Context, string) (*chatmodel.Conversation, error) {
	conv := a.conversation()
	return &conv, nil
}

func (a *scriptedAgent) messages() []agent.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]agent.Message(nil), a.posted...)
}

func newTestTerminal(t *testing.T) (*terminal, *scriptedAgent, *bytes.Buffer) {
	t.Helper()

	backend := &scriptedAgent{}
	cfg := chat.DefaultConfig()
	cfg.PollMin = time.Hour
	cfg.PollMax = time.Hour
	manager := chat.NewManager(backend, prefs.NewMemoryStore(prefs.Preferences{}), chat.WithConfig(cfg))
	t.Cleanup(manager.Close)

	out := &bytes.Buffer{}
	term := newTerminal(manager, reveal.NewScheduler(time.Millisecond, reveal.WithRand(func() float64 { return 0 })), clockwork.NewRealClock(), out)
	return term, backend, out
}

func TestTerminalPrintsResponsesAndFollowsLinks(t *testing.T) {
	term, backend, out := newTestTerminal(t)
	ctx := context.Background()

	_, err := term.handle(ctx, "/start")
	require.NoError(t, err)

	term.show(ctx, term.manager.Snapshot())
	printed := out.String()
	assert.Contains(t, printed, "* connected")
	assert.Contains(t, printed, "Hei, hva lurer du på?")
	assert.Contains(t, printed, "[1] Dagpenger")
	assert.Contains(t, printed, "[2] Kontakt <https://www.nav.no/kontakt>")

	_, err = term.handle(ctx, "1")
	require.NoError(t, err)
	_, err = term.handle(ctx, "2")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "-> https://www.nav.no/kontakt")

	_, err = term.handle(ctx, "7")
	assert.Error(t, err)

	_, err = term.handle(ctx, "hei")
	require.NoError(t, err)

	assert.Equal(t, []agent.Message{agent.ActionLink("l-1"), agent.Text("hei")}, backend.messages())
}

func TestTerminalPrintsEachResponseOnce(t *testing.T) {
	term, _, out := newTestTerminal(t)
	ctx := context.Background()

	require.NoError(t, term.manager.Start(ctx))
	snap := term.manager.Snapshot()
	term.show(ctx, snap)
	term.show(ctx, snap)

	assert.Equal(t, 1, strings.Count(out.String(), "Hei, hva lurer du på?"))
}

func TestTerminalRunQuits(t *testing.T) {
	term, _, out := newTestTerminal(t)

	err := term.run(context.Background(), strings.NewReader("/quit\n"))
	require.NoError(t, err)
	assert.NotContains(t, out.String(), "!")
}
