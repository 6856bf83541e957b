package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/nattskiftet/chatbot/internal/logging"
	chatmodel "github.com/nattskiftet/chatbot/internal/model/chat"
	"github.com/nattskiftet/chatbot/internal/model/prefs"
	"github.com/nattskiftet/chatbot/internal/service/agent"
	"github.com/nattskiftet/chatbot/internal/service/chat"
	"github.com/nattskiftet/chatbot/internal/service/reveal"
)

func init() {
	chatCmd.Flags().String("conversation", "", "resume this conversation id")
	chatCmd.Flags().String("language", "", "client language, defaults to CHATBOT_LANGUAGE")
	chatCmd.Flags().Duration("delay", 0, "typing delay, defaults to CHATBOT_REVEAL_DELAY")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent from the terminal",
	Long: `chat opens a conversation with the agent and reads messages from stdin.

Type a number to follow a link, /restart to start over, /finish to end the
conversation and /quit to leave without ending it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		// The terminal is the UI, so only warnings reach stderr.
		level := cfg.Log.Level
		if level == "info" || level == "debug" || level == "trace" {
			level = "warn"
		}
		logger, err := logging.New(os.Stderr, level, true)
		if err != nil {
			return err
		}

		conversationID, _ := cmd.Flags().GetString("conversation")
		language, _ := cmd.Flags().GetString("language")
		delay, _ := cmd.Flags().GetDuration("delay")

		sessionCfg := cfg.Session.Chat()
		if language != "" {
			sessionCfg.ClientLanguage = prefs.NormalizeLanguage(language)
		}
		if delay <= 0 {
			delay = cfg.Reveal.Delay
		}

		client := agent.NewClient(cfg.Agent.URL,
			agent.WithTimeout(cfg.Agent.Timeout),
			agent.WithLogger(logger),
		)
		manager := chat.NewManager(client, prefs.NewMemoryStore(prefs.Preferences{ConversationID: conversationID}),
			chat.WithConfig(sessionCfg),
			chat.WithLogger(logging.Component(logger, "session")),
		)
		defer manager.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		term := newTerminal(manager, reveal.NewScheduler(delay), clockwork.NewRealClock(), cmd.OutOrStdout())
		return term.run(ctx, cmd.InOrStdin())
	},
}

// terminal renders one session as lines of text.
type terminal struct {
	manager *chat.Manager
	reveal  *reveal.Scheduler
	clock   clockwork.Clock

	mu      sync.Mutex
	out     io.Writer
	links   []chatmodel.Link
	printed map[chatmodel.ResponseID]bool
	status  chat.Status
	errMsg  string
}

func newTerminal(manager *chat.Manager, scheduler *reveal.Scheduler, clock clockwork.Clock, out io.Writer) *terminal {
	return &terminal{
		manager: manager,
		reveal:  scheduler,
		clock:   clock,
		out:     out,
		printed: make(map[chatmodel.ResponseID]bool),
	}
}

func (t *terminal) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.watch(ctx)
	}()

	if err := t.manager.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		t.println("! " + err.Error())
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			cancel()
			<-done
			return nil
		case line, ok := <-lines:
			if !ok {
				cancel()
				<-done
				return nil
			}
			quit, err := t.handle(ctx, line)
			if err != nil {
				t.println("! " + err.Error())
			}
			if quit {
				cancel()
				<-done
				return nil
			}
		}
	}
}

// handle executes one input line. quit is true for /quit.
func (t *terminal) handle(ctx context.Context, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false, nil
	case "/quit":
		return true, nil
	case "/start":
		return false, t.manager.Start(ctx)
	case "/restart":
		return false, t.manager.Restart(ctx)
	case "/finish":
		return false, t.manager.Finish(ctx)
	}

	if n, convErr := strconv.Atoi(line); convErr == nil {
		link, ok := t.link(n)
		if !ok {
			return false, fmt.Errorf("no link numbered %d", n)
		}
		if link.IsExternal() {
			t.println("-> " + link.URL)
			return false, nil
		}
		return false, t.manager.SendAction(ctx, link.ID)
	}

	return false, t.manager.SendMessage(ctx, line)
}

func (t *terminal) link(n int) (chatmodel.Link, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 1 || n > len(t.links) {
		return chatmodel.Link{}, false
	}
	return t.links[n-1], true
}

func (t *terminal) watch(ctx context.Context) {
	snapshots, unsubscribe := t.manager.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			t.show(ctx, snap)
		}
	}
}

// show prints status changes and the responses of snap not printed yet.
// The latest bot response is held back until its reveal time.
func (t *terminal) show(ctx context.Context, snap chat.Snapshot) {
	t.mu.Lock()
	if snap.Status != t.status {
		t.status = snap.Status
		fmt.Fprintf(t.out, "* %s\n", snap.Status)
	}
	if snap.Error != nil && snap.Error.Message != t.errMsg {
		fmt.Fprintf(t.out, "! %s\n", snap.Error.Message)
	}
	if snap.Error != nil {
		t.errMsg = snap.Error.Message
	} else {
		t.errMsg = ""
	}
	if snap.Status == chat.StatusConnecting || snap.Status == chat.StatusRestarting {
		clear(t.printed)
		t.links = nil
	}
	t.mu.Unlock()

	for i, resp := range snap.Responses {
		if resp.Source == chatmodel.SourceClient || resp.Source == chatmodel.SourceLocal {
			continue
		}
		t.mu.Lock()
		seen := t.printed[resp.ID]
		t.printed[resp.ID] = true
		t.mu.Unlock()
		if seen {
			continue
		}

		var plan *reveal.Plan
		if i == len(snap.Responses)-1 {
			if p, ok := t.reveal.Plan(snap.Responses); ok {
				plan = &p
			}
		}
		if !t.printResponse(ctx, resp, plan) {
			return
		}
	}
}

// printResponse writes resp element by element, waiting for each reveal
// time in plan. It returns false when ctx ends first.
func (t *terminal) printResponse(ctx context.Context, resp chatmodel.Response, plan *reveal.Plan) bool {
	var links []chatmodel.Link
	for i, el := range resp.Elements {
		if plan != nil {
			if !t.waitUntil(ctx, plan.Window.RevealAt) {
				return false
			}
			if i < len(plan.Elements) && !t.waitUntil(ctx, plan.Elements[i].RevealAt) {
				return false
			}
		}

		text, elLinks := renderElement(el)
		t.mu.Lock()
		if text != "" {
			fmt.Fprintln(t.out, text)
		}
		if len(elLinks) > 0 {
			fmt.Fprintln(t.out, renderLinks(elLinks, len(links)))
			links = append(links, elLinks...)
		}
		t.mu.Unlock()
	}

	if len(links) > 0 {
		t.mu.Lock()
		t.links = links
		t.mu.Unlock()
	}
	return true
}

func (t *terminal) waitUntil(ctx context.Context, at time.Time) bool {
	d := at.Sub(t.clock.Now())
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-t.clock.After(d):
		return true
	}
}

func (t *terminal) println(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, line)
}
