package widget

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	chatmodel "github.com/nattskiftet/chatbot/internal/model/chat"
	"github.com/nattskiftet/chatbot/internal/model/prefs"
	"github.com/nattskiftet/chatbot/internal/service/chat"
	"github.com/nattskiftet/chatbot/internal/service/reveal"
)

// Options configures widgets created by New and by a Registry.
type Options struct {
	Session     chat.Config
	RevealDelay time.Duration
	Clock       clockwork.Clock
	Logger      zerolog.Logger
	// OnStatus observes status changes of every widget session.
	OnStatus chat.StatusFunc
	// MaxWidgets caps the number of widgets a Registry holds. Zero means
	// no cap.
	MaxWidgets int
}

// Widget is one embedded chat window: a session plus the open flag and
// unread counter of the window that shows it.
type Widget struct {
	id      string
	store   prefs.Store
	manager *chat.Manager
	reveal  *reveal.Scheduler
	clock   clockwork.Clock
	logger  zerolog.Logger

	mu       sync.Mutex
	lastSeen time.Time
}

// View is what the presentation layer renders.
type View struct {
	chat.Snapshot
	WidgetID string       `json:"widgetId"`
	Open     bool         `json:"open"`
	Unread   int          `json:"unread"`
	Reveal   *reveal.Plan `json:"reveal,omitempty"`
}

func New(id string, backend chat.Backend, store prefs.Store, opts Options) *Widget {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	logger := opts.Logger.With().Str("widget_id", id).Logger()

	w := &Widget{
		id:       id,
		store:    store,
		reveal:   reveal.NewScheduler(opts.RevealDelay),
		clock:    opts.Clock,
		logger:   logger,
		lastSeen: opts.Clock.Now(),
	}

	managerOpts := []chat.Option{
		chat.WithConfig(opts.Session),
		chat.WithClock(opts.Clock),
		chat.WithLogger(logger),
		chat.OnMerge(w.merged),
		chat.OnStatus(w.statusChanged),
	}
	if opts.OnStatus != nil {
		managerOpts = append(managerOpts, chat.OnStatus(opts.OnStatus))
	}
	w.manager = chat.NewManager(backend, store, managerOpts...)
	return w
}

func (w *Widget) ID() string { return w.id }

func (w *Widget) Manager() *chat.Manager { return w.manager }

func (w *Widget) Store() prefs.Store { return w.store }

// Touch marks the widget as in use.
func (w *Widget) Touch() {
	w.mu.Lock()
	w.lastSeen = w.clock.Now()
	w.mu.Unlock()
}

// LastSeen returns when the widget was last touched.
func (w *Widget) LastSeen() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}

// Resume reconnects to the saved conversation, if any.
func (w *Widget) Resume(ctx context.Context) error {
	if w.store.ConversationID() == "" {
		return nil
	}
	return w.manager.Start(ctx)
}

// Open shows the window, clears the unread counter and starts a session
// when none is running.
func (w *Widget) Open(ctx context.Context) error {
	w.store.SetOpen(true)
	w.store.SetUnread(0)

	if w.manager.Status().Startable() {
		return w.manager.Start(ctx)
	}
	return nil
}

// Close hides the window.
func (w *Widget) Close() {
	w.store.SetOpen(false)
	w.store.SetUnread(0)
}

func (w *Widget) Restart(ctx context.Context) error {
	w.store.SetUnread(0)
	return w.manager.Restart(ctx)
}

// Finish ends the session and hides the window.
func (w *Widget) Finish(ctx context.Context) error {
	w.store.SetOpen(false)
	w.store.SetUnread(0)
	return w.manager.Finish(ctx)
}

// View returns the current session snapshot with window state and the
// reveal plan of the latest bot response.
func (w *Widget) View() View {
	return w.viewOf(w.manager.Snapshot())
}

func (w *Widget) viewOf(snap chat.Snapshot) View {
	p := w.store.Load()
	view := View{
		Snapshot: snap,
		WidgetID: w.id,
		Open:     p.Open,
		Unread:   p.Unread,
	}
	if plan, ok := w.reveal.Plan(snap.Responses); ok {
		view.Reveal = &plan
	}
	return view
}

// Watch streams views until ctx is done or the widget shuts down.
func (w *Widget) Watch(ctx context.Context) <-chan View {
	out := make(chan View, 1)
	snapshots, cancel := w.manager.Subscribe()

	go func() {
		defer close(out)
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-snapshots:
				if !ok {
					return
				}
				select {
				case out <- w.viewOf(snap):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Shutdown stops the session. The saved conversation id is kept.
func (w *Widget) Shutdown() {
	w.manager.Close()
}

func (w *Widget) merged(added []chatmodel.Response) {
	if w.store.Load().Open {
		return
	}
	unread := 0
	for _, resp := range added {
		if resp.Source != chatmodel.SourceClient {
			unread++
		}
	}
	if unread > 0 {
		total := w.store.AddUnread(unread)
		w.logger.Debug().Int("unread", total).Msg("unread responses")
	}
}

func (w *Widget) statusChanged(_, to chat.Status) {
	switch to {
	case chat.StatusDisconnected, chat.StatusEnded, chat.StatusError:
		w.store.SetUnread(0)
	}
}
