package widget

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/nattskiftet/chatbot/internal/model/prefs"
	"github.com/nattskiftet/chatbot/internal/service/chat"
)

// Gauge receives the number of live widgets. prometheus.Gauge satisfies it.
type Gauge interface {
	Set(float64)
}

// Registry owns the widgets of a gateway, keyed by widget id.
type Registry struct {
	backend chat.Backend
	opts    Options
	ttl     time.Duration
	clock   clockwork.Clock
	logger  zerolog.Logger
	gauge   Gauge

	mu      sync.Mutex
	widgets map[string]*Widget
}

func NewRegistry(backend chat.Backend, ttl time.Duration, opts Options, gauge Gauge) *Registry {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Registry{
		backend: backend,
		opts:    opts,
		ttl:     ttl,
		clock:   opts.Clock,
		logger:  opts.Logger.With().Str("component", "widgets").Logger(),
		gauge:   gauge,
		widgets: make(map[string]*Widget),
	}
}

// Acquire returns the widget with id, creating it from saved when missing.
// Unknown or malformed ids get a fresh uuid. language, when set, overrides
// the configured client language of a new widget. A new widget with a saved
// conversation id resumes it in the background. w is nil when the registry
// is full even after evicting idle widgets.
func (r *Registry) Acquire(id string, saved prefs.Preferences, language string) (w *Widget, created bool) {
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}

	r.mu.Lock()
	if existing, ok := r.widgets[id]; ok {
		r.mu.Unlock()
		existing.Touch()
		return existing, false
	}
	if r.fullLocked() {
		r.mu.Unlock()
		r.Sweep()
		r.mu.Lock()
		if existing, ok := r.widgets[id]; ok {
			r.mu.Unlock()
			existing.Touch()
			return existing, false
		}
		if r.fullLocked() {
			r.mu.Unlock()
			r.logger.Warn().Int("max_widgets", r.opts.MaxWidgets).Msg("widget registry full")
			return nil, false
		}
	}

	opts := r.opts
	if language != "" {
		opts.Session.ClientLanguage = language
	}
	w = New(id, r.backend, prefs.NewMemoryStore(saved), opts)
	r.widgets[id] = w
	count := len(r.widgets)
	r.mu.Unlock()

	r.report(count)
	r.logger.Info().Str("widget_id", id).Bool("resume", saved.ConversationID != "").Msg("widget created")

	if saved.ConversationID != "" {
		go func() {
			if err := w.Resume(context.Background()); err != nil {
				r.logger.Warn().Err(err).Str("widget_id", id).Msg("resume failed")
			}
		}()
	}
	return w, true
}

func (r *Registry) fullLocked() bool {
	return r.opts.MaxWidgets > 0 && len(r.widgets) >= r.opts.MaxWidgets
}

// Get returns the widget with id.
func (r *Registry) Get(id string) (*Widget, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.widgets[id]
	return w, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.widgets)
}

// Sweep shuts down widgets idle for longer than the ttl and returns how
// many were evicted.
func (r *Registry) Sweep() int {
	cutoff := r.clock.Now().Add(-r.ttl)

	r.mu.Lock()
	var idle []*Widget
	for id, w := range r.widgets {
		if w.LastSeen().Before(cutoff) {
			idle = append(idle, w)
			delete(r.widgets, id)
		}
	}
	count := len(r.widgets)
	r.mu.Unlock()

	for _, w := range idle {
		w.Shutdown()
	}
	if len(idle) > 0 {
		r.report(count)
		r.logger.Info().Int("evicted", len(idle)).Msg("evicted idle widgets")
	}
	return len(idle)
}

// Run sweeps idle widgets until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.Sweep()
		}
	}
}

// CloseAll shuts down every widget.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	widgets := r.widgets
	r.widgets = make(map[string]*Widget)
	r.mu.Unlock()

	for _, w := range widgets {
		w.Shutdown()
	}
	r.report(0)
}

func (r *Registry) report(count int) {
	if r.gauge != nil {
		r.gauge.Set(float64(count))
	}
}
