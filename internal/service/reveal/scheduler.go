package reveal

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nattskiftet/chatbot/internal/model/chat"
)

// DefaultDelay is the per message typing delay.
const DefaultDelay = 1250 * time.Millisecond

// Scheduler computes reveal plans. Only the most recent response is ever
// delayed, and only when the bot wrote it. Plans are memoized per response
// id so repeated queries see the same jitter.
type Scheduler struct {
	delay time.Duration
	rand  func() float64

	mu     sync.Mutex
	latest *Plan
}

type Option func(*Scheduler)

// WithRand replaces the jitter source. fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(s *Scheduler) { s.rand = fn }
}

func NewScheduler(delay time.Duration, opts ...Option) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	s := &Scheduler{delay: delay, rand: rand.Float64}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Plan returns the schedule for the last response in responses. ok is false
// when nothing needs to be delayed.
func (s *Scheduler) Plan(responses []chat.Response) (Plan, bool) {
	if len(responses) == 0 {
		return Plan{}, false
	}
	index := len(responses) - 1
	last := responses[index]
	if last.Source != chat.SourceBot {
		return Plan{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latest != nil && s.latest.ResponseID == last.ID.String() {
		return *s.latest, true
	}
	plan := s.build(last, index)
	s.latest = &plan
	return plan, true
}

// Visibility returns the visibility of responses[i] at at. History renders
// immediately.
func (s *Scheduler) Visibility(responses []chat.Response, i int, at time.Time) Visibility {
	if i != len(responses)-1 {
		return Visible
	}
	plan, ok := s.Plan(responses)
	if !ok {
		return Visible
	}
	return plan.Visibility(at)
}

func (s *Scheduler) build(resp chat.Response, index int) Plan {
	buffer := s.delay / 2

	typingAt := resp.DateCreated
	if index > 0 {
		typingAt = typingAt.Add(s.delay)
	}
	plan := Plan{
		ResponseID: resp.ID.String(),
		Window: Window{
			TypingAt: typingAt,
			RevealAt: typingAt.Add(s.jitter(buffer)),
		},
		Elements: make([]Window, len(resp.Elements)),
	}

	for i, element := range resp.Elements {
		if i == 0 {
			plan.Elements[i] = plan.Window
			continue
		}
		elementTypingAt := plan.RevealAt.Add(s.delay * time.Duration(i))
		elementRevealAt := elementTypingAt
		if element.Type() != chat.ElementLinks {
			elementRevealAt = elementTypingAt.Add(s.jitter(buffer))
		}
		plan.Elements[i] = Window{TypingAt: elementTypingAt, RevealAt: elementRevealAt}
	}
	return plan
}

// jitter returns a duration in [buffer, 2*buffer).
func (s *Scheduler) jitter(buffer time.Duration) time.Duration {
	return buffer + time.Duration(float64(buffer)*s.rand())
}
