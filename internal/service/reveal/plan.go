package reveal

import (
	"time"
)

// Visibility is the display state of a response or element at an instant.
type Visibility int

const (
	Hidden Visibility = iota
	Typing
	Visible
)

func (v Visibility) String() string {
	switch v {
	case Hidden:
		return "hidden"
	case Typing:
		return "typing"
	default:
		return "visible"
	}
}

// MarshalText encodes the visibility by name.
func (v Visibility) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Window is a typing window: a typing indicator from TypingAt, content from
// RevealAt.
type Window struct {
	TypingAt time.Time `json:"typingAt"`
	RevealAt time.Time `json:"revealAt"`
}

// At returns the visibility of the window at instant at.
func (w Window) At(at time.Time) Visibility {
	switch {
	case at.Before(w.TypingAt):
		return Hidden
	case at.Before(w.RevealAt):
		return Typing
	default:
		return Visible
	}
}

// Plan is the reveal schedule of one bot response. Element windows apply
// once the response itself is visible.
type Plan struct {
	ResponseID string   `json:"responseId"`
	Window              // response level
	Elements   []Window `json:"elements"`
}

// Visibility returns the response level visibility at at.
func (p Plan) Visibility(at time.Time) Visibility {
	return p.Window.At(at)
}

// ElementVisibility returns the visibility of element i at at. Until the
// response is visible only the first element shows its typing state; later
// elements stay hidden. Elements the plan does not know about follow the
// response.
func (p Plan) ElementVisibility(i int, at time.Time) Visibility {
	if v := p.Window.At(at); v != Visible {
		if i == 0 {
			return v
		}
		return Hidden
	}
	if i < 0 || i >= len(p.Elements) {
		return Visible
	}
	return p.Elements[i].At(at)
}

// RevealedAt returns the instant from which everything is visible.
func (p Plan) RevealedAt() time.Time {
	last := p.RevealAt
	for _, el := range p.Elements {
		if el.RevealAt.After(last) {
			last = el.RevealAt
		}
	}
	return last
}

// NextTransition returns the earliest instant after at where some
// visibility changes. ok is false once everything is visible.
func (p Plan) NextTransition(at time.Time) (next time.Time, ok bool) {
	consider := func(t time.Time) {
		if t.After(at) && (!ok || t.Before(next)) {
			next, ok = t, true
		}
	}
	consider(p.TypingAt)
	consider(p.RevealAt)
	for _, el := range p.Elements {
		consider(el.TypingAt)
		consider(el.RevealAt)
	}
	return next, ok
}
