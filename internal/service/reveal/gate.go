package reveal

import (
	"sync"
	"time"
)

// Gate latches visibility: once a response or element has been seen as
// Visible it stays Visible, even if the observed clock moves backwards.
type Gate struct {
	plan Plan

	mu       sync.Mutex
	revealed bool
	elements []bool
}

func NewGate(plan Plan) *Gate {
	return &Gate{plan: plan, elements: make([]bool, len(plan.Elements))}
}

// Plan returns the gated plan.
func (g *Gate) Plan() Plan { return g.plan }

func (g *Gate) Visibility(at time.Time) Visibility {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.revealed {
		return Visible
	}
	v := g.plan.Visibility(at)
	if v == Visible {
		g.revealed = true
	}
	return v
}

func (g *Gate) ElementVisibility(i int, at time.Time) Visibility {
	g.mu.Lock()
	defer g.mu.Unlock()

	if i >= 0 && i < len(g.elements) && g.elements[i] {
		return Visible
	}
	v := g.plan.ElementVisibility(i, at)
	if v == Visible {
		g.revealed = true
		if i >= 0 && i < len(g.elements) {
			g.elements[i] = true
		}
	}
	return v
}
