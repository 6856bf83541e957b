package chat

import (
	"time"

	chatmodel "github.com/nattskiftet/chatbot/internal/model/chat"
)

// SendQueue holds locally composed messages the agent has not echoed back
// yet. It is a single synthetic local response with one text element per
// message, or nothing at all.
//
// Confirmation matches on exact text, so two queued messages with the same
// text are confirmed together.
type SendQueue struct {
	entry *chatmodel.Response
}

// Push appends text to the queue entry, creating it at now if needed.
func (q *SendQueue) Push(text string, now time.Time) {
	if q.entry == nil {
		q.entry = &chatmodel.Response{
			ID:          chatmodel.LocalResponseID,
			Source:      chatmodel.SourceLocal,
			DateCreated: now,
		}
	}
	elements := make(chatmodel.Elements, 0, len(q.entry.Elements)+1)
	elements = append(elements, q.entry.Elements...)
	q.entry.Elements = append(elements, chatmodel.TextElement{Text: text})
}

// Confirm drops queued messages whose text appears in texts. It reports
// whether the queue changed. An emptied queue is cleared.
func (q *SendQueue) Confirm(texts []string) bool {
	if q.entry == nil || len(texts) == 0 {
		return false
	}

	confirmed := make(map[string]struct{}, len(texts))
	for _, text := range texts {
		confirmed[text] = struct{}{}
	}

	kept := make(chatmodel.Elements, 0, len(q.entry.Elements))
	for _, element := range q.entry.Elements {
		text, ok := element.(chatmodel.TextElement)
		if !ok {
			continue
		}
		if _, done := confirmed[text.Text]; done {
			continue
		}
		kept = append(kept, element)
	}

	if len(kept) == 0 {
		q.entry = nil
		return true
	}
	changed := len(kept) != len(q.entry.Elements)
	q.entry.Elements = kept
	return changed
}

// Remove drops the most recently queued message with text. It reports
// whether anything was removed.
func (q *SendQueue) Remove(text string) bool {
	if q.entry == nil {
		return false
	}
	for i := len(q.entry.Elements) - 1; i >= 0; i-- {
		if el, ok := q.entry.Elements[i].(chatmodel.TextElement); ok && el.Text == text {
			elements := make(chatmodel.Elements, 0, len(q.entry.Elements)-1)
			elements = append(elements, q.entry.Elements[:i]...)
			elements = append(elements, q.entry.Elements[i+1:]...)
			if len(elements) == 0 {
				q.entry = nil
			} else {
				q.entry.Elements = elements
			}
			return true
		}
	}
	return false
}

// Len returns the number of queued messages.
func (q *SendQueue) Len() int {
	if q.entry == nil {
		return 0
	}
	return len(q.entry.Elements)
}

// Entry returns a copy of the queue entry, or nil when empty.
func (q *SendQueue) Entry() *chatmodel.Response {
	if q.entry == nil {
		return nil
	}
	clone := q.entry.Clone()
	return &clone
}

// Clear empties the queue.
func (q *SendQueue) Clear() {
	q.entry = nil
}
