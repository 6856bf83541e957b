package chat

import (
	"slices"

	chatmodel "github.com/nattskiftet/chatbot/internal/model/chat"
)

// Transcript is the local message list: unique by id, ascending by
// date_created, append-only.
type Transcript struct {
	responses []chatmodel.Response
	ids       map[chatmodel.ResponseID]struct{}
}

// Merge appends the responses of batch whose ids are not present yet and
// restores ordering. It returns the appended responses.
func (t *Transcript) Merge(batch []chatmodel.Response) []chatmodel.Response {
	if len(batch) == 0 {
		return nil
	}
	if t.ids == nil {
		t.ids = make(map[chatmodel.ResponseID]struct{}, len(batch))
	}

	var added []chatmodel.Response
	for _, resp := range batch {
		if resp.ID == "" {
			continue
		}
		if _, seen := t.ids[resp.ID]; seen {
			continue
		}
		t.ids[resp.ID] = struct{}{}
		t.responses = append(t.responses, resp)
		added = append(added, resp)
	}

	if len(added) > 0 {
		slices.SortStableFunc(t.responses, func(a, b chatmodel.Response) int {
			return a.DateCreated.Compare(b.DateCreated)
		})
	}
	return added
}

// Responses returns a copy of the ordered list.
func (t *Transcript) Responses() []chatmodel.Response {
	if len(t.responses) == 0 {
		return nil
	}
	return slices.Clone(t.responses)
}

// Len returns the number of responses.
func (t *Transcript) Len() int { return len(t.responses) }

// LastID returns the id of the most recent response, empty when none.
func (t *Transcript) LastID() string {
	if len(t.responses) == 0 {
		return ""
	}
	return t.responses[len(t.responses)-1].ID.String()
}

// Reset drops every response.
func (t *Transcript) Reset() {
	t.responses = nil
	t.ids = nil
}

type reconciliation struct {
	added        []chatmodel.Response
	queueChanged bool
	language     string
}

// reconcile folds batch into transcript and queue. An empty batch leaves
// both untouched. language is set when the most recent response of the
// batch carries a language different from current.
func reconcile(transcript *Transcript, queue *SendQueue, batch []chatmodel.Response, current string) reconciliation {
	if len(batch) == 0 {
		return reconciliation{}
	}

	var result reconciliation
	result.added = transcript.Merge(batch)

	var texts []string
	for _, resp := range batch {
		texts = append(texts, resp.Texts()...)
	}
	result.queueChanged = queue.Confirm(texts)

	if latest := batch[len(batch)-1]; latest.Language != "" && latest.Language != current {
		result.language = latest.Language
	}
	return result
}
