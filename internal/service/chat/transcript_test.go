package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatmodel "github.com/nattskiftet/chatbot/internal/model/chat"
)

func ids(responses []chatmodel.Response) []chatmodel.ResponseID {
	out := make([]chatmodel.ResponseID, 0, len(responses))
	for _, r := range responses {
		out = append(out, r.ID)
	}
	return out
}

func TestTranscriptMergeSortsAndDeduplicates(t *testing.T) {
	var transcript Transcript

	added := transcript.Merge([]chatmodel.Response{
		botResponse("b", baseTime.Add(2*time.Second), "b"),
		botResponse("a", baseTime.Add(time.Second), "a"),
		botResponse("a", baseTime.Add(time.Second), "a"),
		{Source: chatmodel.SourceBot, DateCreated: baseTime},
	})

	assert.Equal(t, []chatmodel.ResponseID{"b", "a"}, ids(added))
	assert.Equal(t, []chatmodel.ResponseID{"a", "b"}, ids(transcript.Responses()))
	assert.Equal(t, "b", transcript.LastID())
}

func TestTranscriptMergeIsIdempotent(t *testing.T) {
	var transcript Transcript
	batch := []chatmodel.Response{
		botResponse("1", baseTime, "x"),
		botResponse("2", baseTime, "y"),
		botResponse("3", baseTime.Add(-time.Second), "z"),
	}

	transcript.Merge(batch)
	first := transcript.Responses()
	assert.Empty(t, transcript.Merge(batch))
	assert.Equal(t, first, transcript.Responses())

	// Equal timestamps keep arrival order.
	assert.Equal(t, []chatmodel.ResponseID{"3", "1", "2"}, ids(first))
}

func TestTranscriptReset(t *testing.T) {
	var transcript Transcript
	transcript.Merge([]chatmodel.Response{botResponse("1", baseTime, "x")})
	transcript.Reset()

	assert.Zero(t, transcript.Len())
	assert.Empty(t, transcript.LastID())
	assert.Len(t, transcript.Merge([]chatmodel.Response{botResponse("1", baseTime, "x")}), 1)
}

func TestSendQueueConfirmsByExactText(t *testing.T) {
	var queue SendQueue
	queue.Push("hei", baseTime)
	queue.Push("hvordan går det?", baseTime.Add(time.Second))
	require.Equal(t, 2, queue.Len())

	entry := queue.Entry()
	require.NotNil(t, entry)
	assert.True(t, entry.DateCreated.Equal(baseTime))

	assert.False(t, queue.Confirm([]string{"Hei"}))
	assert.True(t, queue.Confirm([]string{"hei"}))
	assert.Equal(t, []string{"hvordan går det?"}, queue.Entry().Texts())

	assert.True(t, queue.Confirm([]string{"hvordan går det?"}))
	assert.Nil(t, queue.Entry())
	assert.Zero(t, queue.Len())
}

func TestSendQueueEntryIsACopy(t *testing.T) {
	var queue SendQueue
	queue.Push("a", baseTime)
	entry := queue.Entry()

	queue.Push("b", baseTime)
	assert.Equal(t, []string{"a"}, entry.Texts())
}

func TestSendQueueRemoveDropsLatestMatch(t *testing.T) {
	var queue SendQueue
	queue.Push("a", baseTime)
	queue.Push("b", baseTime)
	queue.Push("a", baseTime)

	assert.True(t, queue.Remove("a"))
	assert.Equal(t, []string{"a", "b"}, queue.Entry().Texts())
	assert.False(t, queue.Remove("c"))

	queue.Remove("a")
	queue.Remove("b")
	assert.Nil(t, queue.Entry())
}

func TestReconcile(t *testing.T) {
	var (
		transcript Transcript
		queue      SendQueue
	)
	queue.Push("hei", baseTime)

	assert.Equal(t, reconciliation{}, reconcile(&transcript, &queue, nil, "nb-NO"))
	assert.Equal(t, 1, queue.Len())

	english := botResponse("2", baseTime.Add(time.Second), "Hello")
	english.Language = "en-US"
	result := reconcile(&transcript, &queue, []chatmodel.Response{
		clientResponse("1", baseTime, "hei"),
		english,
	}, "nb-NO")

	assert.Len(t, result.added, 2)
	assert.True(t, result.queueChanged)
	assert.Equal(t, "en-US", result.language)
	assert.Zero(t, queue.Len())

	again := reconcile(&transcript, &queue, []chatmodel.Response{english}, "en-US")
	assert.Empty(t, again.added)
	assert.Empty(t, again.language)
}
