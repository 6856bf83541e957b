package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResponse = `{
	"id": 1234,
	"language": "nb-NO",
	"source": "bot",
	"avatar_url": "https://example.com/a.png",
	"date_created": "2020-03-02T10:15:00.123Z",
	"elements": [
		{"type": "text", "payload": {"text": "Hei!"}},
		{"type": "html", "payload": {"html": "<p>Velkommen</p>"}},
		{"type": "links", "payload": {"links": [
			{"id": "1", "text": "Dagpenger", "type": "action_link"},
			{"id": "2", "text": "nav.no", "type": "external_link", "url": "https://nav.no"}
		]}},
		{"type": "carousel", "payload": {"cards": []}}
	]
}`

func TestResponseDecodesTaggedElements(t *testing.T) {
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(sampleResponse), &resp))

	assert.Equal(t, ResponseID("1234"), resp.ID)
	assert.Equal(t, SourceBot, resp.Source)
	assert.Equal(t, time.Date(2020, 3, 2, 10, 15, 0, 123000000, time.UTC), resp.DateCreated.UTC())
	require.Len(t, resp.Elements, 4)

	assert.Equal(t, TextElement{Text: "Hei!"}, resp.Elements[0])
	assert.Equal(t, HTMLElement{HTML: "<p>Velkommen</p>"}, resp.Elements[1])

	links, ok := resp.Elements[2].(LinksElement)
	require.True(t, ok)
	require.Len(t, links.Links, 2)
	assert.False(t, links.Links[0].IsExternal())
	assert.True(t, links.Links[1].IsExternal())

	unknown, ok := resp.Elements[3].(UnknownElement)
	require.True(t, ok)
	assert.Equal(t, ElementType("carousel"), unknown.Type())

	assert.Equal(t, []string{"Hei!"}, resp.Texts())
}

func TestResponseKeepsUnknownElementsOnEncode(t *testing.T) {
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(sampleResponse), &resp))

	encoded, err := json.Marshal(resp)
	require.NoError(t, err)

	var again Response
	require.NoError(t, json.Unmarshal(encoded, &again))
	assert.Equal(t, resp.Elements, again.Elements)
	assert.Equal(t, ResponseID("1234"), again.ID)
}

func TestResponseIDAcceptsStrings(t *testing.T) {
	var id ResponseID
	require.NoError(t, json.Unmarshal([]byte(`"abc"`), &id))
	assert.Equal(t, "abc", id.String())

	require.Error(t, json.Unmarshal([]byte(`{}`), &id))
}

func TestConversationStateEqual(t *testing.T) {
	limit := 110
	sameLimit := 110
	other := 200

	a := ConversationState{ChatStatus: ChatStatusVirtualAgent, MaxInputChars: &limit}
	b := ConversationState{ChatStatus: ChatStatusVirtualAgent, MaxInputChars: &sameLimit}
	c := ConversationState{ChatStatus: ChatStatusVirtualAgent, MaxInputChars: &other}
	d := ConversationState{ChatStatus: ChatStatusVirtualAgent}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))
	assert.True(t, d.Equal(ConversationState{ChatStatus: ChatStatusVirtualAgent}))

	assert.Equal(t, 110, d.MaxInput(110))
	assert.Equal(t, 200, c.MaxInput(110))
}

func TestResponseAcceptsZonelessTimestamps(t *testing.T) {
	tests := map[string]struct {
		in   string
		want time.Time
	}{
		"rfc3339":         {in: `"2019-09-05T10:25:48.457592Z"`, want: time.Date(2019, 9, 5, 10, 25, 48, 457592000, time.UTC)},
		"offset":          {in: `"2019-09-05T12:25:48+02:00"`, want: time.Date(2019, 9, 5, 10, 25, 48, 0, time.UTC)},
		"zoneless":        {in: `"2019-09-05T10:25:48.457592"`, want: time.Date(2019, 9, 5, 10, 25, 48, 457592000, time.UTC)},
		"zoneless second": {in: `"2019-09-05T10:25:48"`, want: time.Date(2019, 9, 5, 10, 25, 48, 0, time.UTC)},
		"empty":           {in: `""`},
		"null":            {in: `null`},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var resp Response
			require.NoError(t, json.Unmarshal([]byte(`{"id":"r-1","source":"bot","date_created":`+tc.in+`,"elements":[{"type":"text","payload":{"text":"Hei"}}]}`), &resp))
			assert.True(t, tc.want.Equal(resp.DateCreated), "got %s", resp.DateCreated)
			assert.Equal(t, ResponseID("r-1"), resp.ID)
			assert.Equal(t, []string{"Hei"}, resp.Texts())
		})
	}
}

func TestResponseRejectsMalformedTimestamps(t *testing.T) {
	var resp Response
	err := json.Unmarshal([]byte(`{"id":"r-1","date_created":"yesterday"}`), &resp)
	assert.Error(t, err)
}
