package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Source identifies who authored a response.
type Source string

const (
	SourceBot    Source = "bot"
	SourceClient Source = "client"
	SourceLocal  Source = "local"
)

// LocalResponseID is the id of the synthetic send-queue response.
const LocalResponseID = "local"

// Response is one server-delivered message unit.
type Response struct {
	ID          ResponseID `json:"id"`
	Language    string     `json:"language,omitempty"`
	Source      Source     `json:"source"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	DateCreated time.Time  `json:"date_created"`
	Elements    Elements   `json:"elements"`
	LinkText    string     `json:"link_text,omitempty"`
}

// UnmarshalJSON decodes r, reading date_created leniently.
func (r *Response) UnmarshalJSON(data []byte) error {
	type plain Response
	aux := struct {
		*plain
		DateCreated Timestamp `json:"date_created"`
	}{plain: (*plain)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.DateCreated = aux.DateCreated.Time()
	return nil
}

// Texts returns the literal text of every text element, in order.
func (r Response) Texts() []string {
	var texts []string
	for _, element := range r.Elements {
		if text, ok := element.(TextElement); ok {
			texts = append(texts, text.Text)
		}
	}
	return texts
}

// Clone returns a copy whose element slice can be modified independently.
func (r Response) Clone() Response {
	clone := r
	if r.Elements != nil {
		clone.Elements = append(Elements(nil), r.Elements...)
	}
	return clone
}

// ResponseID is a response identifier. The agent sends either JSON strings
// or numbers; both decode to the same string form.
type ResponseID string

// String returns the identifier.
func (id ResponseID) String() string { return string(id) }

// UnmarshalJSON accepts string and numeric identifiers.
func (id *ResponseID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ResponseID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("response id: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("response id: %w", err)
	}
	*id = ResponseID(n.String())
	return nil
}
