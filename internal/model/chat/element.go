package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ElementType tags the payload carried by a response element.
type ElementType string

const (
	ElementText  ElementType = "text"
	ElementHTML  ElementType = "html"
	ElementLinks ElementType = "links"
)

// Element is one display unit of a response. The set of implementations is
// closed: TextElement, HTMLElement, LinksElement and UnknownElement.
type Element interface {
	Type() ElementType
	isElement()
}

// TextElement carries plain text.
type TextElement struct {
	Text string `json:"text"`
}

// HTMLElement carries an HTML fragment as delivered by the agent.
type HTMLElement struct {
	HTML string `json:"html"`
}

// LinksElement carries a collection of action or external links.
type LinksElement struct {
	Links []Link `json:"links"`
}

// UnknownElement keeps elements with a tag this client does not understand.
// Consumers skip it; it is re-encoded unchanged.
type UnknownElement struct {
	Kind    string
	Payload json.RawMessage
}

// Link is one entry of a LinksElement.
type Link struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// LinkTypeExternal marks links that navigate away instead of posting an action.
const LinkTypeExternal = "external_link"

// IsExternal reports whether the link opens a URL rather than triggering an action.
func (l Link) IsExternal() bool {
	return l.URL != "" && l.Type == LinkTypeExternal
}

func (TextElement) Type() ElementType  { return ElementText }
func (HTMLElement) Type() ElementType  { return ElementHTML }
func (LinksElement) Type() ElementType { return ElementLinks }
func (e UnknownElement) Type() ElementType {
	return ElementType(e.Kind)
}

func (TextElement) isElement()    {}
func (HTMLElement) isElement()    {}
func (LinksElement) isElement()   {}
func (UnknownElement) isElement() {}

// Elements is the ordered element list of a response with wire (de)coding
// for the {type, payload} envelope.
type Elements []Element

type elementEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// UnmarshalJSON decodes each envelope into its concrete element.
func (e *Elements) UnmarshalJSON(data []byte) error {
	var envelopes []elementEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return fmt.Errorf("decode elements: %w", err)
	}

	out := make(Elements, 0, len(envelopes))
	for i, env := range envelopes {
		element, err := decodeElement(env)
		if err != nil {
			return fmt.Errorf("decode element %d (%s): %w", i, env.Type, err)
		}
		out = append(out, element)
	}

	*e = out
	return nil
}

// MarshalJSON encodes the elements back into {type, payload} envelopes.
func (e Elements) MarshalJSON() ([]byte, error) {
	envelopes := make([]elementEnvelope, 0, len(e))
	for _, element := range e {
		var (
			payload []byte
			err     error
		)

		switch el := element.(type) {
		case TextElement, HTMLElement, LinksElement:
			payload, err = json.Marshal(el)
		case UnknownElement:
			payload = el.Payload
			if len(payload) == 0 {
				payload = []byte("null")
			}
		default:
			return nil, fmt.Errorf("unsupported element %T", element)
		}
		if err != nil {
			return nil, err
		}

		envelopes = append(envelopes, elementEnvelope{
			Type:    string(element.Type()),
			Payload: payload,
		})
	}
	return json.Marshal(envelopes)
}

func decodeElement(env elementEnvelope) (Element, error) {
	switch ElementType(env.Type) {
	case ElementText:
		var el TextElement
		if err := unmarshalPayload(env.Payload, &el); err != nil {
			return nil, err
		}
		return el, nil
	case ElementHTML:
		var el HTMLElement
		if err := unmarshalPayload(env.Payload, &el); err != nil {
			return nil, err
		}
		return el, nil
	case ElementLinks:
		var el LinksElement
		if err := unmarshalPayload(env.Payload, &el); err != nil {
			return nil, err
		}
		return el, nil
	default:
		var compact bytes.Buffer
		if len(env.Payload) > 0 {
			if err := json.Compact(&compact, env.Payload); err != nil {
				return nil, err
			}
		}
		return UnknownElement{Kind: env.Type, Payload: compact.Bytes()}, nil
	}
}

func unmarshalPayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	return json.Unmarshal(payload, v)
}
