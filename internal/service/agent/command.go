package agent

import "github.com/nattskiftet/chatbot/internal/model/chat"

// Command is the verb of a request to the agent endpoint.
type Command string

const (
	CommandStart  Command = "START"
	CommandResume Command = "RESUME"
	CommandPoll   Command = "POLL"
	CommandPost   Command = "POST"
	CommandTyping Command = "TYPING"
	CommandDelete Command = "DELETE"
)

// request is the JSON body shared by every command.
type request struct {
	Command        Command `json:"command"`
	ConversationID string  `json:"conversation_id,omitempty"`
	Language       string  `json:"language,omitempty"`
	Value          string  `json:"value,omitempty"`
	Type           string  `json:"type,omitempty"`
	ID             string  `json:"id,omitempty"`
}

// StartResult is returned by START.
type StartResult struct {
	Conversation chat.Conversation `json:"conversation"`
	Response     chat.Response     `json:"response"`
}

// Result is returned by RESUME, POLL and POST.
type Result struct {
	Conversation chat.Conversation `json:"conversation"`
	Responses    []chat.Response   `json:"responses"`
}

type conversationResult struct {
	Conversation chat.Conversation `json:"conversation"`
}

// PostType selects what a POST carries.
type PostType string

const (
	PostText       PostType = "text"
	PostActionLink PostType = "action_link"
)

// Message is the payload of a POST command. Build it with Text or ActionLink.
type Message struct {
	Type     PostType
	Text     string
	ActionID string
}

// Text posts a user-composed message.
func Text(message string) Message {
	return Message{Type: PostText, Text: message}
}

// ActionLink posts the selection of an action link.
func ActionLink(id string) Message {
	return Message{Type: PostActionLink, ActionID: id}
}

func (m Message) apply(req *request) {
	req.Type = string(m.Type)
	switch m.Type {
	case PostText:
		req.Value = m.Text
	case PostActionLink:
		req.ID = m.ActionID
	}
}
