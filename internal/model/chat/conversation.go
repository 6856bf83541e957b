package chat

// Conversation is the remote-tracked chat session and its status flags.
type Conversation struct {
	ID        string            `json:"id"`
	Reference string            `json:"reference"`
	State     ConversationState `json:"state"`
}

// ConversationState mirrors the state record the agent attaches to every reply.
type ConversationState struct {
	ChatStatus              string `json:"chat_status"`
	AllowDeleteConversation bool   `json:"allow_delete_conversation"`
	HumanIsTyping           bool   `json:"human_is_typing"`
	MaxInputChars           *int   `json:"max_input_chars,omitempty"`
}

// Equal compares two states by value.
func (s ConversationState) Equal(other ConversationState) bool {
	if s.ChatStatus != other.ChatStatus ||
		s.AllowDeleteConversation != other.AllowDeleteConversation ||
		s.HumanIsTyping != other.HumanIsTyping {
		return false
	}

	switch {
	case s.MaxInputChars == nil && other.MaxInputChars == nil:
		return true
	case s.MaxInputChars == nil || other.MaxInputChars == nil:
		return false
	default:
		return *s.MaxInputChars == *other.MaxInputChars
	}
}

// MaxInput returns the input limit announced by the agent, or fallback when absent.
func (s ConversationState) MaxInput(fallback int) int {
	if s.MaxInputChars == nil || *s.MaxInputChars <= 0 {
		return fallback
	}
	return *s.MaxInputChars
}

// Chat statuses reported by the agent that callers commonly branch on.
const (
	ChatStatusVirtualAgent     = "virtual_agent"
	ChatStatusInHumanChatQueue = "in_human_chat_queue"
	ChatStatusAssignedToHuman  = "assigned_to_human"
)
