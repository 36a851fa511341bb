package platform

import (
	"time"

	"github.com/google/uuid"
)

// IncomingMessage is a normalized inbound event from a chat platform.
// Adapters produce one per platform notification; it is never persisted,
// only the artifacts derived from it are.
type IncomingMessage struct {
	MessageID     string            `json:"message_id"`   // platform-unique
	ChannelID     string            `json:"channel_id"`
	WorkspaceID   string            `json:"workspace_id"` // empty when the platform has no workspace concept
	ThreadID      string            `json:"thread_id,omitempty"`
	SenderID      string            `json:"sender_id"`
	SenderName    string            `json:"sender_name"`
	SenderEmail   string            `json:"sender_email,omitempty"` // pre-resolved by the adapter when cheap
	Text          string            `json:"text"`
	RawText       string            `json:"raw_text"`
	Timestamp     time.Time         `json:"timestamp"`
	IsThreadReply bool              `json:"is_thread_reply"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Metadata keys adapters may set on IncomingMessage.
const (
	MetaDirectMessage = "dm"            // "true" for direct conversations
	MetaRoutingToken  = "routing_token" // reply-routing token (e.g. Teams serviceUrl, Slack response_url)
)

// IsDM reports whether the message arrived in a direct conversation.
func (m *IncomingMessage) IsDM() bool {
	return m.Metadata[MetaDirectMessage] == "true"
}

// AgentSelection is the result of a human completing an agent-selection card.
// Ephemeral: consumed immediately, never persisted.
type AgentSelection struct {
	WorkspaceID string
	ChannelID   string
	AgentID     uuid.UUID
	UserID      string // platform user ID of the chooser
	UserName    string
	ThreadID    string
	IsDM        bool
}

// Command is a parsed slash-style command.
type Command struct {
	Name        string // "help", "status", "select-agent"
	ChannelID   string
	WorkspaceID string
	SenderID    string
	SenderName  string
	ThreadID    string
	Metadata    map[string]string
}

// ChannelInfo describes one channel discovered in a workspace.
type ChannelInfo struct {
	ID          string
	Name        string
	WorkspaceID string
	IsDM        bool
}

// HistoryEntry is one prior message fetched for thread context.
type HistoryEntry struct {
	SenderName    string
	Text          string
	FromAssistant bool // authored by the bot itself
}

// ThreadHistoryRequest asks an adapter for prior messages in a thread.
type ThreadHistoryRequest struct {
	ChannelID        string
	WorkspaceID      string
	ThreadID         string
	ExcludeMessageID string // the triggering message, never part of its own context
}

// ReplyRequest delivers text back to the originating conversation.
// Footer, when set, is rendered by the adapter in platform-native markup.
type ReplyRequest struct {
	Original *IncomingMessage
	Text     string
	Footer   string
	// RoutingToken overrides Original.Metadata[MetaRoutingToken] when the
	// reply is not tied to an inbound message (e.g. selection confirmations).
	RoutingToken string
}

// AgentOption is one choice on a selection card.
type AgentOption struct {
	ID   uuid.UUID
	Name string
}

// SelectionCardRequest asks the adapter to render an agent-selection prompt.
type SelectionCardRequest struct {
	ChannelID   string
	WorkspaceID string
	ThreadID    string
	Agents      []AgentOption
	IsWelcome   bool // first contact in a channel gets a welcome framing
}
