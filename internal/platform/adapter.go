// Package platform provides the adapter abstraction between chat platforms
// and the routing engine. One Adapter implementation exists per platform
// (Slack, Discord, ...); the engine never inspects platform identity except
// as an opaque label for binding keys and tracing.
package platform

import (
	"context"
	"errors"
	"net/http"
)

// ErrNotSupported is returned by capability methods a platform cannot serve
// (e.g. slash commands on platforms without them).
var ErrNotSupported = errors.New("platform: capability not supported")

// Adapter is the capability set every platform integration must provide.
// All methods that touch the platform's API take a context because they are
// network calls; the engine treats every one as a suspension point.
type Adapter interface {
	// Name returns the platform identifier ("slack", "discord").
	// Used as the binding key component and the tracing trigger source.
	Name() string

	// IsConfigured reports whether credentials are present.
	IsConfigured() bool

	// Initialize establishes the platform connection. For socket-mode
	// platforms this starts the event loop; it must not block after setup.
	Initialize(ctx context.Context) error

	// Cleanup tears down the connection.
	Cleanup(ctx context.Context) error

	// WorkspaceID returns the connected workspace identifier, empty when the
	// platform has no workspace concept.
	WorkspaceID() string

	// WorkspaceName returns a human-readable workspace label.
	WorkspaceName() string

	// IsSocketMode reports whether events arrive over a persistent socket
	// rather than webhook push.
	IsSocketMode() bool

	// DiscoverChannels enumerates all channels visible to the connection.
	DiscoverChannels(ctx context.Context) ([]ChannelInfo, error)

	// ParseNotification normalizes a webhook body into an IncomingMessage.
	// Returns (nil, nil) for events that carry no routable message
	// (bot echoes, edits, verification handshakes).
	ParseNotification(body []byte, header http.Header) (*IncomingMessage, error)

	// ParseInteractivePayload normalizes an interactive-card response.
	// Returns (nil, nil) for interactions the engine does not handle.
	ParseInteractivePayload(payload []byte, header http.Header) (*AgentSelection, error)

	// ParseCommand normalizes a slash-command payload.
	// Returns ErrNotSupported on platforms without slash commands.
	ParseCommand(body []byte, header http.Header) (*Command, error)

	// UserEmail resolves a sender's email address via the platform API.
	// Returns "" with nil error when the platform simply does not know it.
	UserEmail(ctx context.Context, senderID string) (string, error)

	// ThreadHistory fetches prior messages of a thread, excluding the
	// triggering message.
	ThreadHistory(ctx context.Context, req ThreadHistoryRequest) ([]HistoryEntry, error)

	// SendReply delivers text (and optional footer) to the conversation the
	// original message came from.
	SendReply(ctx context.Context, req ReplyRequest) error

	// SendSelectionCard renders the agent-selection prompt in a channel.
	SendSelectionCard(ctx context.Context, req SelectionCardRequest) error
}
