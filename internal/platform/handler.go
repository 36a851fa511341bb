package platform

import "context"

// Handler is the engine-side sink adapters deliver normalized events into.
// Socket-mode adapters call it from their own event loops; webhook-mode
// adapters are driven through the gateway HTTP layer instead.
type Handler interface {
	HandleMessage(ctx context.Context, platformName string, msg *IncomingMessage) error
	HandleSelection(ctx context.Context, platformName string, sel *AgentSelection) error
	HandleCommand(ctx context.Context, platformName string, cmd *Command) error
}

// Handshaker is implemented by adapters whose platform requires an immediate
// synchronous response to certain webhook bodies (e.g. Slack URL
// verification). The gateway consults it before normal parsing.
type Handshaker interface {
	// HandshakeResponse returns the bytes to answer with and true when body
	// is a handshake rather than an event.
	HandshakeResponse(body []byte) ([]byte, bool)
}
