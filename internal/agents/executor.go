// Package agents defines the boundary to the agent execution engine. The
// routing engine only knows how to hand it an assembled message and receive
// text back; prompt construction, model invocation, and tool calling happen
// on the other side.
package agents

import (
	"context"

	"github.com/google/uuid"
)

// ExecuteRequest is one agent invocation.
type ExecuteRequest struct {
	AgentID        uuid.UUID `json:"agent_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Message        string    `json:"message"`
	UserID         uuid.UUID `json:"user_id"`
}

// ExecuteResult is the agent's answer.
type ExecuteResult struct {
	Text          string    `json:"text"`
	InteractionID uuid.UUID `json:"interaction_id"`
}

// Executor invokes an agent and returns its reply. Implementations are slow
// network calls; the engine never imposes a timeout of its own.
type Executor interface {
	Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error)
}
