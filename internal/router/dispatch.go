package router

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/beaconworks/agentrelay/internal/agents"
	"github.com/beaconworks/agentrelay/internal/platform"
	"github.com/beaconworks/agentrelay/internal/tracing"
)

const apologyText = "Sorry, something went wrong while processing your message. Please try again."

// DispatchResult reports the outcome of one agent invocation for downstream
// observability.
type DispatchResult struct {
	OK            bool
	InteractionID uuid.UUID
}

// dispatch invokes the agent inside a trace span and delivers the reply (or a
// generic apology) through the adapter. Raw internal errors never reach the
// platform.
func (e *Engine) dispatch(ctx context.Context, entry *platform.Entry, msg *platform.IncomingMessage, mention MentionResult, contextLines []string, userID uuid.UUID) DispatchResult {
	adapter := entry.Adapter

	ctx, span := tracing.Tracer().Start(ctx, "agent.execute",
		trace.WithAttributes(
			attribute.String("agent.name", mention.Agent.Name),
			attribute.String("agent.id", mention.Agent.ID.String()),
			attribute.String("trigger.source", adapter.Name()),
			attribute.String("user.id", userID.String()),
		))
	defer span.End()

	result, err := e.executor.Execute(ctx, agents.ExecuteRequest{
		AgentID:        mention.Agent.ID,
		OrganizationID: entry.OrganizationID,
		Message:        assembleMessage(contextLines, mention.Text),
		UserID:         userID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent execution failed")
		slog.Error("agent execution failed",
			"platform", adapter.Name(), "agent", mention.Agent.Name, "channel", msg.ChannelID, "error", err)
		e.reply(ctx, adapter, platform.ReplyRequest{Original: msg, Text: apologyText})
		return DispatchResult{}
	}

	span.SetAttributes(attribute.String("interaction.id", result.InteractionID.String()))

	e.reply(ctx, adapter, platform.ReplyRequest{
		Original: msg,
		Text:     result.Text,
		Footer:   BuildFooter(mention.Agent.Name, mention.FallbackNotice),
	})
	return DispatchResult{OK: true, InteractionID: result.InteractionID}
}
