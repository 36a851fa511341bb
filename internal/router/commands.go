package router

import (
	"context"
	"fmt"

	"github.com/beaconworks/agentrelay/internal/platform"
)

const helpText = `Commands:
  help          Show this message.
  status        Show which agent answers in this channel.
  select-agent  Pick (or change) the agent for this channel.

You can also address a specific agent inline: "AgentName > your question".`

// HandleCommand processes a slash-style command. Commands reuse the binding
// and authorization primitives; status and select-agent require a registered
// user, help is static.
func (e *Engine) HandleCommand(ctx context.Context, platformName string, cmd *platform.Command) error {
	entry, ok := e.registry.Get(platformName)
	if !ok {
		return fmt.Errorf("unknown platform %q", platformName)
	}
	adapter := entry.Adapter

	target := &platform.IncomingMessage{
		ChannelID:   cmd.ChannelID,
		WorkspaceID: cmd.WorkspaceID,
		ThreadID:    cmd.ThreadID,
		Metadata:    cmd.Metadata,
	}

	switch cmd.Name {
	case "help":
		e.reply(ctx, adapter, platform.ReplyRequest{Original: target, Text: helpText})
		return nil

	case "status":
		allowed, err := e.requireRegisteredUser(ctx, entry, adapter, cmd, target)
		if err != nil || !allowed {
			return err
		}
		binding, err := e.stores.Bindings.GetByChannel(ctx, platformName, cmd.ChannelID, cmd.WorkspaceID)
		if err != nil {
			return fmt.Errorf("binding lookup: %w", err)
		}
		text := "No agent is selected for this channel yet. Use select-agent to pick one."
		if binding != nil && binding.AgentID != nil {
			if agent, err := e.stores.Agents.GetByID(ctx, *binding.AgentID); err == nil && agent != nil {
				text = fmt.Sprintf("Messages in this channel are answered by %s.", agent.Name)
			}
		}
		e.reply(ctx, adapter, platform.ReplyRequest{Original: target, Text: text})
		return nil

	case "select-agent":
		allowed, err := e.requireRegisteredUser(ctx, entry, adapter, cmd, target)
		if err != nil || !allowed {
			return err
		}
		e.sendSelectionCard(ctx, entry, cmd.ChannelID, cmd.WorkspaceID, cmd.ThreadID, false)
		return nil

	default:
		e.reply(ctx, adapter, platform.ReplyRequest{
			Original: target,
			Text:     fmt.Sprintf("Unknown command %q.\n\n%s", cmd.Name, helpText),
		})
		return nil
	}
}

// requireRegisteredUser runs the identity half of the authorization gate
// (email resolution and user lookup). A false return means the command was
// denied and the denial already delivered; an error means the identity store
// is unavailable.
func (e *Engine) requireRegisteredUser(ctx context.Context, entry *platform.Entry, adapter platform.Adapter, cmd *platform.Command, target *platform.IncomingMessage) (bool, error) {
	email, err := adapter.UserEmail(ctx, cmd.SenderID)
	if err != nil || email == "" {
		e.reply(ctx, adapter, platform.ReplyRequest{
			Original: target,
			Text:     fmt.Sprintf("I could not verify your identity. Make sure your %s profile exposes an email address, then try again.", adapter.Name()),
		})
		return false, nil
	}
	user, err := e.stores.Identity.UserByEmail(ctx, entry.OrganizationID, email)
	if err != nil {
		return false, fmt.Errorf("user lookup: %w", err)
	}
	if user == nil {
		e.reply(ctx, adapter, platform.ReplyRequest{
			Original: target,
			Text:     fmt.Sprintf("No registered user was found for %s. Ask an administrator to invite you first.", email),
		})
		return false, nil
	}
	return true, nil
}
