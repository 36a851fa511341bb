// Package router implements the message routing and session-binding engine:
// it turns a raw inbound notification from a chat platform into a single,
// authorized, context-enriched agent invocation, and delivers the reply back
// through the originating adapter exactly once per inbound message.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/beaconworks/agentrelay/internal/agents"
	"github.com/beaconworks/agentrelay/internal/platform"
	"github.com/beaconworks/agentrelay/internal/store"
)

// Options are engine tunables.
type Options struct {
	DiscoveryTTL   time.Duration // guard window between discovery sweeps per workspace
	DedupRetention time.Duration // how long processed-message markers are kept
	SweepInterval  time.Duration // how often the retention sweep runs
}

func (o *Options) applyDefaults() {
	if o.DiscoveryTTL <= 0 {
		o.DiscoveryTTL = 15 * time.Minute
	}
	if o.DedupRetention <= 0 {
		o.DedupRetention = 7 * 24 * time.Hour
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Hour
	}
}

// Engine is the routing engine. It holds no per-message state; every inbound
// event is an independent unit of work, and all cross-instance coordination
// happens through the store layer.
type Engine struct {
	stores   *store.Stores
	registry *platform.Registry
	executor agents.Executor
	opts     Options
}

// New creates an engine over the given stores, adapter registry and agent
// executor.
func New(stores *store.Stores, registry *platform.Registry, executor agents.Executor, opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{
		stores:   stores,
		registry: registry,
		executor: executor,
		opts:     opts,
	}
}

// HandleMessage runs the full pipeline for one inbound message:
// dedup gate, binding resolution, inline mention, authorization, thread
// context, then dispatch. Errors returned here mean the engine could not
// guarantee correct processing (dedup or binding store unavailable); the
// adapter layer relies on platform redelivery in that case. Every other
// failure resolves into a reply to the human.
func (e *Engine) HandleMessage(ctx context.Context, platformName string, msg *platform.IncomingMessage) error {
	entry, ok := e.registry.Get(platformName)
	if !ok {
		return fmt.Errorf("unknown platform %q", platformName)
	}
	adapter := entry.Adapter

	fresh, err := e.stores.Dedup.TryMark(ctx, msg.MessageID)
	if err != nil {
		return fmt.Errorf("dedup gate: %w", err)
	}
	if !fresh {
		slog.Debug("duplicate message skipped", "platform", platformName, "message_id", msg.MessageID)
		return nil
	}

	// Opportunistic discovery refresh. Never awaited, never fatal.
	e.backgroundDiscover(ctx, entry, workspaceAliases(adapter, msg.WorkspaceID))

	binding, created, err := e.resolveBinding(ctx, entry, msg)
	if err != nil {
		return fmt.Errorf("resolve binding: %w", err)
	}

	if binding.AgentID == nil {
		// No agent chosen yet: prompt, never execute.
		e.sendSelectionCard(ctx, entry, msg.ChannelID, msg.WorkspaceID, msg.ThreadID, created)
		return nil
	}

	boundAgent, err := e.stores.Agents.GetByID(ctx, *binding.AgentID)
	if err != nil {
		return fmt.Errorf("load bound agent: %w", err)
	}
	if boundAgent == nil {
		// The bound agent was deleted upstream. Re-prompt.
		slog.Warn("bound agent no longer exists", "platform", platformName, "channel", msg.ChannelID, "agent_id", *binding.AgentID)
		e.sendSelectionCard(ctx, entry, msg.ChannelID, msg.WorkspaceID, msg.ThreadID, false)
		return nil
	}

	known, err := e.stores.Agents.ListByOrg(ctx, entry.OrganizationID)
	if err != nil {
		slog.Warn("agent list unavailable, inline mentions disabled for this message", "platform", platformName, "error", err)
		known = []store.AgentRecord{*boundAgent}
	}
	mention := ResolveMention(msg.Text, *boundAgent, known)

	decision, err := e.authorize(ctx, entry, msg.SenderID, msg.SenderEmail, mention.Agent)
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	if !decision.Allowed {
		e.reply(ctx, adapter, platform.ReplyRequest{Original: msg, Text: decision.Reason})
		return nil
	}

	contextLines := e.buildThreadContext(ctx, adapter, msg)

	e.dispatch(ctx, entry, msg, mention, contextLines, decision.UserID)
	return nil
}

// HandleSelection processes a completed agent-selection card. The chooser is
// authorized against the chosen agent before the binding is written; display
// names alone are never trusted.
func (e *Engine) HandleSelection(ctx context.Context, platformName string, sel *platform.AgentSelection) error {
	entry, ok := e.registry.Get(platformName)
	if !ok {
		return fmt.Errorf("unknown platform %q", platformName)
	}
	adapter := entry.Adapter

	target := &platform.IncomingMessage{
		ChannelID:   sel.ChannelID,
		WorkspaceID: sel.WorkspaceID,
		ThreadID:    sel.ThreadID,
	}

	agent, err := e.stores.Agents.GetByID(ctx, sel.AgentID)
	if err != nil {
		return fmt.Errorf("load selected agent: %w", err)
	}
	if agent == nil {
		e.reply(ctx, adapter, platform.ReplyRequest{Original: target, Text: "That agent no longer exists. Pick another one with the select-agent command."})
		return nil
	}

	decision, err := e.authorize(ctx, entry, sel.UserID, "", *agent)
	if err != nil {
		return fmt.Errorf("authorize selection: %w", err)
	}
	if !decision.Allowed {
		e.reply(ctx, adapter, platform.ReplyRequest{Original: target, Text: decision.Reason})
		return nil
	}

	if _, err := e.ApplySelection(ctx, entry, sel, decision.Email); err != nil {
		return fmt.Errorf("apply selection: %w", err)
	}

	e.reply(ctx, adapter, platform.ReplyRequest{
		Original: target,
		Text:     fmt.Sprintf("All set. %s will answer in this conversation.", agent.Name),
	})
	return nil
}

// StartupDiscovery sweeps every registered platform once. Failures are
// per-platform and logged; the sweep never blocks message processing.
func (e *Engine) StartupDiscovery(ctx context.Context) {
	g := &errgroup.Group{}
	g.SetLimit(4)
	for _, entry := range e.registry.All() {
		entry := entry
		g.Go(func() error {
			aliases := workspaceAliases(entry.Adapter, "")
			if err := e.DiscoverChannels(ctx, entry, aliases); err != nil {
				slog.Warn("startup channel discovery failed", "platform", entry.Adapter.Name(), "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// RunRetentionSweep deletes dedup markers past the retention window on a
// timer until ctx is cancelled. Storage hygiene only; failures are logged.
func (e *Engine) RunRetentionSweep(ctx context.Context) {
	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-e.opts.DedupRetention)
			n, err := e.stores.Dedup.PurgeOlderThan(ctx, cutoff)
			if err != nil {
				slog.Warn("dedup retention sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("purged processed-message markers", "count", n)
			}
		}
	}
}

// sendSelectionCard prompts for agent selection in a channel. Card delivery
// failures are logged; the next message re-triggers the prompt anyway.
func (e *Engine) sendSelectionCard(ctx context.Context, entry *platform.Entry, channelID, workspaceID, threadID string, isWelcome bool) {
	agentList, err := e.stores.Agents.ListByOrg(ctx, entry.OrganizationID)
	if err != nil {
		slog.Error("cannot list agents for selection card", "platform", entry.Adapter.Name(), "error", err)
		return
	}
	options := make([]platform.AgentOption, 0, len(agentList))
	for _, a := range agentList {
		options = append(options, platform.AgentOption{ID: a.ID, Name: a.Name})
	}

	err = entry.Adapter.SendSelectionCard(ctx, platform.SelectionCardRequest{
		ChannelID:   channelID,
		WorkspaceID: workspaceID,
		ThreadID:    threadID,
		Agents:      options,
		IsWelcome:   isWelcome,
	})
	if err != nil {
		slog.Error("selection card delivery failed", "platform", entry.Adapter.Name(), "channel", channelID, "error", err)
	}
}

// reply sends text back through the adapter, logging delivery failures.
// Denials and apologies use this same path as successful answers.
func (e *Engine) reply(ctx context.Context, adapter platform.Adapter, req platform.ReplyRequest) {
	if err := adapter.SendReply(ctx, req); err != nil {
		slog.Error("reply delivery failed", "platform", adapter.Name(), "channel", req.Original.ChannelID, "error", err)
	}
}

// workspaceAliases collects the known string forms of a workspace identifier:
// the adapter's own and the one the message arrived under. One logical
// workspace can surface under multiple identifiers.
func workspaceAliases(adapter platform.Adapter, messageWorkspaceID string) []string {
	var aliases []string
	seen := make(map[string]bool)
	for _, id := range []string{adapter.WorkspaceID(), messageWorkspaceID} {
		if id != "" && !seen[id] {
			seen[id] = true
			aliases = append(aliases, id)
		}
	}
	return aliases
}
