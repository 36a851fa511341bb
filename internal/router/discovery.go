package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/beaconworks/agentrelay/internal/platform"
	"github.com/beaconworks/agentrelay/internal/store"
)

// DiscoverChannels enumerates the workspace's channels and reconciles the
// binding store against the result: new channels get unbound entries, known
// channels get refreshed display names, channels gone upstream lose their
// bindings (across every workspace alias), and duplicate rows that
// accumulated under different aliases collapse to one. DM bindings are
// exempt from pruning since enumeration never lists them.
//
// A store-backed TTL guard keyed on (platform, workspace) limits the
// expensive enumeration to once per window across all engine instances. The
// guard is written only after a successful pass, so failures retry on the
// next trigger instead of being suppressed for a whole TTL.
func (e *Engine) DiscoverChannels(ctx context.Context, entry *platform.Entry, workspaceAliases []string) error {
	adapter := entry.Adapter
	platformName := adapter.Name()

	canonical := adapter.WorkspaceID()
	if canonical == "" && len(workspaceAliases) > 0 {
		canonical = workspaceAliases[0]
	}

	cacheKey := fmt.Sprintf("discovery:%s:%s", platformName, canonical)
	if _, hit, err := e.stores.Cache.Get(ctx, cacheKey); err != nil {
		slog.Warn("discovery guard read failed, proceeding without it", "platform", platformName, "error", err)
	} else if hit {
		return nil
	}

	channels, err := adapter.DiscoverChannels(ctx)
	if err != nil {
		return fmt.Errorf("discover channels: %w", err)
	}

	aliases := unionAliases(workspaceAliases, canonical, channels)

	keepIDs := make([]string, 0, len(channels))
	for _, ch := range channels {
		workspaceID := ch.WorkspaceID
		if workspaceID == "" {
			workspaceID = canonical
		}
		if _, err := e.stores.Bindings.Upsert(ctx, &store.ChannelBinding{
			OrganizationID: entry.OrganizationID,
			Platform:       platformName,
			ChannelID:      ch.ID,
			WorkspaceID:    workspaceID,
			DisplayName:    ch.Name,
			IsDM:           ch.IsDM,
		}); err != nil {
			return fmt.Errorf("upsert discovered channel %s: %w", ch.ID, err)
		}
		keepIDs = append(keepIDs, ch.ID)
	}

	if len(keepIDs) > 0 {
		deleted, err := e.stores.Bindings.DeleteStale(ctx, platformName, aliases, keepIDs)
		if err != nil {
			return fmt.Errorf("delete stale bindings: %w", err)
		}
		if deleted > 0 {
			slog.Info("pruned bindings for vanished channels", "platform", platformName, "count", deleted)
		}
	}

	collapsed, err := e.stores.Bindings.CollapseAliases(ctx, platformName, aliases)
	if err != nil {
		return fmt.Errorf("collapse alias duplicates: %w", err)
	}
	if collapsed > 0 {
		slog.Info("collapsed duplicate alias bindings", "platform", platformName, "count", collapsed)
	}

	if err := e.stores.Cache.Set(ctx, cacheKey, "done", e.opts.DiscoveryTTL); err != nil {
		slog.Warn("discovery guard write failed", "platform", platformName, "error", err)
	}

	slog.Info("channel discovery reconciled", "platform", platformName, "workspace", canonical, "channels", len(channels))
	return nil
}

// backgroundDiscover runs discovery without blocking the message path. The
// parent context's cancellation is detached so an already-answered message
// does not abort the sweep midway.
func (e *Engine) backgroundDiscover(ctx context.Context, entry *platform.Entry, aliases []string) {
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		if err := e.DiscoverChannels(bgCtx, entry, aliases); err != nil {
			slog.Warn("opportunistic channel discovery failed", "platform", entry.Adapter.Name(), "error", err)
		}
	}()
}

// unionAliases merges the caller's aliases, the canonical workspace ID, and
// every workspace ID seen on the discovered channels.
func unionAliases(base []string, canonical string, channels []platform.ChannelInfo) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, a := range base {
		add(a)
	}
	add(canonical)
	for _, ch := range channels {
		add(ch.WorkspaceID)
	}
	return out
}
