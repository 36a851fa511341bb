package router

import (
	"context"
	"errors"
	"testing"

	"github.com/beaconworks/agentrelay/internal/platform"
	"github.com/beaconworks/agentrelay/internal/store"
)

func TestDiscoverChannelsReconciles(t *testing.T) {
	env := newTestEnv()
	agent := env.addAgent("Helper")
	ctx := context.Background()

	env.adapter.channels = []platform.ChannelInfo{
		{ID: "A", Name: "alpha", WorkspaceID: "W1"},
		{ID: "B", Name: "beta", WorkspaceID: "W1"},
		{ID: "C", Name: "gamma", WorkspaceID: "W1"},
	}
	if err := env.engine.DiscoverChannels(ctx, env.entry, []string{"W1"}); err != nil {
		t.Fatal(err)
	}
	// Bind B so we can verify reconciliation keeps assignments.
	env.bindChannel("B", "W1", agent.ID)

	// Upstream moved on: A vanished, D appeared. A fresh guard window.
	env.cache.entries = map[string]cacheEntry{}
	env.adapter.channels = []platform.ChannelInfo{
		{ID: "B", Name: "beta-renamed", WorkspaceID: "W1"},
		{ID: "C", Name: "gamma", WorkspaceID: "W1"},
		{ID: "D", Name: "delta", WorkspaceID: "W1"},
	}
	if err := env.engine.DiscoverChannels(ctx, env.entry, []string{"W1"}); err != nil {
		t.Fatal(err)
	}

	if b, _ := env.bindings.GetByChannel(ctx, "testchat", "A", "W1"); b != nil {
		t.Error("vanished channel A still has a binding")
	}
	b, _ := env.bindings.GetByChannel(ctx, "testchat", "B", "W1")
	if b == nil {
		t.Fatal("channel B lost its binding")
	}
	if b.AgentID == nil || *b.AgentID != agent.ID {
		t.Error("channel B lost its agent assignment during refresh")
	}
	if b.DisplayName != "beta-renamed" {
		t.Errorf("channel B display name = %q, want refreshed name", b.DisplayName)
	}
	d, _ := env.bindings.GetByChannel(ctx, "testchat", "D", "W1")
	if d == nil {
		t.Fatal("new channel D was not recorded")
	}
	if d.AgentID != nil {
		t.Error("new channel D arrived with an agent assigned")
	}
}

func TestDiscoverChannelsKeepsDMBindings(t *testing.T) {
	env := newTestEnv()
	agent := env.addAgent("Helper")
	ctx := context.Background()

	// A DM conversation bound to an agent. DMs share the workspace ID with
	// regular channels but enumeration never lists them.
	dmAgent := agent.ID
	if _, err := env.bindings.Upsert(ctx, &store.ChannelBinding{
		OrganizationID: env.orgID,
		Platform:       env.adapter.Name(),
		ChannelID:      "D77",
		WorkspaceID:    "W1",
		DisplayName:    "DM with Dana",
		IsDM:           true,
		DMOwnerEmail:   "dana@example.com",
		AgentID:        &dmAgent,
	}); err != nil {
		t.Fatal(err)
	}

	env.adapter.channels = []platform.ChannelInfo{{ID: "general", Name: "general", WorkspaceID: "W1"}}
	if err := env.engine.DiscoverChannels(ctx, env.entry, []string{"W1"}); err != nil {
		t.Fatal(err)
	}

	b, _ := env.bindings.GetByChannel(ctx, "testchat", "D77", "W1")
	if b == nil {
		t.Fatal("DM binding was pruned by discovery reconciliation")
	}
	if b.AgentID == nil || *b.AgentID != agent.ID {
		t.Error("DM binding lost its agent assignment")
	}
}

func TestDiscoverChannelsGuardSkipsWithinTTL(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.adapter.channels = []platform.ChannelInfo{{ID: "A", Name: "alpha", WorkspaceID: "W1"}}

	if err := env.engine.DiscoverChannels(ctx, env.entry, []string{"W1"}); err != nil {
		t.Fatal(err)
	}
	if err := env.engine.DiscoverChannels(ctx, env.entry, []string{"W1"}); err != nil {
		t.Fatal(err)
	}
	if got := env.adapter.discoverCount(); got != 1 {
		t.Fatalf("enumeration ran %d times within one TTL window, want 1", got)
	}
}

func TestDiscoverChannelsFailureDoesNotArmGuard(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.adapter.discoverErr = errors.New("rate limited")

	if err := env.engine.DiscoverChannels(ctx, env.entry, []string{"W1"}); err == nil {
		t.Fatal("enumeration failure was swallowed")
	}

	// The next trigger retries instead of hitting a guard set by the failure.
	env.adapter.discoverErr = nil
	env.adapter.channels = []platform.ChannelInfo{{ID: "A", Name: "alpha", WorkspaceID: "W1"}}
	if err := env.engine.DiscoverChannels(ctx, env.entry, []string{"W1"}); err != nil {
		t.Fatal(err)
	}
	if b, _ := env.bindings.GetByChannel(ctx, "testchat", "A", "W1"); b == nil {
		t.Fatal("retry after failure did not reconcile")
	}
}

func TestDiscoverChannelsEmptyResultPrunesNothing(t *testing.T) {
	env := newTestEnv()
	agent := env.addAgent("Helper")
	ctx := context.Background()
	env.bindChannel("B", "W1", agent.ID)

	// Zero channels from the platform must never wipe existing bindings; an
	// empty enumeration is indistinguishable from a degraded API answer.
	env.adapter.channels = nil
	if err := env.engine.DiscoverChannels(ctx, env.entry, []string{"W1"}); err != nil {
		t.Fatal(err)
	}
	if b, _ := env.bindings.GetByChannel(ctx, "testchat", "B", "W1"); b == nil {
		t.Fatal("empty discovery pruned an existing binding")
	}
}

func TestDiscoverChannelsCollapsesAliasDuplicates(t *testing.T) {
	env := newTestEnv()
	agent := env.addAgent("Helper")
	ctx := context.Background()

	// The same channel recorded under two identifiers of one workspace, one
	// row carrying the assignment.
	env.bindChannel("C9", "W1", agent.ID)
	if _, err := env.bindings.Upsert(ctx, testUnboundBinding(env, "C9", "legacy-alias")); err != nil {
		t.Fatal(err)
	}

	env.adapter.channels = []platform.ChannelInfo{{ID: "C9", Name: "ops", WorkspaceID: "W1"}}
	if err := env.engine.DiscoverChannels(ctx, env.entry, []string{"W1", "legacy-alias"}); err != nil {
		t.Fatal(err)
	}

	if got := env.bindings.count(); got != 1 {
		t.Fatalf("got %d rows after collapse, want 1", got)
	}
	b, _ := env.bindings.GetByChannel(ctx, "testchat", "C9", "W1")
	if b == nil || b.AgentID == nil || *b.AgentID != agent.ID {
		t.Fatal("collapse kept the wrong row")
	}
}
