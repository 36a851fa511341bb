package router

import (
	"context"
	"fmt"

	"github.com/beaconworks/agentrelay/internal/platform"
	"github.com/beaconworks/agentrelay/internal/store"
)

// resolveBinding returns the binding for the message's channel, creating an
// unbound one on first contact so the channel shows up in administration
// views before anyone has picked an agent. The second return value reports
// whether the binding was created by this call.
func (e *Engine) resolveBinding(ctx context.Context, entry *platform.Entry, msg *platform.IncomingMessage) (*store.ChannelBinding, bool, error) {
	platformName := entry.Adapter.Name()

	binding, err := e.stores.Bindings.GetByChannel(ctx, platformName, msg.ChannelID, msg.WorkspaceID)
	if err != nil {
		return nil, false, err
	}
	if binding != nil {
		return binding, false, nil
	}

	displayName := msg.ChannelID
	dmOwner := ""
	if msg.IsDM() {
		displayName = dmDisplayName(msg.SenderName)
		dmOwner = msg.SenderEmail
	}

	binding, err = e.stores.Bindings.Upsert(ctx, &store.ChannelBinding{
		OrganizationID: entry.OrganizationID,
		Platform:       platformName,
		ChannelID:      msg.ChannelID,
		WorkspaceID:    msg.WorkspaceID,
		DisplayName:    displayName,
		IsDM:           msg.IsDM(),
		DMOwnerEmail:   dmOwner,
	})
	if err != nil {
		return nil, false, err
	}
	return binding, true, nil
}

// ApplySelection upserts the binding with the chosen agent. Repeated
// selection of the same agent converges to the same row; under a true race
// the last selection wins, which is acceptable because selection is always an
// explicit human action. Only DMs carry display metadata here; for regular
// channels the empty name leaves the discovered one in place.
func (e *Engine) ApplySelection(ctx context.Context, entry *platform.Entry, sel *platform.AgentSelection, chooserEmail string) (*store.ChannelBinding, error) {
	agentID := sel.AgentID

	b := &store.ChannelBinding{
		OrganizationID: entry.OrganizationID,
		Platform:       entry.Adapter.Name(),
		ChannelID:      sel.ChannelID,
		WorkspaceID:    sel.WorkspaceID,
		AgentID:        &agentID,
	}
	if sel.IsDM {
		b.IsDM = true
		b.DisplayName = dmDisplayName(sel.UserName)
		b.DMOwnerEmail = chooserEmail
	}

	return e.stores.Bindings.Upsert(ctx, b)
}

func dmDisplayName(userName string) string {
	if userName == "" {
		return "Direct message"
	}
	return fmt.Sprintf("DM with %s", userName)
}
