package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/beaconworks/agentrelay/internal/platform"
	"github.com/beaconworks/agentrelay/internal/store"
)

// authzDecision is the outcome of the authorization gate. Reason is
// user-visible denial text; denials are always replied to, never silently
// dropped.
type authzDecision struct {
	Allowed bool
	UserID  uuid.UUID
	Email   string
	Reason  string
}

// authorize resolves the sender to an internal user and verifies access to
// the target agent. Display names are attacker-controlled platform metadata
// and play no part here; identity rests on a platform-verified email address.
//
// preResolvedEmail is used when the adapter already supplied one; otherwise
// the adapter's identity-lookup capability is called. Store failures
// propagate as errors; an unresolvable email is a denial, not an error, and
// repeating the message yields the same denial.
func (e *Engine) authorize(ctx context.Context, entry *platform.Entry, senderID, preResolvedEmail string, target store.AgentRecord) (authzDecision, error) {
	adapter := entry.Adapter

	email := preResolvedEmail
	if email == "" {
		var err error
		email, err = adapter.UserEmail(ctx, senderID)
		if err != nil {
			slog.Warn("identity lookup failed", "platform", adapter.Name(), "sender", senderID, "error", err)
			email = ""
		}
	}
	if email == "" {
		return authzDecision{
			Reason: fmt.Sprintf("I could not verify your identity. Make sure your %s profile exposes an email address, then try again.", adapter.Name()),
		}, nil
	}

	user, err := e.stores.Identity.UserByEmail(ctx, entry.OrganizationID, email)
	if err != nil {
		return authzDecision{}, fmt.Errorf("user lookup: %w", err)
	}
	if user == nil {
		return authzDecision{
			Email:  email,
			Reason: fmt.Sprintf("No registered user was found for %s. Ask an administrator to invite you first.", email),
		}, nil
	}

	admin, err := e.stores.Identity.IsAgentAdmin(ctx, user.ID, entry.OrganizationID)
	if err != nil {
		return authzDecision{}, fmt.Errorf("admin check: %w", err)
	}
	if admin {
		return authzDecision{Allowed: true, UserID: user.ID, Email: email}, nil
	}

	hasAccess, err := e.stores.Identity.HasAgentAccess(ctx, user.ID, target.ID)
	if err != nil {
		return authzDecision{}, fmt.Errorf("team access check: %w", err)
	}
	if !hasAccess {
		return authzDecision{
			Email:  email,
			Reason: fmt.Sprintf("You do not have access to the agent %q. Ask an administrator to add you to one of its teams.", target.Name),
		}, nil
	}

	return authzDecision{Allowed: true, UserID: user.ID, Email: email}, nil
}
