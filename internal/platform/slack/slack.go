// Package slack adapts the Slack Web, Events and Socket Mode APIs to the
// engine's platform contract.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/beaconworks/agentrelay/internal/platform"
)

const (
	// agentSelectActionID identifies the static-select element on the agent
	// selection card in interactive payloads.
	agentSelectActionID = "agent_select"
)

// Adapter implements platform.Adapter for Slack workspaces. A single Adapter
// serves one workspace (one bot token).
type Adapter struct {
	api           *slack.Client
	sm            *socketmode.Client
	botToken      string
	appToken      string
	signingSecret string
	socketMode    bool

	teamID    string
	teamName  string
	botUserID string

	handler platform.Handler

	cancel context.CancelFunc
	done   chan struct{}
}

// Config carries the credentials an Adapter needs. SigningSecret is only
// required in webhook mode, AppToken only in socket mode.
type Config struct {
	BotToken      string
	AppToken      string
	SigningSecret string
	SocketMode    bool
}

func New(cfg Config) *Adapter {
	return &Adapter{
		botToken:      cfg.BotToken,
		appToken:      cfg.AppToken,
		signingSecret: cfg.SigningSecret,
		socketMode:    cfg.SocketMode,
	}
}

// SetHandler wires the engine in before Initialize. Required in socket mode.
func (a *Adapter) SetHandler(h platform.Handler) { a.handler = h }

func (a *Adapter) Name() string { return "slack" }

func (a *Adapter) IsConfigured() bool {
	if a.botToken == "" {
		return false
	}
	if a.socketMode {
		return a.appToken != ""
	}
	return a.signingSecret != ""
}

func (a *Adapter) IsSocketMode() bool { return a.socketMode }

func (a *Adapter) WorkspaceID() string   { return a.teamID }
func (a *Adapter) WorkspaceName() string { return a.teamName }

func (a *Adapter) Initialize(ctx context.Context) error {
	opts := []slack.Option{}
	if a.socketMode {
		opts = append(opts, slack.OptionAppLevelToken(a.appToken))
	}
	a.api = slack.New(a.botToken, opts...)

	auth, err := a.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	a.teamID = auth.TeamID
	a.teamName = auth.Team
	a.botUserID = auth.UserID

	slog.Info("slack adapter ready",
		"team", a.teamName,
		"team_id", a.teamID,
		"bot_user", a.botUserID,
		"socket_mode", a.socketMode)

	if a.socketMode {
		if a.handler == nil {
			return fmt.Errorf("slack socket mode requires a handler")
		}
		a.sm = socketmode.New(a.api)
		runCtx, cancel := context.WithCancel(context.Background())
		a.cancel = cancel
		a.done = make(chan struct{})
		go a.runSocket(runCtx)
	}
	return nil
}

func (a *Adapter) Cleanup(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (a *Adapter) runSocket(ctx context.Context) {
	defer close(a.done)
	go func() {
		if err := a.sm.RunContext(ctx); err != nil && ctx.Err() == nil {
			slog.Error("slack socket mode stopped", "error", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.sm.Events:
			if !ok {
				return
			}
			a.handleSocketEvent(ctx, evt)
		}
	}
}

func (a *Adapter) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		slog.Info("slack socket connected", "team", a.teamName)
	case socketmode.EventTypeConnectionError:
		slog.Warn("slack socket connection error")
	case socketmode.EventTypeEventsAPI:
		a.sm.Ack(*evt.Request)
		apiEvt, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		msg := a.normalizeEvent(apiEvt)
		if msg == nil {
			return
		}
		if err := a.handler.HandleMessage(ctx, a.Name(), msg); err != nil {
			slog.Error("slack message handling failed", "channel", msg.ChannelID, "error", err)
		}
	case socketmode.EventTypeInteractive:
		a.sm.Ack(*evt.Request)
		cb, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		sel, err := a.selectionFromCallback(&cb)
		if err != nil || sel == nil {
			return
		}
		if err := a.handler.HandleSelection(ctx, a.Name(), sel); err != nil {
			slog.Error("slack selection handling failed", "channel", sel.ChannelID, "error", err)
		}
	case socketmode.EventTypeSlashCommand:
		a.sm.Ack(*evt.Request)
		sc, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		cmd := a.commandFromSlash(&sc)
		if err := a.handler.HandleCommand(ctx, a.Name(), cmd); err != nil {
			slog.Error("slack command handling failed", "channel", cmd.ChannelID, "error", err)
		}
	}
}

// DiscoverChannels pages through every conversation the bot can see,
// including direct message channels.
func (a *Adapter) DiscoverChannels(ctx context.Context) ([]platform.ChannelInfo, error) {
	var out []platform.ChannelInfo
	params := &slack.GetConversationsParameters{
		Types:           []string{"public_channel", "private_channel", "im"},
		Limit:           200,
		ExcludeArchived: true,
	}
	for {
		channels, next, err := a.api.GetConversationsContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		for _, ch := range channels {
			info := platform.ChannelInfo{
				ID:          ch.ID,
				Name:        ch.Name,
				WorkspaceID: a.teamID,
				IsDM:        ch.IsIM,
			}
			if ch.IsIM && info.Name == "" {
				info.Name = "dm:" + ch.User
			}
			out = append(out, info)
		}
		if next == "" {
			break
		}
		params.Cursor = next
	}
	return out, nil
}

// UserEmail resolves the workspace profile email for a Slack user ID.
func (a *Adapter) UserEmail(ctx context.Context, senderID string) (string, error) {
	user, err := a.api.GetUserInfoContext(ctx, senderID)
	if err != nil {
		return "", fmt.Errorf("slack user info %s: %w", senderID, err)
	}
	return user.Profile.Email, nil
}

// ThreadHistory fetches the full reply chain of a thread, oldest first. The
// triggering message is excluded so the engine does not quote it back.
func (a *Adapter) ThreadHistory(ctx context.Context, req platform.ThreadHistoryRequest) ([]platform.HistoryEntry, error) {
	excludeTS := messageTS(req.ExcludeMessageID)
	params := &slack.GetConversationRepliesParameters{
		ChannelID: req.ChannelID,
		Timestamp: req.ThreadID,
		Limit:     200,
	}
	var out []platform.HistoryEntry
	for {
		msgs, hasMore, next, err := a.api.GetConversationRepliesContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("thread replies %s: %w", req.ThreadID, err)
		}
		for _, m := range msgs {
			if m.Timestamp == excludeTS || m.Text == "" {
				continue
			}
			fromAssistant := m.BotID != "" || m.User == a.botUserID
			name := m.Username
			if name == "" {
				name = m.User
			}
			out = append(out, platform.HistoryEntry{
				SenderName:    name,
				Text:          m.Text,
				FromAssistant: fromAssistant,
			})
		}
		if !hasMore || next == "" {
			break
		}
		params.Cursor = next
	}
	return out, nil
}

// SendReply posts the agent's answer, in-thread when the trigger carried a
// thread, with the attribution footer rendered in Slack markdown.
func (a *Adapter) SendReply(ctx context.Context, req platform.ReplyRequest) error {
	text := req.Text
	if req.Footer != "" {
		text = platform.RenderMarkdownFooter(text, req.Footer)
	}
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if req.Original != nil && req.Original.ThreadID != "" {
		opts = append(opts, slack.MsgOptionTS(req.Original.ThreadID))
	}
	channel := ""
	if req.Original != nil {
		channel = req.Original.ChannelID
	}
	if _, _, err := a.api.PostMessageContext(ctx, channel, opts...); err != nil {
		return fmt.Errorf("post reply to %s: %w", channel, err)
	}
	return nil
}

// SendSelectionCard posts a Block Kit card with a static select listing the
// organization's agents.
func (a *Adapter) SendSelectionCard(ctx context.Context, req platform.SelectionCardRequest) error {
	if len(req.Agents) == 0 {
		return fmt.Errorf("no agents to offer in %s", req.ChannelID)
	}
	prompt := "Which agent should answer in this conversation?"
	if req.IsWelcome {
		prompt = "Hi! Pick an agent to answer messages in this conversation."
	}
	options := make([]*slack.OptionBlockObject, 0, len(req.Agents))
	for _, ag := range req.Agents {
		options = append(options, slack.NewOptionBlockObject(
			ag.ID.String(),
			slack.NewTextBlockObject(slack.PlainTextType, ag.Name, false, false),
			nil,
		))
	}
	sel := slack.NewOptionsSelectBlockElement(
		slack.OptTypeStatic,
		slack.NewTextBlockObject(slack.PlainTextType, "Select an agent", false, false),
		agentSelectActionID,
		options...,
	)
	section := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, prompt, false, false),
		nil,
		slack.NewAccessory(sel),
	)
	opts := []slack.MsgOption{slack.MsgOptionBlocks(section)}
	if req.ThreadID != "" {
		opts = append(opts, slack.MsgOptionTS(req.ThreadID))
	}
	if _, _, err := a.api.PostMessageContext(ctx, req.ChannelID, opts...); err != nil {
		return fmt.Errorf("post selection card to %s: %w", req.ChannelID, err)
	}
	return nil
}

// composeMessageID builds the dedup key. Slack timestamps are only unique per
// channel, so the key is a team:channel:ts composite.
func composeMessageID(teamID, channelID, ts string) string {
	return teamID + ":" + channelID + ":" + ts
}

// messageTS extracts the timestamp segment of a composite message ID.
func messageTS(messageID string) string {
	if i := strings.LastIndex(messageID, ":"); i >= 0 {
		return messageID[i+1:]
	}
	return messageID
}

// parseSlackTS turns a "1726000000.123456" event timestamp into a time.
func parseSlackTS(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Now().UTC()
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
