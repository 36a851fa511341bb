package slack

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/beaconworks/agentrelay/internal/platform"
)

// HandshakeResponse answers Slack's url_verification challenge so the Events
// API endpoint can be registered.
func (a *Adapter) HandshakeResponse(body []byte) ([]byte, bool) {
	var probe struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, false
	}
	if probe.Type != "url_verification" {
		return nil, false
	}
	return []byte(probe.Challenge), true
}

// ParseNotification verifies the request signature and normalizes an Events
// API callback into an IncomingMessage. Non-routable events (bot echoes,
// edits, joins, anything that is not a user message) return nil, nil.
func (a *Adapter) ParseNotification(body []byte, header http.Header) (*platform.IncomingMessage, error) {
	if err := a.verifySignature(body, header); err != nil {
		return nil, err
	}
	evt, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return nil, fmt.Errorf("parse slack event: %w", err)
	}
	if evt.Type != slackevents.CallbackEvent {
		return nil, nil
	}
	return a.normalizeEvent(evt), nil
}

func (a *Adapter) verifySignature(body []byte, header http.Header) error {
	verifier, err := slack.NewSecretsVerifier(header, a.signingSecret)
	if err != nil {
		return fmt.Errorf("slack signature header: %w", err)
	}
	if _, err := verifier.Write(body); err != nil {
		return fmt.Errorf("slack signature body: %w", err)
	}
	if err := verifier.Ensure(); err != nil {
		return fmt.Errorf("slack signature mismatch: %w", err)
	}
	return nil
}

// normalizeEvent maps a callback event to the engine's message shape. Only
// plain user messages route; app mentions arrive as messages too when the
// bot is in the channel, so message events alone cover both.
func (a *Adapter) normalizeEvent(evt slackevents.EventsAPIEvent) *platform.IncomingMessage {
	ev, ok := evt.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return nil
	}
	// Edits, joins and other subtypes are not routable, and anything from a
	// bot (including ourselves) must never re-enter the pipeline.
	if ev.SubType != "" || ev.BotID != "" || ev.User == "" || ev.User == a.botUserID {
		return nil
	}
	teamID := evt.TeamID
	if teamID == "" {
		teamID = a.teamID
	}
	text := unescapeSlackEntities(ev.Text)
	msg := &platform.IncomingMessage{
		MessageID:     composeMessageID(teamID, ev.Channel, ev.TimeStamp),
		ChannelID:     ev.Channel,
		WorkspaceID:   teamID,
		ThreadID:      ev.ThreadTimeStamp,
		SenderID:      ev.User,
		SenderName:    ev.User,
		Text:          strings.TrimSpace(text),
		RawText:       text,
		Timestamp:     parseSlackTS(ev.TimeStamp),
		IsThreadReply: ev.ThreadTimeStamp != "" && ev.ThreadTimeStamp != ev.TimeStamp,
	}
	if ev.ChannelType == "im" {
		msg.Metadata = map[string]string{platform.MetaDirectMessage: "true"}
	}
	return msg
}

// Slack HTML-escapes &, < and > in event text. Unescaping restores the user's
// actual characters so inline overrides like "Agent Peter > status" keep
// their delimiter.
var slackEntityReplacer = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&")

func unescapeSlackEntities(s string) string {
	return slackEntityReplacer.Replace(s)
}

// ParseInteractivePayload verifies and decodes a block_actions payload from
// the agent selection card. Payloads for other elements return nil, nil.
func (a *Adapter) ParseInteractivePayload(body []byte, header http.Header) (*platform.AgentSelection, error) {
	if err := a.verifySignature(body, header); err != nil {
		return nil, err
	}
	raw := body
	// Interactive payloads arrive form-encoded as payload=<json>.
	if strings.HasPrefix(string(body), "payload=") {
		decoded, err := url.QueryUnescape(strings.TrimPrefix(string(body), "payload="))
		if err != nil {
			return nil, fmt.Errorf("decode interactive payload: %w", err)
		}
		raw = []byte(decoded)
	}
	var cb slack.InteractionCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, fmt.Errorf("parse interactive payload: %w", err)
	}
	return a.selectionFromCallback(&cb)
}

func (a *Adapter) selectionFromCallback(cb *slack.InteractionCallback) (*platform.AgentSelection, error) {
	if cb.Type != slack.InteractionTypeBlockActions {
		return nil, nil
	}
	for _, action := range cb.ActionCallback.BlockActions {
		if action.ActionID != agentSelectActionID {
			continue
		}
		agentID, err := uuid.Parse(action.SelectedOption.Value)
		if err != nil {
			return nil, fmt.Errorf("selection value %q: %w", action.SelectedOption.Value, err)
		}
		teamID := cb.Team.ID
		if teamID == "" {
			teamID = a.teamID
		}
		return &platform.AgentSelection{
			WorkspaceID: teamID,
			ChannelID:   cb.Channel.ID,
			AgentID:     agentID,
			UserID:      cb.User.ID,
			UserName:    cb.User.Name,
			ThreadID:    cb.Container.ThreadTs,
			IsDM:        strings.HasPrefix(cb.Channel.ID, "D"),
		}, nil
	}
	return nil, nil
}

// ParseCommand verifies and decodes a slash command submission.
func (a *Adapter) ParseCommand(body []byte, header http.Header) (*platform.Command, error) {
	if err := a.verifySignature(body, header); err != nil {
		return nil, err
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse slash command: %w", err)
	}
	sc := &slack.SlashCommand{
		Command:   values.Get("command"),
		Text:      values.Get("text"),
		ChannelID: values.Get("channel_id"),
		TeamID:    values.Get("team_id"),
		UserID:    values.Get("user_id"),
		UserName:  values.Get("user_name"),
	}
	return a.commandFromSlash(sc), nil
}

func (a *Adapter) commandFromSlash(sc *slack.SlashCommand) *platform.Command {
	name := "help"
	if fields := strings.Fields(sc.Text); len(fields) > 0 {
		name = strings.ToLower(fields[0])
	}
	teamID := sc.TeamID
	if teamID == "" {
		teamID = a.teamID
	}
	return &platform.Command{
		Name:        name,
		ChannelID:   sc.ChannelID,
		WorkspaceID: teamID,
		SenderID:    sc.UserID,
		SenderName:  sc.UserName,
	}
}
