// Package discord adapts the Discord gateway API to the engine's platform
// contract. Discord is socket-only: the gateway connection delivers all
// events, so the webhook parse methods report ErrNotSupported.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/beaconworks/agentrelay/internal/platform"
)

const (
	agentSelectCustomID = "agent_select"

	// Discord rejects messages over 2000 characters.
	maxMessageLen = 2000
)

type Adapter struct {
	session   *discordgo.Session
	botToken  string
	guildID   string
	guildName string
	botUserID string

	handler platform.Handler
}

type Config struct {
	BotToken string
	GuildID  string
}

func New(cfg Config) *Adapter {
	return &Adapter{
		botToken: cfg.BotToken,
		guildID:  cfg.GuildID,
	}
}

// SetHandler wires the engine in before Initialize.
func (a *Adapter) SetHandler(h platform.Handler) { a.handler = h }

func (a *Adapter) Name() string { return "discord" }

func (a *Adapter) IsConfigured() bool { return a.botToken != "" && a.guildID != "" }

func (a *Adapter) IsSocketMode() bool { return true }

func (a *Adapter) WorkspaceID() string   { return a.guildID }
func (a *Adapter) WorkspaceName() string { return a.guildName }

func (a *Adapter) Initialize(ctx context.Context) error {
	if a.handler == nil {
		return fmt.Errorf("discord adapter requires a handler")
	}
	session, err := discordgo.New("Bot " + a.botToken)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(a.handleMessageCreate)
	session.AddHandler(a.handleInteractionCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	a.session = session

	user, err := session.User("@me")
	if err != nil {
		session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	a.botUserID = user.ID

	guild, err := session.Guild(a.guildID)
	if err != nil {
		session.Close()
		return fmt.Errorf("fetch discord guild %s: %w", a.guildID, err)
	}
	a.guildName = guild.Name

	slog.Info("discord adapter ready",
		"guild", a.guildName,
		"guild_id", a.guildID,
		"bot_user", a.botUserID)
	return nil
}

func (a *Adapter) Cleanup(_ context.Context) error {
	if a.session == nil {
		return nil
	}
	return a.session.Close()
}

func (a *Adapter) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == a.botUserID {
		return
	}
	if m.GuildID != "" && m.GuildID != a.guildID {
		return
	}
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return
	}

	isDM := m.GuildID == ""
	workspaceID := m.GuildID
	if workspaceID == "" {
		workspaceID = a.guildID
	}

	msg := &platform.IncomingMessage{
		MessageID:   m.ID,
		ChannelID:   m.ChannelID,
		WorkspaceID: workspaceID,
		SenderID:    m.Author.ID,
		SenderName:  displayName(m),
		Text:        content,
		RawText:     m.Content,
		Timestamp:   m.Timestamp,
	}
	if isDM {
		msg.Metadata = map[string]string{platform.MetaDirectMessage: "true"}
	}

	// Discord threads are channels; a message inside one carries the thread
	// channel as its channel ID.
	if ch := a.channel(s, m.ChannelID); ch != nil && ch.IsThread() {
		msg.ThreadID = m.ChannelID
		msg.IsThreadReply = true
	}

	ctx := context.Background()
	if err := a.handler.HandleMessage(ctx, a.Name(), msg); err != nil {
		slog.Error("discord message handling failed", "channel", m.ChannelID, "error", err)
	}
}

func (a *Adapter) handleInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	data := i.MessageComponentData()
	if data.CustomID != agentSelectCustomID || len(data.Values) == 0 {
		return
	}
	agentID, err := uuid.Parse(data.Values[0])
	if err != nil {
		slog.Warn("discord selection carried a bad agent id", "value", data.Values[0])
		return
	}

	// Ack immediately so Discord does not show an interaction failure; the
	// engine posts its own confirmation message.
	ackErr := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	if ackErr != nil {
		slog.Warn("discord interaction ack failed", "error", ackErr)
	}

	user := i.User
	if user == nil && i.Member != nil {
		user = i.Member.User
	}
	if user == nil {
		return
	}

	workspaceID := i.GuildID
	if workspaceID == "" {
		workspaceID = a.guildID
	}
	sel := &platform.AgentSelection{
		WorkspaceID: workspaceID,
		ChannelID:   i.ChannelID,
		AgentID:     agentID,
		UserID:      user.ID,
		UserName:    user.Username,
		IsDM:        i.GuildID == "",
	}
	if err := a.handler.HandleSelection(context.Background(), a.Name(), sel); err != nil {
		slog.Error("discord selection handling failed", "channel", i.ChannelID, "error", err)
	}
}

// DiscoverChannels lists the guild's text channels. DM channels are created
// lazily by Discord when a user writes, so they join the binding store on
// first message rather than through discovery.
func (a *Adapter) DiscoverChannels(_ context.Context) ([]platform.ChannelInfo, error) {
	channels, err := a.session.GuildChannels(a.guildID)
	if err != nil {
		return nil, fmt.Errorf("list guild channels: %w", err)
	}
	out := make([]platform.ChannelInfo, 0, len(channels))
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		out = append(out, platform.ChannelInfo{
			ID:          ch.ID,
			Name:        ch.Name,
			WorkspaceID: a.guildID,
		})
	}
	return out, nil
}

func (a *Adapter) ParseNotification([]byte, http.Header) (*platform.IncomingMessage, error) {
	return nil, platform.ErrNotSupported
}

func (a *Adapter) ParseInteractivePayload([]byte, http.Header) (*platform.AgentSelection, error) {
	return nil, platform.ErrNotSupported
}

func (a *Adapter) ParseCommand([]byte, http.Header) (*platform.Command, error) {
	return nil, platform.ErrNotSupported
}

// UserEmail always returns empty: Discord never exposes member emails to
// bots, so authorization falls back to the identity denial path.
func (a *Adapter) UserEmail(context.Context, string) (string, error) {
	return "", nil
}

// ThreadHistory reads the thread channel's messages, oldest first.
func (a *Adapter) ThreadHistory(_ context.Context, req platform.ThreadHistoryRequest) ([]platform.HistoryEntry, error) {
	msgs, err := a.session.ChannelMessages(req.ThreadID, 100, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("thread messages %s: %w", req.ThreadID, err)
	}
	// ChannelMessages returns newest first.
	out := make([]platform.HistoryEntry, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.ID == req.ExcludeMessageID || m.Author == nil || m.Content == "" {
			continue
		}
		out = append(out, platform.HistoryEntry{
			SenderName:    m.Author.Username,
			Text:          m.Content,
			FromAssistant: m.Author.Bot || m.Author.ID == a.botUserID,
		})
	}
	return out, nil
}

func (a *Adapter) SendReply(_ context.Context, req platform.ReplyRequest) error {
	text := req.Text
	if req.Footer != "" {
		text = platform.RenderMarkdownFooter(text, req.Footer)
	}
	channel := ""
	if req.Original != nil {
		channel = req.Original.ChannelID
		if req.Original.ThreadID != "" {
			channel = req.Original.ThreadID
		}
	}
	if channel == "" {
		return fmt.Errorf("empty channel for discord reply")
	}
	return a.sendChunked(channel, text)
}

// sendChunked splits messages over Discord's length limit, preferring to
// break at a newline.
func (a *Adapter) sendChunked(channelID, content string) error {
	for len(content) > 0 {
		chunk := content
		if len(chunk) > maxMessageLen {
			cutAt := maxMessageLen
			if idx := strings.LastIndexByte(content[:maxMessageLen], '\n'); idx > maxMessageLen/2 {
				cutAt = idx + 1
			}
			chunk = content[:cutAt]
			content = content[cutAt:]
		} else {
			content = ""
		}
		if _, err := a.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

// SendSelectionCard posts a select menu listing the organization's agents.
func (a *Adapter) SendSelectionCard(_ context.Context, req platform.SelectionCardRequest) error {
	if len(req.Agents) == 0 {
		return fmt.Errorf("no agents to offer in %s", req.ChannelID)
	}
	prompt := "Which agent should answer in this conversation?"
	if req.IsWelcome {
		prompt = "Hi! Pick an agent to answer messages in this conversation."
	}
	options := make([]discordgo.SelectMenuOption, 0, len(req.Agents))
	for _, ag := range req.Agents {
		options = append(options, discordgo.SelectMenuOption{
			Label: ag.Name,
			Value: ag.ID.String(),
		})
	}
	channel := req.ChannelID
	if req.ThreadID != "" {
		channel = req.ThreadID
	}
	_, err := a.session.ChannelMessageSendComplex(channel, &discordgo.MessageSend{
		Content: prompt,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.SelectMenu{
						CustomID:    agentSelectCustomID,
						Placeholder: "Select an agent",
						Options:     options,
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("post selection card to %s: %w", channel, err)
	}
	return nil
}

// channel resolves a channel from gateway state, falling back to the API.
func (a *Adapter) channel(s *discordgo.Session, id string) *discordgo.Channel {
	if ch, err := s.State.Channel(id); err == nil {
		return ch
	}
	ch, err := s.Channel(id)
	if err != nil {
		return nil
	}
	return ch
}

// displayName prefers server nickname, then global display name, then
// username.
func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
