package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
)

const testSigningSecret = "8f742231b10e8888abcd99yyyzzz85a5"

func testAdapter() *Adapter {
	a := New(Config{BotToken: "xoxb-test", SigningSecret: testSigningSecret})
	a.teamID = "T0001"
	a.teamName = "Acme"
	a.botUserID = "UBOT"
	return a
}

// signedHeaders produces the Slack request signature headers for a body.
func signedHeaders(body []byte) http.Header {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testSigningSecret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)
	h := http.Header{}
	h.Set("X-Slack-Request-Timestamp", ts)
	h.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return h
}

func messageEventBody(inner string) []byte {
	return []byte(fmt.Sprintf(`{
		"token": "tok",
		"team_id": "T0001",
		"api_app_id": "A1",
		"type": "event_callback",
		"event_id": "Ev1",
		"event_time": 1726000000,
		"event": %s
	}`, inner))
}

func TestHandshakeResponse(t *testing.T) {
	a := testAdapter()
	resp, ok := a.HandshakeResponse([]byte(`{"type":"url_verification","challenge":"abc123"}`))
	if !ok {
		t.Fatal("url_verification not recognized")
	}
	if string(resp) != "abc123" {
		t.Errorf("challenge echo = %q", resp)
	}

	if _, ok := a.HandshakeResponse(messageEventBody(`{"type":"message"}`)); ok {
		t.Error("event callback treated as handshake")
	}
}

func TestParseNotificationMessage(t *testing.T) {
	a := testAdapter()
	body := messageEventBody(`{
		"type": "message",
		"user": "U123",
		"text": "  hello there  ",
		"ts": "1726000000.000100",
		"channel": "C42",
		"event_ts": "1726000000.000100",
		"channel_type": "channel"
	}`)

	msg, err := a.ParseNotification(body, signedHeaders(body))
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil {
		t.Fatal("routable message dropped")
	}
	if msg.MessageID != "T0001:C42:1726000000.000100" {
		t.Errorf("message ID = %q", msg.MessageID)
	}
	if msg.ChannelID != "C42" || msg.WorkspaceID != "T0001" || msg.SenderID != "U123" {
		t.Errorf("identity fields: %+v", msg)
	}
	if msg.Text != "hello there" {
		t.Errorf("text = %q, want trimmed", msg.Text)
	}
	if msg.IsThreadReply || msg.ThreadID != "" {
		t.Error("channel root message marked as thread reply")
	}
	if msg.IsDM() {
		t.Error("channel message marked as DM")
	}
}

func TestParseNotificationUnescapesEntities(t *testing.T) {
	a := testAdapter()
	tests := []struct {
		name string
		text string
		want string
	}{
		{"mention delimiter", "Agent Peter &gt; restart the job", "Agent Peter > restart the job"},
		{"all entities", "a &amp; b &lt;= c &gt; d", "a & b <= c > d"},
		{"double escaped stays single", "&amp;gt;", "&gt;"},
		{"plain text untouched", "nothing special", "nothing special"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := messageEventBody(fmt.Sprintf(`{
				"type": "message",
				"user": "U123",
				"text": %q,
				"ts": "1726000000.000100",
				"channel": "C42",
				"channel_type": "channel"
			}`, tt.text))
			msg, err := a.ParseNotification(body, signedHeaders(body))
			if err != nil {
				t.Fatal(err)
			}
			if msg == nil {
				t.Fatal("routable message dropped")
			}
			if msg.Text != tt.want {
				t.Errorf("text = %q, want %q", msg.Text, tt.want)
			}
		})
	}
}

func TestParseNotificationThreadReply(t *testing.T) {
	a := testAdapter()
	body := messageEventBody(`{
		"type": "message",
		"user": "U123",
		"text": "follow up",
		"ts": "1726000050.000200",
		"thread_ts": "1726000000.000100",
		"channel": "C42",
		"channel_type": "channel"
	}`)

	msg, err := a.ParseNotification(body, signedHeaders(body))
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil {
		t.Fatal("thread reply dropped")
	}
	if !msg.IsThreadReply {
		t.Error("thread reply not flagged")
	}
	if msg.ThreadID != "1726000000.000100" {
		t.Errorf("thread ID = %q", msg.ThreadID)
	}
}

func TestParseNotificationDM(t *testing.T) {
	a := testAdapter()
	body := messageEventBody(`{
		"type": "message",
		"user": "U123",
		"text": "psst",
		"ts": "1726000000.000300",
		"channel": "D77",
		"channel_type": "im"
	}`)

	msg, err := a.ParseNotification(body, signedHeaders(body))
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil || !msg.IsDM() {
		t.Fatalf("DM not flagged: %+v", msg)
	}
}

func TestParseNotificationNonRoutable(t *testing.T) {
	a := testAdapter()
	tests := []struct {
		name  string
		inner string
	}{
		{"bot message", `{"type":"message","bot_id":"B1","text":"echo","ts":"1.2","channel":"C1"}`},
		{"own message", `{"type":"message","user":"UBOT","text":"me","ts":"1.2","channel":"C1"}`},
		{"edit subtype", `{"type":"message","subtype":"message_changed","user":"U1","ts":"1.2","channel":"C1"}`},
		{"member join", `{"type":"member_joined_channel","user":"U1","channel":"C1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := messageEventBody(tt.inner)
			msg, err := a.ParseNotification(body, signedHeaders(body))
			if err != nil {
				t.Fatal(err)
			}
			if msg != nil {
				t.Errorf("non-routable event produced a message: %+v", msg)
			}
		})
	}
}

func TestParseNotificationBadSignature(t *testing.T) {
	a := testAdapter()
	body := messageEventBody(`{"type":"message","user":"U1","text":"x","ts":"1.2","channel":"C1"}`)
	headers := signedHeaders([]byte("different body"))
	if _, err := a.ParseNotification(body, headers); err == nil {
		t.Fatal("forged signature accepted")
	}
}

func TestParseInteractivePayloadSelection(t *testing.T) {
	a := testAdapter()
	agentID := uuid.Must(uuid.NewV7())
	payload := fmt.Sprintf(`{
		"type": "block_actions",
		"team": {"id": "T0001"},
		"user": {"id": "U5", "name": "dev"},
		"channel": {"id": "C42"},
		"container": {"thread_ts": "1726000000.000100"},
		"actions": [{
			"action_id": "agent_select",
			"block_id": "b1",
			"type": "static_select",
			"selected_option": {"value": %q}
		}]
	}`, agentID.String())
	body := []byte("payload=" + url.QueryEscape(payload))

	sel, err := a.ParseInteractivePayload(body, signedHeaders(body))
	if err != nil {
		t.Fatal(err)
	}
	if sel == nil {
		t.Fatal("selection payload dropped")
	}
	if sel.AgentID != agentID {
		t.Errorf("agent ID = %s, want %s", sel.AgentID, agentID)
	}
	if sel.ChannelID != "C42" || sel.WorkspaceID != "T0001" || sel.UserID != "U5" {
		t.Errorf("selection fields: %+v", sel)
	}
	if sel.ThreadID != "1726000000.000100" {
		t.Errorf("thread ID = %q", sel.ThreadID)
	}
}

func TestParseInteractivePayloadOtherActionsIgnored(t *testing.T) {
	a := testAdapter()
	payload := `{
		"type": "block_actions",
		"team": {"id": "T0001"},
		"user": {"id": "U5"},
		"channel": {"id": "C42"},
		"actions": [{"action_id": "something_else", "type": "button"}]
	}`
	body := []byte(payload)
	sel, err := a.ParseInteractivePayload(body, signedHeaders(body))
	if err != nil {
		t.Fatal(err)
	}
	if sel != nil {
		t.Errorf("unrelated action produced a selection: %+v", sel)
	}
}

func TestParseCommand(t *testing.T) {
	a := testAdapter()
	tests := []struct {
		name     string
		text     string
		wantName string
	}{
		{"explicit", "status", "status"},
		{"with args", "select-agent please", "select-agent"},
		{"empty defaults to help", "", "help"},
		{"uppercased", "HELP", "help"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{
				"command":    {"/agentrelay"},
				"text":       {tt.text},
				"channel_id": {"C42"},
				"team_id":    {"T0001"},
				"user_id":    {"U5"},
				"user_name":  {"dev"},
			}
			body := []byte(form.Encode())
			cmd, err := a.ParseCommand(body, signedHeaders(body))
			if err != nil {
				t.Fatal(err)
			}
			if cmd.Name != tt.wantName {
				t.Errorf("command name = %q, want %q", cmd.Name, tt.wantName)
			}
			if cmd.ChannelID != "C42" || cmd.WorkspaceID != "T0001" || cmd.SenderID != "U5" {
				t.Errorf("command fields: %+v", cmd)
			}
		})
	}
}

func TestMessageIDComposition(t *testing.T) {
	id := composeMessageID("T1", "C1", "123.456")
	if id != "T1:C1:123.456" {
		t.Errorf("composite = %q", id)
	}
	if ts := messageTS(id); ts != "123.456" {
		t.Errorf("extracted ts = %q", ts)
	}
	if ts := messageTS("123.456"); ts != "123.456" {
		t.Errorf("bare ts = %q", ts)
	}
}
