package router

import (
	"fmt"
	"strings"

	"github.com/beaconworks/agentrelay/internal/store"
)

// MentionResult is the outcome of resolving an inline "AgentName > message"
// override.
type MentionResult struct {
	Agent store.AgentRecord
	Text  string
	// FallbackNotice is set when the named agent was not recognized and the
	// default answered instead. Included in the reply footer.
	FallbackNotice string
}

// ResolveMention parses an optional "AgentName > message" prefix. Without a
// delimiter, or with nothing before it, the default agent and the original
// text are returned unchanged. An unrecognized name falls back to the default
// agent with a notice for the reply footer.
func ResolveMention(text string, defaultAgent store.AgentRecord, known []store.AgentRecord) MentionResult {
	idx := strings.Index(text, ">")
	if idx < 0 {
		return MentionResult{Agent: defaultAgent, Text: text}
	}

	candidate := strings.TrimSpace(text[:idx])
	if candidate == "" {
		return MentionResult{Agent: defaultAgent, Text: text}
	}
	rest := strings.TrimSpace(text[idx+1:])

	if agent, ok := matchAgentName(candidate, known); ok {
		return MentionResult{Agent: agent, Text: rest}
	}

	msgText := rest
	if msgText == "" {
		msgText = text
	}
	return MentionResult{
		Agent:          defaultAgent,
		Text:           msgText,
		FallbackNotice: fmt.Sprintf("No agent named %q is available here, so %s answered instead.", candidate, defaultAgent.Name),
	}
}

// matchAgentName matches a candidate against known agent names. Exact
// case-insensitive matches win; otherwise a space-insensitive match applies,
// where spaces in the candidate may fall anywhere relative to the name's own
// spacing ("AgentPeter", "agent peter" and "Agent Peter" all match
// "Agent Peter").
func matchAgentName(candidate string, known []store.AgentRecord) (store.AgentRecord, bool) {
	for _, a := range known {
		if strings.EqualFold(candidate, a.Name) {
			return a, true
		}
	}
	for _, a := range known {
		if looseNameMatch(candidate, a.Name) {
			return a, true
		}
	}
	return store.AgentRecord{}, false
}

// looseNameMatch reports whether candidate begins with name under
// space-insensitive comparison. The matched prefix must be followed by
// end-of-string, a space, or a newline, so "AgentPetersburg" does not match
// "Agent Peter".
func looseNameMatch(candidate, name string) bool {
	c := []rune(strings.ToLower(candidate))
	n := []rune(strings.ToLower(name))

	i := 0
	for j := 0; j < len(n); j++ {
		if n[j] == ' ' {
			continue
		}
		for i < len(c) && c[i] == ' ' {
			i++
		}
		if i >= len(c) || c[i] != n[j] {
			return false
		}
		i++
	}
	if i >= len(c) {
		return true
	}
	return c[i] == ' ' || c[i] == '\n'
}
