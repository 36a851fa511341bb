package platform

import "strings"

// Footer markers as adapters render them. Kept in one place so the thread
// context builder can undo exactly what the reply path produced.
const (
	footerMarkdownPrefix = "\n\n---\n_"
	footerMarkdownSuffix = "_"
	footerHTMLPrefix     = "<br><br><i>"
	footerHTMLSuffix     = "</i>"
	footerPlainPrefix    = "\n\nVia "
)

// RenderMarkdownFooter appends a footer to reply text in markdown form.
// Adapters for markdown-speaking platforms use this shape.
func RenderMarkdownFooter(text, footer string) string {
	if footer == "" {
		return text
	}
	return text + footerMarkdownPrefix + footer + footerMarkdownSuffix
}

// StripAssistantFooter removes a trailing bot-authored attribution block in
// its markdown, HTML or plain-text form. Text without a footer is returned
// unchanged.
func StripAssistantFooter(text string) string {
	if i := strings.LastIndex(text, footerMarkdownPrefix); i >= 0 {
		tail := text[i+len(footerMarkdownPrefix):]
		if strings.HasSuffix(strings.TrimRight(tail, "\n "), footerMarkdownSuffix) && !strings.Contains(tail, "\n") {
			return strings.TrimRight(text[:i], "\n ")
		}
	}
	if i := strings.LastIndex(text, footerHTMLPrefix); i >= 0 {
		tail := strings.TrimRight(text[i+len(footerHTMLPrefix):], "\n ")
		if strings.HasSuffix(tail, footerHTMLSuffix) {
			return strings.TrimRight(text[:i], "\n ")
		}
	}
	if i := strings.LastIndex(text, footerPlainPrefix); i >= 0 {
		tail := text[i+len(footerPlainPrefix):]
		if !strings.Contains(strings.TrimRight(tail, "\n "), "\n") {
			return strings.TrimRight(text[:i], "\n ")
		}
	}
	return text
}
