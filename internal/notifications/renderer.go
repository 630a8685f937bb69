package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/bissquit/mention-relay/internal/domain"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// MaxMessageLength is Telegram's limit for one text message.
const MaxMessageLength = 4096

const ellipsis = "…"

// leadingMention matches the mention token Discord puts in front of a ping.
var leadingMention = regexp.MustCompile(`^\s*(?:<@!?\d+>|<@&\d+>|@everyone|@here)\s*`)

// messageData is the template input. Content is already escaped.
type messageData struct {
	Author      string
	GuildName   string
	ChannelName string
	Permalink   string
	Trigger     string
	Content     string
}

// Renderer renders notifications from templates.
type Renderer struct {
	templates *template.Template
	maxLength int
}

// NewRenderer creates a new renderer and loads all templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"escapeHTML": html.EscapeString,
	}

	tmpl, err := template.New("notifications").Funcs(funcMap).ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	for _, kind := range []MatchKind{MatchHandle, MatchRole, MatchBroadcast} {
		if tmpl.Lookup(templateName(kind)) == nil {
			return nil, fmt.Errorf("template not found: %s", templateName(kind))
		}
	}

	return &Renderer{templates: tmpl, maxLength: MaxMessageLength}, nil
}

func templateName(kind MatchKind) string {
	return string(kind) + ".tmpl"
}

// Render formats event for candidate. Header fields are HTML-escaped, content
// goes through EscapeContent, and content is shortened until the message fits
// the Telegram limit.
func (r *Renderer) Render(c Candidate, event domain.MessageEvent) (string, error) {
	tmpl := r.templates.Lookup(templateName(c.Kind))
	if tmpl == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownMatch, c.Kind)
	}

	data := messageData{
		Author:      event.Author,
		GuildName:   event.GuildName,
		ChannelName: event.ChannelName,
		Permalink:   event.Permalink,
		Trigger:     c.Trigger,
	}

	content := []rune(StripLeadingMention(event.Content))
	truncated := false
	for {
		text := string(content)
		if truncated {
			text += ellipsis
		}
		data.Content = EscapeContent(text)

		body, err := execute(tmpl, data)
		if err != nil {
			return "", err
		}
		overflow := utf8.RuneCountInString(body) - r.maxLength
		if overflow <= 0 {
			if body == "" {
				return "", ErrEmptyMessage
			}
			return body, nil
		}
		if len(content) == 0 {
			return "", fmt.Errorf("header alone exceeds %d characters", r.maxLength)
		}

		cut := overflow + utf8.RuneCountInString(ellipsis)
		if cut > len(content) {
			cut = len(content)
		}
		content = content[:len(content)-cut]
		truncated = true
	}
}

func execute(tmpl *template.Template, data messageData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", tmpl.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// StripLeadingMention removes the mention token that starts a ping.
func StripLeadingMention(content string) string {
	return leadingMention.ReplaceAllString(content, "")
}
