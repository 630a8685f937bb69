package notifications

import (
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// allowedTags are the Telegram HTML tags user content may keep.
var allowedTags = map[string]bool{
	"b": true, "i": true, "u": true, "s": true, "code": true, "pre": true, "a": true,
}

// noLinkTags suppress linkification of their contents.
var noLinkTags = map[string]bool{"a": true, "code": true, "pre": true}

// linkSchemes are the href schemes Telegram accepts in an anchor.
var linkSchemes = map[string]bool{"http": true, "https": true, "tg": true}

var (
	tagPattern = regexp.MustCompile(`<(/?)([a-z]+)(?:\s+href="([^"<>]*)")?\s*>`)
	urlPattern = regexp.MustCompile(`https?://[^\s<>"]*[^\s<>".,;:!?)\]'&]`)
)

type tagSpan struct {
	start, end int
	name       string
	href       string
	closing    bool
}

// EscapeContent prepares Discord message text for Telegram HTML parse mode.
//
// Tags and bare URLs are located on the raw text first; every piece of text,
// href and link label is then escaped on its own, so an entity is never split
// by link detection. Angle brackets survive only as part of a balanced
// allow-listed tag, and an anchor is kept only for an http, https or tg link.
func EscapeContent(s string) string {
	kept := balancedTags(s)

	var b strings.Builder
	b.Grow(len(s) + len(s)/8)

	depth := 0
	pos := 0
	for _, t := range kept {
		writeText(&b, s[pos:t.start], depth == 0)
		writeTag(&b, t)
		if noLinkTags[t.name] {
			if t.closing {
				depth--
			} else {
				depth++
			}
		}
		pos = t.end
	}
	writeText(&b, s[pos:], depth == 0)
	return b.String()
}

// balancedTags returns, in order, the allow-listed tags that open and close in
// properly nested pairs.
func balancedTags(s string) []tagSpan {
	matches := tagPattern.FindAllStringSubmatchIndex(s, -1)

	var stack []tagSpan
	var kept []tagSpan
	for _, m := range matches {
		t := tagSpan{
			start:   m[0],
			end:     m[1],
			closing: m[3] > m[2],
			name:    s[m[4]:m[5]],
		}
		hasAttr := m[6] >= 0
		if hasAttr {
			t.href = s[m[6]:m[7]]
		}
		if !allowedTags[t.name] {
			continue
		}
		if t.closing {
			if hasAttr || len(stack) == 0 || stack[len(stack)-1].name != t.name {
				continue
			}
			kept = append(kept, stack[len(stack)-1], t)
			stack = stack[:len(stack)-1]
			continue
		}
		if hasAttr != (t.name == "a") {
			continue
		}
		if hasAttr && !safeLink(t.href) {
			continue
		}
		stack = append(stack, t)
	}

	slices.SortFunc(kept, func(a, b tagSpan) int { return a.start - b.start })
	return kept
}

func safeLink(href string) bool {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return false
	}
	return linkSchemes[strings.ToLower(u.Scheme)]
}

func writeTag(b *strings.Builder, t tagSpan) {
	switch {
	case t.closing:
		b.WriteString("</" + t.name + ">")
	case t.name == "a":
		writeLinkOpen(b, t.href)
	default:
		b.WriteString("<" + t.name + ">")
	}
}

func writeLinkOpen(b *strings.Builder, href string) {
	b.WriteString(`<a href="`)
	b.WriteString(escapeHTML(href))
	b.WriteString(`">`)
}

func writeText(b *strings.Builder, text string, linkify bool) {
	if !linkify {
		b.WriteString(escapeHTML(text))
		return
	}
	pos := 0
	for _, m := range urlPattern.FindAllStringIndex(text, -1) {
		b.WriteString(escapeHTML(text[pos:m[0]]))
		link := text[m[0]:m[1]]
		writeLinkOpen(b, link)
		b.WriteString(escapeHTML(link))
		b.WriteString(`</a>`)
		pos = m[1]
	}
	b.WriteString(escapeHTML(text[pos:]))
}

var htmlReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeHTML(s string) string {
	return htmlReplacer.Replace(s)
}
