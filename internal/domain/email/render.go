package email

import (
	"regexp"
	"strings"

	"leadmailer/internal/domain/recipient"
)

// Render produces the personalized message for one recipient.
// Unknown fields render as the empty string.
// PRE: tpl has been compiled
// POST: Returns a new RenderedMessage; tpl and r are not mutated
func Render(tpl Template, r recipient.Recipient) RenderedMessage {
	msg := RenderedMessage{
		To:      r.Address,
		Subject: Substitute(tpl.Subject, r.Fields),
		HTML:    Substitute(tpl.Body, r.Fields),
	}
	if strings.TrimSpace(tpl.TextBody) != "" {
		msg.Text = Substitute(tpl.TextBody, r.Fields)
	} else {
		msg.Text = DerivePlainText(msg.HTML)
	}
	return msg
}

// Substitute replaces every {name} token in s with fields[name] in a single pass.
// A token name is one or more of [A-Za-z0-9_.-]; anything else in braces is left as-is.
// Substituted values are not rescanned.
func Substitute(s string, fields map[string]string) string {
	if !strings.Contains(s, "{") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != '{' {
			b.WriteByte(s[i])
			i++
			continue
		}
		end := tokenEnd(s, i+1)
		if end < 0 {
			b.WriteByte('{')
			i++
			continue
		}
		b.WriteString(fields[s[i+1:end]])
		i = end + 1
	}
	return b.String()
}

// tokenEnd returns the index of the closing brace of a token starting at
// start, or -1 if s[start:] does not begin a valid token.
func tokenEnd(s string, start int) int {
	for j := start; j < len(s); j++ {
		c := s[j]
		switch {
		case c == '}':
			if j == start {
				return -1
			}
			return j
		case isTokenByte(c):
		default:
			return -1
		}
	}
	return -1
}

func isTokenByte(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '_' || c == '.' || c == '-'
}

var (
	breakTagRegex      = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockCloseTagRegex = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|table|ul|ol|blockquote|section|article|header|footer|pre)\s*>`)
	anyTagRegex        = regexp.MustCompile(`<[^>]*>`)
	blankLinesRegex    = regexp.MustCompile(`\n{3,}`)
)

// entityReplacer decodes the minimal entity set. &amp; is listed last so
// "&amp;lt;" decodes to "&lt;" and not "<".
var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&amp;", "&",
)

// DerivePlainText converts an HTML body into a plain-text alternative.
// Output that contains no '<' and no entity from the decoded set is a fixed
// point: deriving it again only trims whitespace. Decoding entities can
// produce such characters ("&amp;lt;" gives "&lt;", which gives "<" on the
// next pass), so the result must not be fed back in as HTML.
// PRE: none
// POST: Deterministic; re-deriving tag-free, entity-free text only trims whitespace
func DerivePlainText(html string) string {
	s := strings.ReplaceAll(html, "\r\n", "\n")
	s = breakTagRegex.ReplaceAllString(s, "\n")
	s = blockCloseTagRegex.ReplaceAllString(s, "\n")
	s = anyTagRegex.ReplaceAllString(s, "")
	s = entityReplacer.Replace(s)
	s = blankLinesRegex.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
