package email

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"
)

// Body format constants.
const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
)

// Domain errors
var (
	ErrInvalidTemplate = errors.New("invalid template")
	ErrEmptySubject    = fmt.Errorf("%w: subject is required", ErrInvalidTemplate)
	ErrEmptyBody       = fmt.Errorf("%w: body is required", ErrInvalidTemplate)
	ErrUnknownFormat   = fmt.Errorf("%w: format must be 'html' or 'markdown'", ErrInvalidTemplate)
)

// mdRenderer converts markdown bodies to HTML.
// Raw HTML in markdown input is escaped (WithUnsafe is NOT set).
var mdRenderer = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

// Template is the subject/body pair sent to every recipient of a run.
// Subject, Body and TextBody may contain {fieldName} tokens.
type Template struct {
	Subject  string `yaml:"subject" json:"subject"`
	Body     string `yaml:"body" json:"body"`
	TextBody string `yaml:"text" json:"text,omitempty"`     // Optional plain-text fallback
	Format   string `yaml:"format" json:"format,omitempty"` // html (default) or markdown
}

// RenderedMessage is one personalized message, ready for the transport.
type RenderedMessage struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Validate checks that subject and body are present.
// PRE: none
// POST: Returns an error wrapping ErrInvalidTemplate if unusable, nil otherwise
func (t Template) Validate() error {
	if strings.TrimSpace(t.Subject) == "" {
		return ErrEmptySubject
	}
	if strings.TrimSpace(t.Body) == "" {
		return ErrEmptyBody
	}
	switch t.Format {
	case "", FormatHTML, FormatMarkdown:
	default:
		return ErrUnknownFormat
	}
	return nil
}

// Compile validates the template and converts a markdown body to HTML.
// The result always has Format == FormatHTML and is safe to render repeatedly.
// PRE: none
// POST: Returns an HTML template or an error wrapping ErrInvalidTemplate
func (t Template) Compile() (Template, error) {
	if err := t.Validate(); err != nil {
		return Template{}, err
	}
	if t.Format == FormatMarkdown {
		var buf bytes.Buffer
		if err := mdRenderer.Convert([]byte(t.Body), &buf); err != nil {
			return Template{}, fmt.Errorf("%w: markdown: %v", ErrInvalidTemplate, err)
		}
		t.Body = buf.String()
	}
	t.Format = FormatHTML
	return t, nil
}
