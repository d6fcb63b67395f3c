package email

import (
	"errors"
	"strings"
	"testing"
)

// TestTemplate_Validate_Valid tests that a well-formed template passes validation.
func TestTemplate_Validate_Valid(t *testing.T) {
	tpl := Template{Subject: "Hola {name}", Body: "<p>Gracias</p>"}
	if err := tpl.Validate(); err != nil {
		t.Errorf("expected valid template, got: %v", err)
	}
}

// TestTemplate_Validate_BlankSubject tests that whitespace-only subject is rejected.
func TestTemplate_Validate_BlankSubject(t *testing.T) {
	tpl := Template{Subject: "   ", Body: "body"}
	err := tpl.Validate()
	if !errors.Is(err, ErrInvalidTemplate) {
		t.Errorf("expected ErrInvalidTemplate, got: %v", err)
	}
	if err != ErrEmptySubject {
		t.Errorf("expected ErrEmptySubject, got: %v", err)
	}
}

// TestTemplate_Validate_BlankBody tests that whitespace-only body is rejected.
func TestTemplate_Validate_BlankBody(t *testing.T) {
	tpl := Template{Subject: "sub", Body: "\n\t "}
	if err := tpl.Validate(); err != ErrEmptyBody {
		t.Errorf("expected ErrEmptyBody, got: %v", err)
	}
}

// TestTemplate_Validate_UnknownFormat tests that only html and markdown are accepted.
func TestTemplate_Validate_UnknownFormat(t *testing.T) {
	tpl := Template{Subject: "sub", Body: "body", Format: "rtf"}
	if err := tpl.Validate(); !errors.Is(err, ErrInvalidTemplate) {
		t.Errorf("expected ErrInvalidTemplate, got: %v", err)
	}
}

// TestTemplate_Compile_Markdown tests that markdown bodies become HTML and keep tokens.
func TestTemplate_Compile_Markdown(t *testing.T) {
	tpl := Template{Subject: "Hola", Body: "Hola **{name}**", Format: FormatMarkdown}
	out, err := tpl.Compile()
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if out.Format != FormatHTML {
		t.Errorf("Format = %q, want %q", out.Format, FormatHTML)
	}
	if !strings.Contains(out.Body, "<strong>{name}</strong>") {
		t.Errorf("Body = %q, want <strong>{name}</strong>", out.Body)
	}
}

// TestTemplate_Compile_HTMLUnchanged tests that HTML bodies pass through untouched.
func TestTemplate_Compile_HTMLUnchanged(t *testing.T) {
	tpl := Template{Subject: "Hola", Body: "<p>{name}</p>"}
	out, err := tpl.Compile()
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if out.Body != tpl.Body {
		t.Errorf("Body = %q, want %q", out.Body, tpl.Body)
	}
}

// TestTemplate_Compile_Invalid tests that Compile validates first.
func TestTemplate_Compile_Invalid(t *testing.T) {
	if _, err := (Template{Body: "x"}).Compile(); !errors.Is(err, ErrInvalidTemplate) {
		t.Errorf("expected ErrInvalidTemplate, got: %v", err)
	}
}
