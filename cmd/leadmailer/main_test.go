package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"leadmailer/internal/domain/email"
	"leadmailer/internal/domain/recipient"
)

func captureOutput(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout, oldStderr := os.Stdout, os.Stderr
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}
	os.Stdout, os.Stderr = stdoutW, stderrW

	outCh := make(chan []byte)
	errCh := make(chan []byte)
	go func() { b, _ := io.ReadAll(stdoutR); outCh <- b }()
	go func() { b, _ := io.ReadAll(stderrR); errCh <- b }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout, os.Stderr = oldStdout, oldStderr
	stdout, stderr := <-outCh, <-errCh
	_ = stdoutR.Close()
	_ = stderrR.Close()
	return code, string(stdout), string(stderr)
}

// setupEnv points the CLI at a fresh database and the noop transport.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LEADMAILER_CONFIG", "")
	t.Setenv("LEADMAILER_DB", filepath.Join(dir, "leadmailer.db"))
	t.Setenv("LEADMAILER_TRANSPORT", "noop")
	t.Setenv("LEADMAILER_SEND_DELAY", "0s")
	t.Setenv("LEADMAILER_LOG_LEVEL", "error")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunCLI_UnknownCommand(t *testing.T) {
	code, _, stderr := captureOutput(t, func() int { return runCLI([]string{"bogus"}) })
	if code != 1 || !strings.Contains(stderr, "Unknown command: bogus") {
		t.Errorf("code = %d, stderr = %q", code, stderr)
	}
}

func TestRunCLI_NoArgs(t *testing.T) {
	code, _, stderr := captureOutput(t, func() int { return runCLI(nil) })
	if code != 1 || !strings.Contains(stderr, "Usage: leadmailer") {
		t.Errorf("code = %d, stderr = %q", code, stderr)
	}
}

func TestCSVSource_AssignsRowIDs(t *testing.T) {
	src := newCSVSource([]recipient.Recipient{
		{Name: "Ana", Address: "ana@example.com"},
		{ID: "l2", Name: "Juan", Address: "juan@example.com"},
		{ID: "l2", Name: "Eva", Address: "eva@example.com"},
	})
	want := []string{"row-1", "l2", "row-3"}
	if got := strings.Join(src.IDs(), ","); got != strings.Join(want, ",") {
		t.Fatalf("IDs = %v, want %v", src.IDs(), want)
	}

	got, err := src.GetRecipients(context.Background(), []string{"row-3", "row-1"})
	if err != nil {
		t.Fatalf("GetRecipients: %v", err)
	}
	if got[0].Name != "Eva" || got[1].Name != "Ana" || got[0].ID != "row-3" {
		t.Errorf("recipients = %+v", got)
	}

	if _, err := src.GetRecipients(context.Background(), []string{"missing"}); !errors.Is(err, errUnknownRecipient) {
		t.Errorf("err = %v, want errUnknownRecipient", err)
	}
}

func TestCSVSource_SyntheticIDNeverShadowsExplicit(t *testing.T) {
	src := newCSVSource([]recipient.Recipient{
		{ID: "row-2", Name: "Ana", Address: "ana@example.com"},
		{Name: "Bob", Address: "bob@example.com"},
		{ID: "row-3", Name: "Eva", Address: "eva@example.com"},
		{ID: "row-3", Name: "Luz", Address: "luz@example.com"},
	})
	want := []string{"row-2", "row-2-2", "row-3", "row-4"}
	if got := strings.Join(src.IDs(), ","); got != strings.Join(want, ",") {
		t.Fatalf("IDs = %v, want %v", src.IDs(), want)
	}

	got, err := src.GetRecipients(context.Background(), src.IDs())
	if err != nil {
		t.Fatalf("GetRecipients: %v", err)
	}
	names := make([]string, len(got))
	for i, r := range got {
		names[i] = r.Name
	}
	if strings.Join(names, ",") != "Ana,Bob,Eva,Luz" {
		t.Errorf("names = %v, want every row once in file order", names)
	}
}

func TestCSVSource_LaterExplicitIDKeepsItsSlot(t *testing.T) {
	src := newCSVSource([]recipient.Recipient{
		{Name: "Ana", Address: "ana@example.com"},
		{ID: "row-1", Name: "Bob", Address: "bob@example.com"},
	})
	want := []string{"row-1-2", "row-1"}
	if got := strings.Join(src.IDs(), ","); got != strings.Join(want, ",") {
		t.Fatalf("IDs = %v, want %v", src.IDs(), want)
	}
	got, _ := src.GetRecipients(context.Background(), src.IDs())
	if len(got) != 2 || got[0].Name != "Ana" || got[1].Name != "Bob" {
		t.Errorf("recipients = %+v", got)
	}
}

func TestLoadTemplate(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "t.yaml", "subject: Hola {NAME}\nbody: \"**Hola** {NAME}\"\nformat: markdown\n")
	tpl, err := loadTemplate(path)
	if err != nil {
		t.Fatalf("loadTemplate: %v", err)
	}
	if tpl.Subject != "Hola {NAME}" || tpl.Format != email.FormatMarkdown {
		t.Errorf("template = %+v", tpl)
	}
}

func TestLoadTemplate_UnknownKey(t *testing.T) {
	path := writeFile(t, t.TempDir(), "t.yaml", "subject: s\nbody: b\ncc: x@y.z\n")
	if _, err := loadTemplate(path); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestLoadTemplate_Invalid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "t.yaml", "subject: \"\"\nbody: b\n")
	if _, err := loadTemplate(path); !errors.Is(err, email.ErrInvalidTemplate) {
		t.Errorf("err = %v, want ErrInvalidTemplate", err)
	}
}

func TestRunSend_PlainWritesReportAndHistory(t *testing.T) {
	dir := setupEnv(t)
	tplPath := writeFile(t, dir, "t.yaml", "subject: Hola {NAME}\nbody: <p>Hola {NAME} de {empresa}</p>\n")
	csvPath := writeFile(t, dir, "r.csv", "NAME,EMAIL,empresa\nAna,ana@example.com,Acme\nJuan,not-an-email,Acme\nEva,,Acme\n")
	outDir := t.TempDir()

	code, stdout, stderr := captureOutput(t, func() int {
		return runCLI([]string{"send", "-template", tplPath, "-recipients", csvPath, "-out", outDir, "-plain"})
	})
	if code != 0 {
		t.Fatalf("code = %d, stderr = %s", code, stderr)
	}
	if !strings.Contains(stderr, "Skipping row 3") {
		t.Errorf("stderr = %q, want skipped malformed row", stderr)
	}
	if !strings.Contains(stdout, "Sent 1, failed 1, pending 0 of 2") {
		t.Errorf("stdout = %q", stdout)
	}

	reports, _ := filepath.Glob(filepath.Join(outDir, "reporte_envio_*.csv"))
	if len(reports) != 1 {
		t.Fatalf("reports = %v, want one", reports)
	}
	data, _ := os.ReadFile(reports[0])
	if !strings.Contains(string(data), "Ana,ana@example.com,Enviado") || !strings.Contains(string(data), "Eva,,Fallido") {
		t.Errorf("report =\n%s", data)
	}

	code, stdout, _ = captureOutput(t, func() int { return runCLI([]string{"history"}) })
	if code != 0 || !strings.Contains(stdout, "Hola {NAME}") || !strings.Contains(stdout, "completed") {
		t.Errorf("history code = %d, stdout = %q", code, stdout)
	}
}

func TestRunSend_MissingFlags(t *testing.T) {
	code, _, stderr := captureOutput(t, func() int { return runCLI([]string{"send", "-plain"}) })
	if code != 1 || !strings.Contains(stderr, "-template and -recipients are required") {
		t.Errorf("code = %d, stderr = %q", code, stderr)
	}
}

func TestRunImport_DryRunThenImport(t *testing.T) {
	dir := setupEnv(t)
	csvPath := writeFile(t, dir, "leads.csv", "id,name,email\nl1,Ana,ana@example.com\nl2,Juan,bad\n")

	code, stdout, _ := captureOutput(t, func() int { return runCLI([]string{"import", "-csv", csvPath, "-dry-run"}) })
	if code != 2 || !strings.Contains(stdout, "Would import 1 of 2 rows") {
		t.Errorf("dry run code = %d, stdout = %q", code, stdout)
	}

	code, stdout, _ = captureOutput(t, func() int { return runCLI([]string{"import", "-csv", csvPath}) })
	if code != 2 || !strings.Contains(stdout, "Imported 1 of 2 rows") || !strings.Contains(stdout, "row 3: invalid email") {
		t.Errorf("import code = %d, stdout = %q", code, stdout)
	}
}

func TestRunHistory_Empty(t *testing.T) {
	setupEnv(t)
	code, stdout, _ := captureOutput(t, func() int { return runCLI([]string{"history"}) })
	if code != 0 || !strings.Contains(stdout, "No dispatch runs recorded.") {
		t.Errorf("code = %d, stdout = %q", code, stdout)
	}
}
