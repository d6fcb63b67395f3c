package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"leadmailer/internal/adapters/email"
	"leadmailer/internal/adapters/events"
	"leadmailer/internal/adapters/http/perf"
	"leadmailer/internal/adapters/storage"
	auditStore "leadmailer/internal/adapters/storage/audit"
	dispatchStore "leadmailer/internal/adapters/storage/dispatch"
	"leadmailer/internal/application/orchestrators"
	"leadmailer/internal/domain/dispatch"
	emailDomain "leadmailer/internal/domain/email"
	"leadmailer/internal/domain/export"
	"leadmailer/internal/domain/recipient"
	"leadmailer/internal/tui"
)

// cliActor identifies operator actions taken from the command line.
const cliActor = "cli"

// errUnknownRecipient is returned by csvSource for an id it was not built with.
var errUnknownRecipient = errors.New("recipient not in csv")

// csvSource serves recipients parsed from a CSV file.
// Rows without an ID, or repeating an earlier one, get "row-N" where N is the
// 1-based row index. If that id is taken too, "-2", "-3", ... is appended.
// INVARIANT: ids are unique and len(ids) == number of rows.
type csvSource struct {
	ids  []string
	byID map[string]recipient.Recipient
}

func newCSVSource(rows []recipient.Recipient) *csvSource {
	// Explicit ids claim their slot first so a later synthetic id never
	// displaces them.
	explicit := make(map[string]int, len(rows))
	for i, r := range rows {
		if _, seen := explicit[r.ID]; r.ID != "" && !seen {
			explicit[r.ID] = i
		}
	}

	s := &csvSource{byID: make(map[string]recipient.Recipient, len(rows))}
	for i, r := range rows {
		if first, ok := explicit[r.ID]; !ok || first != i {
			r.ID = s.freeID(fmt.Sprintf("row-%d", i+1), explicit)
		}
		s.ids = append(s.ids, r.ID)
		s.byID[r.ID] = r
	}
	return s
}

// freeID returns base, or base with the smallest "-k" suffix, that no row
// holds and no explicit id reserves.
func (s *csvSource) freeID(base string, reserved map[string]int) string {
	id := base
	for k := 2; ; k++ {
		_, used := s.byID[id]
		_, claimed := reserved[id]
		if !used && !claimed {
			return id
		}
		id = fmt.Sprintf("%s-%d", base, k)
	}
}

// IDs returns recipient ids in file order.
func (s *csvSource) IDs() []string { return s.ids }

// GetRecipients resolves ids in the order given.
func (s *csvSource) GetRecipients(_ context.Context, ids []string) ([]recipient.Recipient, error) {
	out := make([]recipient.Recipient, 0, len(ids))
	for _, id := range ids {
		r, ok := s.byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", errUnknownRecipient, id)
		}
		out = append(out, r)
	}
	return out, nil
}

// loadTemplate reads a YAML template with subject, body, text and format keys.
func loadTemplate(path string) (emailDomain.Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return emailDomain.Template{}, err
	}
	defer f.Close()

	var tpl emailDomain.Template
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&tpl); err != nil {
		return emailDomain.Template{}, fmt.Errorf("parse template %s: %w", path, err)
	}
	return tpl, tpl.Validate()
}

func loadRecipients(path string) ([]recipient.Recipient, []recipient.RowError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return recipient.ParseCSV(f)
}

func runSend(args []string) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	tplPath := fs.String("template", "", "Path to a YAML template")
	recipientsPath := fs.String("recipients", "", "Path to a recipients CSV")
	outDir := fs.String("out", ".", "Directory for the CSV report")
	plain := fs.Bool("plain", false, "Print one line per send instead of the live view")
	logPath := fs.String("log", "", "File for structured logs while the live view runs")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *tplPath == "" || *recipientsPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -template and -recipients are required")
		return 1
	}

	tpl, err := loadTemplate(*tplPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	rows, rowErrs, err := loadRecipients(*recipientsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	for _, e := range rowErrs {
		fmt.Fprintf(os.Stderr, "Skipping row %d: %s\n", e.Row, e.Message)
	}
	src := newCSVSource(rows)

	logOut, closeLog, err := sendLogOutput(*plain, *logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog()

	cfg, db, err := loadRuntime(logOut)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	collector := perf.NewCollector(perf.DefaultRingSize)
	timedDB := storage.NewTimedDB(db, collector)
	sender, err := cfg.NewSender()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	audits := auditStore.NewSQLiteStore(timedDB)
	hub := events.NewHub(events.DefaultCapacity)
	feed, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := orchestrators.ExecuteStartDispatch(ctx, orchestrators.StartDispatchInput{
		LeadIDs:  src.IDs(),
		Template: tpl,
		ActorID:  cliActor,
	}, orchestrators.StartDispatchDeps{
		Recipients: src,
		Transport:  email.NewTimedSender(sender, cfg.Transport, collector),
		Audit:      audits,
		Events:     audits,
		Observer:   hub,
		Runs:       dispatchStore.NewSQLiteStore(timedDB),
		Options: orchestrators.DispatchOptions{
			MaxBatch:  cfg.MaxBatch,
			SendDelay: cfg.SendDelay,
			From:      cfg.From,
			ReplyTo:   cfg.ReplyTo,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	go func() {
		select {
		case <-ctx.Done():
			run.Cancel()
		case <-run.Done():
		}
	}()

	if *plain {
		printProgress(os.Stdout, run, feed)
	} else {
		if _, err := tea.NewProgram(tui.New(run, run.Subject(), feed)).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			run.Cancel()
		}
	}
	<-run.Done()

	p := run.Progress()
	path, err := writeReport(*outDir, run)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
		return 1
	}
	fmt.Printf("Sent %d, failed %d, pending %d of %d. Report: %s\n", p.Sent, p.Failed, p.Pending, p.Total, path)
	if n := run.AuditFailures(); n > 0 {
		fmt.Fprintf(os.Stderr, "Warning: %d interactions could not be recorded\n", n)
	}
	if !run.Result() {
		return 2
	}
	return 0
}

// sendLogOutput picks where logs go during a send. The live view owns the
// terminal, so its logs go to path or are discarded.
func sendLogOutput(plain bool, path string) (io.Writer, func(), error) {
	if plain {
		return os.Stderr, func() {}, nil
	}
	if path == "" {
		return io.Discard, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// printProgress writes one line per finished attempt until the run ends.
func printProgress(w io.Writer, run *orchestrators.DispatchRun, feed <-chan events.Event) {
	for {
		select {
		case ev, ok := <-feed:
			if !ok {
				<-run.Done()
				return
			}
			printEvent(w, run.ID(), ev)
		case <-run.Done():
			// Flush what the hub buffered before the run closed.
			for {
				select {
				case ev, ok := <-feed:
					if !ok {
						return
					}
					printEvent(w, run.ID(), ev)
				default:
					return
				}
			}
		}
	}
}

func printEvent(w io.Writer, runID string, ev events.Event) {
	if ev.RunID != runID || ev.Type != events.TypeSendEvent {
		return
	}
	var se dispatch.SendEvent
	if err := ev.Decode(&se); err != nil || se.Status == dispatch.StatusSending {
		return
	}
	line := fmt.Sprintf("%-9s %s <%s>", export.StatusLabel(se.Status), se.RecipientName, se.Address)
	if se.Reason != "" {
		line += ": " + se.Reason
	}
	fmt.Fprintln(w, line)
}

// writeReport saves the run's CSV report under dir.
func writeReport(dir string, run *orchestrators.DispatchRun) (string, error) {
	report, err := export.RenderDispatchReport(run.Events())
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, export.DispatchReportFilename(run.Progress().StartedAt))
	if err := os.WriteFile(path, report, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
