package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	_ "modernc.org/sqlite"

	"leadmailer/internal/adapters/storage"
	dispatchStore "leadmailer/internal/adapters/storage/dispatch"
	leadStore "leadmailer/internal/adapters/storage/lead"
	"leadmailer/internal/application/orchestrators"
	"leadmailer/internal/application/projections"
	"leadmailer/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(args []string) int {
	if len(args) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "send":
		return runSend(rest)
	case "import":
		return runImport(rest)
	case "history":
		return runHistory(rest)
	case "version", "--version":
		fmt.Println("leadmailer", version)
		return 0
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: leadmailer <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  send     Send a template to every row of a recipients CSV")
	fmt.Fprintln(w, "  import   Import leads from a CSV into the database")
	fmt.Fprintln(w, "  history  List finished dispatch runs")
	fmt.Fprintln(w, "  version  Print the version")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration is read from LEADMAILER_CONFIG and LEADMAILER_* variables.")
}

// loadRuntime reads configuration, installs a logger writing to logOut and
// opens the database.
func loadRuntime(logOut io.Writer) (config.Config, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	config.SetupLogger(logOut, cfg.LogLevel)
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, db, nil
}

func runImport(args []string) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	csvPath := fs.String("csv", "", "Path to a leads CSV (NAME and EMAIL columns required)")
	dryRun := fs.Bool("dry-run", false, "Parse and validate without writing")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -csv is required")
		return 1
	}

	_, db, err := loadRuntime(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer f.Close()

	result, err := orchestrators.ExecuteImportLeads(context.Background(),
		orchestrators.ImportLeadsInput{Reader: f, DryRun: *dryRun},
		orchestrators.ImportLeadsDeps{LeadStore: leadStore.NewSQLiteStore(db)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	verb := "Imported"
	if result.DryRun {
		verb = "Would import"
	}
	fmt.Printf("%s %d of %d rows\n", verb, result.Imported, result.Total)
	for _, e := range result.Errors {
		fmt.Printf("  row %d: %s\n", e.Row, e.Message)
	}
	if len(result.Errors) > 0 {
		return 2
	}
	return 0
}

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", projections.DefaultHistoryLimit, "Maximum runs to list")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	_, db, err := loadRuntime(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	runs, err := projections.QueryDispatchHistory(context.Background(), *limit,
		projections.DispatchStatusDeps{History: dispatchStore.NewSQLiteStore(db)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(runs) == 0 {
		fmt.Println("No dispatch runs recorded.")
		return 0
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tFINISHED\tSENT\tFAILED\tTOTAL\tSTATE\tSUBJECT")
	for _, r := range runs {
		state := "completed"
		if r.Cancelled {
			state = "cancelled"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.RunID, r.FinishedAt.Local().Format(time.DateTime), r.Sent, r.Failed, r.Total, state, r.Subject)
	}
	tw.Flush()
	return 0
}
