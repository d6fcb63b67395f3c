package orchestrators

import (
	"context"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"leadmailer/internal/domain/recipient"
)

// LeadSaver stores imported leads.
type LeadSaver interface {
	Save(ctx context.Context, r recipient.Recipient) error
}

// ImportLeadsInput carries the CSV stream and import options.
// PRE: Reader is a CSV stream with a header row containing NAME and EMAIL
type ImportLeadsInput struct {
	Reader io.Reader
	DryRun bool
}

// ImportLeadsResult holds aggregate counts and per-row errors.
type ImportLeadsResult struct {
	Total    int
	Imported int
	IDs      []string
	Errors   []recipient.RowError
	DryRun   bool
}

// ImportLeadsDeps holds dependencies for ImportLeads.
type ImportLeadsDeps struct {
	LeadStore  LeadSaver
	GenerateID func() string
}

// ExecuteImportLeads parses a CSV and upserts each valid row as a lead.
// Rows without an ID get a generated one.
// POST: IDs lists saved lead ids in file order; when DryRun no writes occur
// INVARIANT: existing leads are updated in place, never deleted
func ExecuteImportLeads(ctx context.Context, input ImportLeadsInput, deps ImportLeadsDeps) (ImportLeadsResult, error) {
	leads, rowErrs, err := recipient.ParseCSV(input.Reader)
	if err != nil {
		return ImportLeadsResult{}, err
	}
	if deps.GenerateID == nil {
		deps.GenerateID = func() string { return uuid.New().String() }
	}

	result := ImportLeadsResult{
		Total:  len(leads) + len(rowErrs),
		Errors: rowErrs,
		DryRun: input.DryRun,
	}
	for i, lead := range leads {
		if lead.ID == "" {
			lead.ID = deps.GenerateID()
		}
		if !input.DryRun {
			if err := deps.LeadStore.Save(ctx, lead); err != nil {
				slog.Error("leads_import_save_failed", "index", i, "email", lead.Address, "err", err)
				result.Errors = append(result.Errors, recipient.RowError{Message: "save failed for " + lead.Address})
				continue
			}
		}
		result.Imported++
		result.IDs = append(result.IDs, lead.ID)
	}

	slog.Info("leads_import",
		"dry_run", input.DryRun,
		"total", result.Total,
		"imported", result.Imported,
		"errors", len(result.Errors),
	)
	return result, nil
}
