package recipient

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"
)

// ErrMissingColumn is returned when a recipient CSV lacks a required header.
var ErrMissingColumn = errors.New("csv missing required column")

// RowError describes a rejected CSV row. Row counts the header as row 1.
type RowError struct {
	Row     int
	Message string
}

// ParseCSV reads recipients from a CSV with a header row. NAME and EMAIL
// columns are required (case-insensitive); ID is optional. Every column,
// keyed by its header as written, becomes a substitution field.
// Rows with an empty EMAIL are kept so the run records them as failed;
// rows with a malformed EMAIL are rejected.
// POST: Returns recipients in file order plus per-row errors
func ParseCSV(r io.Reader) ([]Recipient, []RowError, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	keys := make([]string, len(header))
	colIdx := make(map[string]int, len(header))
	for i, h := range header {
		keys[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		colIdx[strings.ToUpper(keys[i])] = i
	}
	for _, col := range []string{"NAME", "EMAIL"} {
		if _, ok := colIdx[col]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	getCol := func(row []string, col string) string {
		i, ok := colIdx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var (
		out    []Recipient
		errs   []RowError
		rowNum = 1
	)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			errs = append(errs, RowError{Row: rowNum, Message: err.Error()})
			continue
		}

		address := getCol(row, "EMAIL")
		if address != "" {
			parsed, err := mail.ParseAddress(address)
			if err != nil {
				errs = append(errs, RowError{Row: rowNum, Message: "invalid email: " + address})
				continue
			}
			address = strings.ToLower(parsed.Address)
		}

		fields := make(map[string]string, len(keys))
		for i, k := range keys {
			if k != "" && i < len(row) {
				fields[k] = strings.TrimSpace(row[i])
			}
		}
		out = append(out, Recipient{
			ID:      getCol(row, "ID"),
			Name:    getCol(row, "NAME"),
			Address: address,
			Fields:  fields,
		})
	}
	return out, errs, nil
}
