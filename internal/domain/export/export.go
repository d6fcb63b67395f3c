package export

import (
	"bytes"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zeebo/blake3"

	"leadmailer/internal/domain/dispatch"
)

// Format constants for export file format.
const (
	FormatCSV = "csv"
)

// Human status labels used in the report.
const (
	LabelSent    = "Enviado"
	LabelFailed  = "Fallido"
	LabelPending = "Pendiente"
)

// reportHeader is the first row of every dispatch report.
var reportHeader = []string{"Nombre", "Email", "Estado", "Error", "Fecha"}

// timestampLayout is fixed so the same log always exports byte-identical output.
const timestampLayout = time.RFC3339

// Domain errors.
var (
	ErrBadHeader = errors.New("report header does not match")
	ErrBadLabel  = errors.New("unknown status label")
)

// Row is one parsed report line.
type Row struct {
	Name    string
	Address string
	Status  dispatch.Status
	Reason  string
	At      time.Time
}

// StatusLabel maps an attempt status to its report label.
func StatusLabel(s dispatch.Status) string {
	switch s {
	case dispatch.StatusSuccess:
		return LabelSent
	case dispatch.StatusFailed:
		return LabelFailed
	default:
		return LabelPending
	}
}

// statusFromLabel is the inverse of StatusLabel.
func statusFromLabel(label string) (dispatch.Status, error) {
	switch label {
	case LabelSent:
		return dispatch.StatusSuccess, nil
	case LabelFailed:
		return dispatch.StatusFailed, nil
	case LabelPending:
		return dispatch.StatusSending, nil
	}
	return "", fmt.Errorf("%w: %q", ErrBadLabel, label)
}

// WriteDispatchReport serializes events as CSV, one row per event in log order.
// PRE: events are in attempt order
// POST: Output is deterministic for the same input; values containing
// commas, quotes or newlines are quoted
func WriteDispatchReport(w io.Writer, events []dispatch.SendEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return err
	}
	for _, ev := range events {
		row := []string{
			ev.RecipientName,
			ev.Address,
			StatusLabel(ev.Status),
			ev.Reason,
			ev.At.UTC().Format(timestampLayout),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// RenderDispatchReport returns the CSV report as bytes.
func RenderDispatchReport(events []dispatch.SendEvent) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteDispatchReport(&buf, events); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseDispatchReport reads a report produced by WriteDispatchReport.
// PRE: r holds a CSV report with the standard header
// POST: Returns rows in file order
func ParseDispatchReport(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(reportHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, h := range reportHeader {
		if header[i] != h {
			return nil, ErrBadHeader
		}
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rows)+1, err)
		}
		status, err := statusFromLabel(rec[2])
		if err != nil {
			return nil, err
		}
		at, err := time.Parse(timestampLayout, rec[4])
		if err != nil {
			return nil, fmt.Errorf("row %d timestamp: %w", len(rows)+1, err)
		}
		rows = append(rows, Row{
			Name:    rec[0],
			Address: rec[1],
			Status:  status,
			Reason:  rec[3],
			At:      at,
		})
	}
	return rows, nil
}

// DispatchReportFilename returns the download name for a report generated at t.
func DispatchReportFilename(t time.Time) string {
	return "reporte_envio_" + t.UTC().Format("20060102_150405") + "." + FormatCSV
}

// Digest returns a hex BLAKE3 digest of a rendered report, used as its ETag.
func Digest(report []byte) string {
	sum := blake3.Sum256(report)
	return hex.EncodeToString(sum[:])
}
