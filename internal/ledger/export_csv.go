package ledger

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	csvFlushEvery = 200
	csvBufferSize = 32 * 1024
)

type csvStreamer struct {
	buf          *bufio.Writer
	csv          *csv.Writer
	flushEvery   int
	pendingLines int
}

func newCSVStreamer(w io.Writer) *csvStreamer {
	buf := bufio.NewWriterSize(w, csvBufferSize)
	writer := csv.NewWriter(buf)
	writer.UseCRLF = true
	return &csvStreamer{buf: buf, csv: writer, flushEvery: csvFlushEvery}
}

func (s *csvStreamer) writeComment(line string) error {
	if s == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	if !strings.HasSuffix(line, "\r\n") {
		line = strings.TrimSuffix(line, "\n")
		line += "\r\n"
	}
	_, err := s.buf.WriteString(line)
	return err
}

func (s *csvStreamer) writeRow(row []string) error {
	if s == nil || s.csv == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	if err := s.csv.Write(row); err != nil {
		return err
	}
	s.pendingLines++
	if s.flushEvery > 0 && s.pendingLines >= s.flushEvery {
		return s.Flush()
	}
	return nil
}

func (s *csvStreamer) Flush() error {
	if s == nil || s.csv == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	s.pendingLines = 0
	return nil
}

func (s *csvStreamer) Close() error {
	return s.Flush()
}

var exportHeader = []string{
	"PO ID", "PO Number", "Line No", "Project", "Site", "Item Description",
	"Unit Price", "Requested Qty", "Line Amount", "Currency", "Payment Terms",
	"PO Status", "Published Date", "Category", "Payment Category", "Account",
	"AC Date", "PAC Date", "AC Amount", "PAC Amount", "Remaining", "Status",
	"Assigned", "External PO",
}

// WriteCSV streams ledger entries as a CSV document with a metadata
// preamble.
func WriteCSV(w io.Writer, entries []Entry, generatedAt time.Time) error {
	streamer := newCSVStreamer(w)
	if err := streamer.writeComment("# Report: Reconciliation Ledger"); err != nil {
		return err
	}
	if err := streamer.writeComment(fmt.Sprintf("# Generated: %s | Rows: %d", generatedAt.UTC().Format(time.RFC3339), len(entries))); err != nil {
		return err
	}
	if err := streamer.writeRow(exportHeader); err != nil {
		return err
	}
	for _, e := range entries {
		if err := streamer.writeRow([]string{
			e.POID,
			e.PONumber,
			e.POLineNo,
			e.ProjectName,
			e.SiteName,
			e.ItemDescription,
			formatDecimal(e.UnitPrice),
			formatDecimal(e.RequestedQty),
			formatDecimal(e.LineAmount),
			e.Currency,
			e.PaymentTerms,
			e.POStatus,
			formatDate(e.PublishedDate),
			e.Category,
			e.PaymentCategory,
			e.AccountName,
			formatDate(e.ACDate),
			formatDate(e.PACDate),
			formatDecimal(e.ACAmount),
			formatDecimal(e.PACAmount),
			formatDecimal(e.Remaining),
			e.Status,
			formatBool(e.IsAssigned),
			formatBool(e.HasExternalPO),
		}); err != nil {
			return err
		}
	}
	return streamer.Close()
}

func formatDecimal(v decimal.Decimal) string {
	return v.StringFixed(2)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func formatBool(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
