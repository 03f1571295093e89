package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/akarpov/archivarius/internal/core/domain"
)

const sheetName = "Audit"

// AuditWorkbook renders exported ledger entries as an XLSX workbook for
// compliance reviewers. Entries must be added in sequence order; the chain
// columns let a reviewer spot-check linkage offline.
type AuditWorkbook struct {
	file *excelize.File
	row  int
}

func NewAuditWorkbook() (*AuditWorkbook, error) {
	file := excelize.NewFile()
	if err := file.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("name audit sheet: %w", err)
	}

	headers := []string{"Seq", "Document", "Stage", "Event", "Timestamp", "Actor", "Payload Digest", "Prev Hash", "Entry Hash"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, fmt.Errorf("header cell: %w", err)
		}
		if err := file.SetCellValue(sheetName, cell, h); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	return &AuditWorkbook{file: file, row: 1}, nil
}

func (w *AuditWorkbook) Add(entry domain.AuditEntry) error {
	w.row++
	values := []any{
		entry.Seq,
		entry.DocumentID,
		string(entry.Stage),
		string(entry.EventType),
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.Actor,
		entry.PayloadDigest,
		entry.PrevHash,
		entry.EntryHash,
	}
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, w.row)
		if err != nil {
			return fmt.Errorf("entry cell: %w", err)
		}
		if err := w.file.SetCellValue(sheetName, cell, v); err != nil {
			return fmt.Errorf("write entry seq %d: %w", entry.Seq, err)
		}
	}
	return nil
}

// Rows reports the number of entry rows added so far.
func (w *AuditWorkbook) Rows() int {
	return w.row - 1
}

func (w *AuditWorkbook) WriteTo(out io.Writer) (int64, error) {
	defer func() {
		_ = w.file.Close()
	}()
	return w.file.WriteTo(out)
}
