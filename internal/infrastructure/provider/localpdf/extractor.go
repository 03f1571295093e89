package localpdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/akarpov/archivarius/internal/core/domain"
	"github.com/akarpov/archivarius/internal/core/ports"
)

// Extractor pulls text from PDFs resolved through object storage, for
// deployments without a remote OCR service. Non-PDF content falls back to a
// plain UTF-8 read.
type Extractor struct {
	storage ports.ObjectStorage
}

func NewExtractor(storage ports.ObjectStorage) *Extractor {
	return &Extractor{storage: storage}
}

var _ ports.StageProvider = (*Extractor)(nil)

func (e *Extractor) Execute(ctx context.Context, req ports.StageRequest) (domain.StageResult, error) {
	reader, err := e.storage.Open(ctx, req.ContentRef)
	if err != nil {
		return domain.StageResult{}, domain.WrapError(domain.ErrPermanentProvider, "open source document", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return domain.StageResult{}, domain.WrapError(domain.ErrTransientProvider, "read source document", err)
	}

	if bytes.HasPrefix(raw, []byte("%PDF-")) {
		return extractPDF(raw)
	}

	if !utf8.Valid(raw) {
		return domain.StageResult{}, domain.WrapError(domain.ErrPermanentProvider, "extract text",
			fmt.Errorf("unsupported binary format: %s", req.ContentRef))
	}
	text := strings.TrimSpace(string(raw))
	return domain.StageResult{Output: text, Confidence: plainTextConfidence(text)}, nil
}

func extractPDF(raw []byte) (domain.StageResult, error) {
	doc, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return domain.StageResult{}, domain.WrapError(domain.ErrPermanentProvider, "parse pdf", err)
	}

	var sb strings.Builder
	pagesWithText := 0
	total := doc.NumPage()
	for i := 1; i <= total; i++ {
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			// Page-level extraction failures lower confidence instead of
			// failing the document outright.
			continue
		}
		if strings.TrimSpace(content) != "" {
			pagesWithText++
		}
		sb.WriteString(content)
		sb.WriteString("\n")
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return domain.StageResult{}, domain.WrapError(domain.ErrPermanentProvider, "extract pdf text",
			fmt.Errorf("no extractable text in %d pages, scan needs OCR", total))
	}
	return domain.StageResult{Output: text, Confidence: pageCoverageConfidence(pagesWithText, total)}, nil
}

// pageCoverageConfidence scores extraction by the share of pages that yielded
// text. A fully covered document scores 0.95, never 1.0: only a human
// override asserts certainty.
func pageCoverageConfidence(pagesWithText, totalPages int) float64 {
	if totalPages == 0 {
		return 0
	}
	return 0.95 * float64(pagesWithText) / float64(totalPages)
}

// plainTextConfidence scores a UTF-8 read by the share of printable runes.
func plainTextConfidence(text string) float64 {
	if text == "" {
		return 0
	}
	printable := 0
	total := 0
	for _, r := range text {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	return 0.95 * float64(printable) / float64(total)
}
