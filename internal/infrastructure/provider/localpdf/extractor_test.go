package localpdf

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/akarpov/archivarius/internal/core/domain"
	"github.com/akarpov/archivarius/internal/core/ports"
)

type storageFake struct {
	blobs map[string][]byte
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.blobs == nil {
		f.blobs = make(map[string][]byte)
	}
	f.blobs[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := f.blobs[key]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func TestExecuteExtractsPlainText(t *testing.T) {
	storage := &storageFake{blobs: map[string][]byte{
		"blob/doc-1.txt": []byte("  archival notice, fiscal year 1987  "),
	}}
	extractor := NewExtractor(storage)

	result, err := extractor.Execute(context.Background(), ports.StageRequest{
		DocumentID: "doc-1",
		ContentRef: "blob/doc-1.txt",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Output != "archival notice, fiscal year 1987" {
		t.Fatalf("unexpected output: %q", result.Output)
	}
	if result.Confidence <= 0.9 || result.Confidence > 0.95 {
		t.Fatalf("clean text should score near the cap, got %v", result.Confidence)
	}
}

func TestExecuteRejectsBinaryContentAsPermanent(t *testing.T) {
	storage := &storageFake{blobs: map[string][]byte{
		"blob/doc-1.bin": {0x00, 0xff, 0xfe, 0x01},
	}}
	extractor := NewExtractor(storage)

	_, err := extractor.Execute(context.Background(), ports.StageRequest{ContentRef: "blob/doc-1.bin"})
	if !domain.IsKind(err, domain.ErrPermanentProvider) {
		t.Fatalf("binary content is not retryable, got %v", err)
	}
}

func TestExecuteMissingBlobIsPermanent(t *testing.T) {
	extractor := NewExtractor(&storageFake{})

	_, err := extractor.Execute(context.Background(), ports.StageRequest{ContentRef: "blob/missing.pdf"})
	if !domain.IsKind(err, domain.ErrPermanentProvider) {
		t.Fatalf("a dangling content ref is not retryable, got %v", err)
	}
}

func TestExecuteRejectsMalformedPDFAsPermanent(t *testing.T) {
	storage := &storageFake{blobs: map[string][]byte{
		"blob/doc-1.pdf": []byte("%PDF-1.7 truncated garbage"),
	}}
	extractor := NewExtractor(storage)

	_, err := extractor.Execute(context.Background(), ports.StageRequest{ContentRef: "blob/doc-1.pdf"})
	if !domain.IsKind(err, domain.ErrPermanentProvider) {
		t.Fatalf("malformed pdf is not retryable, got %v", err)
	}
}

func TestPageCoverageConfidence(t *testing.T) {
	cases := []struct {
		pagesWithText, total int
		want                 float64
	}{
		{4, 4, 0.95},
		{2, 4, 0.475},
		{0, 4, 0},
		{0, 0, 0},
	}
	for _, tc := range cases {
		if got := pageCoverageConfidence(tc.pagesWithText, tc.total); got != tc.want {
			t.Fatalf("pageCoverageConfidence(%d, %d) = %v, want %v", tc.pagesWithText, tc.total, got, tc.want)
		}
	}
}
