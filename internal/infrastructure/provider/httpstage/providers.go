package httpstage

import (
	"context"

	"github.com/akarpov/archivarius/internal/core/domain"
	"github.com/akarpov/archivarius/internal/core/ports"
)

// stageResponse is the shared wire shape all four stage services answer with.
type stageResponse struct {
	Output     string  `json:"output"`
	Confidence float64 `json:"confidence"`
}

// Extractor calls the OCR/text-extraction service with the content reference.
type Extractor struct {
	client *Client
}

func NewExtractor(client *Client) *Extractor {
	return &Extractor{client: client}
}

func (e *Extractor) Execute(ctx context.Context, req ports.StageRequest) (domain.StageResult, error) {
	request := map[string]any{
		"document_id": req.DocumentID,
		"content_ref": req.ContentRef,
	}
	var resp stageResponse
	if err := e.client.postJSON(ctx, "/v1/extract", request, &resp, "extract"); err != nil {
		return domain.StageResult{}, err
	}
	return domain.StageResult{Output: resp.Output, Confidence: resp.Confidence}, nil
}

// Translator calls the machine-translation service with the extracted text.
type Translator struct {
	client *Client
}

func NewTranslator(client *Client) *Translator {
	return &Translator{client: client}
}

func (t *Translator) Execute(ctx context.Context, req ports.StageRequest) (domain.StageResult, error) {
	request := map[string]any{
		"document_id": req.DocumentID,
		"text":        req.Text,
	}
	var resp stageResponse
	if err := t.client.postJSON(ctx, "/v1/translate", request, &resp, "translate"); err != nil {
		return domain.StageResult{}, err
	}
	return domain.StageResult{Output: resp.Output, Confidence: resp.Confidence}, nil
}

// Classifier calls the document-type classification service. Whether it can
// work on original-language text is deployment-specific configuration.
type Classifier struct {
	client              *Client
	acceptsUntranslated bool
}

func NewClassifier(client *Client, acceptsUntranslated bool) *Classifier {
	return &Classifier{client: client, acceptsUntranslated: acceptsUntranslated}
}

func (c *Classifier) AcceptsUntranslated() bool { return c.acceptsUntranslated }

func (c *Classifier) Execute(ctx context.Context, req ports.StageRequest) (domain.StageResult, error) {
	request := map[string]any{
		"document_id": req.DocumentID,
		"text":        req.Text,
		"translated":  req.Translated,
	}
	var resp stageResponse
	if err := c.client.postJSON(ctx, "/v1/classify", request, &resp, "classify"); err != nil {
		return domain.StageResult{}, err
	}
	return domain.StageResult{Output: resp.Output, Confidence: resp.Confidence}, nil
}

// Finalizer calls the metadata-finalize service, which persists the archival
// record in the document catalog.
type Finalizer struct {
	client *Client
}

func NewFinalizer(client *Client) *Finalizer {
	return &Finalizer{client: client}
}

func (f *Finalizer) Execute(ctx context.Context, req ports.StageRequest) (domain.StageResult, error) {
	request := map[string]any{
		"document_id": req.DocumentID,
		"text":        req.Text,
		"category":    req.Category,
	}
	var resp stageResponse
	if err := f.client.postJSON(ctx, "/v1/finalize", request, &resp, "finalize"); err != nil {
		return domain.StageResult{}, err
	}
	if resp.Confidence == 0 {
		// Finalize is deterministic bookkeeping; services that omit the field
		// mean full confidence, not zero.
		resp.Confidence = 1.0
	}
	return domain.StageResult{Output: resp.Output, Confidence: resp.Confidence}, nil
}

var (
	_ ports.StageProvider     = (*Extractor)(nil)
	_ ports.StageProvider     = (*Translator)(nil)
	_ ports.StageProvider     = (*Classifier)(nil)
	_ ports.StageProvider     = (*Finalizer)(nil)
	_ ports.UntranslatedAware = (*Classifier)(nil)
)
