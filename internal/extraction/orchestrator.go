package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/bill-tracker/internal/scanning"
)

const (
	// DefaultCallTimeout bounds a single OCR or AI call
	DefaultCallTimeout = 30 * time.Second
	// DefaultBatchWorkers is the batch concurrency when Config leaves it unset
	DefaultBatchWorkers = 4

	fallbackConfidenceScale = 0.8
)

// Config tunes the orchestrator. Zero values pick the defaults.
type Config struct {
	CallTimeout  time.Duration
	BatchWorkers int
	// Now supplies "today" for bill records without a date
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.BatchWorkers <= 0 {
		c.BatchWorkers = DefaultBatchWorkers
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Document is one uploaded image or PDF.
type Document struct {
	Name        string
	Data        []byte
	ContentType string
}

// Orchestrator runs the tiered amount extraction for a single document.
type Orchestrator struct {
	generator scanning.Generator
	ocr       scanning.OCR
	prompts   *Prompts
	cfg       Config
}

// NewOrchestrator creates an Orchestrator. ocr may be nil, in which case the
// secondary scan tier is skipped.
func NewOrchestrator(generator scanning.Generator, ocr scanning.OCR, prompts *Prompts, cfg Config) *Orchestrator {
	if prompts == nil {
		prompts = NewPrompts(nil)
	}
	return &Orchestrator{
		generator: generator,
		ocr:       ocr,
		prompts:   prompts,
		cfg:       cfg.withDefaults(),
	}
}

// ExtractAmount returns the amount paid (transfer) or owed (bill) shown in
// doc. It returns (nil, nil) when every tier ran and none found a valid
// amount; the caller should fall back to manual entry. Collaborator failures
// are returned as *TransportError, missing credentials as ErrConfiguration.
func (o *Orchestrator) ExtractAmount(ctx context.Context, doc Document, kind Kind) (*Extraction, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}

	req := &request{o: o, doc: doc, kind: kind}

	primary, err := o.generate(ctx, doc, o.prompts.Template(string(kind)), "", "generate")
	if err != nil {
		return nil, err
	}
	ext, err := req.run(ctx, primary)
	if err != nil || ext != nil {
		return ext, err
	}

	if kind == KindBill {
		slog.Debug("Retrying bill with fallback prompt", "document", doc.Name)
		contextText := ""
		if req.ocrDone && req.ocrErr == nil {
			contextText = req.ocrText
		}
		primary, err = o.generate(ctx, doc, o.prompts.Template(TemplateFallback), contextText, "fallback")
		if err != nil {
			return nil, err
		}
		ext, err = req.run(ctx, primary)
		if err != nil {
			return nil, err
		}
		if ext != nil {
			ext.Fallback = true
			ext.Confidence *= fallbackConfidenceScale
			return ext, nil
		}
	}

	slog.Info("No amount found", "document", doc.Name, "kind", kind)
	return nil, nil
}

// BatchResult is the outcome for one document of ExtractBatch. Extraction is
// nil with a nil Err when no amount was found.
type BatchResult struct {
	Document   string
	Extraction *Extraction
	Err        error
}

// ExtractBatch extracts every document concurrently. A failure on one
// document is reported in its result and does not stop the others.
func (o *Orchestrator) ExtractBatch(ctx context.Context, docs []Document, kind Kind) []BatchResult {
	results := make([]BatchResult, len(docs))

	var g errgroup.Group
	g.SetLimit(o.cfg.BatchWorkers)
	for i, doc := range docs {
		g.Go(func() error {
			ext, err := o.ExtractAmount(ctx, doc, kind)
			if err != nil {
				slog.Error("Failed to extract amount", "document", doc.Name, "error", err)
			}
			results[i] = BatchResult{Document: doc.Name, Extraction: ext, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (o *Orchestrator) generate(ctx context.Context, doc Document, prompt, contextText, op string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	text, err := o.generator.Generate(callCtx, doc.Data, doc.ContentType, prompt, contextText)
	if err != nil {
		return "", collaboratorError(op, SourceAI, err)
	}
	return text, nil
}

func (o *Orchestrator) recognize(ctx context.Context, doc Document) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	text, err := o.ocr.RecognizeText(callCtx, doc.Data, doc.ContentType)
	if err != nil {
		return "", collaboratorError("recognize", SourceOCR, err)
	}
	return text, nil
}

func collaboratorError(op string, src Source, err error) error {
	if errors.Is(err, scanning.ErrMissingCredentials) {
		return fmt.Errorf("%s via %s: %w: %w", op, src, ErrConfiguration, err)
	}
	return &TransportError{Op: op, Source: src, Err: err}
}

// request carries the per-document state shared between the main pass and
// the bill fallback pass.
type request struct {
	o    *Orchestrator
	doc  Document
	kind Kind

	ocrDone bool
	ocrText string
	ocrErr  error
}

// run walks the tiers against one primary text.
func (r *request) run(ctx context.Context, primary string) (*Extraction, error) {
	if v, raw, ok := structuredAmount(primary, r.kind); ok {
		return r.found(&Extraction{Amount: v, Tier: TierStructured, Source: SourceAI, Raw: raw, Confidence: 0.95}), nil
	}
	if v, raw, ok := labeledAmount(primary, r.kind); ok {
		return r.found(&Extraction{Amount: v, Tier: TierLabeled, Source: SourceAI, Raw: raw, Confidence: 0.9}), nil
	}
	if v, ok := bareAmount(primary); ok {
		return r.found(&Extraction{Amount: v, Tier: TierBareNumber, Source: SourceAI, Raw: strings.TrimSpace(primary), Confidence: 0.8}), nil
	}
	if c, ok := Best(primary); ok {
		return r.found(fromCandidate(c, SourceAI)), nil
	}

	if r.o.ocr == nil {
		return nil, nil
	}
	text, err := r.secondary(ctx)
	if err != nil {
		if strings.TrimSpace(primary) == "" || errors.Is(err, ErrConfiguration) {
			return nil, err
		}
		slog.Warn("OCR failed, skipping secondary scan", "document", r.doc.Name, "error", err)
		return nil, nil
	}
	if c, ok := Best(text); ok {
		return r.found(fromCandidate(c, SourceOCR)), nil
	}
	return nil, nil
}

// secondary fetches the OCR text once per request.
func (r *request) secondary(ctx context.Context) (string, error) {
	if !r.ocrDone {
		r.ocrText, r.ocrErr = r.o.recognize(ctx, r.doc)
		r.ocrDone = true
	}
	return r.ocrText, r.ocrErr
}

func (r *request) found(ext *Extraction) *Extraction {
	slog.Debug("Amount extracted",
		"document", r.doc.Name,
		"kind", r.kind,
		"tier", ext.Tier,
		"source", ext.Source,
		"amount", ext.Amount.String(),
	)
	return ext
}

func fromCandidate(c Candidate, src Source) *Extraction {
	return &Extraction{
		Amount:     c.Amount,
		Tier:       TierHeuristic,
		Source:     src,
		Raw:        c.Text,
		Confidence: c.Confidence(),
	}
}
