package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/model"
)

// ResultStore saves run outcomes. Persist must write the extraction result
// and the document status atomically.
type ResultStore interface {
	Persist(ctx context.Context, rc *model.RunContext) error
	MarkFailed(ctx context.Context, documentID, message string) error
}

// markFailedTimeout bounds the fallback status update, which still runs
// when the caller's context is already cancelled.
const markFailedTimeout = 10 * time.Second

// TextReader recovers the text of a document that arrived without one.
type TextReader interface {
	ReadText(ctx context.Context, doc model.Document) (string, error)
}

// Processor runs documents and persists the results.
type Processor struct {
	orch  *Orchestrator
	store ResultStore
	text  TextReader
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithTextReader fills in the text of documents submitted without one
// before they run. A failed read leaves the text empty.
func WithTextReader(r TextReader) ProcessorOption {
	return func(p *Processor) { p.text = r }
}

// NewProcessor creates a Processor.
func NewProcessor(orch *Orchestrator, store ResultStore, opts ...ProcessorOption) *Processor {
	p := &Processor{orch: orch, store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs doc through the pipeline and persists the outcome. A failed
// run is still persisted (as failed) and is not an error here; callers
// inspect the returned context. When persisting fails, one best-effort
// attempt marks the document failed and a *PersistenceError is returned.
func (p *Processor) Process(ctx context.Context, doc model.Document) (*model.RunContext, error) {
	var textErr error
	if p.text != nil && doc.Text == "" {
		doc.Text, textErr = p.text.ReadText(ctx, doc)
	}

	rc := p.orch.Run(ctx, doc)
	if textErr != nil {
		rc.Warnings = append(rc.Warnings, "text layer: "+textErr.Error())
	}

	err := p.store.Persist(ctx, rc)
	if err == nil {
		return rc, nil
	}

	log := zap.L().With(zap.String("run_id", rc.RunID), zap.String("document_id", doc.ID))
	log.Error("pipeline: persist failed", zap.Error(err))

	perr := &PersistenceError{DocumentID: doc.ID, Err: err}
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markFailedTimeout)
	defer cancel()
	if mfErr := p.store.MarkFailed(mctx, doc.ID, "persistence failed: "+err.Error()); mfErr != nil {
		perr.MarkFailedErr = mfErr
		log.Error("pipeline: mark failed also failed", zap.Error(mfErr))
	}
	return rc, perr
}
