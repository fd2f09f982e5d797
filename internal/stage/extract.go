package stage

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow/internal/model"
)

// Extractor is a layout or vision extraction backend.
type Extractor interface {
	Extract(ctx context.Context, method model.ExtractionMethod, doc model.Document) (*model.Extraction, error)
}

// Extraction runs one extraction backend when the route selects it and
// merges the result into the run's raw extraction.
type Extraction struct {
	Method    model.ExtractionMethod
	Extractor Extractor
}

func (s Extraction) Execute(ctx context.Context, view *model.RunContext) (Output, error) {
	if view.ManualReason != "" || !view.Route.Wants(s.Method) {
		return Nothing, nil
	}
	ex, err := s.Extractor.Extract(ctx, s.Method, view.Document)
	if err != nil {
		return nil, eris.Wrapf(err, "stage: %s extraction", s.Method)
	}
	if ex == nil {
		return nil, eris.Errorf("stage: %s extraction returned no result", s.Method)
	}
	if ex.Method == "" {
		ex.Method = s.Method
	}
	return OutputFunc(func(rc *model.RunContext) {
		rc.Extractions[s.Method] = ex
		rc.Extracted = model.MergeExtractions(rc.Extractions, rc.Document.Text)
	}), nil
}
