package stage

import (
	"time"

	"github.com/sells-group/docflow/internal/catalog"
	"github.com/sells-group/docflow/internal/confidence"
	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/routing"
)

// Deps are the collaborators of the standard stage set.
type Deps struct {
	Catalog      *catalog.Catalog
	Resolver     MappingResolver
	Extractor    Extractor
	Terms        TermSink
	Aggregator   *confidence.Aggregator
	Engine       *routing.Engine
	MaxFileBytes int
	Now          func() time.Time
}

// Executors returns the executor of every standard pipeline step.
func Executors(d Deps) map[model.StepID]Executor {
	return map[model.StepID]Executor{
		model.StepFileTypeDetection:     FileTypeDetector{MaxBytes: d.MaxFileBytes},
		model.StepSmartRouting:          SmartRouter{},
		model.StepIssuerIdentification:  IssuerIdentifier{Catalog: d.Catalog},
		model.StepFormatMatching:        FormatMatcher{Catalog: d.Catalog},
		model.StepConfigFetching:        ConfigFetcher{Resolver: d.Resolver},
		model.StepLayoutExtraction:      Extraction{Method: model.ExtractionLayout, Extractor: d.Extractor},
		model.StepVisionExtraction:      Extraction{Method: model.ExtractionVision, Extractor: d.Extractor},
		model.StepFieldMapping:          FieldMapper{},
		model.StepTermRecording:         TermRecorder{Sink: d.Terms, Now: d.Now},
		model.StepConfidenceCalculation: ConfidenceCalculator{Aggregator: d.Aggregator},
		model.StepRoutingDecision:       RoutingDecider{Engine: d.Engine},
	}
}
