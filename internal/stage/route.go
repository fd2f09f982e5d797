package stage

import (
	"context"
	"strings"

	"github.com/sells-group/docflow/internal/model"
)

// minTextLayerRunes is the amount of embedded text that marks a PDF as
// born-digital rather than scanned.
const minTextLayerRunes = 40

// SmartRouter chooses extraction backends. Layout extraction always runs;
// images and scanned PDFs also go to vision extraction.
type SmartRouter struct{}

func (SmartRouter) Execute(_ context.Context, view *model.RunContext) (Output, error) {
	if view.ManualReason != "" {
		return Nothing, nil
	}
	hint := &model.RouteHint{Methods: []model.ExtractionMethod{model.ExtractionLayout}}
	switch {
	case IsImage(view.FileType):
		hint.Methods = append(hint.Methods, model.ExtractionVision)
		hint.Reason = "image document"
	case len([]rune(strings.TrimSpace(view.Document.Text))) < minTextLayerRunes:
		hint.Methods = append(hint.Methods, model.ExtractionVision)
		hint.Reason = "pdf without text layer"
	default:
		hint.Reason = "pdf with text layer"
	}
	return OutputFunc(func(rc *model.RunContext) { rc.Route = hint }), nil
}
