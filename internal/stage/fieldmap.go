package stage

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow/internal/mapping"
	"github.com/sells-group/docflow/internal/model"
)

// FieldMapper applies the resolved mapping configuration to the raw
// extraction.
type FieldMapper struct{}

func (FieldMapper) Execute(_ context.Context, view *model.RunContext) (Output, error) {
	if view.ManualReason != "" {
		return Nothing, nil
	}
	if view.MappingConfig == nil {
		return nil, eris.New("stage: no mapping config resolved")
	}
	mapped, unmapped := mapping.Apply(view.MappingConfig, view.Extracted)
	return OutputFunc(func(rc *model.RunContext) {
		rc.MappedFields = mapped
		rc.UnmappedFields = unmapped
	}), nil
}
