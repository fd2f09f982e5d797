package stage

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow/internal/mapping"
	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/resilience"
)

// MappingResolver returns the effective mapping configuration for a key.
type MappingResolver interface {
	Resolve(ctx context.Context, key mapping.Key) (*model.ResolvedMappingConfig, error)
}

// ConfigFetcher resolves the mapping rules for the document's template,
// issuer and format.
type ConfigFetcher struct {
	Resolver MappingResolver
}

func (s ConfigFetcher) Execute(ctx context.Context, view *model.RunContext) (Output, error) {
	key := mapping.Key{
		TemplateID: view.Document.TemplateID,
		CompanyID:  view.CompanyID(),
		FormatID:   view.FormatID(),
	}
	cfg, err := s.Resolver.Resolve(ctx, key)
	if err != nil {
		// Bad rule data does not get better on retry.
		var cfgErr *model.ConfigError
		var ambErr *mapping.AmbiguityError
		if errors.As(err, &cfgErr) || errors.As(err, &ambErr) {
			return nil, resilience.Permanent(err)
		}
		return nil, eris.Wrap(err, "stage: resolve mapping config")
	}
	return OutputFunc(func(rc *model.RunContext) { rc.MappingConfig = cfg }), nil
}
