package pipeline

import (
	"fmt"
	"slices"
	"time"

	"github.com/sells-group/docflow/internal/config"
	"github.com/sells-group/docflow/internal/model"
)

// DefaultSteps returns the standard stage sequence in execution order.
func DefaultSteps() []model.StepDescriptor {
	return []model.StepDescriptor{
		{ID: model.StepFileTypeDetection, Priority: model.PriorityRequired, Timeout: 5 * time.Second, RetryBudget: 0, Enabled: true},
		{ID: model.StepSmartRouting, Priority: model.PriorityOptional, Timeout: 5 * time.Second, RetryBudget: 0, Enabled: true},
		{ID: model.StepIssuerIdentification, Priority: model.PriorityOptional, Timeout: 10 * time.Second, RetryBudget: 1, Enabled: true},
		{ID: model.StepFormatMatching, Priority: model.PriorityOptional, Timeout: 10 * time.Second, RetryBudget: 1, Enabled: true},
		{ID: model.StepConfigFetching, Priority: model.PriorityRequired, Timeout: 10 * time.Second, RetryBudget: 2, Enabled: true},
		{ID: model.StepLayoutExtraction, Priority: model.PriorityRequired, Timeout: 60 * time.Second, RetryBudget: 2, Enabled: true},
		{ID: model.StepVisionExtraction, Priority: model.PriorityOptional, Timeout: 90 * time.Second, RetryBudget: 1, Enabled: true},
		{ID: model.StepFieldMapping, Priority: model.PriorityRequired, Timeout: 15 * time.Second, RetryBudget: 1, Enabled: true},
		{ID: model.StepTermRecording, Priority: model.PriorityOptional, Timeout: 10 * time.Second, RetryBudget: 0, Enabled: true},
		{ID: model.StepConfidenceCalculation, Priority: model.PriorityRequired, Timeout: 5 * time.Second, RetryBudget: 0, Enabled: true},
		{ID: model.StepRoutingDecision, Priority: model.PriorityRequired, Timeout: 5 * time.Second, RetryBudget: 0, Enabled: true},
	}
}

// Registry is the validated, ordered list of stage descriptors. It is
// immutable after construction.
type Registry struct {
	steps []model.StepDescriptor
}

// NewRegistry validates steps and keeps their order.
func NewRegistry(steps []model.StepDescriptor) (*Registry, error) {
	seen := make(map[model.StepID]bool, len(steps))
	for i, s := range steps {
		subject := fmt.Sprintf("step %s", s.ID)
		switch {
		case s.ID == "":
			return nil, model.NewConfigError(fmt.Sprintf("step %d", i), "missing id")
		case seen[s.ID]:
			return nil, model.NewConfigError(subject, "duplicate id")
		case s.Priority != model.PriorityRequired && s.Priority != model.PriorityOptional:
			return nil, model.NewConfigError(subject, "unknown priority %q", s.Priority)
		case s.Timeout <= 0:
			return nil, model.NewConfigError(subject, "timeout must be positive, got %s", s.Timeout)
		case s.RetryBudget < 0:
			return nil, model.NewConfigError(subject, "retry budget must not be negative, got %d", s.RetryBudget)
		case s.Priority == model.PriorityRequired && !s.Enabled:
			return nil, model.NewConfigError(subject, "required steps cannot be disabled")
		}
		seen[s.ID] = true
	}
	return &Registry{steps: slices.Clone(steps)}, nil
}

// DefaultRegistry returns the registry of DefaultSteps.
func DefaultRegistry() *Registry {
	return &Registry{steps: DefaultSteps()}
}

// RegistryFromConfig applies per-step overrides from configuration to the
// default steps. Overrides naming an unknown step are rejected.
func RegistryFromConfig(cfg config.PipelineConfig) (*Registry, error) {
	steps := DefaultSteps()
	for id, o := range cfg.Steps {
		i := slices.IndexFunc(steps, func(s model.StepDescriptor) bool { return string(s.ID) == id })
		if i < 0 {
			return nil, model.NewConfigError("step "+id, "unknown step in pipeline.steps")
		}
		if o.TimeoutMs != nil {
			steps[i].Timeout = time.Duration(*o.TimeoutMs) * time.Millisecond
		}
		if o.Retries != nil {
			steps[i].RetryBudget = *o.Retries
		}
		if o.Enabled != nil {
			steps[i].Enabled = *o.Enabled
		}
	}
	return NewRegistry(steps)
}

// Steps returns every descriptor in order.
func (r *Registry) Steps() []model.StepDescriptor {
	return slices.Clone(r.steps)
}

// Enabled returns the enabled descriptors in order.
func (r *Registry) Enabled() []model.StepDescriptor {
	out := make([]model.StepDescriptor, 0, len(r.steps))
	for _, s := range r.steps {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id model.StepID) (model.StepDescriptor, bool) {
	i := slices.IndexFunc(r.steps, func(s model.StepDescriptor) bool { return s.ID == id })
	if i < 0 {
		return model.StepDescriptor{}, false
	}
	return r.steps[i], true
}
