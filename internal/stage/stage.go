// Package stage implements the pipeline stage executors. Each executor reads
// an isolated snapshot of the run and returns an Output that the
// orchestrator applies to the live run context.
package stage

import (
	"context"

	"github.com/sells-group/docflow/internal/model"
)

// Executor runs one pipeline stage. view is a snapshot the executor may read
// freely but must not retain after returning. Executors must honor ctx.
type Executor interface {
	Execute(ctx context.Context, view *model.RunContext) (Output, error)
}

// Output is the effect of a successful stage attempt.
type Output interface {
	Apply(rc *model.RunContext)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, view *model.RunContext) (Output, error)

func (f ExecutorFunc) Execute(ctx context.Context, view *model.RunContext) (Output, error) {
	return f(ctx, view)
}

// OutputFunc adapts a function to Output.
type OutputFunc func(rc *model.RunContext)

func (f OutputFunc) Apply(rc *model.RunContext) { f(rc) }

// Nothing is an Output that changes nothing.
var Nothing Output = OutputFunc(func(*model.RunContext) {})
