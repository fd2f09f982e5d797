package pipeline

import (
	"fmt"
	"time"

	"github.com/sells-group/docflow/internal/model"
)

// StageTimeoutError reports a stage whose last attempt hit its deadline.
type StageTimeoutError struct {
	Step     model.StepID
	Timeout  time.Duration
	Attempts int
	Err      error
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("stage %s timed out after %s (%d attempts)", e.Step, e.Timeout, e.Attempts)
}

func (e *StageTimeoutError) Unwrap() error { return e.Err }

// StageExecutionError reports a stage whose last attempt failed.
type StageExecutionError struct {
	Step     model.StepID
	Attempts int
	Err      error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempts: %v", e.Step, e.Attempts, e.Err)
}

func (e *StageExecutionError) Unwrap() error { return e.Err }

// PersistenceError reports a result that could not be saved. MarkFailedErr
// is set when the fallback status update failed too.
type PersistenceError struct {
	DocumentID    string
	Err           error
	MarkFailedErr error
}

func (e *PersistenceError) Error() string {
	if e.MarkFailedErr != nil {
		return fmt.Sprintf("persist document %s: %v (marking failed also failed: %v)", e.DocumentID, e.Err, e.MarkFailedErr)
	}
	return fmt.Sprintf("persist document %s: %v", e.DocumentID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
