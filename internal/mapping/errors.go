package mapping

import (
	"fmt"
	"strings"
)

// AmbiguityError reports two or more rules that tie on every precedence key
// (scope specificity, priority, and last update) for the same target field.
// Resolution refuses to pick one arbitrarily.
type AmbiguityError struct {
	TemplateID  string
	TargetField string
	Scope       string
	RuleIDs     []string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("ambiguous mapping for %s.%s at %s: rules %s tie on priority and update time",
		e.TemplateID, e.TargetField, e.Scope, strings.Join(e.RuleIDs, ", "))
}
