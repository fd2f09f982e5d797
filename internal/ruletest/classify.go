package ruletest

import (
	"strings"

	"github.com/sells-group/docflow/internal/model"
)

// sameValue compares mapped values ignoring surrounding space and case.
func sameValue(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Classify compares the output of the current rules (original) with the
// output under the candidate (test). Identical outputs are UNCHANGED even
// when both are wrong. With a ground truth the outcome is judged against it.
// Without one, differing outputs are judged by confidence alone.
func Classify(original, test string, originalConf, testConf float64, actual *string) model.ChangeType {
	if sameValue(original, test) {
		return model.ChangeUnchanged
	}
	if actual == nil {
		switch {
		case testConf > originalConf:
			return model.ChangeImproved
		case testConf < originalConf:
			return model.ChangeRegressed
		default:
			return model.ChangeUnchanged
		}
	}

	origRight := sameValue(original, *actual)
	testRight := sameValue(test, *actual)
	switch {
	case testRight && !origRight:
		return model.ChangeImproved
	case origRight && !testRight:
		return model.ChangeRegressed
	case origRight && testRight:
		return model.ChangeBothRight
	default:
		return model.ChangeBothWrong
	}
}
