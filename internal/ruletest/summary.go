package ruletest

import (
	"fmt"

	"github.com/sells-group/docflow/internal/model"
)

// Recommendation is the verdict on a candidate rule.
type Recommendation string

const (
	RecommendAdopt  Recommendation = "adopt"
	RecommendReview Recommendation = "review"
	RecommendReject Recommendation = "reject"
)

// Summary aggregates the per-document results of one test.
type Summary struct {
	Total           int            `json:"total"`
	Improved        int            `json:"improved"`
	Regressed       int            `json:"regressed"`
	Unchanged       int            `json:"unchanged"`
	BothRight       int            `json:"both_right"`
	BothWrong       int            `json:"both_wrong"`
	ImprovementRate float64        `json:"improvement_rate"`
	RegressionRate  float64        `json:"regression_rate"`
	NetImprovement  int            `json:"net_improvement"`
	Recommendation  Recommendation `json:"recommendation"`
	Reason          string         `json:"reason"`
}

// Summarize counts results and derives the recommendation. A regression
// rate above maxRegressionRate or a negative net improvement rejects the
// candidate; a positive net improvement adopts it; anything else, including
// an empty sample, needs a human review.
func Summarize(results []model.RegressionTestResult, maxRegressionRate float64) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.ChangeType {
		case model.ChangeImproved:
			s.Improved++
		case model.ChangeRegressed:
			s.Regressed++
		case model.ChangeUnchanged:
			s.Unchanged++
		case model.ChangeBothRight:
			s.BothRight++
		case model.ChangeBothWrong:
			s.BothWrong++
		}
	}
	s.NetImprovement = s.Improved - s.Regressed

	if s.Total == 0 {
		s.Recommendation = RecommendReview
		s.Reason = "no historical documents in sample"
		return s
	}
	s.ImprovementRate = float64(s.Improved) / float64(s.Total)
	s.RegressionRate = float64(s.Regressed) / float64(s.Total)

	switch {
	case s.RegressionRate > maxRegressionRate:
		s.Recommendation = RecommendReject
		s.Reason = fmt.Sprintf("regression rate %.1f%% exceeds limit %.1f%%", s.RegressionRate*100, maxRegressionRate*100)
	case s.NetImprovement < 0:
		s.Recommendation = RecommendReject
		s.Reason = fmt.Sprintf("net improvement %d is negative", s.NetImprovement)
	case s.NetImprovement > 0:
		s.Recommendation = RecommendAdopt
		s.Reason = fmt.Sprintf("improves %d of %d documents", s.Improved, s.Total)
	default:
		s.Recommendation = RecommendReview
		s.Reason = "no net change"
	}
	return s
}
