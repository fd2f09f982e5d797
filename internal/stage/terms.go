package stage

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow/internal/model"
)

// TermSink stores raw labels that no rule consumed.
type TermSink interface {
	RecordTerms(ctx context.Context, terms []model.Term) error
}

const maxSampleRunes = 200

// TermRecorder records extracted labels that the mapping config ignored so
// they can be turned into rules later.
type TermRecorder struct {
	Sink TermSink
	Now  func() time.Time
}

func (s TermRecorder) Execute(ctx context.Context, view *model.RunContext) (Output, error) {
	if view.ManualReason != "" || s.Sink == nil {
		return Nothing, nil
	}
	terms := UnusedTerms(view, s.now())
	if len(terms) == 0 {
		return Nothing, nil
	}
	if err := s.Sink.RecordTerms(ctx, terms); err != nil {
		return nil, eris.Wrap(err, "stage: record terms")
	}
	n := len(terms)
	return OutputFunc(func(rc *model.RunContext) { rc.RecordedTerms = n }), nil
}

func (s TermRecorder) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// UnusedTerms lists the extracted labels not read by any rule of the run's
// mapping config, ordered by label.
func UnusedTerms(view *model.RunContext, now time.Time) []model.Term {
	used := make(map[string]bool)
	for _, src := range view.MappingConfig.SourceFields() {
		used[src] = true
	}
	var terms []model.Term
	for _, label := range slices.Sorted(maps.Keys(view.Extracted.Fields)) {
		if used[label] || strings.TrimSpace(label) == "" {
			continue
		}
		terms = append(terms, model.Term{
			TemplateID:  view.Document.TemplateID,
			CompanyID:   view.CompanyID(),
			Label:       label,
			SampleValue: truncateRunes(view.Extracted.Fields[label].Value, maxSampleRunes),
			Occurrences: 1,
			LastSeen:    now,
		})
	}
	return terms
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
