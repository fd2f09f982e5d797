package stage

import (
	"context"
	"strings"

	"github.com/sells-group/docflow/internal/catalog"
	"github.com/sells-group/docflow/internal/model"
)

// FormatMatcher picks the identified issuer's document format by counting
// format keywords and patterns found in the text. With no signal it falls
// back to the issuer's default format.
type FormatMatcher struct {
	Catalog *catalog.Catalog
}

func (s FormatMatcher) Execute(_ context.Context, view *model.RunContext) (Output, error) {
	companyID := view.CompanyID()
	if s.Catalog == nil || companyID == "" {
		return Nothing, nil
	}
	iss, ok := s.Catalog.Issuer(companyID)
	if !ok {
		return Nothing, nil
	}
	match := MatchFormat(iss, view.Document.Text)
	if match == nil {
		return Nothing, nil
	}
	return OutputFunc(func(rc *model.RunContext) { rc.Format = match }), nil
}

// MatchFormat scores each format of iss as the fraction of its signals
// present in text. The highest fraction wins; ties keep catalog order.
func MatchFormat(iss *catalog.Issuer, text string) *model.FormatMatch {
	folded := foldText(text)

	var (
		best      *catalog.Format
		bestScore float64
		fallback  *catalog.Format
	)
	for i := range iss.Formats {
		f := &iss.Formats[i]
		if f.Default {
			fallback = f
		}
		signals := len(f.Keywords) + len(f.CompiledPatterns())
		if signals == 0 {
			continue
		}
		hits := 0
		for _, kw := range f.Keywords {
			if kw != "" && strings.Contains(folded, foldText(kw)) {
				hits++
			}
		}
		for _, re := range f.CompiledPatterns() {
			if re.MatchString(text) {
				hits++
			}
		}
		score := float64(hits) / float64(signals)
		if score > bestScore {
			best, bestScore = f, score
		}
	}

	switch {
	case best != nil:
		return &model.FormatMatch{FormatID: best.ID, Name: best.Name, Confidence: bestScore}
	case fallback != nil:
		return &model.FormatMatch{FormatID: fallback.ID, Name: fallback.Name, Confidence: 0}
	case len(iss.Formats) == 1:
		f := iss.Formats[0]
		return &model.FormatMatch{FormatID: f.ID, Name: f.Name, Confidence: 0}
	}
	return nil
}
