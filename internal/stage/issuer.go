package stage

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/docflow/internal/catalog"
	"github.com/sells-group/docflow/internal/model"
)

// Issuer scoring weights, in points out of 100.
const (
	scoreName       = 40
	scoreKeyword    = 15
	scoreKeywordMax = 30
	scoreFormat     = 20
	scoreLogoText   = 10

	// IdentifyThreshold is the score at which an issuer is accepted.
	IdentifyThreshold = 80
	// ReviewThreshold is the lowest score reported at all; matches between
	// it and IdentifyThreshold are kept but flagged for review.
	ReviewThreshold = 50
)

var folder = cases.Fold()

// foldText normalizes text for substring matching: compatibility
// decomposition, case folding and collapsed whitespace.
func foldText(s string) string {
	s = folder.String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(s), " ")
}

// IssuerIdentifier scores catalog issuers against the document's embedded
// text and file name.
type IssuerIdentifier struct {
	Catalog *catalog.Catalog
}

func (s IssuerIdentifier) Execute(_ context.Context, view *model.RunContext) (Output, error) {
	doc := view.Document
	if doc.CompanyID != "" {
		match := &model.IssuerMatch{CompanyID: doc.CompanyID, Confidence: 1, Method: "provided", Identified: true}
		if s.Catalog != nil {
			if iss, ok := s.Catalog.Issuer(doc.CompanyID); ok {
				match.Code, match.Name = iss.Code, iss.Name
			}
		}
		return OutputFunc(func(rc *model.RunContext) { rc.Issuer = match }), nil
	}
	if s.Catalog == nil || view.ManualReason != "" {
		return Nothing, nil
	}

	match := Identify(s.Catalog, doc.Text+"\n"+doc.FileName)
	return OutputFunc(func(rc *model.RunContext) { rc.Issuer = match }), nil
}

// Identify returns the best scoring issuer for text, or nil when no issuer
// reaches ReviewThreshold. Ties go to the issuer listed first.
func Identify(c *catalog.Catalog, text string) *model.IssuerMatch {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	folded := foldText(text)

	var best *model.IssuerMatch
	bestScore := 0
	for i := range c.Issuers {
		score, method, matched := scoreIssuer(&c.Issuers[i], folded, text)
		if score > bestScore {
			iss := &c.Issuers[i]
			bestScore = score
			best = &model.IssuerMatch{
				CompanyID:       iss.ID,
				Code:            iss.Code,
				Name:            iss.Name,
				Method:          method,
				MatchedPatterns: matched,
			}
		}
	}
	if best == nil || bestScore < ReviewThreshold {
		return nil
	}
	best.Confidence = float64(min(bestScore, 100)) / 100
	best.Identified = bestScore >= IdentifyThreshold
	best.NeedsReview = !best.Identified
	return best
}

func scoreIssuer(iss *catalog.Issuer, folded, raw string) (int, string, []string) {
	var (
		score   int
		method  string
		matched []string
	)
	hit := func(kind, pattern string, points int) {
		score += points
		if method == "" {
			method = kind
		}
		matched = append(matched, kind+":"+pattern)
	}

	named := false
	for _, name := range iss.Names {
		if name != "" && strings.Contains(folded, foldText(name)) {
			points := 0
			if !named {
				points, named = scoreName, true
			}
			hit("name", name, points)
		}
	}

	keywordPoints := 0
	for _, kw := range iss.Keywords {
		if kw != "" && strings.Contains(folded, foldText(kw)) {
			points := min(scoreKeyword, scoreKeywordMax-keywordPoints)
			keywordPoints += points
			hit("keyword", kw, points)
		}
	}

	for i, re := range iss.CompiledPatterns() {
		if re.MatchString(raw) {
			hit("format", iss.Patterns[i], scoreFormat)
			break
		}
	}

	for _, logo := range iss.LogoText {
		if logo != "" && strings.Contains(folded, foldText(logo)) {
			hit("logo", logo, scoreLogoText)
			break
		}
	}
	return score, method, matched
}
