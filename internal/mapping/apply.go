package mapping

import (
	"fmt"
	"maps"
	"math"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/docflow/internal/model"
)

// Base confidence of transforms that search the document text rather than
// reading an extracted field.
const (
	RegexConfidence   = 0.85
	KeywordConfidence = 0.75
)

const (
	defaultKeywordDistance = 50
	maxKeywordValueRunes   = 100
)

type outcome struct {
	raw        string
	confidence float64
	reason     model.UnmappedReason
	detail     string
}

// Apply runs every resolved rule against ex. Each target field lands either
// in the mapped set or in the unmapped list, never both. The result depends
// only on its inputs.
func Apply(cfg *model.ResolvedMappingConfig, ex model.RawExtraction) (map[string]model.MappedField, []model.UnmappedField) {
	mapped := make(map[string]model.MappedField)
	var unmapped []model.UnmappedField
	if cfg == nil {
		return mapped, unmapped
	}

	for _, target := range cfg.Targets() {
		rule := cfg.Fields[target].Rule
		out := applyRule(rule, ex)
		if out.reason != "" {
			unmapped = append(unmapped, model.UnmappedField{FieldName: target, Reason: out.reason, Detail: out.detail})
			continue
		}
		mapped[target] = finish(rule, out)
	}
	return mapped, unmapped
}

// ApplyRule maps a single rule. It reports ok=false with the unmapped record
// when the rule yields no value.
func ApplyRule(rule model.MappingRule, ex model.RawExtraction) (model.MappedField, model.UnmappedField, bool) {
	out := applyRule(rule, ex)
	if out.reason != "" {
		return model.MappedField{}, model.UnmappedField{FieldName: rule.TargetField, Reason: out.reason, Detail: out.detail}, false
	}
	return finish(rule, out), model.UnmappedField{}, true
}

func finish(rule model.MappingRule, out outcome) model.MappedField {
	p := rule.TransformParams
	value := Normalize(normalizerFor(p.Normalize, rule.TargetField), out.raw)
	f := model.MappedField{
		TargetField:   rule.TargetField,
		Value:         value,
		RawValue:      out.raw,
		Confidence:    model.ClampConfidence(out.confidence + p.ConfidenceBoost),
		SourceRuleID:  rule.ID,
		TransformType: rule.TransformType,
		Validated:     true,
	}
	if p.Validation != "" {
		re, err := regexp.Compile(`^(?:` + p.Validation + `)`)
		switch {
		case err != nil:
			// An unusable validation pattern does not fail the value.
		case !re.MatchString(value):
			f.Validated = false
			f.ValidationError = fmt.Sprintf("value does not match pattern %q", p.Validation)
		}
	}
	return f
}

func applyRule(rule model.MappingRule, ex model.RawExtraction) outcome {
	switch rule.TransformType {
	case model.TransformDirect:
		return applyDirect(rule, ex)
	case model.TransformConcat:
		return applyConcat(rule, ex)
	case model.TransformRegex:
		return applyRegex(rule, ex)
	case model.TransformKeyword:
		return applyKeyword(rule, ex)
	case model.TransformLookup:
		return applyLookup(rule, ex)
	default:
		return outcome{reason: model.UnmappedTransformError, detail: fmt.Sprintf("unknown transform %q", rule.TransformType)}
	}
}

// firstValue returns the first source field with a non-blank value.
func firstValue(sources []string, ex model.RawExtraction) (model.ExtractedField, bool) {
	for _, src := range sources {
		if src == model.TextSource {
			continue
		}
		if f, ok := ex.Fields[src]; ok && strings.TrimSpace(f.Value) != "" {
			return f, true
		}
	}
	return model.ExtractedField{}, false
}

func noSource(rule model.MappingRule) outcome {
	return outcome{
		reason: model.UnmappedNoSourceValue,
		detail: fmt.Sprintf("no value in %s", strings.Join(rule.SourceFields, ", ")),
	}
}

func applyDirect(rule model.MappingRule, ex model.RawExtraction) outcome {
	f, ok := firstValue(rule.SourceFields, ex)
	if !ok {
		return noSource(rule)
	}
	return outcome{raw: strings.TrimSpace(f.Value), confidence: f.Confidence}
}

func applyConcat(rule model.MappingRule, ex model.RawExtraction) outcome {
	sep := rule.TransformParams.Separator
	if sep == "" {
		sep = " "
	}
	var parts []string
	conf := math.Inf(1)
	for _, src := range rule.SourceFields {
		f, ok := ex.Fields[src]
		if !ok || strings.TrimSpace(f.Value) == "" {
			continue
		}
		parts = append(parts, strings.TrimSpace(f.Value))
		conf = math.Min(conf, f.Confidence)
	}
	if len(parts) == 0 {
		return noSource(rule)
	}
	return outcome{raw: strings.Join(parts, sep), confidence: conf}
}

// searchInput is the text a regex or keyword rule scans: the listed source
// fields joined by newlines, or the document text when none are listed or
// the rule names $text.
func searchInput(rule model.MappingRule, ex model.RawExtraction) string {
	var parts []string
	for _, src := range rule.SourceFields {
		if src == model.TextSource {
			parts = append(parts, ex.Text)
			continue
		}
		if f, ok := ex.Fields[src]; ok && f.Value != "" {
			parts = append(parts, f.Value)
		}
	}
	if len(rule.SourceFields) == 0 {
		return ex.Text
	}
	return strings.Join(parts, "\n")
}

func compilePattern(pattern, flags string) (*regexp.Regexp, error) {
	var goFlags strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			goFlags.WriteRune(f)
		}
	}
	if goFlags.Len() > 0 {
		pattern = "(?" + goFlags.String() + ")" + pattern
	}
	return regexp.Compile(pattern)
}

func applyRegex(rule model.MappingRule, ex model.RawExtraction) outcome {
	input := searchInput(rule, ex)
	if strings.TrimSpace(input) == "" {
		return noSource(rule)
	}
	p := rule.TransformParams
	re, err := compilePattern(p.Pattern, p.Flags)
	if err != nil {
		return outcome{reason: model.UnmappedTransformError, detail: fmt.Sprintf("invalid pattern %q: %v", p.Pattern, err)}
	}
	m := re.FindStringSubmatch(input)
	if m == nil {
		return outcome{reason: model.UnmappedNoMatch, detail: fmt.Sprintf("pattern %q did not match", p.Pattern)}
	}
	raw := m[0]
	if p.Group > 0 && p.Group < len(m) {
		raw = m[p.Group]
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return outcome{reason: model.UnmappedNoMatch, detail: fmt.Sprintf("pattern %q matched an empty value", p.Pattern)}
	}
	return outcome{raw: raw, confidence: RegexConfidence}
}

var trailingPunct = regexp.MustCompile(`[,;:\s]+$`)

func applyKeyword(rule model.MappingRule, ex model.RawExtraction) outcome {
	input := searchInput(rule, ex)
	if strings.TrimSpace(input) == "" {
		return noSource(rule)
	}
	p := rule.TransformParams
	dist := p.MaxDistance
	if dist <= 0 {
		dist = defaultKeywordDistance
	}
	for _, kw := range p.Keywords {
		if kw == "" {
			continue
		}
		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(kw))
		loc := re.FindStringIndex(input)
		if loc == nil {
			continue
		}
		if v := valueAfterKeyword(truncateRunes(input[loc[1]:], dist)); v != "" {
			return outcome{raw: v, confidence: KeywordConfidence}
		}
	}
	return outcome{reason: model.UnmappedNoMatch, detail: fmt.Sprintf("no value near keywords %s", strings.Join(p.Keywords, ", "))}
}

// valueAfterKeyword takes the text up to the end of the line (or a table
// separator) following a keyword, without leading separators or trailing
// punctuation.
func valueAfterKeyword(s string) string {
	s = strings.TrimLeft(s, " :：\t\n")
	if s == "" {
		return ""
	}
	if i := strings.IndexAny(s, "\n\r|"); i >= 0 {
		s = s[:i]
	}
	s = truncateRunes(s, maxKeywordValueRunes)
	return trailingPunct.ReplaceAllString(strings.TrimSpace(s), "")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func applyLookup(rule model.MappingRule, ex model.RawExtraction) outcome {
	f, ok := firstValue(rule.SourceFields, ex)
	if !ok {
		return noSource(rule)
	}
	p := rule.TransformParams
	key := strings.TrimSpace(f.Value)
	if v, ok := p.Lookup[key]; ok {
		return outcome{raw: v, confidence: f.Confidence}
	}
	for _, k := range slices.Sorted(maps.Keys(p.Lookup)) {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			return outcome{raw: p.Lookup[k], confidence: f.Confidence}
		}
	}
	if p.Default != "" {
		return outcome{raw: p.Default, confidence: f.Confidence}
	}
	return outcome{reason: model.UnmappedNoMatch, detail: fmt.Sprintf("%q not in lookup table", key)}
}
