package mapping

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Normalizer names accepted in TransformParams.Normalize.
const (
	NormalizeDate   = "date"
	NormalizeAmount = "amount"
	NormalizeWeight = "weight"
	NormalizeNone   = "none"
)

var amountFieldHints = []string{"amount", "charge", "fee", "cost", "total", "price", "duty", "tax"}

// normalizerFor picks the normalizer for a target field. An explicit
// setting wins; otherwise the field name decides.
func normalizerFor(explicit, target string) string {
	if explicit != "" {
		return explicit
	}
	name := strings.ToLower(target)
	switch {
	case strings.Contains(name, "date"):
		return NormalizeDate
	case containsAny(name, amountFieldHints):
		return NormalizeAmount
	case strings.Contains(name, "weight"):
		return NormalizeWeight
	default:
		return NormalizeNone
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Normalize rewrites value with the named normalizer. A value the normalizer
// cannot parse is returned trimmed but otherwise unchanged.
func Normalize(kind, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	var (
		out string
		ok  bool
	)
	switch kind {
	case NormalizeDate:
		out, ok = normalizeDate(value)
	case NormalizeAmount:
		out, ok = normalizeAmount(value)
	case NormalizeWeight:
		out, ok = normalizeWeight(value)
	}
	if !ok {
		return value
	}
	return out
}

var datePatterns = []struct {
	re     *regexp.Regexp
	layout string
}{
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}`), "2006-01-02"},
	{regexp.MustCompile(`\d{2}/\d{2}/\d{4}`), "01/02/2006"},
	{regexp.MustCompile(`\d{2}-\d{2}-\d{4}`), "01-02-2006"},
	{regexp.MustCompile(`\d{2}\.\d{2}\.\d{4}`), "02.01.2006"},
}

var textDate = regexp.MustCompile(`(?i)(\d{1,2})\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{4})`)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// normalizeDate renders the first recognizable date in value as YYYY-MM-DD.
func normalizeDate(value string) (string, bool) {
	for _, p := range datePatterns {
		m := p.re.FindString(value)
		if m == "" {
			continue
		}
		t, err := time.Parse(p.layout, m)
		if err != nil {
			continue
		}
		return t.Format("2006-01-02"), true
	}
	if m := textDate.FindStringSubmatch(value); m != nil {
		day, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[3])
		month := months[strings.ToLower(m[2])]
		t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
		if t.Day() != day {
			return "", false
		}
		return t.Format("2006-01-02"), true
	}
	return "", false
}

var nonAmountChars = regexp.MustCompile(`[^\d.,\-]`)

// normalizeAmount strips currency symbols and grouping and renders two decimals.
// A lone comma followed by one or two digits is a decimal comma.
func normalizeAmount(value string) (string, bool) {
	cleaned := nonAmountChars.ReplaceAllString(value, "")
	if cleaned == "" {
		return "", false
	}
	switch {
	case strings.Contains(cleaned, ",") && strings.Contains(cleaned, "."):
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	case strings.Contains(cleaned, ","):
		parts := strings.Split(cleaned, ",")
		if len(parts) == 2 && len(parts[1]) <= 2 {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', 2, 64), true
}

var (
	weightUnits  = regexp.MustCompile(`(?i)(kgs|kg|lbs|lb|grams|gram|g)\.?`)
	weightNumber = regexp.MustCompile(`[\d.,]+`)
)

// normalizeWeight drops the unit and renders the number like an amount.
func normalizeWeight(value string) (string, bool) {
	cleaned := strings.TrimSpace(weightUnits.ReplaceAllString(value, ""))
	m := weightNumber.FindString(cleaned)
	if m == "" {
		return "", false
	}
	return normalizeAmount(m)
}
