package mapping

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docflow/internal/model"
)

const sampleRules = `
rules:
  - id: inv-number
    template_id: invoice
    scope: global
    priority: 10
    source_fields: ["Invoice No", "Invoice Number"]
    target_field: invoice_number
    transform_type: direct
  - id: inv-date-dhl
    template_id: invoice
    scope: company:dhl
    source_fields: [$text]
    target_field: invoice_date
    transform_type: regex
    transform_params:
      pattern: 'Date:\s*(\S+)'
      group: 1
  - id: old-total
    template_id: invoice
    scope: format:dhl-express-v2
    source_fields: [Total]
    target_field: total_amount
    transform_type: direct
    is_active: false
`

func TestParseRules(t *testing.T) {
	rules, err := ParseRules(strings.NewReader(sampleRules))
	require.NoError(t, err)
	require.Len(t, rules, 3)

	assert.Equal(t, "inv-number", rules[0].ID)
	assert.Equal(t, model.GlobalScope(), rules[0].Scope)
	assert.Equal(t, 10, rules[0].Priority)
	assert.True(t, rules[0].IsActive, "is_active defaults to true")

	assert.Equal(t, model.CompanyScope("dhl"), rules[1].Scope)
	assert.Equal(t, model.TransformRegex, rules[1].TransformType)
	assert.Equal(t, 1, rules[1].TransformParams.Group)
	assert.Equal(t, []string{model.TextSource}, rules[1].SourceFields)

	assert.Equal(t, model.FormatScope("dhl-express-v2"), rules[2].Scope)
	assert.False(t, rules[2].IsActive)
}

func TestParseRules_Empty(t *testing.T) {
	rules, err := ParseRules(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestParseRules_Duplicate(t *testing.T) {
	doc := `
rules:
  - {id: a, template_id: invoice, scope: global, source_fields: [x], target_field: x, transform_type: direct}
  - {id: a, template_id: invoice, scope: global, source_fields: [y], target_field: y, transform_type: direct}
`
	_, err := ParseRules(strings.NewReader(doc))
	var cfgErr *model.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Reason, "duplicate")
}

func TestParseRules_InvalidRule(t *testing.T) {
	doc := `
rules:
  - {id: a, template_id: invoice, scope: global, target_field: x, transform_type: regex}
`
	_, err := ParseRules(strings.NewReader(doc))
	var cfgErr *model.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Reason, "pattern")
}

func TestParseRules_BadScope(t *testing.T) {
	doc := `
rules:
  - {id: a, template_id: invoice, scope: "tenant:x", source_fields: [x], target_field: x, transform_type: direct}
`
	_, err := ParseRules(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestLoadRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o644))

	rules, err := LoadRulesFile(path)
	require.NoError(t, err)
	assert.Len(t, rules, 3)

	_, err = LoadRulesFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
