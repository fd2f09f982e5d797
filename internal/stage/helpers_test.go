package stage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/docflow/internal/catalog"
	"github.com/sells-group/docflow/internal/model"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

var pdfBytes = []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\n")

func newView(doc model.Document) *model.RunContext {
	if doc.TemplateID == "" {
		doc.TemplateID = "invoice"
	}
	return model.NewRunContext("run-1", doc, t0)
}

// run executes e against rc's snapshot and applies the output to rc.
func run(t *testing.T, e Executor, rc *model.RunContext) error {
	t.Helper()
	out, err := e.Execute(context.Background(), rc.Snapshot())
	if err != nil {
		return err
	}
	require.NotNil(t, out)
	out.Apply(rc)
	return nil
}

const catalogYAML = `
issuers:
  - id: dhl
    code: DHL
    name: DHL Express
    names: ["DHL Express", "DHL International"]
    keywords: ["waybill number", "express worldwide", "dhl ecommerce"]
    patterns: ['\bAWB\s*\d{10}\b']
    logo_text: ["Excellence. Simply delivered."]
    formats:
      - id: dhl-invoice
        name: DHL Invoice
        keywords: ["tax invoice"]
        default: true
      - id: dhl-duty
        name: DHL Duty Bill
        keywords: ["duties and taxes", "tax invoice"]
        patterns: ['DTP-\d+']
  - id: maersk
    code: MSK
    name: Maersk
    keywords: ["bill of lading"]
`

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Parse(strings.NewReader(catalogYAML))
	require.NoError(t, err)
	return c
}
