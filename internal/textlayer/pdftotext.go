package textlayer

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow/internal/model"
)

// PdfToText reads embedded PDF text with the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText reader. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ReadText pipes the document through pdftotext -layout and returns stdout.
func (p *PdfToText) ReadText(ctx context.Context, doc model.Document) (string, error) {
	if !IsPDF(doc) || len(doc.Content) == 0 {
		return "", nil
	}
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", "-", "-")
	cmd.Stdin = bytes.NewReader(doc.Content)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "textlayer: pdftotext failed for %s: %s", doc.ID, stderr.String())
	}
	return stdout.String(), nil
}
