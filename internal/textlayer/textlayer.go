// Package textlayer recovers the text of documents that arrive without one,
// so issuer identification and text-scanning rules have something to read.
package textlayer

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow/internal/config"
	"github.com/sells-group/docflow/internal/model"
)

// Reader returns the text of doc. It returns "" without error for documents
// it cannot read, such as images handed to a PDF-only reader.
type Reader interface {
	ReadText(ctx context.Context, doc model.Document) (string, error)
}

// New creates the Reader named by cfg.Provider. It returns nil for "none".
func New(cfg config.TextLayerConfig) (Reader, error) {
	switch cfg.Provider {
	case "none", "":
		return nil, nil
	case "pdftotext":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("textlayer: mistral provider requires textlayer.mistral_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("textlayer: unknown provider %q", cfg.Provider)
	}
}

var pdfMagic = []byte("%PDF-")

// IsPDF reports whether doc is a PDF, by content when present, else by name.
func IsPDF(doc model.Document) bool {
	if len(doc.Content) > 0 {
		return bytes.HasPrefix(doc.Content, pdfMagic)
	}
	return strings.EqualFold(filepath.Ext(doc.FileName), ".pdf")
}
