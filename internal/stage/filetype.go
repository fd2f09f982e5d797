package stage

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/sells-group/docflow/internal/model"
)

// Supported MIME types. Anything else needs a human.
var supportedTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/tiff":      true,
	"image/bmp":       true,
}

// DefaultMaxFileBytes is the largest document accepted for extraction.
const DefaultMaxFileBytes = 50 << 20

// FileTypeDetector sniffs the document type from its content, falling back
// to the declared MIME type and then the file extension. Unsupported,
// empty, or oversized documents are routed to manual handling rather than
// failed.
type FileTypeDetector struct {
	MaxBytes int
}

func (d FileTypeDetector) Execute(_ context.Context, view *model.RunContext) (Output, error) {
	doc := view.Document
	fileType := DetectType(doc)

	var reason string
	limit := d.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxFileBytes
	}
	switch {
	case len(doc.Content) == 0:
		reason = "document has no content"
	case len(doc.Content) > limit:
		reason = fmt.Sprintf("document is %d bytes, limit is %d", len(doc.Content), limit)
	case !supportedTypes[fileType]:
		reason = fmt.Sprintf("unsupported file type %q", fileType)
	}

	return OutputFunc(func(rc *model.RunContext) {
		rc.FileType = fileType
		if reason != "" && rc.ManualReason == "" {
			rc.ManualReason = reason
		}
	}), nil
}

var (
	tiffLE = []byte("II*\x00")
	tiffBE = []byte("MM\x00*")
)

// DetectType returns the MIME type of doc without parameters.
func DetectType(doc model.Document) string {
	if len(doc.Content) > 0 {
		if bytes.HasPrefix(doc.Content, tiffLE) || bytes.HasPrefix(doc.Content, tiffBE) {
			return "image/tiff"
		}
		sniffed := baseType(http.DetectContentType(doc.Content))
		if sniffed != "application/octet-stream" && sniffed != "text/plain" {
			return sniffed
		}
	}
	if doc.MimeType != "" {
		return baseType(doc.MimeType)
	}
	if ext := strings.ToLower(filepath.Ext(doc.FileName)); ext != "" {
		switch ext {
		case ".tif", ".tiff":
			return "image/tiff"
		case ".bmp":
			return "image/bmp"
		}
		if t := mime.TypeByExtension(ext); t != "" {
			return baseType(t)
		}
	}
	return "application/octet-stream"
}

func baseType(t string) string {
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(t))
}

// IsImage reports whether fileType is a raster image.
func IsImage(fileType string) bool {
	return strings.HasPrefix(fileType, "image/")
}
