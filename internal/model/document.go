package model

import "time"

// DocumentStatus represents the lifecycle state of an ingested document.
type DocumentStatus string

const (
	DocumentStatusPending        DocumentStatus = "pending"
	DocumentStatusProcessing     DocumentStatus = "processing"
	DocumentStatusApproved       DocumentStatus = "approved"
	DocumentStatusPendingReview  DocumentStatus = "pending_review"
	DocumentStatusManualRequired DocumentStatus = "manual_required"
	DocumentStatusFailed         DocumentStatus = "failed"
)

// StatusForDecision maps a routing decision to the document status written
// alongside the result.
func StatusForDecision(d RoutingDecision) DocumentStatus {
	switch d {
	case RoutingAutoApprove:
		return DocumentStatusApproved
	case RoutingQuickReview, RoutingFullReview:
		return DocumentStatusPendingReview
	case RoutingManualRequired:
		return DocumentStatusManualRequired
	default:
		return DocumentStatusFailed
	}
}

// Document is a single uploaded file queued for processing.
type Document struct {
	ID         string    `json:"id"`
	FileName   string    `json:"file_name"`
	MimeType   string    `json:"mime_type,omitempty"`
	Content    []byte    `json:"content,omitempty"`
	SourceURI  string    `json:"source_uri,omitempty"`
	TemplateID string    `json:"template_id"`
	CompanyID  string    `json:"company_id,omitempty"` // known issuer, skips identification when set
	Text       string    `json:"text,omitempty"`       // embedded text layer, if any
	UploadedAt time.Time `json:"uploaded_at"`
}
