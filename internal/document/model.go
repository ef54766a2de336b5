package document

import (
	"fmt"
	"time"

	"github.com/evidentia/platform/internal/hashing"
	"github.com/evidentia/platform/internal/shared/types"
)

// DocumentType classifies documents for retention policy resolution
type DocumentType string

const (
	DocumentTypeContract    DocumentType = "CONTRACT"
	DocumentTypeAgreement   DocumentType = "AGREEMENT"
	DocumentTypeConsent     DocumentType = "CONSENT"
	DocumentTypeInvoice     DocumentType = "INVOICE"
	DocumentTypeCertificate DocumentType = "CERTIFICATE"
	DocumentTypeOther       DocumentType = "OTHER"
)

// Document is the immutable content entity once archived. The content hash
// never changes after creation; a content mutation is a new document.
type Document struct {
	ID          types.ID     `json:"id"`
	TenantID    *types.ID    `json:"tenant_id,omitempty"`
	Type        DocumentType `json:"type"`
	Filename    string       `json:"filename"`
	ContentHash string       `json:"content_hash"`
	SizeBytes   int64        `json:"size_bytes"`
	PageCount   int          `json:"page_count"`
	CreatedAt   time.Time    `json:"created_at"`
}

// New creates a document record from signed content.
func New(tenantID *types.ID, docType DocumentType, filename string, content []byte, pageCount int) (*Document, error) {
	if filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("content is required")
	}

	return &Document{
		ID:          types.NewID(),
		TenantID:    tenantID,
		Type:        docType,
		Filename:    filename,
		ContentHash: hashing.Hash(content),
		SizeBytes:   int64(len(content)),
		PageCount:   pageCount,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
