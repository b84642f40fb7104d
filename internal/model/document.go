package model

import "time"

type DocumentStatus string

const (
	StatusUploading  DocumentStatus = "uploading"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusError      DocumentStatus = "error"
)

// Document is the metadata record of one uploaded file. Status, Error and
// Summary are written by the ingestion pipeline only.
type Document struct {
	ID           string         `gorm:"primaryKey;size:64" json:"id"`
	UserID       string         `gorm:"size:64;not null;index" json:"user_id"`
	OriginalName string         `gorm:"size:256;not null" json:"original_name"`
	MediaType    string         `gorm:"size:128;not null" json:"media_type"`
	Size         int64          `gorm:"not null" json:"size"`
	Status       DocumentStatus `gorm:"size:16;not null;index" json:"status"`
	Error        string         `gorm:"type:text" json:"error,omitempty"`
	Summary      *string        `gorm:"type:longtext" json:"summary,omitempty"`
	UploadedAt   time.Time      `gorm:"not null" json:"uploaded_at"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
}

func (d *Document) HasSummary() bool {
	return d.Summary != nil && *d.Summary != ""
}

// ProcessTask is the unit of background work dispatched after upload acceptance.
type ProcessTask struct {
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id"`
}
