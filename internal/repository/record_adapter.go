package repository

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopherai-docqa/internal/model"
)

var errRecordMissingID = errors.New("document record has no id")

// ParseDocumentRecord maps a stored metadata record into a Document. Older
// metadata lists used a variety of field names; they are resolved here once
// so the rest of the code only sees the canonical shape.
func ParseDocumentRecord(raw map[string]any) (model.Document, error) {
	var doc model.Document

	doc.ID = firstString(raw, "id", "_id", "documentId", "document_id", "fileId")
	if doc.ID == "" {
		return doc, errRecordMissingID
	}
	doc.UserID = firstString(raw, "user_id", "userId", "owner", "ownerId", "owner_id")
	doc.OriginalName = firstString(raw, "original_name", "originalName", "originalname", "filename", "fileName", "name")
	doc.MediaType = firstString(raw, "media_type", "mediaType", "mimetype", "mimeType", "contentType", "type")
	doc.Size = firstInt(raw, "size", "fileSize", "file_size", "bytes")
	doc.Status = normalizeStatus(firstString(raw, "status", "state"))
	doc.Error = firstString(raw, "error", "errorMessage", "error_message")

	if summary := firstString(raw, "summary", "aiSummary"); summary != "" {
		doc.Summary = &summary
	}

	uploaded, err := firstTime(raw, "uploaded_at", "uploadedAt", "uploadDate", "createdAt", "created_at")
	if err != nil {
		return doc, fmt.Errorf("document %s: %w", doc.ID, err)
	}
	doc.UploadedAt = uploaded

	processed, err := firstTime(raw, "processed_at", "processedAt", "processedDate")
	if err != nil {
		return doc, fmt.Errorf("document %s: %w", doc.ID, err)
	}
	if !processed.IsZero() {
		doc.ProcessedAt = &processed
	}
	return doc, nil
}

func normalizeStatus(s string) model.DocumentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uploading":
		return model.StatusUploading
	case "processing", "pending", "queued":
		return model.StatusProcessing
	case "completed", "complete", "done", "ready", "processed":
		return model.StatusCompleted
	case "error", "failed", "failure":
		return model.StatusError
	default:
		return model.StatusProcessing
	}
}

func firstString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func firstInt(raw map[string]any, keys ...string) int64 {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case float64:
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				return int64(v)
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func firstTime(raw map[string]any, keys ...string) (time.Time, error) {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				continue
			}
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return t, nil
				}
			}
			return time.Time{}, fmt.Errorf("unparseable time %q in %s", s, key)
		case float64:
			// Unix milliseconds.
			return time.UnixMilli(int64(v)).UTC(), nil
		}
	}
	return time.Time{}, nil
}
