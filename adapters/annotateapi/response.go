package annotateapi

import (
	"io"
	"time"

	"github.com/goliatone/go-annotate/annotate"
)

// Response provides a minimal response interface for transport adapters.
type Response interface {
	SetHeader(name, value string)
	DelHeader(name string)
	WriteHeader(status int)
	Write(data []byte) (int, error)
	WriteJSON(status int, payload any) error
	Writer() (io.Writer, bool)
}

// ErrorResponse describes JSON error responses.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody contains error details.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ExportEntry is the JSON view of one export history record.
type ExportEntry struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Filename     string    `json:"filename"`
	State        string    `json:"state"`
	Pages        int       `json:"pages"`
	Marks        int       `json:"marks"`
	Strokes      int       `json:"strokes"`
	Instructions int       `json:"instructions"`
	Bytes        int64     `json:"bytes"`
	Error        string    `json:"error,omitempty"`
	DownloadURL  string    `json:"download_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// HistoryResponse lists the exports of a session.
type HistoryResponse struct {
	SessionID string        `json:"session_id"`
	Exports   []ExportEntry `json:"exports"`
}

// QueuedExportResponse acknowledges a background export request.
type QueuedExportResponse struct {
	SessionID  string `json:"session_id"`
	Status     string `json:"status"`
	HistoryURL string `json:"history_url"`
}

func exportEntry(record annotate.ExportRecord, downloadURL string) ExportEntry {
	entry := ExportEntry{
		ID:           record.ID,
		SessionID:    record.SessionID,
		Filename:     record.Filename,
		State:        string(record.State),
		Pages:        record.Pages,
		Marks:        record.Marks,
		Strokes:      record.Strokes,
		Instructions: record.Instructions,
		Bytes:        record.BytesWritten,
		Error:        record.Error,
		CreatedAt:    record.CreatedAt,
		CompletedAt:  record.CompletedAt,
		ExpiresAt:    record.ExpiresAt,
	}
	if record.State == annotate.StateCompleted && record.Artifact.Key != "" {
		entry.DownloadURL = downloadURL
	}
	return entry
}
