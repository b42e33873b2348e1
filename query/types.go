package query

import (
	"github.com/goliatone/go-errors"
)

// SessionSnapshot requests the current session state.
type SessionSnapshot struct {
	SessionID string
}

func (SessionSnapshot) Type() string { return "annotate:snapshot" }

func (msg SessionSnapshot) Validate() error {
	return requireSession(msg.SessionID)
}

// PageInstructions requests the draw plan for one page.
type PageInstructions struct {
	SessionID string
	Page      int
}

func (PageInstructions) Type() string { return "annotate:instructions" }

func (msg PageInstructions) Validate() error {
	if err := requireSession(msg.SessionID); err != nil {
		return err
	}
	if msg.Page < 1 {
		return errors.New("page must be positive", errors.CategoryValidation).
			WithTextCode("PAGE_INVALID")
	}
	return nil
}

// ExportHistory requests the exports of a session.
type ExportHistory struct {
	SessionID string
}

func (ExportHistory) Type() string { return "annotate:history" }

func (msg ExportHistory) Validate() error {
	return requireSession(msg.SessionID)
}

// DownloadMetadata requests stored artifact metadata.
type DownloadMetadata struct {
	SessionID string
	ExportID  string
}

func (DownloadMetadata) Type() string { return "annotate:download" }

func (msg DownloadMetadata) Validate() error {
	if err := requireSession(msg.SessionID); err != nil {
		return err
	}
	if msg.ExportID == "" {
		return errors.New("export ID is required", errors.CategoryValidation).
			WithTextCode("EXPORT_ID_REQUIRED")
	}
	return nil
}

func requireSession(id string) error {
	if id == "" {
		return errors.New("session ID is required", errors.CategoryValidation).
			WithTextCode("SESSION_ID_REQUIRED")
	}
	return nil
}
