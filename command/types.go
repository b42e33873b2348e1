package command

import (
	"io"
	"time"

	"github.com/goliatone/go-annotate/annotate"
	"github.com/goliatone/go-errors"
)

// OpenSession loads a document into a new annotation session.
type OpenSession struct {
	Upload annotate.Upload
	Result *annotate.Snapshot
}

func (OpenSession) Type() string { return "annotate:open" }

func (msg OpenSession) Validate() error {
	if len(msg.Upload.Data) == 0 {
		return errors.New("document data is required", errors.CategoryValidation).
			WithTextCode("UPLOAD_REQUIRED")
	}
	return nil
}

// ReplaceDocument swaps the session document and resets its annotations.
type ReplaceDocument struct {
	SessionID string
	Upload    annotate.Upload
	Result    *annotate.Snapshot
}

func (ReplaceDocument) Type() string { return "annotate:replace" }

func (msg ReplaceDocument) Validate() error {
	if err := requireSession(msg.SessionID); err != nil {
		return err
	}
	if len(msg.Upload.Data) == 0 {
		return errors.New("document data is required", errors.CategoryValidation).
			WithTextCode("UPLOAD_REQUIRED")
	}
	return nil
}

// CloseSession drops a session.
type CloseSession struct {
	SessionID string
}

func (CloseSession) Type() string { return "annotate:close" }

func (msg CloseSession) Validate() error {
	return requireSession(msg.SessionID)
}

// CaptureMark records a highlight or underline. A non-empty Selection is
// applied before capture.
type CaptureMark struct {
	SessionID string
	Kind      annotate.MarkKind
	Selection annotate.Rect
	PageRect  annotate.Rect
	Result    *annotate.CaptureResult
}

func (CaptureMark) Type() string { return "annotate:capture" }

func (msg CaptureMark) Validate() error {
	if err := requireSession(msg.SessionID); err != nil {
		return err
	}
	if !msg.Kind.Valid() {
		return errors.New("mark kind must be highlight or underline", errors.CategoryValidation).
			WithTextCode("MARK_KIND_INVALID")
	}
	return nil
}

// ExportDocument bakes the session annotations into the PDF. Output receives
// the bytes when set.
type ExportDocument struct {
	SessionID string
	Output    io.Writer
	Result    *annotate.ExportResult
}

func (ExportDocument) Type() string { return "annotate:export" }

func (msg ExportDocument) Validate() error {
	return requireSession(msg.SessionID)
}

// CleanupSessions drops idle sessions and expired artifacts.
type CleanupSessions struct {
	Now    time.Time
	Result *annotate.CleanupResult
}

func (CleanupSessions) Type() string { return "annotate:cleanup" }

func (CleanupSessions) Validate() error { return nil }

func requireSession(id string) error {
	if id == "" {
		return errors.New("session ID is required", errors.CategoryValidation).
			WithTextCode("SESSION_ID_REQUIRED")
	}
	return nil
}
