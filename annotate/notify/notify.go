package notify

import "context"

// ExportReadyNotifier delivers export-ready notifications.
type ExportReadyNotifier interface {
	Send(ctx context.Context, evt ExportReadyEvent) error
}

// ExportReadyEvent describes a committed export for notification channels.
type ExportReadyEvent struct {
	Recipients []string
	Channels   []string
	Locale     string
	SessionID  string
	ExportID   string
	FileName   string
	URL        string
	ExpiresAt  string
	Pages      int
	Marks      int
	Strokes    int
	Message    string
}
