package gonotifications

import (
	"context"

	"github.com/goliatone/go-annotate/annotate"
	"github.com/goliatone/go-annotate/annotate/notify"
	"github.com/goliatone/go-notifications/pkg/onready"
)

// Format is reported to notification templates for annotated exports.
const Format = "pdf"

// Notifier forwards export-ready events to a go-notifications OnReadyNotifier.
type Notifier struct {
	delegate onready.OnReadyNotifier
}

func NewNotifier(delegate onready.OnReadyNotifier) *Notifier {
	return &Notifier{delegate: delegate}
}

// Send maps the annotation event onto the generic on-ready payload. Pages
// travel as parts and the annotation count as rows.
func (n *Notifier) Send(ctx context.Context, evt notify.ExportReadyEvent) error {
	if n == nil || n.delegate == nil {
		return annotate.NewError(annotate.KindNotImpl, "go-notifications notifier not configured", nil)
	}
	if len(evt.Recipients) == 0 {
		return annotate.NewError(annotate.KindValidation, "notification recipients are required", nil)
	}

	payload := onready.OnReadyEvent{
		Recipients:       evt.Recipients,
		Locale:           evt.Locale,
		ActorID:          evt.SessionID,
		Channels:         evt.Channels,
		FileName:         evt.FileName,
		Format:           Format,
		URL:              evt.URL,
		ExpiresAt:        evt.ExpiresAt,
		Rows:             evt.Marks + evt.Strokes,
		Parts:            evt.Pages,
		Message:          evt.Message,
		ChannelOverrides: overrides(evt),
	}
	return n.delegate.Send(ctx, payload)
}

func overrides(evt notify.ExportReadyEvent) map[string]map[string]any {
	if len(evt.Channels) == 0 {
		return nil
	}
	out := make(map[string]map[string]any, len(evt.Channels))
	for _, channel := range evt.Channels {
		out[channel] = map[string]any{
			"session_id": evt.SessionID,
			"export_id":  evt.ExportID,
			"marks":      evt.Marks,
			"strokes":    evt.Strokes,
		}
	}
	return out
}
