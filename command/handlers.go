package command

import (
	"context"
	"time"

	"github.com/goliatone/go-annotate/annotate"
	gcmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-errors"
)

func serviceRequired() error {
	return errors.New("annotate service is required", errors.CategoryInternal).
		WithTextCode("SERVICE_REQUIRED")
}

// OpenSessionHandler opens annotation sessions.
type OpenSessionHandler struct {
	Service annotate.Service
}

func NewOpenSessionHandler(svc annotate.Service) *OpenSessionHandler {
	return &OpenSessionHandler{Service: svc}
}

func (h *OpenSessionHandler) Execute(ctx context.Context, msg OpenSession) error {
	if h == nil || h.Service == nil {
		return serviceRequired()
	}
	snap, err := h.Service.Open(ctx, msg.Upload)
	if err != nil {
		return err
	}
	storeSnapshot(ctx, msg.Result, snap)
	return nil
}

// ReplaceDocumentHandler replaces a session document.
type ReplaceDocumentHandler struct {
	Service annotate.Service
}

func NewReplaceDocumentHandler(svc annotate.Service) *ReplaceDocumentHandler {
	return &ReplaceDocumentHandler{Service: svc}
}

func (h *ReplaceDocumentHandler) Execute(ctx context.Context, msg ReplaceDocument) error {
	if h == nil || h.Service == nil {
		return serviceRequired()
	}
	snap, err := h.Service.Replace(ctx, msg.SessionID, msg.Upload)
	if err != nil {
		return err
	}
	storeSnapshot(ctx, msg.Result, snap)
	return nil
}

// CloseSessionHandler closes sessions.
type CloseSessionHandler struct {
	Service annotate.Service
}

func NewCloseSessionHandler(svc annotate.Service) *CloseSessionHandler {
	return &CloseSessionHandler{Service: svc}
}

func (h *CloseSessionHandler) Execute(ctx context.Context, msg CloseSession) error {
	if h == nil || h.Service == nil {
		return serviceRequired()
	}
	return h.Service.Close(ctx, msg.SessionID)
}

// CaptureMarkHandler captures marks from the current or given selection.
type CaptureMarkHandler struct {
	Service annotate.Service
}

func NewCaptureMarkHandler(svc annotate.Service) *CaptureMarkHandler {
	return &CaptureMarkHandler{Service: svc}
}

func (h *CaptureMarkHandler) Execute(ctx context.Context, msg CaptureMark) error {
	if h == nil || h.Service == nil {
		return serviceRequired()
	}
	if !msg.Selection.Empty() {
		if _, err := h.Service.Select(ctx, msg.SessionID, msg.Selection, msg.PageRect); err != nil {
			return err
		}
	}
	result, err := h.Service.CaptureMark(ctx, msg.SessionID, msg.Kind)
	if err != nil {
		return err
	}
	if msg.Result != nil {
		*msg.Result = result
	}
	if res := gcmd.ResultFromContext[annotate.CaptureResult](ctx); res != nil {
		res.Store(result)
	}
	return nil
}

// ExportDocumentHandler runs exports.
type ExportDocumentHandler struct {
	Service annotate.Service
}

func NewExportDocumentHandler(svc annotate.Service) *ExportDocumentHandler {
	return &ExportDocumentHandler{Service: svc}
}

func (h *ExportDocumentHandler) Execute(ctx context.Context, msg ExportDocument) error {
	if h == nil || h.Service == nil {
		return serviceRequired()
	}
	result, err := h.Service.Export(ctx, msg.SessionID, msg.Output)
	if err != nil {
		return err
	}
	if msg.Result != nil {
		*msg.Result = result
	}
	if res := gcmd.ResultFromContext[annotate.ExportResult](ctx); res != nil {
		res.Store(result)
	}
	return nil
}

// CleanupSessionsHandler drops idle sessions and expired artifacts.
type CleanupSessionsHandler struct {
	Service annotate.Service
	Config  gcmd.HandlerConfig
	Clock   func() time.Time
}

func NewCleanupSessionsHandler(svc annotate.Service) *CleanupSessionsHandler {
	return &CleanupSessionsHandler{Service: svc}
}

func (h *CleanupSessionsHandler) Execute(ctx context.Context, msg CleanupSessions) error {
	if h == nil || h.Service == nil {
		return serviceRequired()
	}
	now := msg.Now
	if now.IsZero() && h.Clock != nil {
		now = h.Clock()
	}
	result, err := h.Service.Cleanup(ctx, now)
	if err != nil {
		return err
	}
	if msg.Result != nil {
		*msg.Result = result
	}
	if res := gcmd.ResultFromContext[annotate.CleanupResult](ctx); res != nil {
		res.Store(result)
	}
	return nil
}

func (h *CleanupSessionsHandler) CronHandler() func() error {
	return func() error {
		return h.Execute(context.Background(), CleanupSessions{})
	}
}

func (h *CleanupSessionsHandler) CronOptions() gcmd.HandlerConfig {
	return h.Config
}

func storeSnapshot(ctx context.Context, dst *annotate.Snapshot, snap annotate.Snapshot) {
	if dst != nil {
		*dst = snap
	}
	if res := gcmd.ResultFromContext[annotate.Snapshot](ctx); res != nil {
		res.Store(snap)
	}
}
