package query

import (
	"context"

	"github.com/goliatone/go-annotate/annotate"
	"github.com/goliatone/go-errors"
)

func serviceRequired() error {
	return errors.New("annotate service is required", errors.CategoryInternal).
		WithTextCode("SERVICE_REQUIRED")
}

// SessionSnapshotHandler returns session state.
type SessionSnapshotHandler struct {
	Service annotate.Service
}

func NewSessionSnapshotHandler(svc annotate.Service) *SessionSnapshotHandler {
	return &SessionSnapshotHandler{Service: svc}
}

func (h *SessionSnapshotHandler) Query(ctx context.Context, msg SessionSnapshot) (annotate.Snapshot, error) {
	if h == nil || h.Service == nil {
		return annotate.Snapshot{}, serviceRequired()
	}
	return h.Service.Snapshot(ctx, msg.SessionID)
}

// PageInstructionsHandler returns the draw plan for a page.
type PageInstructionsHandler struct {
	Service annotate.Service
}

func NewPageInstructionsHandler(svc annotate.Service) *PageInstructionsHandler {
	return &PageInstructionsHandler{Service: svc}
}

func (h *PageInstructionsHandler) Query(ctx context.Context, msg PageInstructions) (annotate.PagePlan, error) {
	if h == nil || h.Service == nil {
		return annotate.PagePlan{}, serviceRequired()
	}
	return h.Service.PageInstructions(ctx, msg.SessionID, msg.Page)
}

// ExportHistoryHandler returns export history.
type ExportHistoryHandler struct {
	Service annotate.Service
}

func NewExportHistoryHandler(svc annotate.Service) *ExportHistoryHandler {
	return &ExportHistoryHandler{Service: svc}
}

func (h *ExportHistoryHandler) Query(ctx context.Context, msg ExportHistory) ([]annotate.ExportRecord, error) {
	if h == nil || h.Service == nil {
		return nil, serviceRequired()
	}
	return h.Service.History(ctx, msg.SessionID)
}

// DownloadMetadataHandler returns artifact metadata without the content.
type DownloadMetadataHandler struct {
	Service annotate.Service
}

func NewDownloadMetadataHandler(svc annotate.Service) *DownloadMetadataHandler {
	return &DownloadMetadataHandler{Service: svc}
}

func (h *DownloadMetadataHandler) Query(ctx context.Context, msg DownloadMetadata) (annotate.DownloadInfo, error) {
	if h == nil || h.Service == nil {
		return annotate.DownloadInfo{}, serviceRequired()
	}
	info, reader, err := h.Service.Download(ctx, msg.SessionID, msg.ExportID)
	if err != nil {
		return annotate.DownloadInfo{}, err
	}
	if reader != nil {
		_ = reader.Close()
	}
	return info, nil
}
