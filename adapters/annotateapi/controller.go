package annotateapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goliatone/go-annotate/annotate"
	errorslib "github.com/goliatone/go-errors"
)

// DefaultBasePath is the mount point for session routes.
const DefaultBasePath = "/annotate/sessions"

// DefaultMaxBufferBytes is the fallback buffer limit when streaming is unavailable.
const DefaultMaxBufferBytes int64 = 64 * 1024 * 1024

// ExportScheduler queues an export that runs after the request returns.
type ExportScheduler interface {
	ScheduleExport(ctx context.Context, sessionID string) error
}

// Config configures the shared annotate API controller.
type Config struct {
	Service        annotate.Service
	Scheduler      ExportScheduler
	BasePath       string
	Logger         annotate.Logger
	MaxUploadBytes int64
	MaxBufferBytes int64
}

// Controller exposes annotate API handlers for multiple transports.
type Controller struct {
	service        annotate.Service
	scheduler      ExportScheduler
	basePath       string
	logger         annotate.Logger
	maxUploadBytes int64
	maxBufferBytes int64
}

// NewController creates a shared annotate API controller.
func NewController(cfg Config) *Controller {
	basePath := strings.TrimRight(cfg.BasePath, "/")
	if basePath == "" {
		basePath = DefaultBasePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = annotate.NopLogger{}
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = annotate.DefaultMaxUploadBytes
	}
	maxBuffer := cfg.MaxBufferBytes
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBufferBytes
	}
	return &Controller{
		service:        cfg.Service,
		scheduler:      cfg.Scheduler,
		basePath:       basePath,
		logger:         logger,
		maxUploadBytes: maxUpload,
		maxBufferBytes: maxBuffer,
	}
}

// BasePath returns the configured base path.
func (c *Controller) BasePath() string {
	if c == nil {
		return ""
	}
	return c.basePath
}

// Serve routes session endpoints using the shared controller.
func (c *Controller) Serve(req Request, res Response) {
	if res == nil {
		return
	}
	if c == nil {
		WriteError(res, annotate.NewError(annotate.KindInternal, "handler is nil", nil))
		return
	}
	if req == nil {
		WriteError(res, annotate.NewError(annotate.KindInternal, "request is nil", nil))
		return
	}
	if c.service == nil {
		WriteError(res, annotate.NewError(annotate.KindNotImpl, "annotate service not configured", nil))
		return
	}
	if !strings.HasPrefix(req.Path(), c.basePath) {
		writeNotFound(res)
		return
	}

	pathSuffix := strings.TrimPrefix(req.Path(), c.basePath)
	pathSuffix = strings.Trim(pathSuffix, "/")
	parts := []string{}
	if pathSuffix != "" {
		parts = strings.Split(pathSuffix, "/")
	}

	switch req.Method() {
	case http.MethodPost:
		c.routePost(req, res, parts)
	case http.MethodGet:
		c.routeGet(req, res, parts)
	case http.MethodDelete:
		c.routeDelete(req, res, parts)
	default:
		res.SetHeader("Allow", "GET, POST, DELETE")
		WriteErrorStatus(res, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
	}
}

func (c *Controller) routePost(req Request, res Response, parts []string) {
	switch len(parts) {
	case 0:
		c.handleOpen(req, res)
	case 2:
		sessionID := parts[0]
		switch parts[1] {
		case "file":
			c.handleReplace(req, res, sessionID)
		case "page":
			c.handleNavigate(req, res, sessionID)
		case "selection":
			c.handleSelect(req, res, sessionID)
		case "marks":
			c.handleCapture(req, res, sessionID)
		case "signing":
			c.handleSigning(req, res, sessionID)
		case "pointer":
			c.handlePointer(req, res, sessionID)
		case "export":
			c.handleExport(req, res, sessionID)
		default:
			writeNotFound(res)
		}
	default:
		writeNotFound(res)
	}
}

func (c *Controller) routeGet(req Request, res Response, parts []string) {
	switch {
	case len(parts) == 1:
		c.handleSnapshot(req, res, parts[0])
	case len(parts) == 2 && parts[1] == "exports":
		c.handleHistory(req, res, parts[0])
	case len(parts) == 4 && parts[1] == "pages":
		page, err := parsePage(parts[2])
		if err != nil {
			WriteError(res, err)
			return
		}
		switch parts[3] {
		case "instructions":
			c.handleInstructions(req, res, parts[0], page)
		case "overlay":
			c.handleOverlay(req, res, parts[0], page)
		default:
			writeNotFound(res)
		}
	case len(parts) == 4 && parts[1] == "exports" && parts[3] == "download":
		c.handleDownload(req, res, parts[0], parts[2])
	default:
		writeNotFound(res)
	}
}

func (c *Controller) routeDelete(req Request, res Response, parts []string) {
	switch {
	case len(parts) == 1:
		c.handleClose(req, res, parts[0])
	case len(parts) == 2 && parts[1] == "strokes":
		snap, err := c.service.ClearStrokes(req.Context(), parts[0])
		c.writeSnapshot(res, http.StatusOK, snap, err)
	default:
		writeNotFound(res)
	}
}

func (c *Controller) handleOpen(req Request, res Response) {
	upload, err := decodeUpload(req, c.maxUploadBytes)
	if err != nil {
		WriteError(res, err)
		return
	}
	snap, err := c.service.Open(req.Context(), upload)
	if err == nil {
		res.SetHeader("Location", c.sessionURL(snap.ID))
	}
	c.writeSnapshot(res, http.StatusCreated, snap, err)
}

func (c *Controller) handleReplace(req Request, res Response, sessionID string) {
	upload, err := decodeUpload(req, c.maxUploadBytes)
	if err != nil {
		WriteError(res, err)
		return
	}
	snap, err := c.service.Replace(req.Context(), sessionID, upload)
	c.writeSnapshot(res, http.StatusOK, snap, err)
}

func (c *Controller) handleSnapshot(req Request, res Response, sessionID string) {
	snap, err := c.service.Snapshot(req.Context(), sessionID)
	c.writeSnapshot(res, http.StatusOK, snap, err)
}

func (c *Controller) handleClose(req Request, res Response, sessionID string) {
	if err := c.service.Close(req.Context(), sessionID); err != nil {
		WriteError(res, err)
		return
	}
	res.WriteHeader(http.StatusNoContent)
}

func (c *Controller) handleNavigate(req Request, res Response, sessionID string) {
	var payload navigatePayload
	if err := decodeJSON(req, &payload); err != nil {
		WriteError(res, err)
		return
	}
	snap, err := c.service.Navigate(req.Context(), sessionID, payload.Action, payload.Page)
	c.writeSnapshot(res, http.StatusOK, snap, err)
}

func (c *Controller) handleSelect(req Request, res Response, sessionID string) {
	var payload selectionPayload
	if err := decodeJSON(req, &payload); err != nil {
		WriteError(res, err)
		return
	}
	snap, err := c.service.Select(req.Context(), sessionID, payload.Selection, payload.PageRect)
	c.writeSnapshot(res, http.StatusOK, snap, err)
}

func (c *Controller) handleCapture(req Request, res Response, sessionID string) {
	var payload capturePayload
	if err := decodeJSON(req, &payload); err != nil {
		WriteError(res, err)
		return
	}
	if payload.Selection != nil {
		page := annotate.Rect{}
		if payload.PageRect != nil {
			page = *payload.PageRect
		}
		if _, err := c.service.Select(req.Context(), sessionID, *payload.Selection, page); err != nil {
			WriteError(res, err)
			return
		}
	}
	result, err := c.service.CaptureMark(req.Context(), sessionID, payload.Kind)
	if err != nil {
		WriteError(res, err)
		return
	}
	status := http.StatusCreated
	if !result.Captured {
		status = http.StatusOK
	}
	writeJSON(res, status, result)
}

func (c *Controller) handleSigning(req Request, res Response, sessionID string) {
	var payload signingPayload
	if err := decodeJSON(req, &payload); err != nil {
		WriteError(res, err)
		return
	}
	snap, err := c.service.SetSigning(req.Context(), sessionID, payload.Active)
	c.writeSnapshot(res, http.StatusOK, snap, err)
}

func (c *Controller) handlePointer(req Request, res Response, sessionID string) {
	var evt annotate.PointerEvent
	if err := decodeJSON(req, &evt); err != nil {
		WriteError(res, err)
		return
	}
	snap, err := c.service.Pointer(req.Context(), sessionID, evt)
	c.writeSnapshot(res, http.StatusOK, snap, err)
}

func (c *Controller) handleInstructions(req Request, res Response, sessionID string, page int) {
	plan, err := c.service.PageInstructions(req.Context(), sessionID, page)
	if err != nil {
		WriteError(res, err)
		return
	}
	writeJSON(res, http.StatusOK, plan)
}

func (c *Controller) handleOverlay(req Request, res Response, sessionID string, page int) {
	scale := 1.0
	if raw := req.Query("scale"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			WriteError(res, annotate.NewError(annotate.KindValidation, "invalid scale", err))
			return
		}
		scale = parsed
	}

	buffer := newLimitedBuffer(c.maxBufferBytes)
	if err := c.service.RenderOverlay(req.Context(), sessionID, page, scale, buffer); err != nil {
		WriteError(res, err)
		return
	}
	res.SetHeader("Content-Type", "image/png")
	res.SetHeader("Cache-Control", "no-store")
	res.WriteHeader(http.StatusOK)
	if _, err := res.Write(buffer.Bytes()); err != nil {
		c.logger.Errorf("overlay write failed: %v", err)
	}
}

// handleExport buffers the document so a failed or discarded export never
// leaves a partial download behind.
func (c *Controller) handleExport(req Request, res Response, sessionID string) {
	if isTruthy(req.Query("async")) {
		c.handleExportAsync(req, res, sessionID)
		return
	}
	buffer := newLimitedBuffer(c.maxBufferBytes)
	result, err := c.service.Export(req.Context(), sessionID, buffer)
	if err != nil {
		WriteError(res, err)
		return
	}

	setDownloadHeaders(res, result.ID, result.Filename, result.ContentType)
	res.SetHeader("Content-Length", strconv.Itoa(buffer.Len()))
	if result.ID != "" {
		res.SetHeader("X-Download-Url", c.downloadURL(sessionID, result.ID))
	}
	res.WriteHeader(http.StatusOK)
	if _, err := res.Write(buffer.Bytes()); err != nil {
		c.logger.Errorf("export %s write failed: %v", result.ID, err)
	}
}

// handleExportAsync queues the export. The client follows the history URL
// and the export-ready notification for the result.
func (c *Controller) handleExportAsync(req Request, res Response, sessionID string) {
	if c.scheduler == nil {
		WriteError(res, annotate.NewError(annotate.KindNotImpl, "background exports not configured", nil))
		return
	}
	if err := c.scheduler.ScheduleExport(req.Context(), sessionID); err != nil {
		WriteError(res, err)
		return
	}
	historyURL := c.sessionURL(sessionID) + "/exports"
	res.SetHeader("Location", historyURL)
	writeJSON(res, http.StatusAccepted, QueuedExportResponse{
		SessionID:  sessionID,
		Status:     "queued",
		HistoryURL: historyURL,
	})
}

func (c *Controller) handleHistory(req Request, res Response, sessionID string) {
	if _, err := c.service.Snapshot(req.Context(), sessionID); err != nil {
		WriteError(res, err)
		return
	}
	records, err := c.service.History(req.Context(), sessionID)
	if err != nil {
		WriteError(res, err)
		return
	}
	payload := HistoryResponse{SessionID: sessionID, Exports: make([]ExportEntry, 0, len(records))}
	for _, record := range records {
		payload.Exports = append(payload.Exports, exportEntry(record, c.downloadURL(sessionID, record.ID)))
	}
	writeJSON(res, http.StatusOK, payload)
}

func (c *Controller) handleDownload(req Request, res Response, sessionID, exportID string) {
	info, reader, err := c.service.Download(req.Context(), sessionID, exportID)
	if err != nil {
		WriteError(res, err)
		return
	}
	defer reader.Close()

	meta := info.Artifact.Meta
	setDownloadHeaders(res, info.ExportID, meta.Filename, meta.ContentType)
	if meta.Size > 0 {
		res.SetHeader("Content-Length", strconv.FormatInt(meta.Size, 10))
	}

	if writer, ok := res.Writer(); ok {
		res.WriteHeader(http.StatusOK)
		if _, err := io.Copy(writer, reader); err != nil {
			c.logger.Errorf("download %s stream failed: %v", exportID, err)
		}
		return
	}

	buffer := newLimitedBuffer(c.maxBufferBytes)
	if _, err := io.Copy(buffer, reader); err != nil {
		clearDownloadHeaders(res)
		WriteError(res, err)
		return
	}
	res.WriteHeader(http.StatusOK)
	if _, err := res.Write(buffer.Bytes()); err != nil {
		c.logger.Errorf("download %s buffer write failed: %v", exportID, err)
	}
}

func (c *Controller) writeSnapshot(res Response, status int, snap annotate.Snapshot, err error) {
	if err != nil {
		WriteError(res, err)
		return
	}
	writeJSON(res, status, snap)
}

func (c *Controller) sessionURL(sessionID string) string {
	return fmt.Sprintf("%s/%s", c.basePath, sessionID)
}

func (c *Controller) downloadURL(sessionID, exportID string) string {
	return fmt.Sprintf("%s/%s/exports/%s/download", c.basePath, sessionID, exportID)
}

func writeNotFound(res Response) {
	WriteErrorStatus(res, http.StatusNotFound, "not found", "not_found")
}

// WriteError writes a JSON error response with a status derived from the
// go-errors category and text code.
func WriteError(res Response, err error) {
	if res == nil || err == nil {
		return
	}
	ge := annotate.AsGoError(err)
	status := statusForError(ge)
	WriteErrorStatus(res, status, ge.Message, ge.TextCode)
}

// WriteErrorStatus writes a JSON error response with an explicit status.
func WriteErrorStatus(res Response, status int, message, code string) {
	writeJSON(res, status, ErrorResponse{Error: ErrorBody{Message: message, Code: code}})
}

func writeJSON(res Response, status int, payload any) {
	_ = res.WriteJSON(status, payload)
}

func statusForError(err *errorslib.Error) int {
	if err == nil {
		return http.StatusInternalServerError
	}
	if err.TextCode == "not_implemented" {
		return http.StatusNotImplemented
	}
	switch err.Category {
	case errorslib.CategoryValidation, errorslib.CategoryBadInput:
		return http.StatusBadRequest
	case errorslib.CategoryNotFound:
		return http.StatusNotFound
	case errorslib.CategoryConflict:
		return http.StatusConflict
	case errorslib.CategoryExternal:
		return http.StatusUnprocessableEntity
	case errorslib.CategoryOperation:
		if err.TextCode == "timeout" {
			return http.StatusRequestTimeout
		}
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func parsePage(raw string) (int, error) {
	page, err := strconv.Atoi(raw)
	if err != nil {
		return 0, annotate.NewError(annotate.KindValidation, fmt.Sprintf("invalid page %q", raw), err)
	}
	return page, nil
}

func sanitizeFilename(filename string) string {
	name := strings.TrimSpace(filename)
	name = strings.ReplaceAll(name, "\"", "")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "" {
		name = annotate.DefaultFilename
	}
	return name
}

func setDownloadHeaders(res Response, exportID, filename, contentType string) {
	if contentType == "" {
		contentType = "application/pdf"
	}
	res.SetHeader("Content-Type", contentType)
	res.SetHeader("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", sanitizeFilename(filename)))
	if exportID != "" {
		res.SetHeader("X-Export-Id", exportID)
	}
}

func clearDownloadHeaders(res Response) {
	res.DelHeader("Content-Disposition")
	res.DelHeader("Content-Type")
	res.DelHeader("Content-Length")
	res.DelHeader("X-Export-Id")
}

type limitedBuffer struct {
	buf     bytes.Buffer
	maxSize int64
}

func newLimitedBuffer(maxSize int64) *limitedBuffer {
	if maxSize <= 0 {
		maxSize = DefaultMaxBufferBytes
	}
	return &limitedBuffer{maxSize: maxSize}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.maxSize > 0 && int64(b.buf.Len()+len(p)) > b.maxSize {
		return 0, annotate.NewError(annotate.KindInternal, "buffer limit exceeded", nil)
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

func (b *limitedBuffer) Len() int {
	return b.buf.Len()
}
