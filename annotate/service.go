package annotate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goliatone/go-annotate/annotate/notify"
	"github.com/google/uuid"
)

// DefaultFilename is the name of the exported document.
const DefaultFilename = "annotated-document.pdf"

// DefaultSessionTTL drops sessions idle for longer than this.
const DefaultSessionTTL = 2 * time.Hour

// NavAction names a page navigation.
type NavAction string

const (
	NavNext NavAction = "next"
	NavPrev NavAction = "prev"
	NavGoto NavAction = "goto"
)

// PointerType names a pointer event.
type PointerType string

const (
	PointerDown  PointerType = "down"
	PointerMove  PointerType = "move"
	PointerUp    PointerType = "up"
	PointerLeave PointerType = "leave"
)

// PointerEvent is a pointer sample in viewport coordinates.
type PointerEvent struct {
	Type     PointerType `json:"type"`
	X        float64     `json:"x"`
	Y        float64     `json:"y"`
	PageRect Rect        `json:"page_rect"`
}

// CaptureResult reports the outcome of a mark capture.
type CaptureResult struct {
	Mark     Mark     `json:"mark"`
	Captured bool     `json:"captured"`
	Session  Snapshot `json:"session"`
}

// ExportResult describes a committed export.
type ExportResult struct {
	ID           string
	SessionID    string
	Filename     string
	ContentType  string
	Bytes        int64
	Pages        int
	Instructions int
	Artifact     ArtifactRef
}

// DownloadInfo describes a stored export artifact.
type DownloadInfo struct {
	ExportID string
	Artifact ArtifactRef
}

// CleanupResult counts what a cleanup pass removed.
type CleanupResult struct {
	Sessions  int
	Artifacts int
}

// Service coordinates sessions, capture and export.
type Service interface {
	Open(ctx context.Context, upload Upload) (Snapshot, error)
	Replace(ctx context.Context, sessionID string, upload Upload) (Snapshot, error)
	Close(ctx context.Context, sessionID string) error
	Snapshot(ctx context.Context, sessionID string) (Snapshot, error)
	Navigate(ctx context.Context, sessionID string, action NavAction, page int) (Snapshot, error)
	Select(ctx context.Context, sessionID string, sel, page Rect) (Snapshot, error)
	CaptureMark(ctx context.Context, sessionID string, kind MarkKind) (CaptureResult, error)
	SetSigning(ctx context.Context, sessionID string, active *bool) (Snapshot, error)
	Pointer(ctx context.Context, sessionID string, evt PointerEvent) (Snapshot, error)
	ClearStrokes(ctx context.Context, sessionID string) (Snapshot, error)
	PageInstructions(ctx context.Context, sessionID string, page int) (PagePlan, error)
	RenderOverlay(ctx context.Context, sessionID string, page int, scale float64, w io.Writer) error
	Export(ctx context.Context, sessionID string, w io.Writer) (ExportResult, error)
	History(ctx context.Context, sessionID string) ([]ExportRecord, error)
	Download(ctx context.Context, sessionID, exportID string) (DownloadInfo, io.ReadCloser, error)
	Cleanup(ctx context.Context, now time.Time) (CleanupResult, error)
}

// ServiceConfig supplies dependencies for Service.
type ServiceConfig struct {
	Editor           DocumentEditor
	Inspector        PageInspector
	Overlay          OverlayRenderer
	Store            ArtifactStore
	Tracker          Tracker
	Notifier         notify.ExportReadyNotifier
	NotifyRecipients []string
	NotifyChannels   []string
	DownloadURL      func(sessionID, exportID string) string
	Logger           Logger
	Transform        TransformOptions
	Filename         string
	MaxUploadBytes   int64
	SessionTTL       time.Duration
	ArtifactTTL      time.Duration
	Now              func() time.Time
	IDGenerator      func() string
}

type sessionEntry struct {
	mu         sync.Mutex
	session    *Session
	generation uint64
	exporting  bool
	closed     bool
}

func (e *sessionEntry) stale(generation uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed || e.generation != generation
}

type service struct {
	cfg         ServiceConfig
	logger      Logger
	now         func() time.Time
	idGenerator func() string

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// NewService creates a Service with the provided configuration.
func NewService(cfg ServiceConfig) Service {
	if cfg.Logger == nil {
		cfg.Logger = NopLogger{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = uuid.NewString
	}
	if cfg.Filename == "" {
		cfg.Filename = DefaultFilename
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.Transform.StrokePlacement == "" {
		cfg.Transform.StrokePlacement = StrokePlacementCaptured
	}

	return &service{
		cfg:         cfg,
		logger:      cfg.Logger,
		now:         cfg.Now,
		idGenerator: cfg.IDGenerator,
		sessions:    make(map[string]*sessionEntry),
	}
}

// Open validates the upload and starts a new session.
func (s *service) Open(ctx context.Context, upload Upload) (Snapshot, error) {
	if s == nil {
		return Snapshot{}, AsGoError(NewError(KindInternal, "service is nil", nil))
	}
	session, err := s.newSession(ctx, s.idGenerator(), upload)
	if err != nil {
		return Snapshot{}, AsGoError(err)
	}

	s.mu.Lock()
	s.sessions[session.ID] = &sessionEntry{session: session, generation: 1}
	s.mu.Unlock()

	s.logger.Infof("annotate: session %s opened (%s, %d pages)", session.ID, session.Document.Name, session.PageCount)
	return session.Snapshot(), nil
}

// Replace swaps the document for a fresh session state under the same ID.
// Any export in flight for the previous document is discarded.
func (s *service) Replace(ctx context.Context, sessionID string, upload Upload) (Snapshot, error) {
	if s == nil {
		return Snapshot{}, AsGoError(NewError(KindInternal, "service is nil", nil))
	}
	entry, err := s.entry(sessionID)
	if err != nil {
		return Snapshot{}, AsGoError(err)
	}
	session, err := s.newSession(ctx, sessionID, upload)
	if err != nil {
		return Snapshot{}, AsGoError(err)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.closed {
		return Snapshot{}, AsGoError(sessionNotFound(sessionID))
	}
	entry.session = session
	entry.generation++

	s.logger.Infof("annotate: session %s replaced document with %s", sessionID, session.Document.Name)
	return session.Snapshot(), nil
}

// Close removes a session.
func (s *service) Close(ctx context.Context, sessionID string) error {
	_ = ctx
	if s == nil {
		return AsGoError(NewError(KindInternal, "service is nil", nil))
	}
	s.mu.Lock()
	entry, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return AsGoError(sessionNotFound(sessionID))
	}

	entry.mu.Lock()
	entry.closed = true
	entry.generation++
	entry.mu.Unlock()

	s.logger.Infof("annotate: session %s closed", sessionID)
	return nil
}

// Snapshot returns the session state.
func (s *service) Snapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	_ = ctx
	var snap Snapshot
	err := s.withSession(sessionID, func(session *Session) error {
		snap = session.Snapshot()
		return nil
	})
	return snap, err
}

// Navigate moves between pages.
func (s *service) Navigate(ctx context.Context, sessionID string, action NavAction, page int) (Snapshot, error) {
	_ = ctx
	return s.mutate(sessionID, func(session *Session) error {
		switch action {
		case NavNext:
			session.NextPage()
		case NavPrev:
			session.PrevPage()
		case NavGoto:
			return session.GoToPage(page)
		default:
			return NewError(KindValidation, fmt.Sprintf("unknown navigation action %q", action), nil)
		}
		return nil
	})
}

// Select records the active text selection.
func (s *service) Select(ctx context.Context, sessionID string, sel, page Rect) (Snapshot, error) {
	_ = ctx
	return s.mutate(sessionID, func(session *Session) error {
		session.Select(sel, page)
		return nil
	})
}

// CaptureMark captures the pending selection as a mark. Without a selection
// the call is a no-op and Captured is false.
func (s *service) CaptureMark(ctx context.Context, sessionID string, kind MarkKind) (CaptureResult, error) {
	_ = ctx
	var result CaptureResult
	snap, err := s.mutate(sessionID, func(session *Session) error {
		mark, captured, err := session.CaptureMark(kind)
		if err != nil {
			return err
		}
		result.Mark = mark
		result.Captured = captured
		return nil
	})
	if err != nil {
		return CaptureResult{}, err
	}
	result.Session = snap
	if result.Captured {
		s.logger.Debugf("annotate: session %s captured %s on page %d", sessionID, kind, result.Mark.Page)
	}
	return result, nil
}

// SetSigning sets signing mode, or toggles it when active is nil.
func (s *service) SetSigning(ctx context.Context, sessionID string, active *bool) (Snapshot, error) {
	_ = ctx
	return s.mutate(sessionID, func(session *Session) error {
		next := !session.Signing
		if active != nil {
			next = *active
		}
		session.SetSigning(next)
		return nil
	})
}

// Pointer feeds a pointer event into stroke capture.
func (s *service) Pointer(ctx context.Context, sessionID string, evt PointerEvent) (Snapshot, error) {
	_ = ctx
	return s.mutate(sessionID, func(session *Session) error {
		switch evt.Type {
		case PointerDown:
			session.PointerDown(evt.X, evt.Y, evt.PageRect)
		case PointerMove:
			session.PointerMove(evt.X, evt.Y, evt.PageRect)
		case PointerUp, PointerLeave:
			session.PointerUp()
		default:
			return NewError(KindValidation, fmt.Sprintf("unknown pointer event %q", evt.Type), nil)
		}
		return nil
	})
}

// ClearStrokes removes the signature.
func (s *service) ClearStrokes(ctx context.Context, sessionID string) (Snapshot, error) {
	_ = ctx
	return s.mutate(sessionID, func(session *Session) error {
		session.ClearStrokes()
		return nil
	})
}

// PageInstructions previews the export transform for one page.
func (s *service) PageInstructions(ctx context.Context, sessionID string, page int) (PagePlan, error) {
	_ = ctx
	var plan PagePlan
	err := s.withSession(sessionID, func(session *Session) error {
		size, err := pageSize(session, page)
		if err != nil {
			return err
		}
		plan = PagePlan{
			Page:         page,
			Size:         size,
			Instructions: PageInstructions(session.Snapshot(), page, size, s.cfg.Transform),
		}
		return nil
	})
	return plan, err
}

// RenderOverlay draws the page overlay as an image.
func (s *service) RenderOverlay(ctx context.Context, sessionID string, page int, scale float64, w io.Writer) error {
	if s == nil {
		return AsGoError(NewError(KindInternal, "service is nil", nil))
	}
	if s.cfg.Overlay == nil {
		return AsGoError(NewError(KindNotImpl, "overlay renderer not configured", nil))
	}
	if scale <= 0 {
		scale = 1
	}

	var spec OverlaySpec
	err := s.withSession(sessionID, func(session *Session) error {
		size, err := pageSize(session, page)
		if err != nil {
			return err
		}
		snap := session.Snapshot()
		spec = OverlaySpec{Width: size.Width, Height: size.Height, Scale: scale}
		for _, mark := range snap.Marks {
			if mark.Page == page {
				spec.Marks = append(spec.Marks, mark)
			}
		}
		for _, stroke := range snap.Strokes {
			if strokeOnPage(stroke, page, snap.CurrentPage, s.cfg.Transform.StrokePlacement) {
				spec.Strokes = append(spec.Strokes, stroke)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.cfg.Overlay.RenderOverlay(ctx, spec, w); err != nil {
		return AsGoError(NewError(KindInternal, "overlay render failed", err))
	}
	return nil
}

// Export applies every mark and stroke to the session document and writes
// the result to w. Exports are exclusive per session; the output is only
// committed when the session still holds the same document afterwards.
func (s *service) Export(ctx context.Context, sessionID string, w io.Writer) (ExportResult, error) {
	if s == nil {
		return ExportResult{}, AsGoError(NewError(KindInternal, "service is nil", nil))
	}
	if s.cfg.Editor == nil {
		return ExportResult{}, AsGoError(NewError(KindNotImpl, "document editor not configured", nil))
	}
	entry, err := s.entry(sessionID)
	if err != nil {
		return ExportResult{}, AsGoError(err)
	}

	entry.mu.Lock()
	if entry.closed {
		entry.mu.Unlock()
		return ExportResult{}, AsGoError(sessionNotFound(sessionID))
	}
	if entry.exporting {
		entry.mu.Unlock()
		return ExportResult{}, AsGoError(NewError(KindConflict, "an export is already running for this session", nil).WithCode(CodeExportInProgress))
	}
	entry.exporting = true
	generation := entry.generation
	snap := entry.session.Snapshot()
	data := entry.session.Document.Data
	entry.mu.Unlock()

	defer func() {
		entry.mu.Lock()
		entry.exporting = false
		entry.mu.Unlock()
	}()

	exportID := s.idGenerator()
	if s.cfg.Tracker != nil {
		id, err := s.cfg.Tracker.Start(ctx, ExportRecord{
			ID:        exportID,
			SessionID: sessionID,
			Filename:  s.cfg.Filename,
			State:     StateRunning,
			Marks:     len(snap.Marks),
			Strokes:   len(snap.Strokes),
			CreatedAt: s.now(),
		})
		if err != nil {
			return ExportResult{}, AsGoError(err)
		}
		exportID = id
	}

	output, plans, err := s.render(ctx, snap, data)
	if err != nil {
		s.fail(ctx, exportID, StateFailed, err)
		s.logger.Errorf("annotate: export %s for session %s failed: %v", exportID, sessionID, err)
		return ExportResult{}, AsGoError(err)
	}
	if err := ctx.Err(); err != nil {
		s.fail(ctx, exportID, StateFailed, err)
		return ExportResult{}, AsGoError(err)
	}

	if entry.stale(generation) {
		return ExportResult{}, s.discard(ctx, exportID, sessionID)
	}

	result := ExportResult{
		ID:          exportID,
		SessionID:   sessionID,
		Filename:    s.cfg.Filename,
		ContentType: pdfMediaType,
		Bytes:       int64(len(output)),
		Pages:       len(plans),
	}
	for _, plan := range plans {
		result.Instructions += len(plan.Instructions)
	}

	now := s.now()
	if s.cfg.Store != nil {
		meta := ArtifactMeta{
			ContentType: pdfMediaType,
			Filename:    s.cfg.Filename,
			CreatedAt:   now,
		}
		if s.cfg.ArtifactTTL > 0 {
			meta.ExpiresAt = now.Add(s.cfg.ArtifactTTL)
		}
		ref, err := s.cfg.Store.Put(ctx, artifactKey(sessionID, exportID), bytes.NewReader(output), meta)
		if err != nil {
			s.logger.Errorf("annotate: store export %s: %v", exportID, err)
		} else {
			result.Artifact = ref
		}
	}

	// Replace and Close take the entry lock, so they land either before this
	// check or after the output is written.
	entry.mu.Lock()
	if entry.closed || entry.generation != generation {
		entry.mu.Unlock()
		s.dropArtifact(ctx, result.Artifact)
		return ExportResult{}, s.discard(ctx, exportID, sessionID)
	}
	if w != nil {
		if _, err := w.Write(output); err != nil {
			entry.mu.Unlock()
			s.dropArtifact(ctx, result.Artifact)
			s.fail(ctx, exportID, StateFailed, err)
			return ExportResult{}, AsGoError(NewError(KindInternal, "write export output", err))
		}
	}
	entry.mu.Unlock()

	if s.cfg.Tracker != nil {
		if err := s.cfg.Tracker.Complete(ctx, exportID, ExportRecord{
			Pages:        result.Pages,
			Instructions: result.Instructions,
			BytesWritten: result.Bytes,
			Artifact:     result.Artifact,
			ExpiresAt:    result.Artifact.Meta.ExpiresAt,
			CompletedAt:  now,
		}); err != nil {
			s.logger.Errorf("annotate: complete export %s: %v", exportID, err)
		}
	}

	s.notify(ctx, snap, result)
	s.logger.Infof("annotate: export %s for session %s wrote %d bytes (%d instructions)", exportID, sessionID, result.Bytes, result.Instructions)
	return result, nil
}

// History lists exports for a session.
func (s *service) History(ctx context.Context, sessionID string) ([]ExportRecord, error) {
	if s == nil {
		return nil, AsGoError(NewError(KindInternal, "service is nil", nil))
	}
	if s.cfg.Tracker == nil {
		return nil, AsGoError(NewError(KindNotImpl, "export tracker not configured", nil))
	}
	records, err := s.cfg.Tracker.List(ctx, ExportFilter{SessionID: sessionID})
	if err != nil {
		return nil, AsGoError(err)
	}
	return records, nil
}

// Download opens a stored export artifact.
func (s *service) Download(ctx context.Context, sessionID, exportID string) (DownloadInfo, io.ReadCloser, error) {
	if s == nil {
		return DownloadInfo{}, nil, AsGoError(NewError(KindInternal, "service is nil", nil))
	}
	if exportID == "" {
		return DownloadInfo{}, nil, AsGoError(NewError(KindValidation, "export ID is required", nil))
	}
	if s.cfg.Store == nil {
		return DownloadInfo{}, nil, AsGoError(NewError(KindNotImpl, "artifact store not configured", nil))
	}

	key := artifactKey(sessionID, exportID)
	if s.cfg.Tracker != nil {
		record, err := s.cfg.Tracker.Status(ctx, exportID)
		if err != nil {
			return DownloadInfo{}, nil, AsGoError(err)
		}
		if record.SessionID != sessionID {
			return DownloadInfo{}, nil, AsGoError(NewError(KindNotFound, fmt.Sprintf("export %q not found", exportID), nil))
		}
		if record.State != StateCompleted {
			return DownloadInfo{}, nil, AsGoError(NewError(KindNotFound, fmt.Sprintf("export %q has no artifact", exportID), nil))
		}
		if record.Artifact.Key != "" {
			key = record.Artifact.Key
		}
	}

	reader, meta, err := s.cfg.Store.Open(ctx, key)
	if err != nil {
		return DownloadInfo{}, nil, AsGoError(err)
	}
	if !meta.ExpiresAt.IsZero() && !meta.ExpiresAt.After(s.now()) {
		_ = reader.Close()
		return DownloadInfo{}, nil, AsGoError(NewError(KindNotFound, fmt.Sprintf("export %q expired", exportID), nil))
	}
	return DownloadInfo{ExportID: exportID, Artifact: ArtifactRef{Key: key, Meta: meta}}, reader, nil
}

// Cleanup drops idle sessions and expired artifacts.
func (s *service) Cleanup(ctx context.Context, now time.Time) (CleanupResult, error) {
	if s == nil {
		return CleanupResult{}, AsGoError(NewError(KindInternal, "service is nil", nil))
	}
	if now.IsZero() {
		now = s.now()
	}

	result := CleanupResult{}
	cutoff := now.Add(-s.cfg.SessionTTL)

	s.mu.Lock()
	for id, entry := range s.sessions {
		entry.mu.Lock()
		idle := !entry.exporting && entry.session.UpdatedAt.Before(cutoff)
		if idle {
			entry.closed = true
			entry.generation++
			delete(s.sessions, id)
			result.Sessions++
		}
		entry.mu.Unlock()
	}
	s.mu.Unlock()

	if s.cfg.Tracker == nil || s.cfg.Store == nil {
		return result, nil
	}

	records, err := s.cfg.Tracker.List(ctx, ExportFilter{State: StateCompleted})
	if err != nil {
		return result, AsGoError(err)
	}
	for _, record := range records {
		if record.ExpiresAt.IsZero() || record.ExpiresAt.After(now) {
			continue
		}
		key := record.Artifact.Key
		if key == "" {
			key = artifactKey(record.SessionID, record.ID)
		}
		if err := s.cfg.Store.Delete(ctx, key); err != nil {
			return result, AsGoError(err)
		}
		if deleter, ok := s.cfg.Tracker.(RecordDeleter); ok {
			if err := deleter.Delete(ctx, record.ID); err != nil {
				return result, AsGoError(err)
			}
		}
		result.Artifacts++
	}

	if result.Sessions > 0 || result.Artifacts > 0 {
		s.logger.Infof("annotate: cleanup removed %d sessions, %d artifacts", result.Sessions, result.Artifacts)
	}
	return result, nil
}

// render loads the document, plans every page, applies the plans and
// serializes the result. Nothing is returned unless every step succeeds.
func (s *service) render(ctx context.Context, snap Snapshot, data []byte) ([]byte, []PagePlan, error) {
	doc, err := s.cfg.Editor.Load(ctx, data)
	if err != nil {
		return nil, nil, ErrExportFailure(err)
	}
	defer doc.Close()

	plans, err := DocumentInstructions(snap, doc.PageCount(), doc.PageSize, s.cfg.Transform)
	if err != nil {
		return nil, nil, ErrExportFailure(err)
	}
	for _, plan := range plans {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if err := doc.Apply(plan.Page, plan.Instructions); err != nil {
			return nil, nil, ErrExportFailure(err)
		}
	}

	var buf bytes.Buffer
	if err := doc.Save(&buf); err != nil {
		return nil, nil, ErrExportFailure(err)
	}
	return buf.Bytes(), plans, nil
}

func (s *service) newSession(ctx context.Context, id string, upload Upload) (*Session, error) {
	if err := ValidateUpload(upload, s.cfg.MaxUploadBytes); err != nil {
		return nil, err
	}
	info, err := s.inspect(ctx, upload.Data)
	if err != nil {
		return nil, err
	}

	data := make([]byte, len(upload.Data))
	copy(data, upload.Data)
	name := upload.Filename
	if name == "" {
		name = "document.pdf"
	}
	doc := Document{
		Name:        name,
		ContentType: pdfMediaType,
		Data:        data,
		Pages:       info.Pages,
	}
	return NewSession(id, doc, info.PageCount, s.now()), nil
}

func (s *service) inspect(ctx context.Context, data []byte) (DocumentInfo, error) {
	if s.cfg.Inspector != nil {
		info, err := s.cfg.Inspector.Inspect(ctx, data)
		if err != nil {
			return DocumentInfo{}, ErrInvalidInputFile(err)
		}
		if info.PageCount < 1 {
			return DocumentInfo{}, ErrInvalidInputFile(fmt.Errorf("document has no pages"))
		}
		return info, nil
	}
	if s.cfg.Editor == nil {
		return DocumentInfo{}, NewError(KindNotImpl, "page inspector not configured", nil)
	}

	doc, err := s.cfg.Editor.Load(ctx, data)
	if err != nil {
		return DocumentInfo{}, ErrInvalidInputFile(err)
	}
	defer doc.Close()

	info := DocumentInfo{PageCount: doc.PageCount()}
	if info.PageCount < 1 {
		return DocumentInfo{}, ErrInvalidInputFile(fmt.Errorf("document has no pages"))
	}
	for page := 1; page <= info.PageCount; page++ {
		size, err := doc.PageSize(page)
		if err != nil {
			return DocumentInfo{}, ErrInvalidInputFile(err)
		}
		info.Pages = append(info.Pages, size)
	}
	return info, nil
}

func (s *service) notify(ctx context.Context, snap Snapshot, result ExportResult) {
	if s.cfg.Notifier == nil {
		return
	}
	evt := notify.ExportReadyEvent{
		Recipients: s.cfg.NotifyRecipients,
		Channels:   s.cfg.NotifyChannels,
		SessionID:  result.SessionID,
		ExportID:   result.ID,
		FileName:   result.Filename,
		Pages:      snap.PageCount,
		Marks:      len(snap.Marks),
		Strokes:    len(snap.Strokes),
		Message:    fmt.Sprintf("%s is ready with %d annotations", result.Filename, len(snap.Marks)+len(snap.Strokes)),
	}
	if s.cfg.DownloadURL != nil && result.Artifact.Key != "" {
		evt.URL = s.cfg.DownloadURL(result.SessionID, result.ID)
	}
	if !result.Artifact.Meta.ExpiresAt.IsZero() {
		evt.ExpiresAt = result.Artifact.Meta.ExpiresAt.Format(time.RFC3339)
	}
	if err := s.cfg.Notifier.Send(ctx, evt); err != nil {
		s.logger.Errorf("annotate: notify export %s: %v", result.ID, err)
	}
}

func (s *service) discard(ctx context.Context, exportID, sessionID string) error {
	err := NewError(KindCanceled, "export discarded: document changed", nil).WithCode(CodeExportDiscarded)
	s.fail(ctx, exportID, StateDiscarded, err)
	s.logger.Infof("annotate: export %s for session %s discarded", exportID, sessionID)
	return AsGoError(err)
}

func (s *service) dropArtifact(ctx context.Context, ref ArtifactRef) {
	if s.cfg.Store == nil || ref.Key == "" {
		return
	}
	if err := s.cfg.Store.Delete(context.WithoutCancel(ctx), ref.Key); err != nil {
		s.logger.Errorf("annotate: drop artifact %s: %v", ref.Key, err)
	}
}

func (s *service) fail(ctx context.Context, exportID string, state ExportState, err error) {
	if s.cfg.Tracker == nil {
		return
	}
	if ferr := s.cfg.Tracker.Fail(context.WithoutCancel(ctx), exportID, state, err); ferr != nil {
		s.logger.Errorf("annotate: record failure for export %s: %v", exportID, ferr)
	}
}

func (s *service) entry(sessionID string) (*sessionEntry, error) {
	if sessionID == "" {
		return nil, NewError(KindValidation, "session ID is required", nil)
	}
	s.mu.RLock()
	entry, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, sessionNotFound(sessionID)
	}
	return entry, nil
}

func (s *service) withSession(sessionID string, fn func(*Session) error) error {
	if s == nil {
		return AsGoError(NewError(KindInternal, "service is nil", nil))
	}
	entry, err := s.entry(sessionID)
	if err != nil {
		return AsGoError(err)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.closed {
		return AsGoError(sessionNotFound(sessionID))
	}
	if err := fn(entry.session); err != nil {
		return AsGoError(err)
	}
	return nil
}

func (s *service) mutate(sessionID string, fn func(*Session) error) (Snapshot, error) {
	var snap Snapshot
	err := s.withSession(sessionID, func(session *Session) error {
		if err := fn(session); err != nil {
			return err
		}
		session.UpdatedAt = s.now()
		snap = session.Snapshot()
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func pageSize(session *Session, page int) (PageSize, error) {
	if page < 1 || page > session.PageCount {
		return PageSize{}, NewError(KindValidation, fmt.Sprintf("page %d out of range [1, %d]", page, session.PageCount), nil)
	}
	size, ok := session.Document.PageSize(page)
	if !ok {
		return PageSize{}, NewError(KindNotFound, fmt.Sprintf("size of page %d unknown", page), nil)
	}
	return size, nil
}

func sessionNotFound(id string) *Error {
	return NewError(KindNotFound, fmt.Sprintf("session %q not found", id), nil)
}

func artifactKey(sessionID, exportID string) string {
	return fmt.Sprintf("annotate/%s/%s.pdf", sessionID, exportID)
}
