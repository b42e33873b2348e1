package trackerbun

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-annotate/annotate"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var (
	_ annotate.Tracker       = (*Tracker)(nil)
	_ annotate.RecordDeleter = (*Tracker)(nil)
)

// Tracker stores export history in a Bun-backed database.
type Tracker struct {
	DB          *bun.DB
	Now         func() time.Time
	IDGenerator func() string
}

// NewTracker creates a Bun-backed tracker.
func NewTracker(db *bun.DB) *Tracker {
	return &Tracker{DB: db, Now: time.Now, IDGenerator: uuid.NewString}
}

// CreateSchema creates the export history table if it does not exist.
func (t *Tracker) CreateSchema(ctx context.Context) error {
	if err := t.ready(); err != nil {
		return err
	}
	if _, err := t.DB.NewCreateTable().Model((*exportModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("trackerbun: create table: %w", err)
	}
	_, err := t.DB.NewCreateIndex().
		Model((*exportModel)(nil)).
		Index("annotate_exports_session_idx").
		Column("session_id", "created_at").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("trackerbun: create index: %w", err)
	}
	return nil
}

// Start inserts a running export record.
func (t *Tracker) Start(ctx context.Context, record annotate.ExportRecord) (string, error) {
	if err := t.ready(); err != nil {
		return "", err
	}
	if record.ID == "" {
		record.ID = t.nextID()
	}
	if record.State == "" {
		record.State = annotate.StateRunning
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = t.now()
	}

	model, err := modelFromRecord(record)
	if err != nil {
		return "", err
	}
	if _, err := t.DB.NewInsert().Model(&model).Exec(ctx); err != nil {
		return "", err
	}
	return record.ID, nil
}

// Complete marks the export as completed and stores output details.
func (t *Tracker) Complete(ctx context.Context, id string, update annotate.ExportRecord) error {
	if err := t.ready(); err != nil {
		return err
	}
	if id == "" {
		return annotate.NewError(annotate.KindValidation, "export ID is required", nil)
	}

	meta, err := json.Marshal(update.Artifact.Meta)
	if err != nil {
		return err
	}
	completedAt := update.CompletedAt
	if completedAt.IsZero() {
		completedAt = t.now()
	}

	query := t.DB.NewUpdate().Model((*exportModel)(nil)).
		Set("state = ?", string(annotate.StateCompleted)).
		Set("pages = ?", update.Pages).
		Set("instructions = ?", update.Instructions).
		Set("bytes_written = ?", update.BytesWritten).
		Set("artifact_key = ?", update.Artifact.Key).
		Set("artifact_meta = ?", meta).
		Set("completed_at = ?", completedAt).
		Where("id = ?", id)
	if !update.ExpiresAt.IsZero() {
		query = query.Set("expires_at = ?", update.ExpiresAt)
	}
	return t.execUpdate(ctx, query, id)
}

// Fail records a terminal failed or discarded state with the error message.
func (t *Tracker) Fail(ctx context.Context, id string, state annotate.ExportState, cause error) error {
	if err := t.ready(); err != nil {
		return err
	}
	if id == "" {
		return annotate.NewError(annotate.KindValidation, "export ID is required", nil)
	}
	if state == "" {
		state = annotate.StateFailed
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}

	query := t.DB.NewUpdate().Model((*exportModel)(nil)).
		Set("state = ?", string(state)).
		Set("error_message = ?", message).
		Set("completed_at = COALESCE(completed_at, ?)", t.now()).
		Where("id = ?", id)
	return t.execUpdate(ctx, query, id)
}

// Status returns a record by ID.
func (t *Tracker) Status(ctx context.Context, id string) (annotate.ExportRecord, error) {
	if err := t.ready(); err != nil {
		return annotate.ExportRecord{}, err
	}
	if id == "" {
		return annotate.ExportRecord{}, annotate.NewError(annotate.KindValidation, "export ID is required", nil)
	}

	model := new(exportModel)
	err := t.DB.NewSelect().Model(model).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return annotate.ExportRecord{}, annotate.NewError(annotate.KindNotFound, fmt.Sprintf("export %q not found", id), nil)
		}
		return annotate.ExportRecord{}, err
	}
	return model.toRecord()
}

// List returns records matching a filter, oldest first.
func (t *Tracker) List(ctx context.Context, filter annotate.ExportFilter) ([]annotate.ExportRecord, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}

	models := make([]exportModel, 0)
	query := t.DB.NewSelect().Model(&models)
	if filter.SessionID != "" {
		query = query.Where("session_id = ?", filter.SessionID)
	}
	if filter.State != "" {
		query = query.Where("state = ?", string(filter.State))
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		query = query.Where("created_at <= ?", filter.Until)
	}
	query = query.Order("created_at ASC", "id ASC")

	if err := query.Scan(ctx); err != nil {
		return nil, err
	}

	records := make([]annotate.ExportRecord, 0, len(models))
	for _, model := range models {
		record, err := model.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (t *Tracker) Delete(ctx context.Context, id string) error {
	if err := t.ready(); err != nil {
		return err
	}
	if id == "" {
		return annotate.NewError(annotate.KindValidation, "export ID is required", nil)
	}
	_, err := t.DB.NewDelete().Model((*exportModel)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

func (t *Tracker) execUpdate(ctx context.Context, query *bun.UpdateQuery, id string) error {
	res, err := query.Exec(ctx)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return annotate.NewError(annotate.KindNotFound, fmt.Sprintf("export %q not found", id), nil)
	}
	return nil
}

type exportModel struct {
	bun.BaseModel `bun:"table:annotate_exports,alias:ae"`

	ID           string    `bun:",pk"`
	SessionID    string    `bun:"session_id,notnull"`
	Filename     string    `bun:"filename"`
	State        string    `bun:"state,notnull"`
	Pages        int       `bun:"pages"`
	Marks        int       `bun:"marks"`
	Strokes      int       `bun:"strokes"`
	Instructions int       `bun:"instructions"`
	BytesWritten int64     `bun:"bytes_written"`
	Error        string    `bun:"error_message"`
	ArtifactKey  string    `bun:"artifact_key"`
	ArtifactMeta []byte    `bun:"artifact_meta"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
	CompletedAt  time.Time `bun:"completed_at,nullzero"`
	ExpiresAt    time.Time `bun:"expires_at,nullzero"`
}

func modelFromRecord(record annotate.ExportRecord) (exportModel, error) {
	meta, err := json.Marshal(record.Artifact.Meta)
	if err != nil {
		return exportModel{}, err
	}
	return exportModel{
		ID:           record.ID,
		SessionID:    record.SessionID,
		Filename:     record.Filename,
		State:        string(record.State),
		Pages:        record.Pages,
		Marks:        record.Marks,
		Strokes:      record.Strokes,
		Instructions: record.Instructions,
		BytesWritten: record.BytesWritten,
		Error:        record.Error,
		ArtifactKey:  record.Artifact.Key,
		ArtifactMeta: meta,
		CreatedAt:    record.CreatedAt,
		CompletedAt:  record.CompletedAt,
		ExpiresAt:    record.ExpiresAt,
	}, nil
}

func (m exportModel) toRecord() (annotate.ExportRecord, error) {
	record := annotate.ExportRecord{
		ID:           m.ID,
		SessionID:    m.SessionID,
		Filename:     m.Filename,
		State:        annotate.ExportState(m.State),
		Pages:        m.Pages,
		Marks:        m.Marks,
		Strokes:      m.Strokes,
		Instructions: m.Instructions,
		BytesWritten: m.BytesWritten,
		Error:        m.Error,
		Artifact:     annotate.ArtifactRef{Key: m.ArtifactKey},
		CreatedAt:    m.CreatedAt,
		CompletedAt:  m.CompletedAt,
		ExpiresAt:    m.ExpiresAt,
	}
	if len(m.ArtifactMeta) > 0 {
		if err := json.Unmarshal(m.ArtifactMeta, &record.Artifact.Meta); err != nil {
			return annotate.ExportRecord{}, err
		}
	}
	return record, nil
}

func (t *Tracker) ready() error {
	if t == nil || t.DB == nil {
		return annotate.NewError(annotate.KindNotImpl, "tracker database not configured", nil)
	}
	return nil
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *Tracker) nextID() string {
	if t.IDGenerator != nil {
		return t.IDGenerator()
	}
	return uuid.NewString()
}
