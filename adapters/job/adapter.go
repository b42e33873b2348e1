package annotatejob

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-annotate/annotate"
	job "github.com/goliatone/go-job"
)

// Enqueuer delivers execution messages to go-job.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg *job.ExecutionMessage) error
}

// EnqueuerFunc adapts a function to an Enqueuer.
type EnqueuerFunc func(ctx context.Context, msg *job.ExecutionMessage) error

func (f EnqueuerFunc) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if f == nil {
		return annotate.NewError(annotate.KindInternal, "enqueuer is nil", nil)
	}
	return f(ctx, msg)
}

// Config configures the background export scheduler.
type Config struct {
	Service  annotate.Service
	Enqueuer Enqueuer
	TaskID   string
	TaskPath string
	Logger   annotate.Logger
	Now      func() time.Time
}

// Scheduler enqueues export jobs for open sessions.
type Scheduler struct {
	service  annotate.Service
	enqueuer Enqueuer
	taskID   string
	taskPath string
	logger   annotate.Logger
	now      func() time.Time
}

// NewScheduler creates a new job scheduler adapter.
func NewScheduler(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = annotate.NopLogger{}
	}
	taskID := cfg.TaskID
	if taskID == "" {
		taskID = DefaultExportTaskID
	}
	taskPath := cfg.TaskPath
	if taskPath == "" {
		taskPath = DefaultExportTaskPath
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		service:  cfg.Service,
		enqueuer: cfg.Enqueuer,
		taskID:   taskID,
		taskPath: taskPath,
		logger:   logger,
		now:      now,
	}
}

// ScheduleExport checks that the session exists and enqueues an export of
// its current state. Requests for an unchanged session share an idempotency
// key so duplicate clicks merge into one job.
func (s *Scheduler) ScheduleExport(ctx context.Context, sessionID string) error {
	if s == nil {
		return annotate.NewError(annotate.KindInternal, "scheduler is nil", nil)
	}
	if s.enqueuer == nil {
		return annotate.NewError(annotate.KindNotImpl, "job enqueuer not configured", nil)
	}
	msg, err := s.BuildMessage(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.enqueuer.Enqueue(ctx, msg); err != nil {
		s.logger.Errorf("export enqueue failed for session %s: %v", sessionID, err)
		return err
	}
	s.logger.Debugf("export queued for session %s", sessionID)
	return nil
}

// BuildMessage builds the execution message for an export of the session's
// current state without enqueueing it.
func (s *Scheduler) BuildMessage(ctx context.Context, sessionID string) (*job.ExecutionMessage, error) {
	if s == nil {
		return nil, annotate.NewError(annotate.KindInternal, "scheduler is nil", nil)
	}
	if s.service == nil {
		return nil, annotate.NewError(annotate.KindNotImpl, "annotate service not configured", nil)
	}
	if sessionID == "" {
		return nil, annotate.NewError(annotate.KindValidation, "session ID is required", nil)
	}

	snap, err := s.service.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	encoded, err := encodePayload(Payload{
		SessionID:   snap.ID,
		RequestedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}
	return &job.ExecutionMessage{
		JobID:          s.taskID,
		ScriptPath:     s.taskPath,
		Parameters:     map[string]any{"payload": encoded},
		IdempotencyKey: idempotencyKey(snap),
		DedupPolicy:    job.DedupPolicyMerge,
	}, nil
}

// MessageBuilder binds BuildMessage to one session, for TaskConfig.MessageBuilder.
func (s *Scheduler) MessageBuilder(sessionID string) MessageBuilderFunc {
	return func(ctx context.Context) (*job.ExecutionMessage, error) {
		return s.BuildMessage(ctx, sessionID)
	}
}

func idempotencyKey(snap annotate.Snapshot) string {
	return fmt.Sprintf("annotate:%s:%d:%d:%d", snap.ID, len(snap.Marks), len(snap.Strokes), snap.UpdatedAt.UnixNano())
}
