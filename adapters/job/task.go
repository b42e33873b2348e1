package annotatejob

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/goliatone/go-annotate/annotate"
	annotatecmd "github.com/goliatone/go-annotate/command"
	"github.com/goliatone/go-command/dispatcher"
	errorslib "github.com/goliatone/go-errors"
	job "github.com/goliatone/go-job"
)

const (
	DefaultExportTaskID   = "annotate:export"
	DefaultExportTaskPath = "annotate:export"
)

var (
	backoffRand   = rand.New(rand.NewSource(time.Now().UnixNano()))
	backoffRandMu sync.Mutex
)

// Payload captures the job execution input.
type Payload struct {
	SessionID   string    `json:"session_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// MessageBuilderFunc builds an execution message for non-queue paths, such
// as GetHandler. Scheduler.MessageBuilder returns one bound to a session.
type MessageBuilderFunc func(ctx context.Context) (*job.ExecutionMessage, error)

// ExportDispatch dispatches an export command.
type ExportDispatch func(ctx context.Context, msg annotatecmd.ExportDocument) error

// TaskConfig configures the export task.
type TaskConfig struct {
	ID             string
	Path           string
	Config         job.Config
	HandlerOptions job.HandlerOptions
	RetryPolicy    RetryPolicy
	CancelRegistry *CancelRegistry
	Logger         annotate.Logger
	Dispatch       ExportDispatch
	MessageBuilder MessageBuilderFunc
}

// ExportTask runs session exports outside the request that asked for them.
// The artifact is stored and the ready notification sent by the service.
type ExportTask struct {
	id             string
	path           string
	config         job.Config
	handlerOptions job.HandlerOptions
	retryPolicy    RetryPolicy
	cancelRegistry *CancelRegistry
	logger         annotate.Logger
	dispatch       ExportDispatch
	messageBuilder MessageBuilderFunc
}

// NewExportTask creates a new export task.
func NewExportTask(cfg TaskConfig) *ExportTask {
	logger := cfg.Logger
	if logger == nil {
		logger = annotate.NopLogger{}
	}
	id := cfg.ID
	if id == "" {
		id = DefaultExportTaskID
	}
	path := cfg.Path
	if path == "" {
		path = DefaultExportTaskPath
	}
	dispatch := cfg.Dispatch
	if dispatch == nil {
		dispatch = func(ctx context.Context, msg annotatecmd.ExportDocument) error {
			return dispatcher.Dispatch(ctx, msg)
		}
	}

	return &ExportTask{
		id:             id,
		path:           path,
		config:         cfg.Config,
		handlerOptions: cfg.HandlerOptions,
		retryPolicy:    cfg.RetryPolicy,
		cancelRegistry: cfg.CancelRegistry,
		logger:         logger,
		dispatch:       dispatch,
		messageBuilder: cfg.MessageBuilder,
	}
}

// GetID returns the task identifier.
func (t *ExportTask) GetID() string { return t.id }

// GetHandler returns a handler for non-queue execution paths. It requires
// TaskConfig.MessageBuilder; queued jobs go through Execute instead.
func (t *ExportTask) GetHandler() func() error {
	return func() error {
		if t == nil {
			return annotate.NewError(annotate.KindInternal, "task is nil", nil)
		}
		if t.messageBuilder == nil {
			return annotate.NewError(annotate.KindNotImpl, "job message builder not configured", nil)
		}

		ctx := context.Background()
		msg, err := t.messageBuilder(ctx)
		if err != nil {
			return err
		}
		if msg == nil {
			return annotate.NewError(annotate.KindValidation, "execution message is required", nil)
		}
		return t.Execute(ctx, msg)
	}
}

// GetHandlerConfig returns scheduler options for the task.
func (t *ExportTask) GetHandlerConfig() job.HandlerOptions { return t.handlerOptions }

// GetConfig returns task config defaults.
func (t *ExportTask) GetConfig() job.Config { return t.config }

// GetPath returns the task path.
func (t *ExportTask) GetPath() string { return t.path }

// GetEngine returns nil because this task is code-driven.
func (t *ExportTask) GetEngine() job.Engine { return nil }

// Execute exports the session named in the payload, retrying transient
// failures according to the retry policy.
func (t *ExportTask) Execute(ctx context.Context, msg *job.ExecutionMessage) error {
	if t == nil {
		return annotate.NewError(annotate.KindInternal, "task is nil", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	payload, err := decodePayload(msg)
	if err != nil {
		return err
	}
	if payload.SessionID == "" {
		return annotate.NewError(annotate.KindValidation, "session ID is required", nil)
	}

	execCtx := ctx
	if t.cancelRegistry != nil {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		release := t.cancelRegistry.Register(payload.SessionID, cancel)
		defer release()
	}

	policy := t.retryPolicy
	attempt := 0
	for {
		if err := execCtx.Err(); err != nil {
			return err
		}

		var result annotate.ExportResult
		err := t.dispatch(execCtx, annotatecmd.ExportDocument{
			SessionID: payload.SessionID,
			Result:    &result,
		})
		if err == nil {
			t.logger.Infof("background export %s completed for session %s", result.ID, payload.SessionID)
			return nil
		}

		if !policy.shouldRetry(err) || attempt >= policy.MaxRetries {
			t.logger.Errorf("background export failed for session %s: %v", payload.SessionID, err)
			return err
		}

		attempt++
		delay := policy.backoffDelay(attempt)
		t.logger.Debugf("retrying export for session %s (attempt %d, delay %s)", payload.SessionID, attempt, delay)
		if delay > 0 {
			if serr := sleepWithContext(execCtx, delay); serr != nil {
				return serr
			}
		}
	}
}

func encodePayload(payload Payload) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, annotate.NewError(annotate.KindValidation, "payload is not serializable", err)
	}
	return json.RawMessage(raw), nil
}

func decodePayload(msg *job.ExecutionMessage) (Payload, error) {
	if msg == nil || msg.Parameters == nil {
		return Payload{}, annotate.NewError(annotate.KindValidation, "job payload is required", nil)
	}

	raw, ok := msg.Parameters["payload"]
	if !ok {
		return Payload{}, annotate.NewError(annotate.KindValidation, "job payload missing", nil)
	}

	switch value := raw.(type) {
	case Payload:
		return value, nil
	case *Payload:
		if value == nil {
			return Payload{}, annotate.NewError(annotate.KindValidation, "job payload is nil", nil)
		}
		return *value, nil
	case json.RawMessage:
		return unmarshalPayload(value)
	case []byte:
		return unmarshalPayload(value)
	case string:
		return unmarshalPayload([]byte(value))
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return Payload{}, annotate.NewError(annotate.KindValidation, "job payload is invalid", err)
		}
		return unmarshalPayload(data)
	}
}

func unmarshalPayload(data []byte) (Payload, error) {
	if len(data) == 0 {
		return Payload{}, annotate.NewError(annotate.KindValidation, "job payload is empty", nil)
	}
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Payload{}, annotate.NewError(annotate.KindValidation, "job payload is invalid", err)
	}
	return payload, nil
}

// RetryPolicy determines retry behavior for retryable errors.
type RetryPolicy struct {
	MaxRetries int
	Backoff    job.BackoffConfig
	Retryable  func(error) bool
}

func (p RetryPolicy) shouldRetry(err error) bool {
	if err == nil || p.MaxRetries <= 0 {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return defaultRetryable(err)
}

func (p RetryPolicy) backoffDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return computeBackoffDelay(attempt, p.Backoff)
}

// defaultRetryable never retries validation, conflict or not-found errors.
// A discarded export means the session changed while rendering.
func defaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errorslib.IsRetryableError(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	switch annotate.KindFromError(err) {
	case annotate.KindTimeout, annotate.KindInternal:
		return true
	default:
		return false
	}
}

func computeBackoffDelay(attempt int, cfg job.BackoffConfig) time.Duration {
	if attempt <= 0 {
		return 0
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	maxInterval := cfg.MaxInterval
	if maxInterval <= 0 {
		maxInterval = 5 * time.Second
	}

	switch cfg.Strategy {
	case job.BackoffFixed:
		return applyJitter(interval, cfg.Jitter)
	case job.BackoffExponential:
		delay := interval
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxInterval {
				delay = maxInterval
				break
			}
		}
		return applyJitter(delay, cfg.Jitter)
	default:
		return 0
	}
}

func applyJitter(delay time.Duration, jitter bool) time.Duration {
	if !jitter || delay <= 0 {
		return delay
	}
	// +/-50%
	half := float64(delay) * 0.5
	backoffRandMu.Lock()
	offset := (backoffRand.Float64()*2 - 1) * half
	backoffRandMu.Unlock()
	jittered := float64(delay) + offset
	if jittered < 0 {
		return 0
	}
	return time.Duration(jittered)
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
