package command

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goliatone/go-annotate/annotate"
	gcmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-errors"
)

// BatchMark is a mark in page-relative pixels.
type BatchMark struct {
	Page   int               `json:"page"`
	Kind   annotate.MarkKind `json:"kind"`
	Left   float64           `json:"left"`
	Top    float64           `json:"top"`
	Width  float64           `json:"width"`
	Height float64           `json:"height"`
}

// BatchStroke is a signature stroke in page-relative pixels.
type BatchStroke struct {
	Page   int              `json:"page"`
	Points []annotate.Point `json:"points"`
}

// BatchJob annotates one input document and writes the result to Output.
type BatchJob struct {
	Input   string        `json:"input"`
	Output  string        `json:"output"`
	Marks   []BatchMark   `json:"marks,omitempty"`
	Strokes []BatchStroke `json:"strokes,omitempty"`
}

// BatchLoader loads batch jobs from a source.
type BatchLoader func(ctx context.Context) ([]BatchJob, error)

// BatchLimits bounds batch throughput.
type BatchLimits struct {
	MaxJobs     int
	MinInterval time.Duration
}

// BatchOption customizes batch commands.
type BatchOption func(*BatchCommand)

// WithBatchCLIConfig overrides CLI configuration.
func WithBatchCLIConfig(cfg gcmd.CLIConfig) BatchOption {
	return func(cmd *BatchCommand) {
		cmd.cliConfig = cfg
	}
}

// WithBatchCronConfig overrides cron configuration.
func WithBatchCronConfig(cfg gcmd.HandlerConfig) BatchOption {
	return func(cmd *BatchCommand) {
		cmd.cronConfig = cfg
	}
}

// WithBatchLimits overrides batch limits.
func WithBatchLimits(limits BatchLimits) BatchOption {
	return func(cmd *BatchCommand) {
		cmd.limits = limits
	}
}

// BatchCommand replays annotations onto documents without a browser. Each job
// runs in its own session, which is closed afterwards.
type BatchCommand struct {
	service    annotate.Service
	loader     BatchLoader
	cliConfig  gcmd.CLIConfig
	cronConfig gcmd.HandlerConfig
	limits     BatchLimits
	sleep      func(time.Duration)
	readFile   func(string) ([]byte, error)
	create     func(string) (io.WriteCloser, error)
	remove     func(string) error
}

// NewBatchAnnotateCommand creates the batch annotate CLI/Cron command.
func NewBatchAnnotateCommand(svc annotate.Service, loader BatchLoader, opts ...BatchOption) *BatchCommand {
	cmd := &BatchCommand{
		service: svc,
		loader:  loader,
		cliConfig: gcmd.CLIConfig{
			Path:        []string{"annotate-batch"},
			Description: "Apply stored annotations to PDF files",
			Group:       "annotate",
		},
		cronConfig: gcmd.HandlerConfig{Expression: "0 * * * *"},
		sleep:      time.Sleep,
		readFile:   os.ReadFile,
		create:     createFile,
		remove:     os.Remove,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cmd)
		}
	}
	return cmd
}

func (c *BatchCommand) CronHandler() func() error {
	return func() error {
		_, err := c.run(context.Background(), "")
		return err
	}
}

func (c *BatchCommand) CronOptions() gcmd.HandlerConfig {
	if c == nil {
		return gcmd.HandlerConfig{}
	}
	return c.cronConfig
}

func (c *BatchCommand) CLIHandler() any {
	return &batchCLI{cmd: c}
}

func (c *BatchCommand) CLIOptions() gcmd.CLIConfig {
	if c == nil {
		return gcmd.CLIConfig{}
	}
	return c.cliConfig
}

func (c *BatchCommand) run(ctx context.Context, from string) (int, error) {
	if c == nil {
		return 0, errors.New("batch command is nil", errors.CategoryInternal).
			WithTextCode("BATCH_CMD_NIL")
	}
	if c.service == nil {
		return 0, serviceRequired()
	}

	jobs, err := c.loadJobs(ctx, from)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, job := range jobs {
		if c.limits.MaxJobs > 0 && count >= c.limits.MaxJobs {
			break
		}
		if err := c.runJob(ctx, job); err != nil {
			return count, err
		}
		count++
		if c.limits.MinInterval > 0 && c.sleep != nil {
			c.sleep(c.limits.MinInterval)
		}
	}
	return count, nil
}

func (c *BatchCommand) runJob(ctx context.Context, job BatchJob) (err error) {
	if strings.TrimSpace(job.Input) == "" || strings.TrimSpace(job.Output) == "" {
		return errors.New("batch job needs input and output paths", errors.CategoryValidation).
			WithTextCode("BATCH_JOB_INVALID")
	}
	data, err := c.readFile(job.Input)
	if err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "read batch input failed").
			WithTextCode("BATCH_INPUT_READ")
	}

	snap, err := c.service.Open(ctx, annotate.Upload{
		Filename:    filepath.Base(job.Input),
		ContentType: "application/pdf",
		Data:        data,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.service.Close(ctx, snap.ID); err == nil && cerr != nil {
			err = cerr
		}
	}()

	for _, mark := range job.Marks {
		if err := c.applyMark(ctx, snap.ID, mark); err != nil {
			return err
		}
	}
	for _, stroke := range job.Strokes {
		if err := c.applyStroke(ctx, snap.ID, stroke); err != nil {
			return err
		}
	}

	out, err := c.create(job.Output)
	if err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "create batch output failed").
			WithTextCode("BATCH_OUTPUT_CREATE")
	}
	if _, err := c.service.Export(ctx, snap.ID, out); err != nil {
		_ = out.Close()
		_ = c.remove(job.Output)
		return err
	}
	return out.Close()
}

func (c *BatchCommand) applyMark(ctx context.Context, sessionID string, mark BatchMark) error {
	if _, err := c.service.Navigate(ctx, sessionID, annotate.NavGoto, pageOrFirst(mark.Page)); err != nil {
		return err
	}
	sel := annotate.Rect{Left: mark.Left, Top: mark.Top, Width: mark.Width, Height: mark.Height}
	if _, err := c.service.Select(ctx, sessionID, sel, annotate.Rect{}); err != nil {
		return err
	}
	_, err := c.service.CaptureMark(ctx, sessionID, mark.Kind)
	return err
}

func (c *BatchCommand) applyStroke(ctx context.Context, sessionID string, stroke BatchStroke) error {
	if len(stroke.Points) == 0 {
		return nil
	}
	if _, err := c.service.Navigate(ctx, sessionID, annotate.NavGoto, pageOrFirst(stroke.Page)); err != nil {
		return err
	}
	on, off := true, false
	if _, err := c.service.SetSigning(ctx, sessionID, &on); err != nil {
		return err
	}
	for i, point := range stroke.Points {
		evt := annotate.PointerEvent{Type: annotate.PointerMove, X: point.X, Y: point.Y}
		if i == 0 {
			evt.Type = annotate.PointerDown
		}
		if _, err := c.service.Pointer(ctx, sessionID, evt); err != nil {
			return err
		}
	}
	if _, err := c.service.Pointer(ctx, sessionID, annotate.PointerEvent{Type: annotate.PointerUp}); err != nil {
		return err
	}
	_, err := c.service.SetSigning(ctx, sessionID, &off)
	return err
}

func createFile(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

func pageOrFirst(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func (c *BatchCommand) loadJobs(ctx context.Context, from string) ([]BatchJob, error) {
	if strings.TrimSpace(from) != "" {
		return c.loadJobsFromFile(from)
	}
	if c.loader == nil {
		return nil, errors.New("batch loader not configured", errors.CategoryValidation).
			WithTextCode("LOADER_REQUIRED")
	}
	return c.loader(ctx)
}

func (c *BatchCommand) loadJobsFromFile(path string) ([]BatchJob, error) {
	content, err := c.readFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, "read batch file failed").
			WithTextCode("BATCH_FILE_READ")
	}
	var jobs []BatchJob
	if err := json.Unmarshal(content, &jobs); err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "batch file invalid JSON").
			WithTextCode("BATCH_FILE_INVALID")
	}
	return jobs, nil
}

type batchCLI struct {
	cmd  *BatchCommand
	From string `kong:"name='from',help='Path to JSON batch annotation jobs'"`
}

func (c *batchCLI) Run() error {
	if c == nil || c.cmd == nil {
		return errors.New("batch command is required", errors.CategoryInternal).
			WithTextCode("BATCH_CMD_NIL")
	}
	_, err := c.cmd.run(context.Background(), c.From)
	return err
}

// CLIHandler exposes cleanup via CLI.
func (h *CleanupSessionsHandler) CLIHandler() any {
	return &cleanupCLI{handler: h}
}

// CLIOptions describes cleanup CLI metadata.
func (h *CleanupSessionsHandler) CLIOptions() gcmd.CLIConfig {
	return gcmd.CLIConfig{
		Path:        []string{"annotate-cleanup"},
		Description: "Drop idle sessions and expired export artifacts",
		Group:       "annotate",
	}
}

type cleanupCLI struct {
	handler *CleanupSessionsHandler
}

func (c *cleanupCLI) Run() error {
	if c == nil || c.handler == nil {
		return errors.New("cleanup handler is required", errors.CategoryInternal).
			WithTextCode("CLEANUP_HANDLER_REQUIRED")
	}
	return c.handler.Execute(context.Background(), CleanupSessions{})
}
