// Package batch drives a list of prompts through an image generation service
// one item at a time.
package batch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lehigh-university-libraries/imagebatch/internal/generation"
	"github.com/lehigh-university-libraries/imagebatch/internal/models"
	"github.com/lehigh-university-libraries/imagebatch/internal/pacing"
	"github.com/lehigh-university-libraries/imagebatch/internal/queue"
)

var (
	ErrNoPrompts    = errors.New("load prompts first")
	ErrNoCredential = errors.New("set at least one credential")
	ErrRunning      = errors.New("a batch is already running")
)

// FinishedMessage is the run state message after the last item
const FinishedMessage = "Batch generation finished"

// Credentials is the part of the credential pool the runner needs
type Credentials interface {
	HasCredential() bool
	Next(ctx context.Context) (string, error)
}

// Runner owns the work items and run state of one batch surface
type Runner struct {
	service generation.Service
	creds   Credentials
	pacer   pacing.Pacer

	mu        sync.Mutex
	items     []models.WorkItem
	state     models.RunState
	observers []Observer
}

// NewRunner creates a runner. A nil pacer uses the fixed default delay.
func NewRunner(service generation.Service, creds Credentials, pacer pacing.Pacer) *Runner {
	if pacer == nil {
		pacer = pacing.NewFixed(pacing.DefaultDelay)
	}
	return &Runner{
		service: service,
		creds:   creds,
		pacer:   pacer,
	}
}

// Observe registers an observer. Observers are called in registration order.
func (r *Runner) Observe(o Observer) {
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()
}

// Load replaces the queue with the prompts in raw text
func (r *Runner) Load(raw string) (int, error) {
	return r.LoadItems(queue.Build(raw))
}

// LoadItems replaces the queue with already built items
func (r *Runner) LoadItems(items []models.WorkItem) (int, error) {
	r.mu.Lock()
	if r.state.IsRunning {
		r.mu.Unlock()
		return 0, ErrRunning
	}
	r.items = items
	r.state = models.RunState{Total: len(items)}
	state := r.state
	r.mu.Unlock()

	r.publish(Event{Kind: EventState, State: &state})
	return len(items), nil
}

// Reset discards every item
func (r *Runner) Reset() error {
	_, err := r.LoadItems(nil)
	return err
}

// Items returns a copy of the queue
func (r *Runner) Items() []models.WorkItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.WorkItem, len(r.items))
	copy(out, r.items)
	return out
}

// Item returns one item by id
func (r *Runner) Item(id int) (models.WorkItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.items) {
		return models.WorkItem{}, false
	}
	return r.items[id], true
}

// State returns the current run state
func (r *Runner) State() models.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// start checks preconditions, clears results of a previous run and marks the
// runner busy.
func (r *Runner) start() (string, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.IsRunning {
		return "", 0, ErrRunning
	}
	if len(r.items) == 0 {
		return "", 0, ErrNoPrompts
	}
	if r.creds == nil || !r.creds.HasCredential() {
		return "", 0, ErrNoCredential
	}

	runID := uuid.New().String()
	for i := range r.items {
		r.items[i].Status = models.StatusPending
		r.items[i].Error = ""
		r.items[i].ImageURL = ""
		r.items[i].MIMEType = ""
		r.items[i].FileName = ""
		r.items[i].ImageData = nil
	}
	r.state = models.RunState{
		RunID:     runID,
		IsRunning: true,
		Total:     len(r.items),
		Message:   "Generating images",
	}
	return runID, len(r.items), nil
}

// Run processes every item in id order and returns the aggregate status.
// Precondition errors are returned before any item changes. When ctx is
// cancelled the in-flight item is marked error, later items stay pending and
// the summary is returned together with ctx.Err().
func (r *Runner) Run(ctx context.Context) (*models.Summary, error) {
	runID, total, err := r.start()
	if err != nil {
		return nil, err
	}
	return r.run(ctx, runID, total)
}

// Begin is Run with the preconditions checked synchronously. The returned
// function performs the run and may be called on another goroutine.
func (r *Runner) Begin() (string, func(ctx context.Context) (*models.Summary, error), error) {
	runID, total, err := r.start()
	if err != nil {
		return "", nil, err
	}
	return runID, func(ctx context.Context) (*models.Summary, error) {
		return r.run(ctx, runID, total)
	}, nil
}

func (r *Runner) run(ctx context.Context, runID string, total int) (*models.Summary, error) {
	started := time.Now()
	logger := slog.With("run", runID)
	logger.Info("Starting batch", "items", total)

	r.pacer.Reset()
	r.publishState()

	var runErr error
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		outcome, err := r.process(ctx, logger, i)
		if err != nil {
			runErr = err
			break
		}

		if i == total-1 {
			break
		}
		if err := r.pacer.Wait(ctx, outcome); err != nil {
			runErr = err
			break
		}
	}

	summary := r.finish(runID, started)
	if runErr != nil {
		logger.Warn("Batch stopped early", "err", runErr, "done", summary.Done, "failed", summary.Failed, "pending", summary.Pending)
	} else {
		logger.Info("Batch finished", "done", summary.Done, "failed", summary.Failed, "duration", summary.Duration)
	}
	r.publish(Event{Kind: EventDone, Summary: summary})
	return summary, runErr
}

// process runs one item through the service. A non-nil error stops the run.
func (r *Runner) process(ctx context.Context, logger *slog.Logger, i int) (pacing.Outcome, error) {
	r.mu.Lock()
	r.items[i].Status = models.StatusProcessing
	r.state.CurrentIndex = i
	item := r.items[i]
	state := r.state
	r.mu.Unlock()

	r.publish(Event{Kind: EventState, State: &state})
	r.publish(Event{Kind: EventItem, Item: &item})

	credential, err := r.creds.Next(ctx)
	if err != nil {
		r.resolve(i, nil, ErrNoCredential.Error())
		return pacing.Failure, fmt.Errorf("%w: %v", ErrNoCredential, err)
	}

	resp, err := r.service.Generate(ctx, generation.Request{
		Prompt:     item.Prompt,
		Credential: credential,
	})
	if err != nil {
		logger.Warn("Item failed", "item", item.Ordinal(), "err", err)
		r.resolve(i, nil, errorMessage(err))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return pacing.Failure, ctxErr
		}
		return pacing.Failure, nil
	}

	data, err := base64.StdEncoding.DecodeString(resp.ImageBase64)
	if err != nil || len(data) == 0 {
		logger.Warn("Item returned no usable image", "item", item.Ordinal(), "err", err)
		r.resolve(i, nil, "Invalid image data received")
		return pacing.Failure, nil
	}

	fileName := strings.TrimSpace(resp.FileName)
	if fileName == "" {
		fileName = queue.ItemFileName(item)
	}
	mimeType := strings.TrimSpace(resp.MIMEType)
	if mimeType == "" {
		mimeType = generation.DefaultMIMEType
	}
	r.resolve(i, &resolved{
		data:     data,
		mimeType: mimeType,
		imageURL: "data:" + mimeType + ";base64," + resp.ImageBase64,
		fileName: fileName,
	}, "")
	logger.Debug("Item done", "item", item.Ordinal(), "file", fileName, "bytes", len(data))
	return pacing.Success, nil
}

type resolved struct {
	data     []byte
	mimeType string
	imageURL string
	fileName string
}

func (r *Runner) resolve(i int, ok *resolved, errMsg string) {
	r.mu.Lock()
	it := &r.items[i]
	if ok != nil {
		it.Status = models.StatusDone
		it.ImageData = ok.data
		it.ImageURL = ok.imageURL
		it.MIMEType = ok.mimeType
		it.FileName = ok.fileName
		it.Error = ""
	} else {
		it.Status = models.StatusError
		it.Error = errMsg
	}
	item := *it
	r.mu.Unlock()

	r.publish(Event{Kind: EventItem, Item: &item})
}

func (r *Runner) finish(runID string, started time.Time) *models.Summary {
	r.mu.Lock()
	summary := &models.Summary{
		RunID:     runID,
		Total:     len(r.items),
		StartedAt: started,
		Duration:  time.Since(started),
	}
	for _, it := range r.items {
		switch it.Status {
		case models.StatusDone:
			summary.Done++
		case models.StatusError:
			summary.Failed++
		default:
			summary.Pending++
		}
	}
	r.state = models.RunState{
		RunID:   runID,
		Total:   len(r.items),
		Message: FinishedMessage,
	}
	state := r.state
	r.mu.Unlock()

	r.publish(Event{Kind: EventState, State: &state})
	return summary
}

func (r *Runner) publishState() {
	state := r.State()
	r.publish(Event{Kind: EventState, State: &state})
}

func (r *Runner) publish(e Event) {
	r.mu.Lock()
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.mu.Unlock()

	for _, o := range observers {
		o(e)
	}
}

func errorMessage(err error) string {
	var genErr *generation.Error
	if errors.As(err, &genErr) && genErr.Message != "" {
		return genErr.Message
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "Generation cancelled"
	}
	return err.Error()
}
