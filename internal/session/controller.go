package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Submitter delivers a payload to the upload endpoint and returns the
// server's JSON reply.
type Submitter interface {
	Submit(ctx context.Context, p *Payload) (json.RawMessage, error)
}

type controllerOptions struct {
	logger    *slog.Logger
	observers []func(Result)
	now       func() time.Time
	newID     func() string
}

// Option configures a Controller.
type Option func(*controllerOptions)

// WithLogger sets the logger used for session events and submission results.
func WithLogger(l *slog.Logger) Option {
	return func(o *controllerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers fn to be called with every submission result.
// Observers run on the submitting goroutine, outside the controller lock.
func WithObserver(fn func(Result)) Option {
	return func(o *controllerOptions) {
		o.observers = append(o.observers, fn)
	}
}

// WithClock overrides time.Now for session start timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *controllerOptions) {
		o.now = now
	}
}

// WithIDGenerator overrides the session ID source.
func WithIDGenerator(fn func() string) Option {
	return func(o *controllerOptions) {
		o.newID = fn
	}
}

// Controller owns one upload session at a time and moves it through
// Idle -> AwaitingFiles -> Submitted. Any operation outside its phase moves
// the controller to PhaseError, which only Reset leaves.
type Controller struct {
	submitter Submitter
	opts      controllerOptions

	mu      sync.Mutex
	phase   Phase
	outcome Outcome
	sess    *Session
	payload *Payload // snapshot reused by Retry
	attempt int
	lastErr error
}

// NewController returns an idle controller that sends through sub.
func NewController(sub Submitter, opts ...Option) *Controller {
	o := controllerOptions{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Controller{submitter: sub, opts: o}
}

// StartSession discards any prior accumulation and snapshots title.
// It is the only place the title is read.
func (c *Controller) StartSession(title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == PhaseError {
		return c.failLocked("start session")
	}

	c.sess = &Session{
		ID:        c.opts.newID(),
		Title:     title,
		Files:     []FileHandle{},
		StartedAt: c.opts.now(),
	}
	c.phase = PhaseAwaitingFiles
	c.outcome = OutcomeNone
	c.payload = nil
	c.attempt = 0
	c.lastErr = nil

	c.opts.logger.Info("session started", "session", c.sess.ID, "title", title)
	return nil
}

// FilesSelected appends the files chosen in one picker invocation, in order.
// Duplicates are kept; an empty selection changes nothing.
func (c *Controller) FilesSelected(files ...FileHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseAwaitingFiles {
		return c.failLocked("files selected")
	}
	if len(files) == 0 {
		return nil
	}

	c.sess.Files = append(c.sess.Files, files...)

	if c.opts.logger.Enabled(context.Background(), slog.LevelDebug) {
		names := make([]string, len(c.sess.Files))
		for i, f := range c.sess.Files {
			names[i] = f.Name()
		}
		c.opts.logger.Debug("files accumulated",
			"session", c.sess.ID,
			"title", c.sess.Title,
			"added", len(files),
			"files", names,
		)
	}
	return nil
}

// Submit sends the title and every accumulated file without waiting for the
// reply. The returned channel receives exactly one Result and is then closed.
func (c *Controller) Submit(ctx context.Context) (<-chan Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseAwaitingFiles {
		return nil, c.failLocked("submit")
	}

	c.payload = NewPayload(c.sess.ID, c.sess.Title, c.sess.Files)
	c.phase = PhaseSubmitted
	return c.sendLocked(ctx), nil
}

// Retry re-sends the last payload after a failed attempt. Accumulated files
// are untouched by failures, so the retry carries exactly what was submitted.
func (c *Controller) Retry(ctx context.Context) (<-chan Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseSubmitted || c.outcome != OutcomeFailed {
		return nil, c.failLocked("retry")
	}
	return c.sendLocked(ctx), nil
}

// Reset discards the session and returns to PhaseIdle from any phase.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.phase = PhaseIdle
	c.outcome = OutcomeNone
	c.sess = nil
	c.payload = nil
	c.attempt = 0
	c.lastErr = nil
}

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Outcome returns the state of the latest submission attempt.
func (c *Controller) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// LastError returns the error of the latest failed attempt, if any.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Session returns a copy of the current session, or nil when there is none.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	s := *c.sess
	s.Files = append([]FileHandle(nil), c.sess.Files...)
	return &s
}

// Title returns the captured title, or "" when there is no session.
func (c *Controller) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.Title
}

// Files returns a copy of the accumulated files.
func (c *Controller) Files() []FileHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return append([]FileHandle(nil), c.sess.Files...)
}

func (c *Controller) failLocked(op string) error {
	err := &StateError{Op: op, Phase: c.phase}
	c.opts.logger.Warn("rejected session event", "op", op, "phase", c.phase.String())

	c.phase = PhaseError
	c.outcome = OutcomeNone
	c.sess = nil
	c.payload = nil
	return err
}

func (c *Controller) sendLocked(ctx context.Context) <-chan Result {
	c.attempt++
	c.outcome = OutcomePending
	c.lastErr = nil

	id, attempt, payload := c.sess.ID, c.attempt, c.payload
	ch := make(chan Result, 1)

	c.opts.logger.Info("submitting",
		"session", id,
		"attempt", attempt,
		"files", len(payload.Parts),
	)
	go c.send(ctx, id, attempt, payload, ch)
	return ch
}

func (c *Controller) send(ctx context.Context, id string, attempt int, payload *Payload, ch chan<- Result) {
	body, err := c.submitter.Submit(ctx, payload)
	res := Result{SessionID: id, Attempt: attempt, Body: body, Err: err}

	c.mu.Lock()
	current := c.sess != nil && c.sess.ID == id && c.attempt == attempt && c.phase == PhaseSubmitted
	if current {
		if err != nil {
			c.outcome = OutcomeFailed
			c.lastErr = err
		} else {
			c.outcome = OutcomeSucceeded
		}
	}
	c.mu.Unlock()

	if err != nil {
		c.opts.logger.Error("submission failed", "session", id, "attempt", attempt, "error", err)
	} else {
		c.opts.logger.Info("submission succeeded", "session", id, "attempt", attempt, "response", string(body))
	}
	if !current {
		c.opts.logger.Debug("stale submission result ignored", "session", id, "attempt", attempt)
	}

	for _, obs := range c.opts.observers {
		obs(res)
	}
	ch <- res
	close(ch)
}
