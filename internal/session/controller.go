package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/liveness-check/internal/capture"
	"github.com/example/liveness-check/internal/clock"
	"github.com/example/liveness-check/internal/logging"
)

const (
	StatusSuccess     = "Success"
	StatusExitedEarly = "Session exited early, see logs for more details."
)

// ErrSessionInProgress is returned when a liveness check is started
// while the previous one has not completed.
var ErrSessionInProgress = errors.New("liveness session already in progress")

// UI is the host surface the controller drives.
type UI interface {
	PrepareForSession()
	ShowMainUI()
	EnableAllButtons()
	DisplayStatus(status string)
	HandleSessionTokenError()
}

// CredentialSource issues capture session credentials.
type CredentialSource interface {
	SessionToken(ctx context.Context, userAgent string) (string, error)
}

// Completion describes a finished liveness check. Err is set when the
// check ended before a capture session could run.
type Completion struct {
	AttemptID string
	SessionID string
	Success   bool
	Err       error
}

// Controller owns the lifecycle of liveness checks, one at a time.
type Controller struct {
	ui          UI
	credentials CredentialSource
	starter     capture.Starter
	uploader    Uploader
	clock       clock.Clock
	cfg         ProcessorConfig
	observer    func(Completion)
	logger      *zap.Logger

	mu                         sync.Mutex
	latestProcessor            *Processor
	attemptID                  string
	active                     bool
	latestEnrollmentIdentifier string
	latestSessionResult        Result
	latestIDScanResult         Result
	latestServerResult         Result
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithClock replaces the clock used for the delayed upload message.
func WithClock(clk clock.Clock) ControllerOption {
	return func(c *Controller) {
		c.clock = clk
	}
}

// WithStillUploadingDelay overrides the delay before the upload message
// is replaced.
func WithStillUploadingDelay(d time.Duration) ControllerOption {
	return func(c *Controller) {
		c.cfg.StillUploadingDelay = d
	}
}

// WithUploadTimeout bounds each liveness upload.
func WithUploadTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		c.cfg.UploadTimeout = d
	}
}

// WithObserver registers a callback invoked whenever a check ends.
func WithObserver(fn func(Completion)) ControllerOption {
	return func(c *Controller) {
		c.observer = fn
	}
}

// NewController wires a controller to its collaborators.
func NewController(ui UI, credentials CredentialSource, starter capture.Starter, uploader Uploader, logger *zap.Logger, opts ...ControllerOption) *Controller {
	c := &Controller{
		ui:                  ui,
		credentials:         credentials,
		starter:             starter,
		uploader:            uploader,
		clock:               clock.Real(),
		logger:              logger.Named("liveness_controller"),
		latestSessionResult: NoResult{},
		latestIDScanResult:  NoResult{},
		latestServerResult:  NoResult{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartLivenessCheck requests a credential and starts a capture
// session. Credential and start failures are reported through the UI,
// so the only error returned is ErrSessionInProgress.
func (c *Controller) StartLivenessCheck(ctx context.Context) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return ErrSessionInProgress
	}
	c.active = true
	attemptID := uuid.NewString()
	c.attemptID = attemptID
	c.mu.Unlock()

	opLogger := logging.WithOperation(c.logger, "session.start_liveness_check", attemptID)
	c.ui.PrepareForSession()

	token, err := c.credentials.SessionToken(ctx, c.starter.UserAgent(""))
	if err != nil {
		opLogger.Error("failed to get session token", zap.Error(err))
		c.release()
		c.ui.HandleSessionTokenError()
		c.notify(Completion{AttemptID: attemptID, Err: err})
		return nil
	}

	p := newProcessor(token, c, c.starter, c.uploader, c.clock, c.cfg, c.logger)
	c.mu.Lock()
	c.latestProcessor = p
	c.mu.Unlock()

	if err := p.start(); err != nil {
		opLogger.Error("failed to start capture session", zap.Error(err))
		c.release()
		c.ui.ShowMainUI()
		c.ui.EnableAllButtons()
		c.ui.DisplayStatus(StatusExitedEarly)
		c.notify(Completion{AttemptID: attemptID, Err: err})
		return nil
	}
	opLogger.Info("capture session started")
	return nil
}

func (c *Controller) release() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
}

// OnSessionComplete implements Host. It runs once per started session.
func (c *Controller) OnSessionComplete() {
	c.mu.Lock()
	p := c.latestProcessor
	if !c.active || p == nil || p.State() != StateDone {
		c.mu.Unlock()
		c.logger.Warn("session completion without an active finished processor ignored")
		return
	}
	c.active = false

	success := p.Success()
	sessionID := p.SessionID()
	if !success {
		c.latestEnrollmentIdentifier = ""
	}
	c.latestSessionResult = SessionResult{SessionID: sessionID, Status: p.Status(), Success: success}
	if verdict := p.Verdict(); verdict != nil {
		c.latestServerResult = ServerResult{WasProcessed: verdict.WasProcessed, Blob: verdict.Blob()}
	}
	completion := Completion{AttemptID: c.attemptID, SessionID: sessionID, Success: success}
	c.mu.Unlock()

	c.ui.ShowMainUI()
	c.ui.EnableAllButtons()
	if success {
		c.ui.DisplayStatus(StatusSuccess)
	} else {
		c.ui.DisplayStatus(StatusExitedEarly)
	}

	logging.WithOperation(c.logger, "session.complete", completion.AttemptID).Info("liveness check finished",
		zap.String("session_id", sessionID), zap.Bool("success", success))
	c.notify(completion)
}

func (c *Controller) notify(completion Completion) {
	if c.observer != nil {
		c.observer(completion)
	}
}

// Active reports whether a liveness check is in progress.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// LatestProcessor returns the processor of the most recent session.
func (c *Controller) LatestProcessor() *Processor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latestProcessor
}

// LatestEnrollmentIdentifier returns the cached enrollment identifier.
func (c *Controller) LatestEnrollmentIdentifier() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latestEnrollmentIdentifier
}

// SetLatestEnrollmentIdentifier caches an enrollment identifier. It is
// cleared when a session fails.
func (c *Controller) SetLatestEnrollmentIdentifier(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latestEnrollmentIdentifier = id
}

func (c *Controller) SetLatestSessionResult(r SessionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latestSessionResult = r
}

func (c *Controller) SetIDScanResult(r IDScanResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latestIDScanResult = r
}

func (c *Controller) SetLatestServerResult(r ServerResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latestServerResult = r
}

func (c *Controller) LatestSessionResult() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latestSessionResult
}

func (c *Controller) LatestIDScanResult() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latestIDScanResult
}

func (c *Controller) LatestServerResult() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latestServerResult
}
