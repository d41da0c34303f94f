// Package session runs one liveness check: it obtains a session
// credential, starts a capture session and turns the capture outcome
// into an upload, a verdict and a final success flag.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/liveness-check/internal/capture"
	"github.com/example/liveness-check/internal/clock"
	"github.com/example/liveness-check/internal/logging"
	"github.com/example/liveness-check/internal/verifyclient"
)

const (
	DefaultStillUploadingDelay = 6 * time.Second
	DefaultUploadTimeout       = 30 * time.Second

	StillUploadingMessage = "Still Uploading..."
	SuccessMessage        = "Liveness\nConfirmed"
)

// State is the position of a Processor in its single session.
type State int

const (
	StateCreated State = iota
	StateAwaitingOutcome
	StateUploading
	StateAdvanced
	StateCancelled
	StateDone
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingOutcome:
		return "awaiting_outcome"
	case StateUploading:
		return "uploading"
	case StateAdvanced:
		return "advanced"
	case StateCancelled:
		return "cancelled"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Uploader sends a liveness upload to the verification service.
type Uploader interface {
	Upload(ctx context.Context, upload verifyclient.UploadRequest, userAgent string, progress verifyclient.ProgressFunc) (*verifyclient.Verdict, error)
}

// Host is notified once the capture subsystem has fully finished.
type Host interface {
	OnSessionComplete()
}

// ProcessorConfig tunes upload behaviour.
type ProcessorConfig struct {
	StillUploadingDelay time.Duration
	UploadTimeout       time.Duration
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.StillUploadingDelay <= 0 {
		c.StillUploadingDelay = DefaultStillUploadingDelay
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = DefaultUploadTimeout
	}
	return c
}

// Processor handles the result of exactly one capture session. It is
// never reused: one instance, one session, one terminal signal.
type Processor struct {
	credential string
	host       Host
	starter    capture.Starter
	uploader   Uploader
	clock      clock.Clock
	cfg        ProcessorConfig
	logger     *zap.Logger

	mu        sync.Mutex
	state     State
	outcome   *capture.Outcome
	sink      capture.Sink
	timer     clock.Timer
	sessionID string
	status    capture.Status
	verdict   *verifyclient.Verdict
	success   bool

	// progressMu orders progress forwarding against upload resolution.
	progressMu     sync.Mutex
	uploadResolved bool
}

// NewProcessor builds a Processor and immediately starts a capture
// session with it as the result handler.
func NewProcessor(credential string, host Host, starter capture.Starter, uploader Uploader, clk clock.Clock, cfg ProcessorConfig, logger *zap.Logger) (*Processor, error) {
	p := newProcessor(credential, host, starter, uploader, clk, cfg, logger)
	if err := p.start(); err != nil {
		return nil, err
	}
	return p, nil
}

func newProcessor(credential string, host Host, starter capture.Starter, uploader Uploader, clk clock.Clock, cfg ProcessorConfig, logger *zap.Logger) *Processor {
	if clk == nil {
		clk = clock.Real()
	}
	return &Processor{
		credential: credential,
		host:       host,
		starter:    starter,
		uploader:   uploader,
		clock:      clk,
		cfg:        cfg.withDefaults(),
		logger:     logger.Named("liveness_processor"),
		state:      StateCreated,
	}
}

func (p *Processor) start() error {
	p.mu.Lock()
	if p.state != StateCreated {
		p.mu.Unlock()
		return fmt.Errorf("processor already started (state %s)", p.state)
	}
	p.state = StateAwaitingOutcome
	p.mu.Unlock()

	if err := p.starter.Start(p, p.credential); err != nil {
		p.mu.Lock()
		p.state = StateCreated
		p.mu.Unlock()
		return logging.NewOperationError("session.start_capture", "", err)
	}
	return nil
}

// OnCaptureOutcome implements capture.ResultHandler.
func (p *Processor) OnCaptureOutcome(outcome *capture.Outcome, sink capture.Sink) {
	p.mu.Lock()
	if p.state != StateAwaitingOutcome || outcome == nil {
		state := p.state
		p.mu.Unlock()
		p.logger.Warn("unexpected capture outcome ignored", zap.Stringer("state", state), zap.Bool("nil_outcome", outcome == nil))
		return
	}
	p.outcome = outcome
	p.sink = sink
	p.sessionID = outcome.SessionID
	p.status = outcome.Status
	opLogger := logging.WithOperation(p.logger, "session.process_outcome", outcome.SessionID)

	if outcome.Status != capture.StatusCompletedSuccessfully {
		p.state = StateCancelled
		p.mu.Unlock()
		opLogger.Info("session was not completed successfully, cancelling", zap.Stringer("status", outcome.Status))
		sink.Cancel()
		return
	}

	// A completed capture only means a scan exists; the service decides liveness.
	p.state = StateUploading
	p.timer = p.clock.AfterFunc(p.cfg.StillUploadingDelay, p.onStillUploading)
	p.mu.Unlock()

	upload := verifyclient.UploadRequest{
		FaceScan:                  outcome.FaceScan,
		AuditTrailImage:           outcome.FirstAuditTrailImage(),
		LowQualityAuditTrailImage: outcome.FirstLowQualityAuditTrailImage(),
		SessionID:                 outcome.SessionID,
	}
	userAgent := p.starter.UserAgent(outcome.SessionID)
	go p.upload(upload, userAgent, sink, opLogger)
}

func (p *Processor) upload(upload verifyclient.UploadRequest, userAgent string, sink capture.Sink, opLogger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.UploadTimeout)
	defer cancel()

	verdict, err := p.uploader.Upload(ctx, upload, userAgent, func(loaded, total int64) {
		// Without a known total there is no fraction to report.
		if total <= 0 {
			return
		}
		p.progressMu.Lock()
		defer p.progressMu.Unlock()
		if p.uploadResolved {
			return
		}
		sink.ReportUploadProgress(float64(loaded) / float64(total))
	})

	p.progressMu.Lock()
	p.uploadResolved = true
	p.progressMu.Unlock()

	switch {
	case err != nil:
		opLogger.Error("exception while handling API response, cancelling", zap.Error(err))
		p.resolve(StateCancelled, nil)
		sink.Cancel()
	case verdict == nil || !verdict.WasProcessed:
		opLogger.Warn("unexpected API response, cancelling")
		p.resolve(StateCancelled, verdict)
		sink.Cancel()
	default:
		opLogger.Info("liveness upload processed")
		p.resolve(StateAdvanced, verdict)
		if overrider, ok := sink.(capture.SuccessMessageOverrider); ok {
			overrider.OverrideSuccessMessage(SuccessMessage)
		}
		sink.Proceed(verdict.Blob())
	}
}

func (p *Processor) resolve(next State, verdict *verifyclient.Verdict) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verdict = verdict
	if p.state != StateUploading {
		p.logger.Warn("upload resolved outside uploading state", zap.Stringer("state", p.state), zap.Stringer("resolution", next))
		return
	}
	p.state = next
}

func (p *Processor) onStillUploading() {
	p.mu.Lock()
	outcome, sink := p.outcome, p.sink
	p.mu.Unlock()

	if outcome == nil {
		return
	}
	sink.OverrideUploadMessage(StillUploadingMessage)
}

// OnSessionFullyDone implements capture.ResultHandler. It records the
// success flag and notifies the host; later calls are ignored.
func (p *Processor) OnSessionFullyDone() {
	p.mu.Lock()
	if p.state == StateDone {
		p.mu.Unlock()
		p.logger.Warn("duplicate completion notification ignored", zap.String("session_id", p.sessionID))
		return
	}
	if p.outcome == nil {
		p.logger.Warn("completion notified before any capture outcome", zap.Stringer("state", p.state))
	}

	// The capture subsystem's completion flag is the only source of truth.
	p.success = p.outcome != nil && p.outcome.CompletelyDone
	p.state = StateDone
	p.outcome = nil
	if p.timer != nil {
		p.timer.Stop()
	}
	success, sessionID := p.success, p.sessionID
	p.mu.Unlock()

	logging.WithOperation(p.logger, "session.fully_done", sessionID).Info("capture subsystem finished", zap.Bool("success", success))
	if p.host != nil {
		p.host.OnSessionComplete()
	}
}

// Success reports whether the finished session was a successful
// liveness check. It is false until OnSessionFullyDone has run.
func (p *Processor) Success() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.success
}

// State returns the processor's current state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SessionID returns the capture session id once an outcome arrived.
func (p *Processor) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// Status returns the capture status of the received outcome.
func (p *Processor) Status() capture.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Verdict returns the service verdict, nil when no upload answered.
func (p *Processor) Verdict() *verifyclient.Verdict {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verdict
}
