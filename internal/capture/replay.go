package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventKind identifies a sink call recorded by Replay.
type EventKind string

const (
	EventCancel          EventKind = "cancel"
	EventProceed         EventKind = "proceed"
	EventProgress        EventKind = "progress"
	EventUploadMessage   EventKind = "upload_message"
	EventSuccessMessage  EventKind = "success_message"
	EventSessionComplete EventKind = "session_complete"
)

// Event is one observed interaction with the replayed session.
type Event struct {
	Kind     EventKind
	Fraction float64
	Text     string
}

// DefaultSessionTimeout bounds how long Replay waits for the result
// handler to resolve a session before cancelling it itself.
const DefaultSessionTimeout = 2 * time.Minute

// Replay is a capture subsystem that hands back a prerecorded outcome
// instead of driving a camera. It keeps the callback ordering of the
// real subsystem: one outcome, one resolution, then one completion.
// The recorded completion flag is overwritten by the resolution.
type Replay struct {
	Product        string
	SessionTimeout time.Duration

	outcome Outcome
	logger  *zap.Logger

	mu     sync.Mutex
	active bool
	events []Event
	done   chan struct{}
}

// LoadOutcome reads a JSON encoded outcome from path.
func LoadOutcome(path string) (*Outcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capture outcome: %w", err)
	}
	var outcome Outcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		return nil, fmt.Errorf("decode capture outcome: %w", err)
	}
	return &outcome, nil
}

// NewReplay returns a Replay that delivers a copy of outcome to every
// session it starts.
func NewReplay(outcome Outcome, logger *zap.Logger) *Replay {
	return &Replay{
		Product:        "liveness-check-replay/1.0",
		SessionTimeout: DefaultSessionTimeout,
		outcome:        outcome,
		logger:         logger.Named("capture_replay"),
	}
}

// UserAgent derives the user agent for a session.
func (r *Replay) UserAgent(sessionID string) string {
	if sessionID == "" {
		return r.Product
	}
	return r.Product + "|session:" + sessionID
}

// Start begins a replayed session. Callbacks run on a new goroutine.
func (r *Replay) Start(handler ResultHandler, credential string) error {
	if credential == "" {
		return ErrMissingCredential
	}

	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return ErrSessionActive
	}
	r.active = true
	r.events = nil
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	outcome := r.outcome
	outcome.AuditTrail = append([]string(nil), r.outcome.AuditTrail...)
	outcome.LowQualityAuditTrail = append([]string(nil), r.outcome.LowQualityAuditTrail...)
	if outcome.SessionID == "" {
		outcome.SessionID = uuid.NewString()
	}

	r.logger.Info("capture session started",
		zap.String("session_id", outcome.SessionID),
		zap.Stringer("status", outcome.Status))

	go r.run(handler, &outcome, done)
	return nil
}

// Done is closed once the most recently started session has delivered
// its completion notification.
func (r *Replay) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Events returns the sink interactions of the current session so far.
func (r *Replay) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Replay) run(handler ResultHandler, outcome *Outcome, done chan struct{}) {
	sink := &replaySink{replay: r, outcome: outcome, resolved: make(chan struct{})}
	handler.OnCaptureOutcome(outcome, sink)

	timeout := r.SessionTimeout
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	timer := time.NewTimer(timeout)
	select {
	case <-sink.resolved:
		timer.Stop()
	case <-timer.C:
		r.logger.Warn("result handler did not resolve session, cancelling",
			zap.String("session_id", outcome.SessionID),
			zap.Duration("timeout", timeout))
		sink.Cancel()
	}

	handler.OnSessionFullyDone()
	r.record(Event{Kind: EventSessionComplete})

	r.mu.Lock()
	r.active = false
	r.mu.Unlock()
	close(done)
}

func (r *Replay) record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

type replaySink struct {
	replay   *Replay
	outcome  *Outcome
	once     sync.Once
	resolved chan struct{}
}

func (s *replaySink) resolve(e Event) {
	first := false
	s.once.Do(func() {
		first = true
		s.outcome.CompletelyDone = e.Kind == EventProceed
		s.replay.record(e)
		close(s.resolved)
	})
	if !first {
		s.replay.logger.Warn("session already resolved, ignoring signal", zap.String("signal", string(e.Kind)))
	}
}

func (s *replaySink) Cancel() {
	s.resolve(Event{Kind: EventCancel})
}

func (s *replaySink) Proceed(resultBlob string) {
	s.resolve(Event{Kind: EventProceed, Text: resultBlob})
}

func (s *replaySink) ReportUploadProgress(fraction float64) {
	s.replay.record(Event{Kind: EventProgress, Fraction: fraction})
}

func (s *replaySink) OverrideUploadMessage(text string) {
	s.replay.record(Event{Kind: EventUploadMessage, Text: text})
}

func (s *replaySink) OverrideSuccessMessage(text string) {
	s.replay.record(Event{Kind: EventSuccessMessage, Text: text})
}
