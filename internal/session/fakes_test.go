package session

import (
	"context"
	"sync"
	"time"

	"github.com/example/liveness-check/internal/capture"
	"github.com/example/liveness-check/internal/clock"
	"github.com/example/liveness-check/internal/verifyclient"
)

type fakeStarter struct {
	mu          sync.Mutex
	startErr    error
	handler     capture.ResultHandler
	credentials []string
}

func (s *fakeStarter) Start(handler capture.ResultHandler, credential string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.handler = handler
	s.credentials = append(s.credentials, credential)
	return nil
}

func (s *fakeStarter) UserAgent(sessionID string) string {
	return "test-agent|" + sessionID
}

type sinkEvent struct {
	kind     string
	fraction float64
	text     string
}

type fakeSink struct {
	mu       sync.Mutex
	events   []sinkEvent
	once     sync.Once
	resolved chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{resolved: make(chan struct{})}
}

func (s *fakeSink) add(e sinkEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *fakeSink) Cancel() {
	s.add(sinkEvent{kind: "cancel"})
	s.once.Do(func() { close(s.resolved) })
}

func (s *fakeSink) Proceed(blob string) {
	s.add(sinkEvent{kind: "proceed", text: blob})
	s.once.Do(func() { close(s.resolved) })
}

func (s *fakeSink) ReportUploadProgress(fraction float64) {
	s.add(sinkEvent{kind: "progress", fraction: fraction})
}

func (s *fakeSink) OverrideUploadMessage(text string) {
	s.add(sinkEvent{kind: "upload_message", text: text})
}

func (s *fakeSink) OverrideSuccessMessage(text string) {
	s.add(sinkEvent{kind: "success_message", text: text})
}

func (s *fakeSink) snapshot() []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkEvent(nil), s.events...)
}

func (s *fakeSink) count(kind string) int {
	n := 0
	for _, e := range s.snapshot() {
		if e.kind == kind {
			n++
		}
	}
	return n
}

type progressStep struct {
	loaded, total int64
}

type fakeUploader struct {
	mu         sync.Mutex
	verdict    *verifyclient.Verdict
	err        error
	steps      []progressStep
	release    chan struct{}
	requests   []verifyclient.UploadRequest
	userAgents []string
}

func (u *fakeUploader) Upload(ctx context.Context, upload verifyclient.UploadRequest, userAgent string, progress verifyclient.ProgressFunc) (*verifyclient.Verdict, error) {
	u.mu.Lock()
	u.requests = append(u.requests, upload)
	u.userAgents = append(u.userAgents, userAgent)
	u.mu.Unlock()

	for _, step := range u.steps {
		progress(step.loaded, step.total)
	}
	if u.release != nil {
		<-u.release
	}
	if u.err != nil {
		return nil, u.err
	}
	return u.verdict, nil
}

func (u *fakeUploader) calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.requests)
}

type fakeHost struct {
	mu    sync.Mutex
	calls int
}

func (h *fakeHost) OnSessionComplete() {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
}

func (h *fakeHost) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// unstoppableClock hands out timers whose Stop is a no-op, so the
// fire-time guard is the only thing suppressing a late callback.
type unstoppableClock struct {
	*clock.FakeClock
}

type noopTimer struct{}

func (noopTimer) Stop() bool { return false }

func (c unstoppableClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.FakeClock.AfterFunc(d, f)
	return noopTimer{}
}

func processedVerdict(blob string) *verifyclient.Verdict {
	return &verifyclient.Verdict{WasProcessed: true, ScanResultBlob: []byte(`"` + blob + `"`)}
}

func completedOutcome(done bool) *capture.Outcome {
	return &capture.Outcome{
		Status:               capture.StatusCompletedSuccessfully,
		FaceScan:             "face-scan",
		AuditTrail:           []string{"audit-0", "audit-1"},
		LowQualityAuditTrail: []string{"low-0"},
		SessionID:            "session-1",
		CompletelyDone:       done,
	}
}
