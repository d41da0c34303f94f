package capture

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type recordingHandler struct {
	mu      sync.Mutex
	calls   []string
	outcome *Outcome
	resolve func(Sink)
}

func (h *recordingHandler) OnCaptureOutcome(outcome *Outcome, sink Sink) {
	h.mu.Lock()
	h.calls = append(h.calls, "outcome")
	h.outcome = outcome
	h.mu.Unlock()
	if h.resolve != nil {
		h.resolve(sink)
	}
}

func (h *recordingHandler) OnSessionFullyDone() {
	h.mu.Lock()
	h.calls = append(h.calls, "done")
	h.mu.Unlock()
}

func waitDone(t *testing.T, r *Replay) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("replayed session did not complete")
	}
}

func TestLoadOutcomeParsesStatusNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcome.json")
	body := `{"status":"Completed","faceScan":"scan","auditTrail":["a0","a1"],"lowQualityAuditTrail":["l0"],"sessionId":"s-1","isCompletelyDone":true}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write outcome: %v", err)
	}

	outcome, err := LoadOutcome(path)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if outcome.Status != StatusCompletedSuccessfully {
		t.Fatalf("unexpected status: %v", outcome.Status)
	}
	if outcome.FirstAuditTrailImage() != "a0" || outcome.FirstLowQualityAuditTrailImage() != "l0" {
		t.Fatalf("unexpected audit trail images: %+v", outcome)
	}
	if !outcome.CompletelyDone {
		t.Fatal("expected completion flag to be decoded")
	}
}

func TestLoadOutcomeRejectsUnknownStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcome.json")
	if err := os.WriteFile(path, []byte(`{"status":"Exploded"}`), 0o600); err != nil {
		t.Fatalf("write outcome: %v", err)
	}
	if _, err := LoadOutcome(path); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestReplayDeliversOutcomeBeforeCompletion(t *testing.T) {
	r := NewReplay(Outcome{Status: StatusCompletedSuccessfully, FaceScan: "scan"}, zap.NewNop())
	h := &recordingHandler{resolve: func(s Sink) {
		s.ReportUploadProgress(0.5)
		s.Proceed("blob")
		s.Cancel()
	}}

	if err := r.Start(h, "token"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitDone(t, r)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.calls) != 2 || h.calls[0] != "outcome" || h.calls[1] != "done" {
		t.Fatalf("unexpected callback order: %v", h.calls)
	}
	if h.outcome.SessionID == "" {
		t.Fatal("expected a generated session id")
	}

	events := r.Events()
	kinds := make([]EventKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	want := []EventKind{EventProgress, EventProceed, EventSessionComplete}
	if len(kinds) != len(want) {
		t.Fatalf("expected events %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, kinds)
		}
	}
	if events[1].Text != "blob" {
		t.Fatalf("unexpected proceed blob: %q", events[1].Text)
	}
}

func TestReplayCancelsUnresolvedSession(t *testing.T) {
	r := NewReplay(Outcome{Status: StatusCompletedSuccessfully}, zap.NewNop())
	r.SessionTimeout = 10 * time.Millisecond
	h := &recordingHandler{}

	if err := r.Start(h, "token"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitDone(t, r)

	events := r.Events()
	if len(events) != 2 || events[0].Kind != EventCancel {
		t.Fatalf("expected timeout cancellation, got %+v", events)
	}
}

func TestReplayResolutionSetsCompletionFlag(t *testing.T) {
	cases := []struct {
		name     string
		recorded bool
		resolve  func(Sink)
		want     bool
	}{
		{name: "proceed", recorded: false, resolve: func(s Sink) { s.Proceed("blob") }, want: true},
		{name: "cancel", recorded: true, resolve: func(s Sink) { s.Cancel() }, want: false},
		{name: "timeout", recorded: true, resolve: nil, want: false},
	}
	for _, tc := range cases {
		r := NewReplay(Outcome{Status: StatusCompletedSuccessfully, CompletelyDone: tc.recorded}, zap.NewNop())
		r.SessionTimeout = 10 * time.Millisecond
		h := &recordingHandler{resolve: tc.resolve}

		if err := r.Start(h, "token"); err != nil {
			t.Fatalf("%s: start failed: %v", tc.name, err)
		}
		waitDone(t, r)

		h.mu.Lock()
		got := h.outcome.CompletelyDone
		h.mu.Unlock()
		if got != tc.want {
			t.Fatalf("%s: expected completion flag %t, got %t", tc.name, tc.want, got)
		}
	}
}

func TestReplayRejectsConcurrentAndUncredentialedStarts(t *testing.T) {
	r := NewReplay(Outcome{Status: StatusUserCancelled}, zap.NewNop())
	if err := r.Start(&recordingHandler{}, ""); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}

	release := make(chan struct{})
	h := &recordingHandler{resolve: func(s Sink) {
		go func() {
			<-release
			s.Cancel()
		}()
	}}
	if err := r.Start(h, "token"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := r.Start(&recordingHandler{}, "token"); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	close(release)
	waitDone(t, r)
}

func TestParseStatusRoundTrip(t *testing.T) {
	for status := range statusNames {
		parsed, err := ParseStatus(status.String())
		if err != nil {
			t.Fatalf("parse %v: %v", status, err)
		}
		if parsed != status {
			t.Fatalf("expected %v, got %v", status, parsed)
		}
	}
}
