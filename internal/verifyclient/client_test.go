package verifyclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/example/liveness-check/internal/logging"
)

func TestSessionTokenSendsDeviceHeaders(t *testing.T) {
	var gotKey, gotAgent, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(HeaderDeviceKey)
		gotAgent = r.Header.Get(HeaderUserAgent)
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"sessionToken":"abc"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "device-1", zap.NewNop())
	token, err := client.SessionToken(context.Background(), "agent/1.0")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if token != "abc" {
		t.Fatalf("unexpected token: %q", token)
	}
	if gotKey != "device-1" || gotAgent != "agent/1.0" || gotPath != SessionTokenPath {
		t.Fatalf("unexpected request: key=%q agent=%q path=%q", gotKey, gotAgent, gotPath)
	}
}

func TestSessionTokenRejectsMissingOrNonStringToken(t *testing.T) {
	for _, body := range []string{`{}`, `{"sessionToken":42}`, `{"sessionToken":null}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))

		client := NewClient(srv.URL, "device-1", zap.NewNop())
		_, err := client.SessionToken(context.Background(), "")
		srv.Close()

		if !errors.Is(err, ErrMissingSessionToken) {
			t.Fatalf("body %s: expected ErrMissingSessionToken, got %v", body, err)
		}
		var opErr *logging.OperationError
		if !errors.As(err, &opErr) || opErr.Operation != "verifyclient.session_token" {
			t.Fatalf("body %s: expected OperationError, got %T", body, err)
		}
	}
}

func TestSessionTokenFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "device-1", zap.NewNop()).SessionToken(context.Background(), "")
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("expected ErrUnexpectedStatus, got %v", err)
	}
}

func TestUploadSendsPayloadAndReportsProgress(t *testing.T) {
	var received UploadRequest
	var contentType, agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		agent = r.Header.Get(HeaderUserAgent)
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode upload: %v", err)
		}
		_, _ = w.Write([]byte(`{"wasProcessed":true,"scanResultBlob":"X"}`))
	}))
	defer srv.Close()

	upload := UploadRequest{
		FaceScan:                  strings.Repeat("f", 64*1024),
		AuditTrailImage:           "audit",
		LowQualityAuditTrailImage: "low",
		SessionID:                 "session-1",
	}
	var loaded []int64
	var total int64
	verdict, err := NewClient(srv.URL, "device-1", zap.NewNop()).Upload(context.Background(), upload, "agent|session-1", func(l, n int64) {
		loaded = append(loaded, l)
		total = n
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !verdict.WasProcessed || verdict.Blob() != "X" {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
	if received != upload {
		t.Fatal("server received a different payload")
	}
	if contentType != "application/json" || agent != "agent|session-1" {
		t.Fatalf("unexpected headers: content-type=%q agent=%q", contentType, agent)
	}
	if len(loaded) == 0 {
		t.Fatal("expected progress reports")
	}
	for i := 1; i < len(loaded); i++ {
		if loaded[i] <= loaded[i-1] {
			t.Fatalf("progress not increasing: %v", loaded)
		}
	}
	if loaded[len(loaded)-1] != total {
		t.Fatalf("expected final progress %d, got %d", total, loaded[len(loaded)-1])
	}
}

func TestUploadFailsOnEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "device-1", zap.NewNop(), WithHTTPClient(srv.Client()))
	_, err := client.Upload(context.Background(), UploadRequest{SessionID: "s"}, "", nil)
	if err == nil {
		t.Fatal("expected decode error for empty body")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.RequestID != "s" {
		t.Fatalf("expected OperationError tagged with session id, got %v", err)
	}
}

func TestVerdictBlobPassesNonStringValuesThrough(t *testing.T) {
	v := Verdict{ScanResultBlob: json.RawMessage(`{"k":1}`)}
	if v.Blob() != `{"k":1}` {
		t.Fatalf("unexpected blob: %q", v.Blob())
	}
}
