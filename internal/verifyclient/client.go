// Package verifyclient talks to the remote liveness verification
// service: session-token issuance and 3D liveness uploads.
package verifyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/liveness-check/internal/logging"
)

const (
	HeaderDeviceKey = "X-Device-Key"
	HeaderUserAgent = "X-User-Agent"

	SessionTokenPath = "/session-token"
	LivenessPath     = "/liveness-3d"
)

var (
	// ErrMissingSessionToken is returned when the session-token response
	// has no string sessionToken field.
	ErrMissingSessionToken = errors.New("session token missing from response")
	// ErrUnexpectedStatus is returned for non-2xx responses.
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// UploadRequest is the body of a liveness upload.
type UploadRequest struct {
	FaceScan                  string `json:"faceScan"`
	AuditTrailImage           string `json:"auditTrailImage"`
	LowQualityAuditTrailImage string `json:"lowQualityAuditTrailImage"`
	SessionID                 string `json:"sessionId"`
}

// Verdict is the service's answer to an upload.
type Verdict struct {
	WasProcessed   bool            `json:"wasProcessed"`
	ScanResultBlob json.RawMessage `json:"scanResultBlob,omitempty"`
}

// Blob returns the result blob as handed to the capture subsystem. A
// JSON string is unquoted; any other value is passed through verbatim.
func (v *Verdict) Blob() string {
	if len(v.ScanResultBlob) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(v.ScanResultBlob, &s); err == nil {
		return s
	}
	return string(v.ScanResultBlob)
}

// ProgressFunc receives cumulative bytes sent and the total body size.
type ProgressFunc func(loaded, total int64)

// Client calls the verification service on behalf of one device.
type Client struct {
	BaseURL    string
	DeviceKey  string
	HTTPClient *http.Client

	logger *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.HTTPClient = client
	}
}

// WithTimeout sets the overall timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.HTTPClient = &http.Client{Timeout: timeout}
	}
}

// NewClient builds a client for the service rooted at baseURL.
func NewClient(baseURL, deviceKey string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		DeviceKey:  deviceKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.Named("verify_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionToken requests a single-use capture session credential.
func (c *Client) SessionToken(ctx context.Context, userAgent string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+SessionTokenPath, nil)
	if err != nil {
		return "", logging.NewOperationError("verifyclient.session_token", "", err)
	}
	c.setHeaders(req, userAgent)

	var body map[string]any
	if err := c.do(req, &body); err != nil {
		return "", logging.NewOperationError("verifyclient.session_token", "", err)
	}

	token, ok := body["sessionToken"].(string)
	if !ok {
		return "", logging.NewOperationError("verifyclient.session_token", "", ErrMissingSessionToken)
	}
	return token, nil
}

// Upload sends one liveness upload. progress, when non-nil, is called
// in order as the request body is written.
func (c *Client) Upload(ctx context.Context, upload UploadRequest, userAgent string, progress ProgressFunc) (*Verdict, error) {
	payload, err := json.Marshal(upload)
	if err != nil {
		return nil, logging.NewOperationError("verifyclient.upload", upload.SessionID, fmt.Errorf("marshal upload: %w", err))
	}

	var body io.Reader = bytes.NewReader(payload)
	if progress != nil {
		body = &progressReader{r: body, total: int64(len(payload)), fn: progress}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+LivenessPath, body)
	if err != nil {
		return nil, logging.NewOperationError("verifyclient.upload", upload.SessionID, err)
	}
	req.ContentLength = int64(len(payload))
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req, userAgent)

	var verdict Verdict
	if err := c.do(req, &verdict); err != nil {
		return nil, logging.NewOperationError("verifyclient.upload", upload.SessionID, err)
	}
	return &verdict, nil
}

func (c *Client) setHeaders(req *http.Request, userAgent string) {
	req.Header.Set(HeaderDeviceKey, c.DeviceKey)
	req.Header.Set(HeaderUserAgent, userAgent)
}

func (c *Client) do(req *http.Request, out any) error {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.logger.Debug("verification service responded",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %d body %s", ErrUnexpectedStatus, resp.StatusCode, string(excerpt))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type progressReader struct {
	r      io.Reader
	loaded int64
	total  int64
	fn     ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.loaded += int64(n)
		p.fn(p.loaded, p.total)
	}
	return n, err
}
