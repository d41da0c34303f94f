package session

import "github.com/example/liveness-check/internal/capture"

// Result is what the controller remembers about the last session. The
// concrete type tells the host which variant is available.
type Result interface {
	isResult()
}

// NoResult means nothing has been recorded yet.
type NoResult struct{}

// SessionResult summarises a finished liveness session.
type SessionResult struct {
	SessionID string
	Status    capture.Status
	Success   bool
}

// IDScanResult holds the result of an ID scan session.
type IDScanResult struct {
	SessionID string
	Blob      string
}

// ServerResult is the verification service's last verdict.
type ServerResult struct {
	WasProcessed bool
	Blob         string
}

func (NoResult) isResult()      {}
func (SessionResult) isResult() {}
func (IDScanResult) isResult()  {}
func (ServerResult) isResult()  {}
