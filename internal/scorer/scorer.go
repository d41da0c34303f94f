package scorer

import "context"

// Request carries the uploaded liveness evidence to the scorer.
type Request struct {
	SessionID                 string
	DeviceKey                 string
	FaceScan                  string
	AuditTrailImage           string
	LowQualityAuditTrailImage string
}

// Result contains the outcome returned by the liveness scorer.
type Result struct {
	Processed bool
	Score     float32
	Message   string
}

// Client exposes the subset of functionality used by the liveness flow.
type Client interface {
	Score(ctx context.Context, req Request) (*Result, error)
}
