// Package capture describes the boundary with the biometric capture
// subsystem: the outcome record it produces, the callbacks it expects
// from a result handler, and the sink it exposes for answering back.
package capture

import (
	"errors"
	"fmt"
)

// Status is the terminal status of one capture session.
type Status int

const (
	StatusUnknown Status = iota
	StatusCompletedSuccessfully
	StatusUserCancelled
	StatusUserCancelledFromGuidance
	StatusUserCancelledCameraPermission
	StatusTimeout
	StatusContextSwitch
	StatusProgrammaticallyCancelled
	StatusOrientationChange
	StatusCameraNotEnabled
	StatusCameraNotRunning
	StatusLockedOut
	StatusSessionInProgress
	StatusInitializationNotCompleted
	StatusUnknownInternalError
)

var statusNames = map[Status]string{
	StatusUnknown:                       "Unknown",
	StatusCompletedSuccessfully:         "SessionCompletedSuccessfully",
	StatusUserCancelled:                 "UserCancelled",
	StatusUserCancelledFromGuidance:     "UserCancelledFromGuidance",
	StatusUserCancelledCameraPermission: "UserCancelledWhenAttemptingToGetCameraPermissions",
	StatusTimeout:                       "Timeout",
	StatusContextSwitch:                 "ContextSwitch",
	StatusProgrammaticallyCancelled:     "ProgrammaticallyCancelled",
	StatusOrientationChange:             "OrientationChangeDuringSession",
	StatusCameraNotEnabled:              "CameraNotEnabled",
	StatusCameraNotRunning:              "CameraNotRunning",
	StatusLockedOut:                     "LockedOut",
	StatusSessionInProgress:             "SessionInProgress",
	StatusInitializationNotCompleted:    "InitializationNotCompleted",
	StatusUnknownInternalError:          "UnknownInternalError",
}

// String returns the capture subsystem's name for the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus resolves a status name. "Completed" is accepted as a
// shorthand for SessionCompletedSuccessfully.
func ParseStatus(name string) (Status, error) {
	if name == "Completed" {
		return StatusCompletedSuccessfully, nil
	}
	for status, candidate := range statusNames {
		if candidate == name {
			return status, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown capture status %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Outcome is produced once per capture session. A successful status
// only means a usable scan exists, not that liveness was confirmed.
type Outcome struct {
	Status               Status   `json:"status"`
	FaceScan             string   `json:"faceScan"`
	AuditTrail           []string `json:"auditTrail"`
	LowQualityAuditTrail []string `json:"lowQualityAuditTrail"`
	SessionID            string   `json:"sessionId"`
	// CompletelyDone is written by the capture subsystem when the
	// session is resolved: true once it advanced past a proceed, false
	// after a cancel. It is final by the time OnSessionFullyDone runs.
	CompletelyDone bool `json:"isCompletelyDone"`
}

// FirstAuditTrailImage returns the first audit-trail frame or "".
func (o *Outcome) FirstAuditTrailImage() string {
	if len(o.AuditTrail) == 0 {
		return ""
	}
	return o.AuditTrail[0]
}

// FirstLowQualityAuditTrailImage returns the first low quality
// audit-trail frame or "".
func (o *Outcome) FirstLowQualityAuditTrailImage() string {
	if len(o.LowQualityAuditTrail) == 0 {
		return ""
	}
	return o.LowQualityAuditTrail[0]
}

// Sink is how a result handler answers the capture subsystem. Exactly
// one of Cancel or Proceed resolves a session.
type Sink interface {
	Cancel()
	Proceed(resultBlob string)
	// ReportUploadProgress takes a fraction between 0 and 1.
	ReportUploadProgress(fraction float64)
	OverrideUploadMessage(text string)
}

// SuccessMessageOverrider is implemented by sinks whose result screen
// text can be replaced before Proceed.
type SuccessMessageOverrider interface {
	OverrideSuccessMessage(text string)
}

// ResultHandler is the capability a caller hands to Start.
// OnCaptureOutcome is invoked once per session, strictly before
// OnSessionFullyDone, which is invoked once after the sink resolved.
type ResultHandler interface {
	OnCaptureOutcome(outcome *Outcome, sink Sink)
	OnSessionFullyDone()
}

// Starter begins capture sessions.
type Starter interface {
	Start(handler ResultHandler, credential string) error
	// UserAgent derives the user agent string sent to the verification
	// service for a session. An empty id is used before a session exists.
	UserAgent(sessionID string) string
}

var (
	// ErrSessionActive is returned when a session is started while
	// another one has not fully finished.
	ErrSessionActive = errors.New("capture session already active")
	// ErrMissingCredential is returned when Start is called without a
	// session credential.
	ErrMissingCredential = errors.New("capture session credential is required")
)
