package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/liveness-check/internal/auth"
	"github.com/example/liveness-check/internal/logging"
	"github.com/example/liveness-check/internal/repository"
	"github.com/example/liveness-check/internal/scorer"
)

// ErrRateLimited is returned when a device asks for too many session
// tokens within the configured window.
var ErrRateLimited = errors.New("session token rate limit exceeded")

// LivenessRepository defines the persistence operations needed by the use case.
type LivenessRepository interface {
	SaveLog(ctx context.Context, log *repository.LivenessLog) error
	FindLatestBySessionID(ctx context.Context, sessionID string) (*repository.LivenessLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// TokenIssuer mints capture session credentials.
type TokenIssuer interface {
	Issue(deviceKey string) (*auth.SessionToken, error)
}

// LivenessInput is one uploaded liveness scan.
type LivenessInput struct {
	DeviceKey                 string
	UserAgent                 string
	FaceScan                  string
	AuditTrailImage           string
	LowQualityAuditTrailImage string
	SessionID                 string
}

// Verdict is returned to the capture host.
type Verdict struct {
	RequestID      string `json:"-"`
	WasProcessed   bool   `json:"wasProcessed"`
	ScanResultBlob string `json:"scanResultBlob"`
}

// TokenLimit bounds session-token issuance per device key.
type TokenLimit struct {
	Requests int
	Window   time.Duration
}

// LivenessUseCase encapsulates business logic for session tokens and
// liveness uploads.
type LivenessUseCase struct {
	repo           LivenessRepository
	cache          Cache
	scorer         scorer.Client
	issuer         TokenIssuer
	logger         *zap.Logger
	tokenLimit     TokenLimit
	verdictTTL     time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

type cachedVerdict struct {
	RequestID      string    `json:"request_id"`
	WasProcessed   bool      `json:"was_processed"`
	ScanResultBlob string    `json:"scan_result_blob"`
	CreatedAt      time.Time `json:"created_at"`
}

type resultBlob struct {
	SessionID string  `json:"sessionId"`
	RequestID string  `json:"requestId"`
	Processed bool    `json:"processed"`
	Score     float32 `json:"score"`
	Message   string  `json:"message,omitempty"`
}

// NewLivenessUseCase constructs a new use case instance.
func NewLivenessUseCase(repo LivenessRepository, cache Cache, scorerClient scorer.Client, issuer TokenIssuer, limit TokenLimit, logger *zap.Logger) *LivenessUseCase {
	return &LivenessUseCase{
		repo:           repo,
		cache:          cache,
		scorer:         scorerClient,
		issuer:         issuer,
		logger:         logger.Named("liveness_usecase"),
		tokenLimit:     limit,
		verdictTTL:     5 * time.Minute,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		now:            time.Now,
	}
}

// IssueSessionToken mints a capture session credential for a device.
func (uc *LivenessUseCase) IssueSessionToken(ctx context.Context, deviceKey, userAgent string) (*auth.SessionToken, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.issue_session_token", requestID)

	if uc.tokenLimit.Requests > 0 {
		var count int64
		key := fmt.Sprintf("session-token-rate:%s", deviceKey)
		if err := uc.withRedisRetry(ctx, requestID, "cache.incr.token_rate", func() error {
			var err error
			count, err = uc.cache.IncrWindow(ctx, key, uc.tokenLimit.Window)
			return err
		}); err != nil {
			return nil, err
		}
		if count > int64(uc.tokenLimit.Requests) {
			opLogger.Warn("session token rate limit exceeded", zap.String("device_key", deviceKey), zap.Int64("count", count))
			return nil, logging.NewOperationError("usecase.issue_session_token", requestID, ErrRateLimited)
		}
	}

	token, err := uc.issuer.Issue(deviceKey)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.issue_session_token", requestID, err)
		opLogger.Error("failed to issue session token", zap.Error(wrapped))
		return nil, wrapped
	}

	opLogger.Info("session token issued",
		zap.String("device_key", deviceKey),
		zap.String("token_id", token.ID),
		zap.String("user_agent", userAgent))
	return token, nil
}

// VerifyLiveness scores an upload, persists it and caches the verdict.
// A repeated upload for the same session returns the cached verdict.
func (uc *LivenessUseCase) VerifyLiveness(ctx context.Context, in LivenessInput) (*Verdict, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.verify_liveness", requestID).With(zap.String("session_id", in.SessionID))

	cacheKey := fmt.Sprintf("liveness:%s", in.SessionID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.verdict", cacheKey); err == nil {
		var payload cachedVerdict
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached verdict", zap.Error(err))
		} else {
			opLogger.Info("returning cached verdict", zap.String("original_request_id", payload.RequestID))
			return &Verdict{RequestID: payload.RequestID, WasProcessed: payload.WasProcessed, ScanResultBlob: payload.ScanResultBlob}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	started := uc.now()
	result, err := uc.scorer.Score(ctx, scorer.Request{
		SessionID:                 in.SessionID,
		DeviceKey:                 in.DeviceKey,
		FaceScan:                  in.FaceScan,
		AuditTrailImage:           in.AuditTrailImage,
		LowQualityAuditTrailImage: in.LowQualityAuditTrailImage,
	})
	if err != nil {
		wrapped := logging.NewOperationError("usecase.score_face_scan", requestID, err)
		opLogger.Error("liveness scoring failed", zap.Error(wrapped))
		return nil, wrapped
	}
	latency := uc.now().Sub(started)

	blob, err := encodeResultBlob(resultBlob{
		SessionID: in.SessionID,
		RequestID: requestID,
		Processed: result.Processed,
		Score:     result.Score,
		Message:   result.Message,
	})
	if err != nil {
		opLogger.Error("failed to encode result blob", zap.Error(err))
		return nil, err
	}

	hash := sha1.Sum([]byte(in.FaceScan))
	log := &repository.LivenessLog{
		RequestID: requestID,
		SessionID: in.SessionID,
		DeviceKey: in.DeviceKey,
		UserAgent: in.UserAgent,
		Processed: result.Processed,
		Score:     result.Score,
		Details:   fmt.Sprintf("processed:%t score:%f message:%s", result.Processed, result.Score, result.Message),
		ScanHash:  hex.EncodeToString(hash[:]),
		LatencyMs: latency.Milliseconds(),
		CreatedAt: uc.now().UTC(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist liveness log", zap.Error(wrapped))
		return nil, wrapped
	}

	verdict := &Verdict{RequestID: requestID, WasProcessed: result.Processed, ScanResultBlob: blob}
	serialized, err := json.Marshal(cachedVerdict{
		RequestID:      requestID,
		WasProcessed:   verdict.WasProcessed,
		ScanResultBlob: verdict.ScanResultBlob,
		CreatedAt:      log.CreatedAt,
	})
	if err != nil {
		opLogger.Error("failed to serialize verdict", zap.Error(err))
		return nil, err
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.verdict", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), uc.verdictTTL)
	}); err != nil {
		opLogger.Warn("failed to cache verdict", zap.Error(err))
	}

	opLogger.Info("liveness upload scored",
		zap.Bool("processed", result.Processed),
		zap.Float32("score", result.Score),
		zap.Duration("latency", latency))
	return verdict, nil
}

func encodeResultBlob(blob resultBlob) (string, error) {
	raw, err := json.Marshal(blob)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (uc *LivenessUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, redis.Nil) {
			return logging.NewOperationError(operation, requestID, err)
		}
		if !repository.IsTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *LivenessUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
