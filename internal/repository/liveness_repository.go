package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/liveness-check/internal/logging"
)

// LivenessLog is a persisted liveness upload and its verdict.
type LivenessLog struct {
	ID        uint      `gorm:"primaryKey"`
	RequestID string    `gorm:"column:request_id;uniqueIndex;size:64"`
	SessionID string    `gorm:"column:session_id;index;size:128"`
	DeviceKey string    `gorm:"column:device_key;index;size:128"`
	UserAgent string    `gorm:"column:user_agent;size:512"`
	Processed bool      `gorm:"column:processed"`
	Score     float32   `gorm:"column:score"`
	Details   string    `gorm:"column:details;type:text"`
	ScanHash  string    `gorm:"column:scan_sha1;size:40;index"`
	LatencyMs int64     `gorm:"column:latency_ms"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (LivenessLog) TableName() string {
	return "liveness_logs"
}

// MetricsAggregation is the raw aggregate behind the metrics summary.
type MetricsAggregation struct {
	TotalCount                 int64
	ProcessedCount             int64
	AverageScore               float64
	AverageProcessingLatencyMs float64
}

// LivenessRepository provides persistence APIs for liveness logs.
type LivenessRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewLivenessRepository creates a new repository instance.
func NewLivenessRepository(db *gorm.DB, logger *zap.Logger) *LivenessRepository {
	return &LivenessRepository{
		db:             db,
		logger:         logger.Named("liveness_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *LivenessRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&LivenessLog{})
}

// SaveLog persists a liveness log entry.
func (r *LivenessRepository) SaveLog(ctx context.Context, log *LivenessLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindLatestBySessionID returns the most recent log for a capture session.
func (r *LivenessRepository) FindLatestBySessionID(ctx context.Context, sessionID string) (*LivenessLog, error) {
	var log LivenessLog
	err := r.executeWithRetry(ctx, "repository.find_by_session", sessionID, func() error {
		return r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at DESC").First(&log).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics summarises all persisted uploads.
func (r *LivenessRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		TotalCount     int64
		ProcessedCount int64
		AverageScore   float64
		AverageLatency float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&LivenessLog{}).Select(
			"COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN processed THEN 1 ELSE 0 END), 0) AS processed_count, " +
				"COALESCE(AVG(score), 0) AS average_score, " +
				"COALESCE(AVG(latency_ms), 0) AS average_latency",
		).Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &MetricsAggregation{
		TotalCount:                 row.TotalCount,
		ProcessedCount:             row.ProcessedCount,
		AverageScore:               row.AverageScore,
		AverageProcessingLatencyMs: row.AverageLatency,
	}, nil
}

func (r *LivenessRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !IsTransientError(err) || attempt == attempts-1 {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

// IsTransientError reports whether err looks like a timeout or a
// temporary failure worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
