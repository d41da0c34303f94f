package usecase

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrSessionNotFound is returned when no upload was recorded for a session.
var ErrSessionNotFound = errors.New("no liveness upload recorded for session")

// MetricsSummary represents aggregated liveness verification insights.
type MetricsSummary struct {
	TotalUploads               int64   `json:"total_uploads"`
	ProcessedUploads           int64   `json:"processed_uploads"`
	ProcessedRate              float64 `json:"processed_rate"`
	AverageScore               float64 `json:"average_score"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

// SessionRecord is the operator view of the latest upload for a session.
type SessionRecord struct {
	RequestID string    `json:"request_id"`
	SessionID string    `json:"session_id"`
	DeviceKey string    `json:"device_key"`
	UserAgent string    `json:"user_agent"`
	Processed bool      `json:"processed"`
	Score     float32   `json:"score"`
	LatencyMs int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// GetMetricsSummary aggregates liveness metrics from persisted logs.
func (uc *LivenessUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalUploads:               aggregation.TotalCount,
		ProcessedUploads:           aggregation.ProcessedCount,
		AverageScore:               aggregation.AverageScore,
		AverageProcessingLatencyMs: aggregation.AverageProcessingLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.ProcessedRate = float64(aggregation.ProcessedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}

// GetSessionRecord returns the most recent persisted upload for sessionID.
func (uc *LivenessUseCase) GetSessionRecord(ctx context.Context, sessionID string) (*SessionRecord, error) {
	log, err := uc.repo.FindLatestBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return &SessionRecord{
		RequestID: log.RequestID,
		SessionID: log.SessionID,
		DeviceKey: log.DeviceKey,
		UserAgent: log.UserAgent,
		Processed: log.Processed,
		Score:     log.Score,
		LatencyMs: log.LatencyMs,
		CreatedAt: log.CreatedAt,
	}, nil
}
