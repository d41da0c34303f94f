package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/liveness-check/internal/auth"
	"github.com/example/liveness-check/internal/usecase"
)

// MaxUploadSize bounds a liveness upload body.
const MaxUploadSize = 16 << 20

// LivenessService is the use case surface the routes depend on.
type LivenessService interface {
	IssueSessionToken(ctx context.Context, deviceKey, userAgent string) (*auth.SessionToken, error)
	VerifyLiveness(ctx context.Context, in usecase.LivenessInput) (*usecase.Verdict, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
	GetSessionRecord(ctx context.Context, sessionID string) (*usecase.SessionRecord, error)
}

// A completed capture may carry no audit-trail frames, so only the scan
// and the session id are required.
type livenessRequest struct {
	FaceScan                  string `json:"faceScan" binding:"required"`
	AuditTrailImage           string `json:"auditTrailImage"`
	LowQualityAuditTrailImage string `json:"lowQualityAuditTrailImage"`
	SessionID                 string `json:"sessionId" binding:"required"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc LivenessService, deviceMiddleware, operatorMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	device := router.Group("/", deviceMiddleware)

	device.GET("/session-token", func(c *gin.Context) {
		deviceKey, _ := auth.GetDeviceKey(c.Request.Context())
		userAgent, _ := auth.GetUserAgent(c.Request.Context())

		token, err := svc.IssueSessionToken(c.Request.Context(), deviceKey, userAgent)
		if err != nil {
			if errors.Is(err, usecase.ErrRateLimited) {
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many session token requests"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue session token"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"sessionToken": token.Token})
	})

	device.POST("/liveness-3d", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize)

		var req livenessRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "faceScan and sessionId are required"})
			return
		}

		deviceKey, _ := auth.GetDeviceKey(c.Request.Context())
		userAgent, _ := auth.GetUserAgent(c.Request.Context())
		verdict, err := svc.VerifyLiveness(c.Request.Context(), usecase.LivenessInput{
			DeviceKey:                 deviceKey,
			UserAgent:                 userAgent,
			FaceScan:                  req.FaceScan,
			AuditTrailImage:           req.AuditTrailImage,
			LowQualityAuditTrailImage: req.LowQualityAuditTrailImage,
			SessionID:                 req.SessionID,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "liveness verification failed"})
			return
		}

		c.JSON(http.StatusOK, verdict)
	})

	router.GET("/metrics/summary", operatorMiddleware, func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	router.GET("/sessions/:sessionId", operatorMiddleware, func(c *gin.Context) {
		record, err := svc.GetSessionRecord(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			if errors.Is(err, usecase.ErrSessionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
			return
		}
		c.JSON(http.StatusOK, record)
	})
}
