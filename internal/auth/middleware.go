package auth

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	subjectKey   contextKey = "authSubject"
	deviceKeyKey contextKey = "deviceKey"
	userAgentKey contextKey = "deviceUserAgent"

	HeaderDeviceKey = "X-Device-Key"
	HeaderUserAgent = "X-User-Agent"
)

// GetSubject retrieves the authenticated operator subject from context.
func GetSubject(ctx context.Context) (string, bool) {
	return stringValue(ctx, subjectKey)
}

// GetDeviceKey retrieves the calling device key from context.
func GetDeviceKey(ctx context.Context) (string, bool) {
	return stringValue(ctx, deviceKeyKey)
}

// GetUserAgent retrieves the capture SDK user agent from context.
func GetUserAgent(ctx context.Context) (string, bool) {
	return stringValue(ctx, userAgentKey)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(key).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// DeviceKeyMiddleware requires an X-Device-Key header and, when
// allowed is non-empty, that the key is on the allow-list. The SDK
// user agent is carried along when present.
func DeviceKeyMiddleware(allowed []string) gin.HandlerFunc {
	allowList := make(map[string]struct{}, len(allowed))
	for _, key := range allowed {
		allowList[key] = struct{}{}
	}

	return func(c *gin.Context) {
		deviceKey := strings.TrimSpace(c.GetHeader(HeaderDeviceKey))
		if deviceKey == "" {
			unauthorized(c, "device key required")
			return
		}
		if len(allowList) > 0 {
			if _, ok := allowList[deviceKey]; !ok {
				unauthorized(c, "unknown device key")
				return
			}
		}

		ctx := context.WithValue(c.Request.Context(), deviceKeyKey, deviceKey)
		if userAgent := strings.TrimSpace(c.GetHeader(HeaderUserAgent)); userAgent != "" {
			ctx = context.WithValue(ctx, userAgentKey, userAgent)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(deviceKeyKey), deviceKey)

		c.Next()
	}
}

// JWTMiddleware validates operator bearer tokens.
func JWTMiddleware(secret, audience string) gin.HandlerFunc {
	secret = strings.TrimSpace(secret)
	audience = strings.TrimSpace(audience)

	return func(c *gin.Context) {
		tokenString, err := extractBearerToken(c.Request.Header.Get("Authorization"))
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		if secret == "" {
			secret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
		}
		if secret == "" {
			unauthorized(c, "missing JWT secret")
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			unauthorized(c, "invalid token")
			return
		}

		if audience != "" && !containsAudience(claims.Audience, audience) {
			unauthorized(c, "invalid audience")
			return
		}

		if claims.Subject == "" {
			unauthorized(c, "missing subject")
			return
		}

		ctx := context.WithValue(c.Request.Context(), subjectKey, claims.Subject)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(subjectKey), claims.Subject)

		c.Next()
	}
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}

func containsAudience(claims jwt.ClaimStrings, expected string) bool {
	for _, aud := range claims {
		if aud == expected {
			return true
		}
	}
	return false
}
