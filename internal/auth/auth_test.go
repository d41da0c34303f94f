package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func decodeSessionToken(t *testing.T, token, secret string) *jwt.RegisteredClaims {
	t.Helper()
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithIssuer("liveness-check"), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		t.Fatalf("expected token to verify, got error: %v", err)
	}
	return claims
}

func TestSessionTokenIssuerSignsDeviceBoundToken(t *testing.T) {
	issuer := NewSessionTokenIssuer("secret", time.Minute)

	token, err := issuer.Issue("device-1")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if token.Token == "" || token.ID == "" {
		t.Fatalf("incomplete token: %+v", token)
	}

	claims := decodeSessionToken(t, token.Token, "secret")
	if claims.Subject != "device-1" || claims.ID != token.ID {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestSessionTokenIssuerSetsExpiry(t *testing.T) {
	issuer := NewSessionTokenIssuer("secret", 10*time.Minute)
	issued := time.Now().Truncate(time.Second)
	issuer.now = func() time.Time { return issued }

	token, err := issuer.Issue("device-1")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if !token.ExpiresAt.Equal(issued.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry: %s", token.ExpiresAt)
	}
	claims := decodeSessionToken(t, token.Token, "secret")
	if !claims.ExpiresAt.Time.Equal(token.ExpiresAt) {
		t.Fatalf("claim expiry %s does not match %s", claims.ExpiresAt.Time, token.ExpiresAt)
	}
}

func TestSessionTokenIssuerRequiresDeviceKey(t *testing.T) {
	if _, err := NewSessionTokenIssuer("secret", time.Minute).Issue(""); err == nil {
		t.Fatal("expected error without device key")
	}
	if _, err := NewSessionTokenIssuer(" ", time.Minute).Issue("device-1"); err == nil {
		t.Fatal("expected error without secret")
	}
}

func newDeviceRouter(allowed []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/device", DeviceKeyMiddleware(allowed), func(c *gin.Context) {
		key, _ := GetDeviceKey(c.Request.Context())
		agent, _ := GetUserAgent(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"device_key": key, "user_agent": agent})
	})
	return router
}

func TestDeviceKeyMiddleware(t *testing.T) {
	cases := []struct {
		name    string
		allowed []string
		key     string
		want    int
	}{
		{name: "missing key", key: "", want: http.StatusUnauthorized},
		{name: "any key", key: "device-1", want: http.StatusOK},
		{name: "allowed key", allowed: []string{"device-1"}, key: "device-1", want: http.StatusOK},
		{name: "unknown key", allowed: []string{"device-1"}, key: "device-2", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		router := newDeviceRouter(tc.allowed)
		req := httptest.NewRequest(http.MethodGet, "/device", nil)
		if tc.key != "" {
			req.Header.Set(HeaderDeviceKey, tc.key)
		}
		req.Header.Set(HeaderUserAgent, "agent")

		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Fatalf("%s: expected status %d, got %d", tc.name, tc.want, resp.Code)
		}
	}
}

func TestJWTMiddlewareRequiresValidBearer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ops", JWTMiddleware("ops-secret", "ops"), func(c *gin.Context) {
		subject, _ := GetSubject(c.Request.Context())
		c.String(http.StatusOK, subject)
	})

	sign := func(audience string) string {
		claims := jwt.RegisteredClaims{
			Subject:   "operator",
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("ops-secret"))
		if err != nil {
			t.Fatalf("failed to sign token: %v", err)
		}
		return signed
	}

	for _, tc := range []struct {
		header string
		want   int
	}{
		{header: "", want: http.StatusUnauthorized},
		{header: "Basic abc", want: http.StatusUnauthorized},
		{header: "Bearer " + sign("other"), want: http.StatusUnauthorized},
		{header: "Bearer " + sign("ops"), want: http.StatusOK},
	} {
		req := httptest.NewRequest(http.MethodGet, "/ops", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Fatalf("header %q: expected status %d, got %d", tc.header, tc.want, resp.Code)
		}
	}
}
