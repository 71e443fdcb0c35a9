package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var errConflictNotFound = errors.New("httpapi: no pending conflict for record")

// claims mirrors the teacher's Claims type (pkg/auth/jwt.go): registered
// claims plus a subject identifying the calling replica/operator.
type claims struct {
	jwt.RegisteredClaims
	Subject string `json:"sub"`
}

// jwtVerifier checks HMAC-signed bearer tokens. The teacher signs with an
// RSA keypair for its multi-service cluster; a single daemon process here
// has no cross-service key distribution problem, so this core verifies with
// a shared HMAC secret instead (§4.12) — the RSA machinery is dropped, not
// the dependency: golang-jwt/v5 parses and verifies either way.
type jwtVerifier struct {
	secret []byte
}

func newJWTVerifier(secret string) *jwtVerifier {
	return &jwtVerifier{secret: []byte(secret)}
}

func (v *jwtVerifier) enabled() bool { return len(v.secret) > 0 }

func (v *jwtVerifier) verify(token string) (*claims, error) {
	c := &claims{}
	parsed, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return c, nil
}

// Sign issues a short-lived token for a replica/operator, used by tests and
// by any trusted issuer embedding this package directly.
func (v *jwtVerifier) Sign(subject string, ttl time.Duration) (string, error) {
	c := claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}

func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.jwt.enabled() {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := s.jwt.verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set("subject", claims.Subject)
		c.Next()
	}
}
