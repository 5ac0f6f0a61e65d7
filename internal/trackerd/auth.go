package trackerd

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	ctxUserID = "user_id"
	ctxEmail  = "email"
)

// Claims is the bearer token payload. The subject is the user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for userID valid for ttl. An empty userID
// gets a fresh UUID.
func IssueToken(secret []byte, userID, email string, ttl time.Duration) (token, subject string, err error) {
	if len(secret) == 0 {
		return "", "", errors.New("issue token: empty secret")
	}
	if userID == "" {
		userID = uuid.NewString()
	}
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", "", err
	}
	return signed, userID, nil
}

// ParseToken validates tokenStr and returns its claims.
func ParseToken(secret []byte, tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// requireAuth validates the bearer token and makes sure the user row
// exists.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Please authenticate")
			return
		}

		claims, err := ParseToken(s.secret, strings.TrimSpace(parts[1]))
		if err != nil {
			respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Please authenticate")
			return
		}
		if _, err := s.repo.EnsureUser(c.Request.Context(), claims.Subject, claims.Email); err != nil {
			s.internalError(c, err)
			return
		}

		c.Set(ctxUserID, claims.Subject)
		c.Set(ctxEmail, claims.Email)
		c.Next()
	}
}
