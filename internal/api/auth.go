package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/candidate"
)

const (
	issuer          = "job-pilot"
	defaultTokenTTL = 24 * time.Hour
)

// Tokens issues and verifies session tokens. The subject of a token is the
// candidate id; nothing else in a request can choose the candidate.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (t *Tokens) Issue(candidateID string) (string, error) {
	if strings.TrimSpace(candidateID) == "" {
		return "", errors.New("candidate id is required")
	}
	now := t.now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   candidateID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify returns the candidate id of a valid token.
func (t *Tokens) Verify(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}

func bearer(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// authenticate binds the token subject to the request context.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearer(c.GetHeader("Authorization"))
		if raw == "" || s.tokens == nil {
			abortUnauthorized(c)
			return
		}
		cid, err := s.tokens.Verify(raw)
		if err != nil {
			s.logger.Debug("rejecting token", zap.Error(err))
			abortUnauthorized(c)
			return
		}
		c.Set(candidateKey, cid)
		c.Request = c.Request.WithContext(candidate.WithID(c.Request.Context(), cid))
		c.Next()
	}
}
