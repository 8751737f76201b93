package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"ecorewards-engine/pkg/config"
	"ecorewards-engine/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ContextUserID = "user_id"
	ContextRole   = "role"

	HeaderWebhookSecret = "X-Webhook-Secret"

	RoleAdmin = "admin"
)

// Claims is the access token payload. Subject carries the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewAccessToken signs an HS256 token for userID.
func NewAccessToken(secret, issuer, userID, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// JWTAuth validates the bearer token and stores subject and role on the
// gin context.
func JWTAuth(secret, issuer string) gin.HandlerFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.Error(errutil.Unauthorized("missing bearer token", nil))
			c.Abort()
			return
		}

		var claims Claims
		tok, err := parser.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims, func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		})
		if err != nil || !tok.Valid {
			c.Error(errutil.Unauthorized("invalid token", nil))
			c.Abort()
			return
		}

		if claims.Subject == "" {
			c.Error(errutil.Unauthorized("token has no subject", nil))
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.Subject)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// WebhookSecret admits requests whose X-Webhook-Secret header matches secret
// exactly. An empty secret rejects everything. With remote config the latest
// snapshot's secret wins, so rotation needs no restart.
func WebhookSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		want := secret
		if cur := config.Current(); cur != nil {
			want = cur.Reward.WebhookSecret
		}
		got := c.GetHeader(HeaderWebhookSecret)
		if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			c.Error(errutil.Unauthorized("invalid webhook secret", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

// Principal returns the authenticated user id and role.
func Principal(c *gin.Context) (userID, role string, err error) {
	userID = c.GetString(ContextUserID)
	if userID == "" {
		return "", "", errutil.Unauthorized("unauthenticated", errors.New("no principal on context"))
	}
	return userID, c.GetString(ContextRole), nil
}

func IsAdmin(c *gin.Context) bool {
	return c.GetString(ContextRole) == RoleAdmin
}

func describe(c *gin.Context) string {
	return fmt.Sprintf("%s %s", c.Request.Method, c.FullPath())
}
