package relay

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/1ureka/mentorcall/internal/protocol"
)

const userIDKey = "user_id"

// ErrUnauthorized is returned for missing or invalid tokens.
var ErrUnauthorized = errors.New("unauthorized")

// Claims are the token claims issued by the web backend.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 bearer tokens. With an empty secret it is
// disabled and clients identify themselves with a userId query parameter.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Enabled reports whether tokens are checked.
func (a *Authenticator) Enabled() bool { return len(a.secret) > 0 }

// Verify parses token and returns its user id.
func (a *Authenticator) Verify(token string) (protocol.ID, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return "", fmt.Errorf("%w: invalid claims", ErrUnauthorized)
	}
	return protocol.ID(claims.UserID), nil
}

// Middleware authenticates the request and stores the user id in the gin
// context. The token may come from the Authorization header or, for browser
// websockets, a token query parameter.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Set(userIDKey, protocol.ID(c.Query("userId")))
			c.Next()
			return
		}

		token := c.Query("token")
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
				return
			}
			token = parts[1]
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		userID, err := a.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// IssueToken mints a token for userID, for development and tests.
func IssueToken(secret string, userID protocol.ID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: string(userID),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func userFrom(c *gin.Context) protocol.ID {
	if v, ok := c.Get(userIDKey); ok {
		if id, ok := v.(protocol.ID); ok {
			return id
		}
	}
	return ""
}
