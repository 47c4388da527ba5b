package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jhomra21/canvaschat/internal/domain"
)

const identityKey = "identity"

// SessionClaims is the session token payload. Subject carries the user id.
type SessionClaims struct {
	UserName  string `json:"userName"`
	UserImage string `json:"userImage,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware validates the caller's session token and stores the
// resulting identity in the request context. Handlers behind it never
// re-derive identity from raw headers. The verified identity is also
// copied into X-User-* headers to keep the HTTP surface contract.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token := extractToken(ctx)
		if token == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		claims := &SessionClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !parsed.Valid {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		identity := domain.Identity{
			UserID:    claims.Subject,
			UserName:  claims.UserName,
			UserImage: claims.UserImage,
		}
		if !identity.Valid() {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx.Request.Header.Set("X-User-Id", identity.UserID)
		ctx.Request.Header.Set("X-User-Name", identity.UserName)
		if identity.UserImage != "" {
			ctx.Request.Header.Set("X-User-Image", identity.UserImage)
		}

		ctx.Set(identityKey, identity)
		ctx.Next()
	}
}

// extractToken checks the Authorization header, the session cookie and the
// token query parameter. The query parameter exists because browsers
// cannot attach headers to a WebSocket upgrade.
func extractToken(ctx *gin.Context) string {
	if h := ctx.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if cookie, err := ctx.Cookie("session"); err == nil && cookie != "" {
		return cookie
	}
	return ctx.Query("token")
}

// GetIdentity returns the authenticated identity stored by AuthMiddleware.
func GetIdentity(ctx *gin.Context) (domain.Identity, bool) {
	value, ok := ctx.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}
	identity, ok := value.(domain.Identity)
	return identity, ok
}

// SignSession mints a session token the middleware accepts.
func SignSession(secret string, identity domain.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		UserName:  identity.UserName,
		UserImage: identity.UserImage,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
