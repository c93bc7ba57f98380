package webserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/stake-plus/stakegate/src/api/store"
)

const (
	ctxUserID       = "uid"
	sessionAudience = "stakegate-api"
)

type sessionClaims struct {
	UID uint64 `json:"uid"`
	jwt.RegisteredClaims
}

// IssueSession signs a session token for uid. Sessions normally come from
// the product's login service; this is its contract.
func IssueSession(uid uint64, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		UID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{sessionAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(secret)
}

// JWTMiddleware accepts HS256 session tokens carrying a uid and makes sure
// the user row exists.
func JWTMiddleware(secret []byte, st *store.Store, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"err": "missing bearer token", "kind": "unauthorized"})
			return
		}
		var cl sessionClaims
		_, err := jwt.ParseWithClaims(h[7:], &cl, func(*jwt.Token) (interface{}, error) { return secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithAudience(sessionAudience),
			jwt.WithExpirationRequired(),
		)
		if err != nil || cl.UID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"err": "invalid session", "kind": "unauthorized"})
			return
		}
		if err := st.EnsureUser(c.Request.Context(), cl.UID); err != nil {
			fail(c, log, err)
			return
		}
		c.Set(ctxUserID, cl.UID)
		c.Next()
	}
}

func userID(c *gin.Context) uint64 {
	return c.GetUint64(ctxUserID)
}
