// Package middleware – admin token authentication.
//
// The private API (order administration, recap, stats) is protected by a
// single shared bearer token. This is deliberate: the deployment serves one
// group of known users with one administrator, and a static token rotated
// via the environment keeps the surface small. A user directory or OAuth
// would be machinery without a tenant to need it.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminAuth returns a middleware that requires `Authorization: Bearer
// <token>` matching the configured admin token. An empty configured token
// disables the private API entirely rather than leaving it open.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			abortUnauthorized(c, "admin API disabled")
			return
		}
		h := c.GetHeader("Authorization")
		got, found := strings.CutPrefix(h, "Bearer ")
		if !found {
			abortUnauthorized(c, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			abortUnauthorized(c, "invalid token")
			return
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       "unauthorized",
		"message":    msg,
	})
}
