package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderPrincipal carries the caller identity. The simulator does not
// authenticate; the value only scopes idempotency keys and rate-limit buckets.
const HeaderPrincipal = "X-Principal-ID"

// AnonymousPrincipal is used when no identity was supplied.
const AnonymousPrincipal = "anonymous"

// Principal returns the caller identity for this request.
func Principal(c *gin.Context) string {
	if h := strings.TrimSpace(c.GetHeader(HeaderPrincipal)); h != "" {
		return h
	}
	return AnonymousPrincipal
}
