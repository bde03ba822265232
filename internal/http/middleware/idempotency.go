// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the Idempotency-Key header on transaction submissions and
// detects retries. A retried POST carrying a known key is marked as a replay
// so the handler can answer with the stored transaction instead of submitting
// the (possibly rebuilt) body again. Replays skip rate limiting.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyReplayed is set to "true" on responses served from a
// stored outcome.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// Replay identifies the stored outcome a retried request maps to.
type Replay struct {
	TransactionID string
	Status        int
}

// IdempotencyLookup returns the stored outcome for (principal, key) if it is
// still valid at now. found=false with a nil error means a first attempt.
type IdempotencyLookup func(ctx context.Context, principal, key string, now time.Time) (rep Replay, found bool, err error)

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; nil uses ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Now defaults to time.Now().UTC().
	Now func() time.Time
}

// GetIdempotencyKey returns the validated key stashed by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// ReplayOf returns the stored outcome for a replayed request.
func ReplayOf(c *gin.Context) (Replay, bool) {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return Replay{}, false
	}
	r, ok := v.(Replay)
	return r, ok
}

// IdempotencyValidator checks the Idempotency-Key header on unsafe methods.
// Requests without the header pass through untouched. A malformed key is
// rejected with 400. Lookup errors are logged and the request is processed as
// a first attempt.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			rep, found, err := lookup(c.Request.Context(), Principal(c), key, now())
			switch {
			case err != nil:
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			case found:
				c.Set(ctxKeyIdemReplay, rep)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}
