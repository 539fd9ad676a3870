// Package middleware – webhook replay detection.
//
// Chat providers deliver webhooks at-least-once: until they see a 2xx they
// retry, sometimes aggressively. ReplayDetector peeks at the inbound payload
// and, when the provider message id was already processed, marks the request
// for rate-limit bypass so retries of finished work are never throttled into
// a longer retry storm. The authoritative replay handling (returning the
// recorded reply) stays in the ingest service; this middleware only tunes
// rate-limiter behavior.
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

// replayProbeLimit bounds how much of the body is buffered for the peek.
const replayProbeLimit = 64 << 10

// ReplayLookup reports whether the provider message id was already processed.
type ReplayLookup func(ctx context.Context, providerMessageID string, now time.Time) (bool, error)

// ReplayDetector returns a middleware that inspects the webhook payload's
// message_id and marks known redeliveries for rate-limit bypass. The body is
// restored after the peek, so downstream binding sees it untouched. Lookup
// errors fail open: the request proceeds as a first delivery.
func ReplayDetector(lookup ReplayLookup) gin.HandlerFunc {
	type probe struct {
		MessageID string `json:"message_id"`
	}
	return func(c *gin.Context) {
		if c.Request == nil || c.Request.Body == nil {
			c.Next()
			return
		}
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, replayProbeLimit))
		_ = c.Request.Body.Close()
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		if err != nil {
			c.Next()
			return
		}

		var p probe
		if json.Unmarshal(body, &p) == nil && p.MessageID != "" {
			seen, err := lookup(c.Request.Context(), p.MessageID, time.Now())
			if err == nil && seen {
				webhookRedeliveries.Inc()
				MarkRateBypass(c)
			}
		}
		c.Next()
	}
}
