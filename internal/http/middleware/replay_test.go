package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func replayRouter(lookup ReplayLookup, sawBypass *bool, sawBody *string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ReplayDetector(lookup))
	r.POST("/webhook", func(c *gin.Context) {
		*sawBypass = IsRateBypass(c)
		b, _ := io.ReadAll(c.Request.Body)
		*sawBody = string(b)
		c.Status(http.StatusOK)
	})
	return r
}

func TestReplayDetector_MarksKnownRedelivery(t *testing.T) {
	lookup := func(ctx context.Context, pmid string, now time.Time) (bool, error) {
		return pmid == "SM1", nil
	}

	var bypass bool
	var body string
	r := replayRouter(lookup, &bypass, &body)

	payload := `{"message_id":"SM1","from":"+336","body":"x"}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(payload)))
	if !bypass {
		t.Fatal("known redelivery must be marked for bypass")
	}
	if body != payload {
		t.Fatalf("body not restored for downstream binding: %q", body)
	}
}

func TestReplayDetector_FirstDeliveryNotMarked(t *testing.T) {
	lookup := func(ctx context.Context, pmid string, now time.Time) (bool, error) {
		return false, nil
	}

	var bypass bool
	var body string
	r := replayRouter(lookup, &bypass, &body)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(`{"message_id":"SM2"}`)))
	if bypass {
		t.Fatal("first delivery must not be marked")
	}
}

func TestReplayDetector_FailsOpen(t *testing.T) {
	lookup := func(ctx context.Context, pmid string, now time.Time) (bool, error) {
		return false, errors.New("db down")
	}

	var bypass bool
	var body string
	r := replayRouter(lookup, &bypass, &body)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(`{"message_id":"SM3"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("lookup failure must not block the request, got %d", w.Code)
	}
	if bypass {
		t.Fatal("lookup failure must not grant bypass")
	}
}

func TestReplayDetector_IgnoresNonJSONAndMissingID(t *testing.T) {
	calls := 0
	lookup := func(ctx context.Context, pmid string, now time.Time) (bool, error) {
		calls++
		return true, nil
	}

	var bypass bool
	var body string
	r := replayRouter(lookup, &bypass, &body)

	for _, payload := range []string{"not json", `{"from":"+336"}`, ""} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(payload)))
		if w.Code != http.StatusOK {
			t.Fatalf("payload %q -> %d", payload, w.Code)
		}
	}
	if calls != 0 {
		t.Fatalf("lookup must not run without a message_id, got %d calls", calls)
	}
}
