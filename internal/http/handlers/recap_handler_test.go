package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/adiouf/go-cart-backend/internal/recap"
)

// Flexible recap service stub
type stubRecapSvc struct {
	build    func(context.Context) (*recap.Snapshot, error)
	finalize func(context.Context, *recap.Snapshot) (int, error)
}

func (s stubRecapSvc) Build(ctx context.Context) (*recap.Snapshot, error) {
	if s.build != nil {
		return s.build(ctx)
	}
	return &recap.Snapshot{}, nil
}

func (s stubRecapSvc) Finalize(ctx context.Context, snap *recap.Snapshot) (int, error) {
	if s.finalize != nil {
		return s.finalize(ctx, snap)
	}
	return 0, nil
}

func recapRouter(svc RecapService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewRecapHandler(svc)
	r := gin.New()
	r.GET("/recap", h.Get)
	r.GET("/recap/text", h.Text)
	r.POST("/recap/finalize", h.Finalize)
	return r
}

func TestRecapGet(t *testing.T) {
	r := recapRouter(stubRecapSvc{build: func(ctx context.Context) (*recap.Snapshot, error) {
		return &recap.Snapshot{TotalOrders: 2, TotalItems: 3}, nil
	}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/recap", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var snap recap.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.TotalOrders != 2 || snap.TotalItems != 3 {
		t.Fatalf("snapshot: %+v", snap)
	}
}

func TestRecapText_PlainText(t *testing.T) {
	r := recapRouter(stubRecapSvc{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/recap/text", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type: %q", ct)
	}
	if !strings.Contains(w.Body.String(), "Récapitulatif du groupe") {
		t.Fatalf("body: %q", w.Body.String())
	}
}

func TestRecapFinalize(t *testing.T) {
	r := recapRouter(stubRecapSvc{finalize: func(ctx context.Context, snap *recap.Snapshot) (int, error) {
		return 4, nil
	}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/recap/finalize", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var resp FinalizeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Finalized != 4 || resp.Snapshot == nil {
		t.Fatalf("resp: %+v", resp)
	}
}

func TestRecap_BuildError(t *testing.T) {
	r := recapRouter(stubRecapSvc{build: func(ctx context.Context) (*recap.Snapshot, error) {
		return nil, errors.New("db gone")
	}})

	for _, ep := range []struct {
		method, path string
	}{
		{http.MethodGet, "/recap"},
		{http.MethodGet, "/recap/text"},
		{http.MethodPost, "/recap/finalize"},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(ep.method, ep.path, nil))
		if w.Code != http.StatusInternalServerError {
			t.Errorf("%s %s -> %d", ep.method, ep.path, w.Code)
		}
	}
}
