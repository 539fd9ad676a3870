// Recap HTTP handlers.
//
// This file exposes the group-recap endpoints on the private API:
//   - GET  /recap            (structured snapshot)
//   - GET  /recap/text       (rendered group message)
//   - POST /recap/finalize   (snapshot + mark InCart orders Reported)
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adiouf/go-cart-backend/internal/recap"
)

// RecapService defines the recap operations consumed by HTTP handlers.
type RecapService interface {
	// Build computes a consistent snapshot of the group order.
	Build(ctx context.Context) (*recap.Snapshot, error)
	// Finalize marks the snapshot's InCart orders as Reported.
	Finalize(ctx context.Context, snap *recap.Snapshot) (int, error)
}

// RecapHandler handles recap endpoints.
type RecapHandler struct {
	recaps RecapService
}

// NewRecapHandler constructs a RecapHandler bound to the given service.
func NewRecapHandler(recaps RecapService) *RecapHandler {
	return &RecapHandler{recaps: recaps}
}

// Get handles GET /recap.
func (h *RecapHandler) Get(c *gin.Context) {
	snap, err := h.recaps.Build(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not build recap")
		return
	}
	ok(c, http.StatusOK, snap)
}

// Text handles GET /recap/text, returning the rendered group message as
// plain text for direct forwarding.
func (h *RecapHandler) Text(c *gin.Context) {
	snap, err := h.recaps.Build(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not build recap")
		return
	}
	c.String(http.StatusOK, snap.Render())
}

// FinalizeResponse reports how many orders a finalize pass transitioned.
type FinalizeResponse struct {
	Snapshot  *recap.Snapshot `json:"snapshot"`
	Finalized int             `json:"finalized"`
}

// Finalize handles POST /recap/finalize. It builds a snapshot and marks its
// InCart orders Reported, so the same orders are never recapped twice.
func (h *RecapHandler) Finalize(c *gin.Context) {
	snap, err := h.recaps.Build(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not build recap")
		return
	}
	n, err := h.recaps.Finalize(c.Request.Context(), snap)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not finalize recap")
		return
	}
	ok(c, http.StatusOK, FinalizeResponse{Snapshot: snap, Finalized: n})
}
