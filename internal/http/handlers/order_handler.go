// Order admin HTTP handlers.
//
// This file exposes REST endpoints for order resources on the private API:
//   - GET    /orders               (list by user, paginated)
//   - GET    /orders/{id}          (fetch one)
//   - POST   /orders/{id}/cancel   (reject a pending order)
//   - GET    /stats                (pipeline status breakdown)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate service errors into the stable HTTP error
// taxonomy from errors.go.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/adiouf/go-cart-backend/internal/domain"
	"github.com/adiouf/go-cart-backend/internal/services"
	"github.com/adiouf/go-cart-backend/internal/utils"
)

// OrderService defines the order operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type OrderService interface {
	// Get fetches a single order by id.
	Get(ctx context.Context, id string) (*domain.Order, error)
	// GetByUser returns a page of a user's orders and the total count.
	GetByUser(ctx context.Context, userID string, page, pageSize int) ([]domain.Order, int64, error)
	// Cancel rejects an order; an empty userID skips the ownership check.
	Cancel(ctx context.Context, id, userID string) error
	// StatusCounts returns the number of orders per lifecycle status.
	StatusCounts(ctx context.Context) (map[domain.OrderStatus]int64, error)
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// OrderListResponse is the envelope for paginated order lists.
type OrderListResponse struct {
	Items      []domain.Order `json:"items"`
	Pagination Pagination     `json:"pagination"`
}

// CancelOrderRequest optionally scopes a cancellation to an owner; the admin
// API leaves it empty to cancel on any user's behalf.
type CancelOrderRequest struct {
	UserID string `json:"user_id" example:"+33612345678"`
}

// StatsResponse is the pipeline status breakdown.
type StatsResponse struct {
	Statuses map[domain.OrderStatus]int64 `json:"statuses"`
	Open     int64                        `json:"open"`
	Total    int64                        `json:"total"`
}

// OrderHandler handles order admin endpoints.
type OrderHandler struct {
	orders OrderService
}

// NewOrderHandler constructs an OrderHandler bound to the given service.
func NewOrderHandler(orders OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// List handles GET /orders?user_id=&page=&page_size=.
func (h *OrderHandler) List(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id query parameter is required")
		return
	}
	page, pageSize := utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), 20),
	)

	items, total, err := h.orders.GetByUser(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list orders")
		return
	}
	if items == nil {
		items = []domain.Order{}
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, OrderListResponse{
		Items: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
		},
	})
}

// Get handles GET /orders/:id.
func (h *OrderHandler) Get(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "order not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not fetch order")
		return
	}
	ok(c, http.StatusOK, o)
}

// Cancel handles POST /orders/:id/cancel.
//
// Cancellation is only possible before the order reaches the cart; a 409
// means the automation already won the race.
func (h *OrderHandler) Cancel(c *gin.Context) {
	var req CancelOrderRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	err := h.orders.Cancel(c.Request.Context(), c.Param("id"), strings.TrimSpace(req.UserID))
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, services.ErrOrderNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "order not found")
	case errors.Is(err, services.ErrNotCancellable):
		fail(c, http.StatusConflict, ErrCodeConflict, "order can no longer be cancelled")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not cancel order")
	}
}

// Stats handles GET /stats.
func (h *OrderHandler) Stats(c *gin.Context) {
	counts, err := h.orders.StatusCounts(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not compute stats")
		return
	}
	resp := StatsResponse{Statuses: counts}
	for st, n := range counts {
		resp.Total += n
		if st.IsOpen() {
			resp.Open += n
		}
	}
	ok(c, http.StatusOK, resp)
}
