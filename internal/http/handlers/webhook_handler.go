// Webhook HTTP handler.
//
// This file exposes the inbound-message endpoint the chat provider calls:
//   - POST /webhook/message
//
// Handlers are transport-thin: they validate the payload, call the ingest
// service, and translate results into HTTP responses. Reply text is composed
// entirely in the service layer; the transport only carries it back so the
// provider can deliver it to the user.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/adiouf/go-cart-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// IngestService processes one inbound chat message end to end.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type IngestService interface {
	// Handle ingests the message and returns the reply to send back.
	Handle(ctx context.Context, msg services.InboundMessage) (*services.IngestResult, error)
}

//
// DTOs
//

// WebhookMessageRequest is the JSON payload delivered by the chat provider
// for each inbound message.
type WebhookMessageRequest struct {
	// MessageID is the provider's unique id for the message; redeliveries
	// reuse it.
	MessageID string `json:"message_id" example:"SM9f2c1e4b0a"`
	// From is the sender identifier, possibly transport-prefixed.
	From string `json:"from" binding:"required" example:"whatsapp:+33612345678"`
	// DisplayName is the sender's profile name, when available.
	DisplayName string `json:"display_name" example:"Awa"`
	// Body is the message text.
	Body string `json:"body" binding:"required" example:"https://www.shein.com/fr/... Taille M - Couleur Rouge - Quantité 2"`
}

// WebhookMessageResponse carries the reply text for the provider to deliver.
type WebhookMessageResponse struct {
	Reply string `json:"reply"`
	// OrderID is set when the message created an order.
	OrderID string `json:"order_id,omitempty"`
	// Replayed is true when this was a redelivery and Reply is the
	// originally recorded response.
	Replayed bool `json:"replayed"`
}

// WebhookHandler handles inbound-message webhooks.
type WebhookHandler struct {
	ingest IngestService
}

// NewWebhookHandler constructs a WebhookHandler bound to the ingest service.
func NewWebhookHandler(ingest IngestService) *WebhookHandler {
	return &WebhookHandler{ingest: ingest}
}

// Receive handles POST /webhook/message.
//
// Redeliveries (same message_id) always return 200 with the recorded reply,
// so a provider retry loop converges instead of re-running side effects.
func (h *WebhookHandler) Receive(c *gin.Context) {
	var req WebhookMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "from and body are required")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body must not be blank")
		return
	}

	res, err := h.ingest.Handle(c.Request.Context(), services.InboundMessage{
		ProviderMessageID: req.MessageID,
		From:              req.From,
		DisplayName:       req.DisplayName,
		Body:              req.Body,
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "message processing failed")
		return
	}

	resp := WebhookMessageResponse{Reply: res.Reply, Replayed: res.Replayed}
	if res.Order != nil {
		resp.OrderID = res.Order.ID
	}
	ok(c, http.StatusOK, resp)
}
