// Package services – IngestService
//
// This file implements the IngestService, the entry point for inbound chat
// messages. It normalizes sender identifiers, guarantees at-most-once
// processing per provider message id via inbound receipts (redeliveries get
// the originally recorded reply, verbatim), routes slash commands, and hands
// everything else to the extraction adapter and the order store.
//
// All user-facing replies are produced here, in French, matching the group
// the bot serves. Handlers and transports never compose reply text.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/adiouf/go-cart-backend/internal/domain"
	"github.com/adiouf/go-cart-backend/internal/extract"
)

// InboundMessage is one message delivered by the chat transport webhook.
type InboundMessage struct {
	// ProviderMessageID is the transport's unique id for the message.
	// Empty means the transport gives no id and dedup is skipped.
	ProviderMessageID string
	// From is the raw sender identifier (e.g. "whatsapp:+33612345678").
	From string
	// DisplayName is the sender's profile name, if the transport sends one.
	DisplayName string
	// Body is the message text.
	Body string
}

// IngestResult is the outcome of handling one inbound message.
type IngestResult struct {
	// Reply is the text to send back to the user.
	Reply string
	// Order is set when the message produced a new order.
	Order *domain.Order
	// Replayed is true when the message was a redelivery and Reply is the
	// originally recorded response.
	Replayed bool
}

// UserStore defines the user persistence contract required by IngestService.
type UserStore interface {
	// EnsureUser creates the user on first contact and refreshes the
	// display name on later ones.
	EnsureUser(ctx context.Context, db *gorm.DB, id, displayName string) (*domain.User, error)
}

// ReceiptStore defines the inbound-receipt contract for message dedup.
type ReceiptStore interface {
	// GetReceipt returns the non-expired receipt for the provider message
	// id, or nil.
	GetReceipt(ctx context.Context, db *gorm.DB, providerMessageID string, now time.Time) (*domain.InboundReceipt, error)

	// CreateReceipt records the reply sent for the provider message id.
	CreateReceipt(ctx context.Context, db *gorm.DB, providerMessageID, userID, reply string, ttl time.Duration) error
}

// OrderIntake is the slice of OrderService the ingest path needs.
type OrderIntake interface {
	Submit(ctx context.Context, userID string, d *extract.Draft, providerMessageID string) (*domain.Order, error)
	GetByUser(ctx context.Context, userID string, page, pageSize int) ([]domain.Order, int64, error)
}

// DraftExtractor parses message text into order drafts.
type DraftExtractor interface {
	Extract(ctx context.Context, text string) (*extract.Draft, error)
}

// RecapSource renders the current group recap as user-facing text.
type RecapSource interface {
	Text(ctx context.Context) (string, error)
}

// IngestService turns inbound chat messages into orders and replies.
type IngestService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Users persists senders.
	Users UserStore
	// Receipts provides at-most-once processing per provider message id.
	Receipts ReceiptStore
	// Orders is the order intake.
	Orders OrderIntake
	// Extractor parses order text.
	Extractor DraftExtractor
	// Recap renders the group recap for the /recap command.
	Recap RecapSource
	// Log is the service logger.
	Log zerolog.Logger

	// ReceiptTTL is how long a processed message id blocks redelivery.
	ReceiptTTL time.Duration

	// now is swappable for tests.
	Now func() time.Time
}

// Handle processes one inbound message end to end and returns the reply to
// send. Redeliveries of an already-processed provider message id return the
// recorded reply without re-running any side effect.
func (s *IngestService) Handle(ctx context.Context, msg InboundMessage) (*IngestResult, error) {
	userID := NormalizeSender(msg.From)
	if userID == "" {
		return nil, fmt.Errorf("empty sender")
	}
	now := s.nowFn()

	pmid := strings.TrimSpace(msg.ProviderMessageID)
	if pmid != "" {
		rec, err := s.Receipts.GetReceipt(ctx, s.DB, pmid, now)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("receipt lookup: %w", err)
		}
		if rec != nil {
			s.Log.Debug().Str("provider_message_id", pmid).Msg("redelivery, replaying recorded reply")
			return &IngestResult{Reply: rec.Reply, Replayed: true}, nil
		}
	}

	if _, err := s.Users.EnsureUser(ctx, s.DB, userID, msg.DisplayName); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}

	res := s.dispatch(ctx, userID, pmid, msg.Body)

	if pmid != "" {
		if err := s.Receipts.CreateReceipt(ctx, s.DB, pmid, userID, res.Reply, s.ReceiptTTL); err != nil {
			// A concurrent delivery beat us to the insert; its reply is the
			// canonical one.
			rec, lerr := s.Receipts.GetReceipt(ctx, s.DB, pmid, now)
			if lerr == nil && rec != nil {
				return &IngestResult{Reply: rec.Reply, Replayed: true}, nil
			}
			s.Log.Warn().Err(err).Str("provider_message_id", pmid).Msg("receipt record failed")
		}
	}
	return res, nil
}

// dispatch routes a normalized message to a command handler or the order
// intake and produces the reply.
func (s *IngestService) dispatch(ctx context.Context, userID, pmid, body string) *IngestResult {
	text := strings.TrimSpace(body)

	if strings.HasPrefix(text, "/") {
		cmd := strings.ToLower(strings.Fields(text)[0])
		switch cmd {
		case "/start", "/aide", "/help":
			return &IngestResult{Reply: helpText}
		case "/status", "/statut":
			return &IngestResult{Reply: s.statusReply(ctx, userID)}
		case "/recap", "/résumé", "/resume":
			return &IngestResult{Reply: s.recapReply(ctx)}
		default:
			return &IngestResult{Reply: "Commande inconnue. Envoyez /aide pour voir les commandes disponibles."}
		}
	}

	return s.orderReply(ctx, userID, pmid, text)
}

// orderReply runs extraction and submission and maps every failure mode to
// its French reply. The provider message id travels with the order so a
// stored order can be traced back to the chat message that created it.
func (s *IngestService) orderReply(ctx context.Context, userID, pmid, text string) *IngestResult {
	d, err := s.Extractor.Extract(ctx, text)
	if err != nil {
		switch {
		case errors.Is(err, extract.ErrInvalidURL):
			return &IngestResult{Reply: "❌ Le lien produit n'est pas valide. Envoyez un lien produit complet (https://...)."}
		case errors.Is(err, extract.ErrRateLimited):
			return &IngestResult{Reply: "⏳ Le service est momentanément surchargé. Réessayez dans quelques minutes."}
		default:
			return &IngestResult{Reply: "Je n'ai pas compris votre commande. 🤔\n\nEnvoyez le lien du produit avec la taille, la couleur et la quantité.\nExemple :\nhttps://www.shein.com/fr/...\nTaille M - Couleur Rouge - Quantité 2"}
		}
	}

	o, err := s.Orders.Submit(ctx, userID, d, pmid)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateOrder):
			return &IngestResult{Reply: "⚠️ Vous avez déjà commandé cet article dans la même taille et couleur. Envoyez /statut pour voir vos commandes."}
		case errors.Is(err, ErrQuotaExceeded):
			return &IngestResult{Reply: "⚠️ Vous avez atteint votre limite de commandes. Attendez que vos commandes en cours soient traitées ou réessayez demain."}
		case errors.Is(err, ErrInvalidQuantity):
			return &IngestResult{Reply: "❌ La quantité demandée n'est pas valide (entre 1 et 99)."}
		case errors.Is(err, ErrInvalidProductURL):
			return &IngestResult{Reply: "❌ Le lien produit n'est pas valide. Envoyez un lien produit complet (https://...)."}
		default:
			s.Log.Error().Err(err).Str("user_id", userID).Msg("order submission failed")
			return &IngestResult{Reply: "❌ Une erreur est survenue. Réessayez dans quelques instants."}
		}
	}

	var b strings.Builder
	b.WriteString("✅ Commande enregistrée !\n\n")
	fmt.Fprintf(&b, "🔗 %s\n", o.ProductURL)
	if o.Size != "" {
		fmt.Fprintf(&b, "📏 Taille : %s\n", o.Size)
	}
	if o.Color != "" {
		fmt.Fprintf(&b, "🎨 Couleur : %s\n", o.Color)
	}
	fmt.Fprintf(&b, "🔢 Quantité : %d\n", o.Quantity)
	fmt.Fprintf(&b, "\nRéférence : %s\nVotre article sera ajouté au panier automatiquement.", shortID(o.ID))
	return &IngestResult{Reply: b.String(), Order: o}
}

// statusReply renders the user's recent orders for /statut.
func (s *IngestService) statusReply(ctx context.Context, userID string) string {
	orders, total, err := s.Orders.GetByUser(ctx, userID, 1, 10)
	if err != nil {
		s.Log.Error().Err(err).Str("user_id", userID).Msg("status lookup failed")
		return "❌ Impossible de récupérer vos commandes pour le moment."
	}
	if total == 0 {
		return "Vous n'avez aucune commande. Envoyez un lien produit pour commencer !"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 Vos commandes (%d au total) :\n", total)
	for i := range orders {
		o := &orders[i]
		fmt.Fprintf(&b, "\n%s %s", statusEmoji(o.Status), shortID(o.ID))
		if v := o.Variant(); v != "" {
			fmt.Fprintf(&b, " · %s", v)
		}
		fmt.Fprintf(&b, " x%d · %s", o.Quantity, statusLabel(o.Status))
	}
	return b.String()
}

// recapReply renders the group recap for /recap.
func (s *IngestService) recapReply(ctx context.Context) string {
	if s.Recap == nil {
		return "Le récapitulatif n'est pas disponible."
	}
	text, err := s.Recap.Text(ctx)
	if err != nil {
		s.Log.Error().Err(err).Msg("recap render failed")
		return "❌ Impossible de générer le récapitulatif pour le moment."
	}
	return text
}

func (s *IngestService) nowFn() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// NormalizeSender strips transport prefixes ("whatsapp:") and whitespace
// from a raw sender identifier so the same person always maps to one user id.
func NormalizeSender(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "whatsapp:")
	return strings.TrimSpace(s)
}

// statusEmoji maps a lifecycle status to its reply marker.
func statusEmoji(st domain.OrderStatus) string {
	switch st {
	case domain.StatusInCart, domain.StatusReported:
		return "✅"
	case domain.StatusFailed, domain.StatusRetrying:
		return "🔄"
	case domain.StatusExhausted, domain.StatusRejected:
		return "❌"
	default:
		return "⏳"
	}
}

// statusLabel maps a lifecycle status to its French label.
func statusLabel(st domain.OrderStatus) string {
	switch st {
	case domain.StatusReceived, domain.StatusExtracted, domain.StatusValidated:
		return "en traitement"
	case domain.StatusQueued:
		return "en file d'attente"
	case domain.StatusInCart:
		return "dans le panier"
	case domain.StatusFailed:
		return "échec, nouvel essai prévu"
	case domain.StatusRetrying:
		return "nouvel essai programmé"
	case domain.StatusExhausted:
		return "abandonnée"
	case domain.StatusRejected:
		return "annulée"
	case domain.StatusReported:
		return "récapitulée"
	default:
		return string(st)
	}
}

const helpText = `👋 Bienvenue sur le bot de commandes groupées !

Pour commander, envoyez le lien du produit avec les détails :

https://www.shein.com/fr/...
Taille M - Couleur Rouge - Quantité 2

Commandes disponibles :
/statut — voir vos commandes
/recap — récapitulatif du groupe
/aide — afficher cette aide`
