// Package recap builds the group-order summary: who ordered what, grouped
// per user and per product, with exact money totals. A snapshot is computed
// inside a single read transaction so the per-user and per-product views
// always describe the same set of orders, even while the executor keeps
// moving state underneath.
//
// Monetary arithmetic uses shopspring/decimal throughout; totals are sums of
// observed prices times quantities, never floats.
package recap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/adiouf/go-cart-backend/internal/domain"
	"github.com/adiouf/go-cart-backend/internal/repo"
)

// UserRecap groups one user's recap lines.
type UserRecap struct {
	UserID      string          `json:"user_id"`
	DisplayName string          `json:"display_name,omitempty"`
	Orders      []domain.Order  `json:"orders"`
	Quantity    int             `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	// Priced is false when at least one order has no observed price, which
	// makes Subtotal a lower bound.
	Priced bool `json:"priced"`
}

// VariantCount is one (size, color) line under a product.
type VariantCount struct {
	Size     string `json:"size,omitempty"`
	Color    string `json:"color,omitempty"`
	Quantity int    `json:"quantity"`
}

// ProductRecap groups recap lines by product URL for bulk checkout.
type ProductRecap struct {
	ProductURL string         `json:"product_url"`
	Quantity   int            `json:"quantity"`
	Variants   []VariantCount `json:"variants"`
}

// Snapshot is one consistent view of the group order.
type Snapshot struct {
	GeneratedAt  time.Time            `json:"generated_at"`
	Statuses     []domain.OrderStatus `json:"statuses"`
	Users        []UserRecap          `json:"users"`
	Products     []ProductRecap       `json:"products"`
	StatusCounts []domain.StatusCount `json:"status_counts"`
	TotalOrders  int                  `json:"total_orders"`
	TotalItems   int                  `json:"total_items"`
	Total        decimal.Decimal      `json:"total"`
	// Priced is false when any included order lacks an observed price.
	Priced bool `json:"priced"`

	orderIDs []string
}

// Aggregator computes recap snapshots.
type Aggregator struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Log is the aggregator logger.
	Log zerolog.Logger
	// Statuses are the lifecycle states a recap includes. Defaults to
	// InCart plus Reported, the orders that actually made it to the cart.
	Statuses []domain.OrderStatus
}

func (a *Aggregator) statuses() []domain.OrderStatus {
	if len(a.Statuses) > 0 {
		return a.Statuses
	}
	return []domain.OrderStatus{domain.StatusInCart, domain.StatusReported}
}

// Build computes a snapshot in one read transaction. Both groupings come
// from the same order list, so their totals always agree.
func (a *Aggregator) Build(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		GeneratedAt: time.Now().UTC(),
		Statuses:    a.statuses(),
		Total:       decimal.Zero,
		Priced:      true,
	}

	err := a.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orders, err := repo.OrdersForRecap(ctx, tx, snap.Statuses, time.Time{})
		if err != nil {
			return fmt.Errorf("load recap orders: %w", err)
		}
		counts, err := repo.OrderStatusCounts(ctx, tx)
		if err != nil {
			return fmt.Errorf("status counts: %w", err)
		}
		snap.StatusCounts = counts
		a.group(snap, orders)

		ids := make([]string, 0, len(snap.Users))
		for i := range snap.Users {
			ids = append(ids, snap.Users[i].UserID)
		}
		users, err := repo.ListUsersByID(ctx, tx, ids)
		if err != nil {
			return fmt.Errorf("load users: %w", err)
		}
		names := make(map[string]string, len(users))
		for i := range users {
			names[users[i].ID] = users[i].DisplayName
		}
		for i := range snap.Users {
			snap.Users[i].DisplayName = names[snap.Users[i].UserID]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// group fills the per-user and per-product views from one order list.
func (a *Aggregator) group(snap *Snapshot, orders []domain.Order) {
	byUser := map[string]*UserRecap{}
	byProduct := map[string]*ProductRecap{}

	for i := range orders {
		o := orders[i]
		snap.TotalOrders++
		snap.TotalItems += o.Quantity
		snap.orderIDs = append(snap.orderIDs, o.ID)

		u := byUser[o.UserID]
		if u == nil {
			u = &UserRecap{UserID: o.UserID, Subtotal: decimal.Zero, Priced: true}
			byUser[o.UserID] = u
		}
		u.Orders = append(u.Orders, o)
		u.Quantity += o.Quantity
		if o.EstimatedPrice != nil {
			line := o.EstimatedPrice.Mul(decimal.NewFromInt(int64(o.Quantity)))
			u.Subtotal = u.Subtotal.Add(line)
			snap.Total = snap.Total.Add(line)
		} else {
			u.Priced = false
			snap.Priced = false
		}

		p := byProduct[o.ProductURL]
		if p == nil {
			p = &ProductRecap{ProductURL: o.ProductURL}
			byProduct[o.ProductURL] = p
		}
		p.Quantity += o.Quantity
		merged := false
		for j := range p.Variants {
			if p.Variants[j].Size == o.Size && p.Variants[j].Color == o.Color {
				p.Variants[j].Quantity += o.Quantity
				merged = true
				break
			}
		}
		if !merged {
			p.Variants = append(p.Variants, VariantCount{Size: o.Size, Color: o.Color, Quantity: o.Quantity})
		}
	}

	for _, u := range byUser {
		snap.Users = append(snap.Users, *u)
	}
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].UserID < snap.Users[j].UserID })

	for _, p := range byProduct {
		snap.Products = append(snap.Products, *p)
	}
	sort.Slice(snap.Products, func(i, j int) bool { return snap.Products[i].ProductURL < snap.Products[j].ProductURL })
}

// Text renders the snapshot as the French group message the /recap command
// sends back.
func (a *Aggregator) Text(ctx context.Context) (string, error) {
	snap, err := a.Build(ctx)
	if err != nil {
		return "", err
	}
	return snap.Render(), nil
}

// Render produces the user-facing recap text.
func (s *Snapshot) Render() string {
	if s.TotalOrders == 0 {
		return "🛒 Récapitulatif du groupe\n\nAucun article dans le panier pour le moment."
	}

	var b strings.Builder
	b.WriteString("🛒 Récapitulatif du groupe\n")
	fmt.Fprintf(&b, "%d article(s) dans le panier pour %d commande(s)\n", s.TotalItems, s.TotalOrders)

	for i := range s.Users {
		u := &s.Users[i]
		name := u.DisplayName
		if name == "" {
			name = u.UserID
		}
		fmt.Fprintf(&b, "\n👤 %s — %d article(s)", name, u.Quantity)
		if u.Priced {
			fmt.Fprintf(&b, " — %s €", u.Subtotal.StringFixed(2))
		}
		for j := range u.Orders {
			o := &u.Orders[j]
			fmt.Fprintf(&b, "\n  • %s", shortRef(o.ID))
			if v := o.Variant(); v != "" {
				fmt.Fprintf(&b, " %s", v)
			}
			fmt.Fprintf(&b, " x%d", o.Quantity)
		}
	}

	b.WriteString("\n\n💰 Total estimé : ")
	if s.Priced {
		fmt.Fprintf(&b, "%s €", s.Total.StringFixed(2))
	} else {
		fmt.Fprintf(&b, "au moins %s € (certains prix inconnus)", s.Total.StringFixed(2))
	}
	return b.String()
}

// Finalize marks the snapshot's InCart orders as Reported. Orders that moved
// since the snapshot are skipped; the returned count is how many actually
// transitioned.
func (a *Aggregator) Finalize(ctx context.Context, snap *Snapshot) (int, error) {
	n := 0
	for _, id := range snap.orderIDs {
		err := repo.UpdateOrderStatusCAS(ctx, a.DB, id, domain.StatusInCart, domain.StatusReported, nil)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return n, fmt.Errorf("finalize %s: %w", id, err)
		}
		n++
	}
	a.Log.Info().Int("count", n).Msg("recap finalized")
	return n, nil
}

// shortRef renders the first UUID group for display.
func shortRef(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
