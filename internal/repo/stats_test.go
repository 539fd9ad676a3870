package repo

import (
	"context"
	"testing"
	"time"

	"github.com/adiouf/go-cart-backend/internal/domain"
)

func TestOrderStatusCounts(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})

	seedOrder(t, db, "u1", domain.StatusQueued)
	seedOrder(t, db, "u1", domain.StatusQueued)
	seedOrder(t, db, "u2", domain.StatusInCart)

	counts, err := OrderStatusCounts(context.Background(), db)
	if err != nil {
		t.Fatalf("OrderStatusCounts: %v", err)
	}
	got := map[domain.OrderStatus]int64{}
	for _, c := range counts {
		got[c.Status] = c.Count
	}
	if got[domain.StatusQueued] != 2 || got[domain.StatusInCart] != 1 {
		t.Fatalf("unexpected counts: %v", got)
	}
}

func TestCountUsers_SkipsArchived(t *testing.T) {
	db := newOrderRepoDB(t, &domain.User{})

	for _, id := range []string{"u1", "u2"} {
		if _, err := EnsureUser(context.Background(), db, id, ""); err != nil {
			t.Fatalf("EnsureUser: %v", err)
		}
	}
	if err := ArchiveUser(context.Background(), db, "u2"); err != nil {
		t.Fatalf("ArchiveUser: %v", err)
	}

	n, err := CountUsers(context.Background(), db)
	if err != nil {
		t.Fatalf("CountUsers: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 active user, got %d", n)
	}
}

func TestOrdersForRecap_FiltersStatusAndTime(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	now := time.Now().UTC()

	inCart := seedOrder(t, db, "u1", domain.StatusInCart, func(o *domain.Order) { o.CreatedAt = now.Add(-time.Hour) })
	seedOrder(t, db, "u1", domain.StatusQueued)
	seedOrder(t, db, "u2", domain.StatusInCart, func(o *domain.Order) { o.CreatedAt = now.Add(-48 * time.Hour) })

	got, err := OrdersForRecap(context.Background(), db, []domain.OrderStatus{domain.StatusInCart}, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("OrdersForRecap: %v", err)
	}
	if len(got) != 1 || got[0].ID != inCart.ID {
		t.Fatalf("expected only the recent in-cart order, got %+v", got)
	}

	// Zero since means no lower bound.
	all, err := OrdersForRecap(context.Background(), db, []domain.OrderStatus{domain.StatusInCart}, time.Time{})
	if err != nil {
		t.Fatalf("OrdersForRecap: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 in-cart orders without time bound, got %d", len(all))
	}
}
