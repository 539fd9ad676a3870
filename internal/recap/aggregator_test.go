package recap

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/adiouf/go-cart-backend/internal/domain"
	"github.com/adiouf/go-cart-backend/internal/repo"
)

func newRecapDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("recap_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.User{}, &domain.Order{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func seedRecapOrder(t *testing.T, db *gorm.DB, userID, url, size, color string, qty int, st domain.OrderStatus, p *decimal.Decimal) *domain.Order {
	t.Helper()
	o, err := repo.CreateOrder(context.Background(), db, &domain.Order{
		UserID:     userID,
		ProductURL: url,
		Size:       size,
		Color:      color,
		Quantity:   qty,
		RawText:    "seed",
		Status:     st,
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if p != nil {
		if err := db.Model(&domain.Order{}).Where("id = ?", o.ID).
			Update("estimated_price", p).Error; err != nil {
			t.Fatalf("set price: %v", err)
		}
		o.EstimatedPrice = p
	}
	return o
}

func seedUser(t *testing.T, db *gorm.DB, id, name string) {
	t.Helper()
	if _, err := repo.EnsureUser(context.Background(), db, id, name); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestBuild_GroupsAndTotals(t *testing.T) {
	db := newRecapDB(t)
	a := &Aggregator{DB: db, Log: zerolog.Nop()}

	seedUser(t, db, "u1", "Awa")
	seedUser(t, db, "u2", "Binta")
	urlA := "https://www.shein.com/fr/robe-p-1.html"
	urlB := "https://www.shein.com/fr/jupe-p-2.html"

	seedRecapOrder(t, db, "u1", urlA, "M", "Rouge", 2, domain.StatusInCart, price("10.50"))
	seedRecapOrder(t, db, "u1", urlB, "S", "", 1, domain.StatusInCart, price("8.00"))
	seedRecapOrder(t, db, "u2", urlA, "M", "Rouge", 1, domain.StatusReported, price("10.50"))
	// Still queued: excluded from the recap.
	seedRecapOrder(t, db, "u2", urlB, "L", "", 5, domain.StatusQueued, nil)

	snap, err := a.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if snap.TotalOrders != 3 || snap.TotalItems != 4 {
		t.Fatalf("totals: orders=%d items=%d", snap.TotalOrders, snap.TotalItems)
	}
	if !snap.Priced {
		t.Fatal("all included orders are priced")
	}
	// 2*10.50 + 1*8.00 + 1*10.50 = 39.50
	if snap.Total.StringFixed(2) != "39.50" {
		t.Fatalf("total: %s", snap.Total.StringFixed(2))
	}

	if len(snap.Users) != 2 {
		t.Fatalf("users: %d", len(snap.Users))
	}
	u1 := snap.Users[0]
	if u1.UserID != "u1" || u1.DisplayName != "Awa" {
		t.Fatalf("user order/names: %+v", u1)
	}
	if u1.Quantity != 3 || u1.Subtotal.StringFixed(2) != "29.00" {
		t.Fatalf("u1 subtotal: qty=%d subtotal=%s", u1.Quantity, u1.Subtotal.StringFixed(2))
	}

	if len(snap.Products) != 2 {
		t.Fatalf("products: %d", len(snap.Products))
	}
	// urlB sorts before urlA ("jupe" < "robe").
	if snap.Products[0].ProductURL != urlB || snap.Products[1].ProductURL != urlA {
		t.Fatalf("product order: %s, %s", snap.Products[0].ProductURL, snap.Products[1].ProductURL)
	}
	robe := snap.Products[1]
	if robe.Quantity != 3 || len(robe.Variants) != 1 || robe.Variants[0].Quantity != 3 {
		t.Fatalf("variant merge: %+v", robe)
	}

	if len(snap.StatusCounts) == 0 {
		t.Fatal("expected status counts")
	}
}

func TestBuild_UnpricedOrderLowersBound(t *testing.T) {
	db := newRecapDB(t)
	a := &Aggregator{DB: db, Log: zerolog.Nop()}

	seedRecapOrder(t, db, "u1", "https://www.shein.com/fr/a.html", "M", "", 1, domain.StatusInCart, price("5.00"))
	seedRecapOrder(t, db, "u1", "https://www.shein.com/fr/b.html", "M", "", 1, domain.StatusInCart, nil)

	snap, err := a.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if snap.Priced {
		t.Fatal("unpriced order must clear Priced")
	}
	if snap.Total.StringFixed(2) != "5.00" {
		t.Fatalf("total must sum known prices only: %s", snap.Total.StringFixed(2))
	}

	text := snap.Render()
	if !strings.Contains(text, "au moins 5.00 € (certains prix inconnus)") {
		t.Fatalf("render must flag the lower bound: %q", text)
	}
}

func TestRender_French(t *testing.T) {
	db := newRecapDB(t)
	a := &Aggregator{DB: db, Log: zerolog.Nop()}

	seedUser(t, db, "u1", "Awa")
	seedRecapOrder(t, db, "u1", "https://www.shein.com/fr/a.html", "M", "Rouge", 2, domain.StatusInCart, price("10.00"))

	text, err := a.Text(context.Background())
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	for _, want := range []string{
		"🛒 Récapitulatif du groupe",
		"2 article(s) dans le panier pour 1 commande(s)",
		"👤 Awa",
		"x2",
		"💰 Total estimé : 20.00 €",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
}

func TestRender_Empty(t *testing.T) {
	snap := &Snapshot{}
	if !strings.Contains(snap.Render(), "Aucun article dans le panier") {
		t.Fatalf("empty render: %q", snap.Render())
	}
}

func TestFinalize_MarksReportedAndSkipsMoved(t *testing.T) {
	db := newRecapDB(t)
	a := &Aggregator{DB: db, Log: zerolog.Nop()}

	o1 := seedRecapOrder(t, db, "u1", "https://www.shein.com/fr/a.html", "M", "", 1, domain.StatusInCart, nil)
	o2 := seedRecapOrder(t, db, "u1", "https://www.shein.com/fr/b.html", "M", "", 1, domain.StatusInCart, nil)
	already := seedRecapOrder(t, db, "u1", "https://www.shein.com/fr/c.html", "M", "", 1, domain.StatusReported, nil)

	snap, err := a.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if snap.TotalOrders != 3 {
		t.Fatalf("expected 3 orders in snapshot, got %d", snap.TotalOrders)
	}

	// A concurrent finalize moves one order between snapshot and finalize.
	if err := repo.UpdateOrderStatusCAS(context.Background(), db, o2.ID, domain.StatusInCart, domain.StatusReported, nil); err != nil {
		t.Fatalf("move order: %v", err)
	}

	n, err := a.Finalize(context.Background(), snap)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	// o1 transitions; o2 moved; `already` is not InCart anymore either.
	if n != 1 {
		t.Fatalf("expected 1 finalized, got %d", n)
	}

	got, err := repo.GetOrder(context.Background(), db, o1.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != domain.StatusReported {
		t.Fatalf("expected reported, got %s", got.Status)
	}
	got, _ = repo.GetOrder(context.Background(), db, already.ID)
	if got.Status != domain.StatusReported {
		t.Fatalf("already-reported order must stay reported, got %s", got.Status)
	}
}
