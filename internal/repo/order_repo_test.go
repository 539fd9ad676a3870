package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/adiouf/go-cart-backend/internal/domain"
)

func newOrderRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("order_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedOrder(t *testing.T, db *gorm.DB, userID string, status domain.OrderStatus, mutate ...func(*domain.Order)) *domain.Order {
	t.Helper()
	o := &domain.Order{
		UserID:     userID,
		ProductURL: "https://www.shein.com/fr/robe-123.html",
		Size:       "M",
		Color:      "Rouge",
		Quantity:   1,
		Status:     status,
	}
	for _, m := range mutate {
		m(o)
	}
	created, err := CreateOrder(context.Background(), db, o)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return created
}

func TestCreateOrder_AssignsIDAndTimestamps(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})

	o := seedOrder(t, db, "u1", domain.StatusReceived)
	if o.ID == "" {
		t.Fatal("expected generated id")
	}
	if o.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set")
	}

	got, err := GetOrder(context.Background(), db, o.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.UserID != "u1" || got.Status != domain.StatusReceived {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	if _, err := GetOrder(context.Background(), db, "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateOrderStatusCAS_MovesAndUpdatesColumns(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	o := seedOrder(t, db, "u1", domain.StatusQueued)

	err := UpdateOrderStatusCAS(context.Background(), db, o.ID, domain.StatusQueued, domain.StatusFailed, map[string]any{
		"attempt_count": 1,
		"last_error":    "timeout",
	})
	if err != nil {
		t.Fatalf("CAS: %v", err)
	}

	got, _ := GetOrder(context.Background(), db, o.ID)
	if got.Status != domain.StatusFailed || got.AttemptCount != 1 || got.LastError != "timeout" {
		t.Fatalf("unexpected order after CAS: %+v", got)
	}
}

func TestUpdateOrderStatusCAS_LosesWhenStateMoved(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	o := seedOrder(t, db, "u1", domain.StatusInCart)

	err := UpdateOrderStatusCAS(context.Background(), db, o.ID, domain.StatusQueued, domain.StatusInCart, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on lost CAS, got %v", err)
	}

	// State untouched.
	got, _ := GetOrder(context.Background(), db, o.ID)
	if got.Status != domain.StatusInCart {
		t.Fatalf("status should be unchanged, got %s", got.Status)
	}
}

func TestListQueued_FIFOAndDueFilter(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	now := time.Now().UTC()

	first := seedOrder(t, db, "u1", domain.StatusQueued, func(o *domain.Order) { o.CreatedAt = now.Add(-3 * time.Minute) })
	second := seedOrder(t, db, "u2", domain.StatusQueued, func(o *domain.Order) { o.CreatedAt = now.Add(-2 * time.Minute) })
	// Not yet due.
	future := now.Add(10 * time.Minute)
	seedOrder(t, db, "u3", domain.StatusQueued, func(o *domain.Order) {
		o.CreatedAt = now.Add(-time.Minute)
		o.NextAttemptAt = &future
	})
	// Different status.
	seedOrder(t, db, "u4", domain.StatusInCart)

	got, err := ListQueued(context.Background(), db, now)
	if err != nil {
		t.Fatalf("ListQueued: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 due orders, got %d", len(got))
	}
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Fatalf("expected FIFO order [%s %s], got [%s %s]", first.ID, second.ID, got[0].ID, got[1].ID)
	}
}

func TestListDueRetries(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	due := seedOrder(t, db, "u1", domain.StatusRetrying, func(o *domain.Order) { o.NextAttemptAt = &past })
	seedOrder(t, db, "u2", domain.StatusRetrying, func(o *domain.Order) { o.NextAttemptAt = &future })

	got, err := ListDueRetries(context.Background(), db, now)
	if err != nil {
		t.Fatalf("ListDueRetries: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("expected only the due retry, got %+v", got)
	}
}

func TestCountOpenOrders_IgnoresClosedStates(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})

	seedOrder(t, db, "u1", domain.StatusQueued)
	seedOrder(t, db, "u1", domain.StatusRetrying)
	seedOrder(t, db, "u1", domain.StatusInCart)
	seedOrder(t, db, "u1", domain.StatusRejected)
	seedOrder(t, db, "u1", domain.StatusExhausted)
	seedOrder(t, db, "u2", domain.StatusQueued)

	n, err := CountOpenOrders(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("CountOpenOrders: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 open orders for u1, got %d", n)
	}
}

func TestCountOrdersSince_RollingWindow(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	now := time.Now().UTC()

	seedOrder(t, db, "u1", domain.StatusQueued, func(o *domain.Order) { o.CreatedAt = now.Add(-25 * time.Hour) })
	seedOrder(t, db, "u1", domain.StatusRejected, func(o *domain.Order) { o.CreatedAt = now.Add(-time.Hour) })
	seedOrder(t, db, "u1", domain.StatusQueued, func(o *domain.Order) { o.CreatedAt = now.Add(-time.Minute) })

	n, err := CountOrdersSince(context.Background(), db, "u1", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CountOrdersSince: %v", err)
	}
	// Rejected orders still count against the daily admission window.
	if n != 2 {
		t.Fatalf("expected 2 orders in window, got %d", n)
	}
}

func TestFindDuplicate_MatchesVariantKeyInsideWindow(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	now := time.Now().UTC()
	since := now.Add(-24 * time.Hour)

	orig := seedOrder(t, db, "u1", domain.StatusInCart)

	dup, err := FindDuplicate(context.Background(), db, "u1", orig.ProductURL, "M", "Rouge", since)
	if err != nil {
		t.Fatalf("FindDuplicate: %v", err)
	}
	if dup.ID != orig.ID {
		t.Fatalf("expected duplicate %s, got %s", orig.ID, dup.ID)
	}

	// A different size is a different article.
	if _, err := FindDuplicate(context.Background(), db, "u1", orig.ProductURL, "L", "Rouge", since); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no duplicate for size L, got %v", err)
	}
	// Another user is never a duplicate.
	if _, err := FindDuplicate(context.Background(), db, "u2", orig.ProductURL, "M", "Rouge", since); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no duplicate for u2, got %v", err)
	}
}

func TestFindDuplicate_TerminalFailuresDoNotBlock(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	now := time.Now().UTC()
	since := now.Add(-24 * time.Hour)

	rejected := seedOrder(t, db, "u1", domain.StatusRejected)
	seedOrder(t, db, "u1", domain.StatusExhausted, func(o *domain.Order) { o.ProductURL = rejected.ProductURL })

	if _, err := FindDuplicate(context.Background(), db, "u1", rejected.ProductURL, "M", "Rouge", since); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rejected/exhausted orders must not block re-submission, got %v", err)
	}
}

func TestFindDuplicate_OutsideWindow(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	now := time.Now().UTC()

	old := seedOrder(t, db, "u1", domain.StatusInCart, func(o *domain.Order) { o.CreatedAt = now.Add(-48 * time.Hour) })

	if _, err := FindDuplicate(context.Background(), db, "u1", old.ProductURL, "M", "Rouge", now.Add(-24*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old order to fall outside dedup window, got %v", err)
	}
}

func TestListOrdersByUser_Pagination(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		created := now.Add(time.Duration(i) * time.Minute)
		seedOrder(t, db, "u1", domain.StatusQueued, func(o *domain.Order) { o.CreatedAt = created })
	}
	seedOrder(t, db, "u2", domain.StatusQueued)

	total, err := CountOrdersByUser(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("CountOrdersByUser: %v", err)
	}
	if total != 5 {
		t.Fatalf("expected 5 orders, got %d", total)
	}

	page, err := ListOrdersByUser(context.Background(), db, "u1", 0, 2)
	if err != nil {
		t.Fatalf("ListOrdersByUser: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}
	if page[0].CreatedAt.Before(page[1].CreatedAt) {
		t.Fatal("expected newest-first ordering")
	}
}
