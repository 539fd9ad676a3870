package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adiouf/go-cart-backend/internal/domain"
)

func TestCreateReceipt_ThenGet(t *testing.T) {
	db := newOrderRepoDB(t, &domain.InboundReceipt{})

	rec, err := CreateReceipt(context.Background(), db, "SM1", "u1", "✅ Commande enregistrée !", time.Hour)
	if err != nil {
		t.Fatalf("CreateReceipt: %v", err)
	}
	if rec.ID == "" || rec.ExpiresAt.Before(rec.CreatedAt) {
		t.Fatalf("unexpected receipt: %+v", rec)
	}

	got, err := GetReceipt(context.Background(), db, "SM1", time.Now())
	if err != nil {
		t.Fatalf("GetReceipt: %v", err)
	}
	if got.Reply != "✅ Commande enregistrée !" || got.UserID != "u1" {
		t.Fatalf("unexpected receipt: %+v", got)
	}
}

func TestCreateReceipt_DuplicateMessageID(t *testing.T) {
	db := newOrderRepoDB(t, &domain.InboundReceipt{})

	if _, err := CreateReceipt(context.Background(), db, "SM1", "u1", "a", time.Hour); err != nil {
		t.Fatalf("first CreateReceipt: %v", err)
	}
	if _, err := CreateReceipt(context.Background(), db, "SM1", "u1", "b", time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestGetReceipt_ExpiredIsMiss(t *testing.T) {
	db := newOrderRepoDB(t, &domain.InboundReceipt{})

	if _, err := CreateReceipt(context.Background(), db, "SM1", "u1", "a", time.Millisecond); err != nil {
		t.Fatalf("CreateReceipt: %v", err)
	}
	if _, err := GetReceipt(context.Background(), db, "SM1", time.Now().Add(time.Second)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired receipt to be a miss, got %v", err)
	}
}

func TestGetReceipt_BlankID(t *testing.T) {
	db := newOrderRepoDB(t, &domain.InboundReceipt{})
	if _, err := GetReceipt(context.Background(), db, "  ", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected blank id to be a miss, got %v", err)
	}
}

func TestPurgeExpiredReceipts(t *testing.T) {
	db := newOrderRepoDB(t, &domain.InboundReceipt{})

	if _, err := CreateReceipt(context.Background(), db, "old", "u1", "a", time.Millisecond); err != nil {
		t.Fatalf("CreateReceipt: %v", err)
	}
	if _, err := CreateReceipt(context.Background(), db, "fresh", "u1", "b", time.Hour); err != nil {
		t.Fatalf("CreateReceipt: %v", err)
	}

	n, err := PurgeExpiredReceipts(context.Background(), db, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("PurgeExpiredReceipts: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged receipt, got %d", n)
	}
	if _, err := GetReceipt(context.Background(), db, "fresh", time.Now()); err != nil {
		t.Fatalf("fresh receipt should survive purge: %v", err)
	}
}
