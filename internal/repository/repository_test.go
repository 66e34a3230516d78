package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Dan9191/card-service/internal/apperrors"
	"github.com/Dan9191/card-service/internal/database"
	"github.com/Dan9191/card-service/internal/models"
)

// newTestRepository connects to TEST_DB_CONN; the test is skipped when it is not set.
func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("TEST_DB_CONN")
	if dsn == "" {
		t.Skip("TEST_DB_CONN not set")
	}
	db, err := database.Connect(database.Config{DSN: dsn, MaxConns: 5})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return NewRepository(db, 200*time.Millisecond)
}

func TestRepositoryTransferRoundTrip(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	suffix := uuid.NewString()[:8]

	owner := models.User{
		Username: "it-" + suffix, Email: "it-" + suffix + "@example.com", PasswordHash: "x",
		Role: models.RoleUser, Enabled: true, CreatedAt: now,
	}
	if err := r.CreateUser(ctx, &owner); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	t.Cleanup(func() { _ = r.DeleteUser(context.Background(), owner.ID) })

	var conflict *apperrors.ConflictError
	dup := owner
	if err := r.CreateUser(ctx, &dup); !errors.As(err, &conflict) {
		t.Errorf("duplicate user err = %v, want ConflictError", err)
	}

	newCard := func(balance string) models.Card {
		c := models.Card{
			EncryptedNumber: "enc", MaskedNumber: "**** **** **** 1234", OwnerID: owner.ID,
			CardholderName: "IT", ExpiryDate: now.AddDate(1, 0, 0), Status: models.CardStatusActive,
			Balance: decimal.RequireFromString(balance), CreatedAt: now, UpdatedAt: now,
		}
		if err := r.CreateCard(ctx, &c); err != nil {
			t.Fatalf("CreateCard: %v", err)
		}
		return c
	}
	a, b := newCard("100.00"), newCard("0.00")

	err := r.WithCardsLocked(ctx, []int64{b.ID, a.ID}, func(tx CardTx) error {
		from, err := tx.Card(a.ID)
		if err != nil {
			return err
		}
		to, err := tx.Card(b.ID)
		if err != nil {
			return err
		}
		amount := decimal.RequireFromString("40.50")
		from.Balance = from.Balance.Sub(amount)
		to.Balance = to.Balance.Add(amount)
		if err := tx.SaveCard(from); err != nil {
			return err
		}
		if err := tx.SaveCard(to); err != nil {
			return err
		}
		return tx.RecordTransfer(models.Transfer{ID: uuid.New(), OwnerID: owner.ID, FromCardID: a.ID, ToCardID: b.ID, Amount: amount, CreatedAt: now})
	})
	if err != nil {
		t.Fatalf("WithCardsLocked: %v", err)
	}

	gotA, _ := r.FindCardByID(ctx, a.ID)
	gotB, _ := r.FindCardByIDAndOwner(ctx, b.ID, owner.ID)
	if gotA.Balance.StringFixed(2) != "59.50" || gotB.Balance.StringFixed(2) != "40.50" {
		t.Errorf("balances = %s / %s", gotA.Balance, gotB.Balance)
	}
	if transfers, _ := r.ListTransfersByCard(ctx, b.ID); len(transfers) != 1 {
		t.Errorf("journal rows = %d, want 1", len(transfers))
	}
	if _, err := r.FindCardByIDAndOwner(ctx, a.ID, owner.ID+1_000_000); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign owner lookup err = %v", err)
	}
}

func TestRepositoryLockTimeout(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	suffix := uuid.NewString()[:8]

	owner := models.User{Username: "lt-" + suffix, Email: fmt.Sprintf("lt-%s@example.com", suffix), PasswordHash: "x", Role: models.RoleUser, Enabled: true, CreatedAt: now}
	if err := r.CreateUser(ctx, &owner); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.DeleteUser(context.Background(), owner.ID) })
	card := models.Card{EncryptedNumber: "e", MaskedNumber: "**** **** **** 0000", OwnerID: owner.ID, CardholderName: "LT",
		ExpiryDate: now.AddDate(1, 0, 0), Status: models.CardStatusActive, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	if err := r.CreateCard(ctx, &card); err != nil {
		t.Fatal(err)
	}

	held := make(chan struct{})
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = r.WithCardsLocked(ctx, []int64{card.ID}, func(tx CardTx) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := r.WithCardsLocked(ctx, []int64{card.ID}, func(tx CardTx) error { return nil })
	close(done)
	wg.Wait()

	var ce *apperrors.ContentionTimeoutError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ContentionTimeoutError", err)
	}
}
