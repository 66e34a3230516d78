package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Dan9191/card-service/internal/apperrors"
	"github.com/Dan9191/card-service/internal/models"
)

func TestCreateCard(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, f.owner.ID, "4111 1111 1111 1234", "150.50", today.AddDate(2, 0, 0))

	if card.ID == 0 {
		t.Fatal("card ID was not assigned")
	}
	if card.Status != models.CardStatusActive {
		t.Errorf("Status = %s, want ACTIVE", card.Status)
	}
	if card.MaskedNumber != "**** **** **** 1234" {
		t.Errorf("MaskedNumber = %q", card.MaskedNumber)
	}
	if card.EncryptedNumber == "" || strings.Contains(card.EncryptedNumber, "4111111111111234") {
		t.Errorf("EncryptedNumber = %q, want ciphertext", card.EncryptedNumber)
	}
	if !card.Balance.Equal(money("150.50")) {
		t.Errorf("Balance = %s", card.Balance)
	}
	if !card.CreatedAt.Equal(today) || !card.UpdatedAt.Equal(today) {
		t.Errorf("timestamps = %v / %v, want %v", card.CreatedAt, card.UpdatedAt, today)
	}
}

func TestCreateCardPastExpiryThenActivate(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, f.owner.ID, "4111111111111111", "0", today.AddDate(0, 0, -1))
	if card.Status != models.CardStatusExpired {
		t.Fatalf("Status = %s, want EXPIRED", card.Status)
	}

	_, err := f.cards.SetStatus(context.Background(), card.ID, models.CardStatusActive)
	var invalid *apperrors.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
	if got := f.stored(t, card.ID).Status; got != models.CardStatusExpired {
		t.Errorf("stored status = %s, want EXPIRED", got)
	}
}

func TestCreateCardValidation(t *testing.T) {
	f := newFixture(t)
	valid := CreateCardInput{
		OwnerID:        f.owner.ID,
		CardNumber:     "4111111111111111",
		CardholderName: "Alice Example",
		ExpiryDate:     today.AddDate(1, 0, 0),
		InitialBalance: money("10"),
	}
	tests := []struct {
		name  string
		edit  func(in *CreateCardInput)
		field string
	}{
		{"short number", func(in *CreateCardInput) { in.CardNumber = "4111" }, "cardNumber"},
		{"letters in number", func(in *CreateCardInput) { in.CardNumber = "4111abcd11111111" }, "cardNumber"},
		{"blank name", func(in *CreateCardInput) { in.CardholderName = "  " }, "cardholderName"},
		{"no expiry", func(in *CreateCardInput) { in.ExpiryDate = time.Time{} }, "expiryDate"},
		{"negative balance", func(in *CreateCardInput) { in.InitialBalance = money("-0.01") }, "initialBalance"},
		{"three decimals", func(in *CreateCardInput) { in.InitialBalance = money("1.005") }, "initialBalance"},
		{"no owner", func(in *CreateCardInput) { in.OwnerID = 0 }, "ownerId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.edit(&in)
			_, err := f.cards.CreateCard(context.Background(), in)
			var ve *apperrors.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}

	cards, _ := f.store.ListCards(context.Background(), models.CardFilter{})
	if len(cards) != 0 {
		t.Errorf("validation failures stored %d cards", len(cards))
	}
}

func TestCreateCardUnknownOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.cards.CreateCard(context.Background(), CreateCardInput{
		OwnerID:        999,
		CardNumber:     "4111111111111111",
		CardholderName: "Nobody",
		ExpiryDate:     today.AddDate(1, 0, 0),
	})
	var missing *apperrors.OwnerNotFoundError
	if !errors.As(err, &missing) || missing.OwnerID != 999 {
		t.Fatalf("err = %v, want OwnerNotFoundError for 999", err)
	}
}

func TestGetOwnerCardScoping(t *testing.T) {
	f := newFixture(t)
	bob := f.addUser(t, "bob")
	card := f.addCard(t, f.owner.ID, "4111111111111111", "5", today.AddDate(1, 0, 0))

	if _, err := f.cards.GetOwnerCard(context.Background(), card.ID, f.owner.ID); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	_, err := f.cards.GetOwnerCard(context.Background(), card.ID, bob.ID)
	var missing *apperrors.CardNotFoundError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want CardNotFoundError", err)
	}
}

func TestReadSyncsExpiryOnce(t *testing.T) {
	f := newFixture(t)
	counting := &countingStore{MemoryStore: f.store}
	svc := NewCardService(counting, f.store, nil, f.clock, f.log)

	card := f.addCard(t, f.owner.ID, "4111111111111111", "5", today.AddDate(0, 0, 3))
	f.clock.Advance(5 * 24 * time.Hour)

	first, err := svc.GetCard(context.Background(), card.ID)
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if first.Status != models.CardStatusExpired {
		t.Fatalf("Status = %s, want EXPIRED", first.Status)
	}
	if counting.saves != 1 {
		t.Fatalf("saves after first read = %d, want 1", counting.saves)
	}

	second, err := svc.GetCard(context.Background(), card.ID)
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if second.Status != first.Status || !second.UpdatedAt.Equal(first.UpdatedAt) || !second.Balance.Equal(first.Balance) {
		t.Errorf("second read = %+v, want %+v", second, first)
	}
	if counting.saves != 1 || counting.locks != 1 {
		t.Errorf("second read wrote: saves=%d locks=%d", counting.saves, counting.locks)
	}
}

func TestListCardsSyncsAndFilters(t *testing.T) {
	f := newFixture(t)
	short := f.addCard(t, f.owner.ID, "4111111111111111", "1", today.AddDate(0, 0, 1))
	long := f.addCard(t, f.owner.ID, "4111111111112222", "1", today.AddDate(1, 0, 0))
	f.clock.Advance(3 * 24 * time.Hour)

	active := models.CardStatusActive
	cards, err := f.cards.ListOwnerCards(context.Background(), f.owner.ID, models.CardFilter{Status: &active})
	if err != nil {
		t.Fatalf("ListOwnerCards: %v", err)
	}
	if len(cards) != 1 || cards[0].ID != long.ID {
		t.Fatalf("active cards = %+v, want only %d", cards, long.ID)
	}
	if got := f.stored(t, short.ID).Status; got != models.CardStatusExpired {
		t.Errorf("lapsed card status = %s, want EXPIRED", got)
	}

	all, err := f.cards.ListCards(context.Background(), models.CardFilter{})
	if err != nil {
		t.Fatalf("ListCards: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListCards returned %d cards, want 2", len(all))
	}
}

func TestListCardsPaging(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		filter models.CardFilter
		field  string
	}{
		{"negative page", models.CardFilter{Page: -1}, "page"},
		{"size too large", models.CardFilter{Size: 101}, "size"},
		{"negative size", models.CardFilter{Size: -5}, "size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.cards.ListCards(context.Background(), tt.filter)
			var ve *apperrors.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("err = %v, want ValidationError on %s", err, tt.field)
			}
		})
	}
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, f.owner.ID, "4111111111111111", "1", today.AddDate(1, 0, 0))
	f.clock.Advance(time.Hour)

	blocked, err := f.cards.SetStatus(context.Background(), card.ID, models.CardStatusBlocked)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if blocked.Status != models.CardStatusBlocked || !blocked.UpdatedAt.Equal(today.Add(time.Hour)) {
		t.Errorf("got %s at %v", blocked.Status, blocked.UpdatedAt)
	}
	if got := f.stored(t, card.ID).Status; got != models.CardStatusBlocked {
		t.Errorf("stored status = %s", got)
	}

	if _, err := f.cards.SetStatus(context.Background(), card.ID, models.CardStatusBlocked); err == nil {
		t.Error("blocking a blocked card succeeded")
	}
	if _, err := f.cards.SetStatus(context.Background(), card.ID, "FROZEN"); err == nil {
		t.Error("unknown status accepted")
	}
	_, err = f.cards.SetStatus(context.Background(), 404, models.CardStatusActive)
	var missing *apperrors.CardNotFoundError
	if !errors.As(err, &missing) {
		t.Errorf("err = %v, want CardNotFoundError", err)
	}
}

func TestSetStatusPersistsSyncOnRejection(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, f.owner.ID, "4111111111111111", "1", today)
	f.clock.Advance(48 * time.Hour)

	_, err := f.cards.SetStatus(context.Background(), card.ID, models.CardStatusActive)
	if err == nil || !strings.Contains(err.Error(), "cannot activate an expired card") {
		t.Fatalf("err = %v", err)
	}
	if got := f.stored(t, card.ID).Status; got != models.CardStatusExpired {
		t.Errorf("stored status = %s, want EXPIRED", got)
	}
}

func TestRequestBlock(t *testing.T) {
	f := newFixture(t)
	bob := f.addUser(t, "bob")
	card := f.addCard(t, f.owner.ID, "4111111111111111", "1", today.AddDate(1, 0, 0))
	expired := f.addCard(t, f.owner.ID, "4111111111112222", "1", today.AddDate(0, 0, -2))

	_, err := f.cards.RequestBlock(context.Background(), card.ID, bob.ID)
	var missing *apperrors.CardNotFoundError
	if !errors.As(err, &missing) {
		t.Fatalf("foreign block: err = %v, want CardNotFoundError", err)
	}

	blocked, err := f.cards.RequestBlock(context.Background(), card.ID, f.owner.ID)
	if err != nil {
		t.Fatalf("RequestBlock: %v", err)
	}
	if blocked.Status != models.CardStatusBlocked {
		t.Errorf("Status = %s", blocked.Status)
	}
	if len(f.notifier.blocked) != 1 {
		t.Errorf("block notifications = %d, want 1", len(f.notifier.blocked))
	}

	_, err = f.cards.RequestBlock(context.Background(), card.ID, f.owner.ID)
	checkTransitionErr(t, err, "already blocked")

	_, err = f.cards.RequestBlock(context.Background(), expired.ID, f.owner.ID)
	checkTransitionErr(t, err, "already expired")
}

func TestDeleteCard(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, f.owner.ID, "4111111111111111", "1", today.AddDate(1, 0, 0))

	if err := f.cards.DeleteCard(context.Background(), card.ID); err != nil {
		t.Fatalf("DeleteCard: %v", err)
	}
	err := f.cards.DeleteCard(context.Background(), card.ID)
	var missing *apperrors.CardNotFoundError
	if !errors.As(err, &missing) {
		t.Fatalf("second delete: err = %v, want CardNotFoundError", err)
	}
}

func TestExpireOverdue(t *testing.T) {
	f := newFixture(t)
	f.addCard(t, f.owner.ID, "4111111111111111", "1", today.AddDate(0, 0, 1))
	blocked := f.addCard(t, f.owner.ID, "4111111111112222", "1", today.AddDate(0, 0, 2))
	f.addCard(t, f.owner.ID, "4111111111113333", "1", today.AddDate(0, 1, 0))
	if _, err := f.cards.SetStatus(context.Background(), blocked.ID, models.CardStatusBlocked); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	f.clock.Advance(7 * 24 * time.Hour)

	n, err := f.cards.ExpireOverdue(context.Background())
	if err != nil {
		t.Fatalf("ExpireOverdue: %v", err)
	}
	if n != 2 {
		t.Errorf("expired %d cards, want 2", n)
	}
	if n, _ := f.cards.ExpireOverdue(context.Background()); n != 0 {
		t.Errorf("second sweep expired %d cards, want 0", n)
	}
}

func TestResponsesResolveOwner(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, f.owner.ID, "4111111111111111", "12.5", today.AddDate(1, 0, 0))

	out := f.cards.Responses(context.Background(), card)
	if len(out) != 1 {
		t.Fatalf("got %d responses", len(out))
	}
	if out[0].OwnerUsername != "alice" || out[0].Balance != "12.50" {
		t.Errorf("response = %+v", out[0])
	}
}
