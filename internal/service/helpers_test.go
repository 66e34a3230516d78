package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/card-service/internal/clock"
	"github.com/Dan9191/card-service/internal/models"
	"github.com/Dan9191/card-service/internal/repository"
	"github.com/Dan9191/card-service/internal/utils"
)

var today = time.Date(2026, 5, 20, 9, 30, 0, 0, time.UTC)

type fixture struct {
	store     *repository.MemoryStore
	clock     *clock.ManualClock
	log       *logrus.Logger
	cards     *CardService
	transfers *TransferService
	notifier  *recordingNotifier
	owner     models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithTimeout(t, 2*time.Second)
}

func newFixtureWithTimeout(t *testing.T, lockTimeout time.Duration) *fixture {
	t.Helper()
	store := repository.NewMemoryStore(lockTimeout)
	clk := clock.NewManual(today)
	log := logrus.New()
	log.SetOutput(io.Discard)

	cipher, err := utils.NewCardCipher("test-secret-key!")
	if err != nil {
		t.Fatalf("NewCardCipher: %v", err)
	}
	notifier := &recordingNotifier{}

	f := &fixture{
		store:     store,
		clock:     clk,
		log:       log,
		cards:     NewCardService(store, store, cipher, clk, log).WithNotifier(notifier),
		transfers: NewTransferService(store, store, clk, log).WithNotifier(notifier),
		notifier:  notifier,
	}
	f.owner = f.addUser(t, "alice")
	return f
}

func (f *fixture) addUser(t *testing.T, name string) models.User {
	t.Helper()
	u := models.User{Username: name, Email: name + "@example.com", Role: models.RoleUser, Enabled: true, CreatedAt: today}
	if err := f.store.CreateUser(context.Background(), &u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

// addCard issues a card for ownerID. number must be 16 digits.
func (f *fixture) addCard(t *testing.T, ownerID int64, number, balance string, expiry time.Time) models.Card {
	t.Helper()
	card, err := f.cards.CreateCard(context.Background(), CreateCardInput{
		OwnerID:        ownerID,
		CardNumber:     number,
		CardholderName: "Alice Example",
		ExpiryDate:     expiry,
		InitialBalance: decimal.RequireFromString(balance),
	})
	if err != nil {
		t.Fatalf("CreateCard: %v", err)
	}
	return card
}

func (f *fixture) stored(t *testing.T, id int64) models.Card {
	t.Helper()
	card, err := f.store.FindCardByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindCardByID(%d): %v", id, err)
	}
	return card
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recordingNotifier struct {
	mu        sync.Mutex
	transfers []models.TransferResult
	blocked   []models.Card
}

func (n *recordingNotifier) TransferCompleted(_ models.OwnerRef, r models.TransferResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transfers = append(n.transfers, r)
}

func (n *recordingNotifier) CardBlocked(_ models.OwnerRef, c models.Card) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocked = append(n.blocked, c)
}

// untouchableStore panics on any call because its embedded store is nil
type untouchableStore struct {
	repository.CardStore
}

// countingStore counts locked units of work and card saves
type countingStore struct {
	*repository.MemoryStore
	mu    sync.Mutex
	locks int
	saves int
}

func (s *countingStore) WithCardsLocked(ctx context.Context, ids []int64, fn func(tx repository.CardTx) error) error {
	s.mu.Lock()
	s.locks++
	s.mu.Unlock()
	return s.MemoryStore.WithCardsLocked(ctx, ids, func(tx repository.CardTx) error {
		return fn(&countingTx{CardTx: tx, store: s})
	})
}

type countingTx struct {
	repository.CardTx
	store *countingStore
}

func (t *countingTx) SaveCard(card models.Card) error {
	t.store.mu.Lock()
	t.store.saves++
	t.store.mu.Unlock()
	return t.CardTx.SaveCard(card)
}
