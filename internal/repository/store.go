package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Dan9191/card-service/internal/models"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// CardStore is the single writer of card records.
//
// Reads return copies. Every mutation of an existing card happens inside
// WithCardsLocked, which grants exclusive access to the listed cards and
// commits all writes made through the CardTx as one atomic unit.
type CardStore interface {
	CreateCard(ctx context.Context, card *models.Card) error
	FindCardByID(ctx context.Context, id int64) (models.Card, error)
	FindCardByIDAndOwner(ctx context.Context, id, ownerID int64) (models.Card, error)
	ListCards(ctx context.Context, filter models.CardFilter) ([]models.Card, error)
	ListCardsByOwner(ctx context.Context, ownerID int64, filter models.CardFilter) ([]models.Card, error)
	// ListCardsExpiringBefore returns non-EXPIRED cards whose expiry date is before date
	ListCardsExpiringBefore(ctx context.Context, date time.Time) ([]models.Card, error)
	CountCardsByOwner(ctx context.Context, ownerID int64) (int64, error)
	ListTransfersByCard(ctx context.Context, cardID int64) ([]models.Transfer, error)

	// WithCardsLocked locks ids in ascending order, runs fn and commits its writes.
	// If fn returns an error nothing is persisted. Lock acquisition is bounded and
	// fails with *apperrors.ContentionTimeoutError.
	WithCardsLocked(ctx context.Context, ids []int64, fn func(tx CardTx) error) error
}

// CardTx is the view of the locked cards inside WithCardsLocked
type CardTx interface {
	// Card returns the current state of a locked card, or ErrNotFound
	Card(id int64) (models.Card, error)
	SaveCard(card models.Card) error
	DeleteCard(id int64) error
	RecordTransfer(t models.Transfer) error
}

// UserStore persists users
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByID(ctx context.Context, id int64) (models.User, error)
	FindUserByUsername(ctx context.Context, username string) (models.User, error)
	ListUsers(ctx context.Context, page, size int) ([]models.User, error)
	SetUserEnabled(ctx context.Context, id int64, enabled bool) error
	// DeleteUser removes the user together with all of their cards
	DeleteUser(ctx context.Context, id int64) error
}

// lockOrder returns ids sorted ascending without duplicates
func lockOrder(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func pageBounds(page, size int) (offset, limit int) {
	if size <= 0 {
		size = 10
	}
	if page < 0 {
		page = 0
	}
	return page * size, size
}
