// Package service holds the card ledger: the status state machine, card
// administration, owner operations and the transfer engine.
package service

import (
	"context"

	"github.com/Dan9191/card-service/internal/models"
)

// UserDirectory resolves card owners. It is consulted when a card is created
// and when a notification needs the owner's address.
type UserDirectory interface {
	OwnerExists(ctx context.Context, id int64) (bool, error)
	ResolveOwner(ctx context.Context, id int64) (models.OwnerRef, error)
}

// CardCodec encrypts raw card numbers and derives their masked form
type CardCodec interface {
	Encrypt(rawNumber string) (string, error)
	Mask(rawNumber string) (string, error)
}

// Notifier is told about committed ledger events. Implementations must not
// block the caller and must not fail the operation.
type Notifier interface {
	TransferCompleted(owner models.OwnerRef, result models.TransferResult)
	CardBlocked(owner models.OwnerRef, card models.Card)
}

type noopNotifier struct{}

func (noopNotifier) TransferCompleted(models.OwnerRef, models.TransferResult) {}
func (noopNotifier) CardBlocked(models.OwnerRef, models.Card)                 {}
