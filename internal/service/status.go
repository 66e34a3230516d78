package service

import (
	"time"

	"github.com/Dan9191/card-service/internal/apperrors"
	"github.com/Dan9191/card-service/internal/models"
)

// The functions in this file decide status transitions. They never persist;
// callers save the returned card inside the same locked unit of work.

// InitialStatus returns EXPIRED for a card created with a past expiry date, ACTIVE otherwise
func InitialStatus(expiry, now time.Time) models.CardStatus {
	if models.DateOf(expiry).Before(models.DateOf(now)) {
		return models.CardStatusExpired
	}
	return models.CardStatusActive
}

// SyncExpiry moves a card past its expiry date to EXPIRED.
// changed is false when the card needs no write.
func SyncExpiry(card models.Card, now time.Time) (models.Card, bool) {
	if card.Status == models.CardStatusExpired || !card.IsExpired(now) {
		return card, false
	}
	card.Status = models.CardStatusExpired
	card.UpdatedAt = now
	return card, true
}

// ApplyAdminStatus computes the card after an administrator sets target.
// Expiry is synced first; changed reports whether the returned card must be
// saved, and can be true together with an error when only the sync applies.
func ApplyAdminStatus(card models.Card, target models.CardStatus, now time.Time) (models.Card, bool, error) {
	card, changed := SyncExpiry(card, now)
	from := card.Status

	switch {
	case from == models.CardStatusExpired && target == models.CardStatusActive:
		return card, changed, transitionError(card, target, "cannot activate an expired card")
	case from == models.CardStatusExpired:
		return card, changed, transitionError(card, target, "card is already expired")
	case from == target && target == models.CardStatusBlocked:
		return card, changed, transitionError(card, target, "card is already blocked")
	case from == target:
		return card, changed, nil
	}

	card.Status = target
	card.UpdatedAt = now
	return card, true, nil
}

// ApplyOwnerBlock computes the card after its owner requests a block.
// Only ACTIVE -> BLOCKED is allowed.
func ApplyOwnerBlock(card models.Card, now time.Time) (models.Card, bool, error) {
	card, changed := SyncExpiry(card, now)

	switch card.Status {
	case models.CardStatusBlocked:
		return card, changed, transitionError(card, models.CardStatusBlocked, "card is already blocked")
	case models.CardStatusExpired:
		return card, changed, transitionError(card, models.CardStatusBlocked, "card is already expired and cannot be blocked")
	}

	card.Status = models.CardStatusBlocked
	card.UpdatedAt = now
	return card, true, nil
}

// CheckTransferable fails unless the card is ACTIVE
func CheckTransferable(card models.Card, side apperrors.Side) error {
	if card.Status != models.CardStatusActive {
		return &apperrors.CardNotActiveError{CardID: card.ID, Side: side, Status: card.Status}
	}
	return nil
}

func validStatus(s models.CardStatus) bool {
	switch s {
	case models.CardStatusActive, models.CardStatusBlocked, models.CardStatusExpired:
		return true
	}
	return false
}

func transitionError(card models.Card, target models.CardStatus, reason string) error {
	return &apperrors.InvalidTransitionError{CardID: card.ID, From: card.Status, To: target, Reason: reason}
}
