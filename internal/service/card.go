package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/card-service/internal/apperrors"
	"github.com/Dan9191/card-service/internal/clock"
	"github.com/Dan9191/card-service/internal/models"
	"github.com/Dan9191/card-service/internal/repository"
	"github.com/Dan9191/card-service/internal/utils"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// CreateCardInput carries the administrator's request to issue a card
type CreateCardInput struct {
	OwnerID        int64
	CardNumber     string
	CardholderName string
	ExpiryDate     time.Time
	InitialBalance decimal.Decimal
}

// CardService handles card administration and owner card operations
type CardService struct {
	cards    repository.CardStore
	owners   UserDirectory
	codec    CardCodec
	clock    clock.Clock
	log      *logrus.Logger
	notifier Notifier
}

// NewCardService initializes a new card service
func NewCardService(cards repository.CardStore, owners UserDirectory, codec CardCodec, clk clock.Clock, log *logrus.Logger) *CardService {
	return &CardService{
		cards:    cards,
		owners:   owners,
		codec:    codec,
		clock:    clk,
		log:      log,
		notifier: noopNotifier{},
	}
}

// WithNotifier sets the notifier told about owner-requested blocks
func (s *CardService) WithNotifier(n Notifier) *CardService {
	if n != nil {
		s.notifier = n
	}
	return s
}

// CreateCard issues a new card for an existing owner
func (s *CardService) CreateCard(ctx context.Context, in CreateCardInput) (models.Card, error) {
	name := strings.TrimSpace(in.CardholderName)
	if err := validateCreateCard(in, name); err != nil {
		return models.Card{}, err
	}

	exists, err := s.owners.OwnerExists(ctx, in.OwnerID)
	if err != nil {
		return models.Card{}, apperrors.Internal("failed to resolve owner", err)
	}
	if !exists {
		return models.Card{}, &apperrors.OwnerNotFoundError{OwnerID: in.OwnerID}
	}

	number := utils.StripSpaces(in.CardNumber)
	encrypted, err := s.codec.Encrypt(number)
	if err != nil {
		return models.Card{}, apperrors.Internal("failed to encrypt card number", err)
	}
	masked, err := s.codec.Mask(number)
	if err != nil {
		return models.Card{}, err
	}

	now := s.clock.Now()
	card := models.Card{
		EncryptedNumber: encrypted,
		MaskedNumber:    masked,
		OwnerID:         in.OwnerID,
		CardholderName:  name,
		ExpiryDate:      models.DateOf(in.ExpiryDate),
		Status:          InitialStatus(in.ExpiryDate, now),
		Balance:         in.InitialBalance,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.cards.CreateCard(ctx, &card); err != nil {
		return models.Card{}, apperrors.Internal("failed to create card", err)
	}

	s.log.WithFields(logrus.Fields{
		"card_id":  card.ID,
		"owner_id": card.OwnerID,
		"status":   card.Status,
		"masked":   card.MaskedNumber,
	}).Info("Card created")
	return card, nil
}

func validateCreateCard(in CreateCardInput, name string) error {
	if in.OwnerID <= 0 {
		return apperrors.Validation("ownerId", "owner ID is required")
	}
	if !utils.ValidCardNumber(in.CardNumber) {
		return apperrors.Validation("cardNumber", "card number must be exactly 16 digits")
	}
	if n := utf8.RuneCountInString(name); n < 2 || n > 100 {
		return apperrors.Validation("cardholderName", "cardholder name must be between 2 and 100 characters")
	}
	if in.ExpiryDate.IsZero() {
		return apperrors.Validation("expiryDate", "expiry date is required")
	}
	if in.InitialBalance.IsNegative() {
		return apperrors.Validation("initialBalance", "initial balance cannot be negative")
	}
	return utils.CheckMoney("initialBalance", in.InitialBalance)
}

// GetCard returns any card by ID, with expiry synced
func (s *CardService) GetCard(ctx context.Context, cardID int64) (models.Card, error) {
	card, err := s.cards.FindCardByID(ctx, cardID)
	if err != nil {
		return models.Card{}, s.lookupError(cardID, err)
	}
	card, _, err = s.syncExpired(ctx, card)
	return card, err
}

// GetOwnerCard returns a card only if it belongs to ownerID, with expiry synced
func (s *CardService) GetOwnerCard(ctx context.Context, cardID, ownerID int64) (models.Card, error) {
	card, err := s.cards.FindCardByIDAndOwner(ctx, cardID, ownerID)
	if err != nil {
		return models.Card{}, s.lookupError(cardID, err)
	}
	card, _, err = s.syncExpired(ctx, card)
	return card, err
}

// ListCards returns a page of all cards, with expiry synced
func (s *CardService) ListCards(ctx context.Context, filter models.CardFilter) ([]models.Card, error) {
	filter, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	cards, err := s.cards.ListCards(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal("failed to list cards", err)
	}
	return s.syncAll(ctx, cards, filter)
}

// ListOwnerCards returns a page of the owner's cards, with expiry synced
func (s *CardService) ListOwnerCards(ctx context.Context, ownerID int64, filter models.CardFilter) ([]models.Card, error) {
	filter, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	cards, err := s.cards.ListCardsByOwner(ctx, ownerID, filter)
	if err != nil {
		return nil, apperrors.Internal("failed to list cards", err)
	}
	return s.syncAll(ctx, cards, filter)
}

func (s *CardService) syncAll(ctx context.Context, cards []models.Card, filter models.CardFilter) ([]models.Card, error) {
	out := make([]models.Card, 0, len(cards))
	for _, c := range cards {
		synced, _, err := s.syncExpired(ctx, c)
		var notFound *apperrors.CardNotFoundError
		if errors.As(err, &notFound) {
			// deleted after the page was read
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Status != nil && synced.Status != *filter.Status {
			continue
		}
		out = append(out, synced)
	}
	return out, nil
}

func normalizeFilter(f models.CardFilter) (models.CardFilter, error) {
	if f.Page < 0 {
		return f, apperrors.Validation("page", "page must not be negative")
	}
	if f.Size == 0 {
		f.Size = defaultPageSize
	}
	if f.Size < 1 || f.Size > maxPageSize {
		return f, apperrors.Validation("size", "size must be between 1 and 100")
	}
	if f.Status != nil && !validStatus(*f.Status) {
		return f, apperrors.Validation("status", "unknown card status")
	}
	return f, nil
}

// SetStatus is the administrative status change
func (s *CardService) SetStatus(ctx context.Context, cardID int64, target models.CardStatus) (models.Card, error) {
	if !validStatus(target) {
		return models.Card{}, apperrors.Validation("status", "status must be one of ACTIVE, BLOCKED, EXPIRED")
	}
	card, changed, err := s.transition(ctx, cardID, nil, func(c models.Card, now time.Time) (models.Card, bool, error) {
		return ApplyAdminStatus(c, target, now)
	})
	if err != nil {
		return card, err
	}
	if changed {
		s.log.WithFields(logrus.Fields{"card_id": cardID, "status": card.Status}).Info("Card status changed")
	}
	return card, nil
}

// RequestBlock lets an owner block one of their ACTIVE cards
func (s *CardService) RequestBlock(ctx context.Context, cardID, ownerID int64) (models.Card, error) {
	card, _, err := s.transition(ctx, cardID, &ownerID, ApplyOwnerBlock)
	if err != nil {
		return card, err
	}

	s.log.WithFields(logrus.Fields{"card_id": cardID, "owner_id": ownerID}).Info("User requested card block")
	if owner, err := s.owners.ResolveOwner(ctx, ownerID); err == nil {
		s.notifier.CardBlocked(owner, card)
	} else {
		s.log.WithError(err).WithField("owner_id", ownerID).Warn("Failed to resolve owner for block notification")
	}
	return card, nil
}

type transitionFunc func(card models.Card, now time.Time) (models.Card, bool, error)

// transition runs apply against the locked card. When apply both changes the
// card and rejects the request (an expiry sync followed by a forbidden move),
// the change is committed and the rejection is returned afterwards.
func (s *CardService) transition(ctx context.Context, cardID int64, ownerID *int64, apply transitionFunc) (models.Card, bool, error) {
	now := s.clock.Now()
	var (
		result  models.Card
		changed bool
		ruleErr error
	)
	err := s.cards.WithCardsLocked(ctx, []int64{cardID}, func(tx repository.CardTx) error {
		card, err := tx.Card(cardID)
		if err != nil {
			return err
		}
		if ownerID != nil && card.OwnerID != *ownerID {
			return repository.ErrNotFound
		}
		next, ch, rerr := apply(card, now)
		if ch {
			if err := tx.SaveCard(next); err != nil {
				return err
			}
		}
		result, changed, ruleErr = next, ch, rerr
		return nil
	})
	if err != nil {
		return models.Card{}, false, s.lookupError(cardID, err)
	}
	return result, changed, ruleErr
}

// DeleteCard permanently removes a card
func (s *CardService) DeleteCard(ctx context.Context, cardID int64) error {
	err := s.cards.WithCardsLocked(ctx, []int64{cardID}, func(tx repository.CardTx) error {
		if _, err := tx.Card(cardID); err != nil {
			return err
		}
		return tx.DeleteCard(cardID)
	})
	if err != nil {
		return s.lookupError(cardID, err)
	}
	s.log.WithField("card_id", cardID).Info("Card deleted")
	return nil
}

// ExpireOverdue moves every card past its expiry date to EXPIRED and returns how many changed
func (s *CardService) ExpireOverdue(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.cards.ListCardsExpiringBefore(ctx, models.DateOf(now))
	if err != nil {
		return 0, apperrors.Internal("failed to list expiring cards", err)
	}

	expired := 0
	for _, card := range due {
		_, changed, err := s.syncExpired(ctx, card)
		var notFound *apperrors.CardNotFoundError
		if errors.As(err, &notFound) {
			continue
		}
		if err != nil {
			return expired, err
		}
		if changed {
			expired++
		}
	}
	return expired, nil
}

// Statement returns an owner's card together with its journal rows, newest first
func (s *CardService) Statement(ctx context.Context, cardID, ownerID int64) (models.Card, []models.Transfer, error) {
	card, err := s.GetOwnerCard(ctx, cardID, ownerID)
	if err != nil {
		return models.Card{}, nil, err
	}
	transfers, err := s.cards.ListTransfersByCard(ctx, cardID)
	if err != nil {
		return models.Card{}, nil, apperrors.Internal("failed to list transfers", err)
	}
	return card, transfers, nil
}

// Responses projects cards into their response shape, resolving owner usernames
func (s *CardService) Responses(ctx context.Context, cards ...models.Card) []models.CardResponse {
	names := make(map[int64]string)
	out := make([]models.CardResponse, 0, len(cards))
	for _, c := range cards {
		name, ok := names[c.OwnerID]
		if !ok {
			if owner, err := s.owners.ResolveOwner(ctx, c.OwnerID); err == nil {
				name = owner.Username
			}
			names[c.OwnerID] = name
		}
		out = append(out, models.NewCardResponse(c, name))
	}
	return out
}

// syncExpired persists the lazy ACTIVE/BLOCKED -> EXPIRED move for a card read
// past its expiry date. A card that is already in sync causes no write.
func (s *CardService) syncExpired(ctx context.Context, card models.Card) (models.Card, bool, error) {
	now := s.clock.Now()
	if _, needed := SyncExpiry(card, now); !needed {
		return card, false, nil
	}

	var (
		synced  models.Card
		changed bool
	)
	err := s.cards.WithCardsLocked(ctx, []int64{card.ID}, func(tx repository.CardTx) error {
		current, err := tx.Card(card.ID)
		if err != nil {
			return err
		}
		synced, changed = SyncExpiry(current, now)
		if changed {
			return tx.SaveCard(synced)
		}
		return nil
	})
	if err != nil {
		return card, false, s.lookupError(card.ID, err)
	}
	if changed {
		s.log.WithFields(logrus.Fields{"card_id": card.ID, "status": synced.Status}).Info("Card expired")
	}
	return synced, changed, nil
}

func (s *CardService) lookupError(cardID int64, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return &apperrors.CardNotFoundError{CardID: cardID}
	}
	return apperrors.Internal("failed to access card", err)
}
