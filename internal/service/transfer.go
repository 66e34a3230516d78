package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/card-service/internal/apperrors"
	"github.com/Dan9191/card-service/internal/clock"
	"github.com/Dan9191/card-service/internal/models"
	"github.com/Dan9191/card-service/internal/repository"
	"github.com/Dan9191/card-service/internal/utils"
)

const transferCompletedMessage = "Transfer completed successfully"

// TransferRequest moves Amount between two cards of the same owner
type TransferRequest struct {
	OwnerID    int64
	FromCardID int64
	ToCardID   int64
	Amount     decimal.Decimal
}

// TransferService moves money between cards of one owner
type TransferService struct {
	cards    repository.CardStore
	owners   UserDirectory
	clock    clock.Clock
	log      *logrus.Logger
	notifier Notifier
}

// NewTransferService initializes a new transfer service
func NewTransferService(cards repository.CardStore, owners UserDirectory, clk clock.Clock, log *logrus.Logger) *TransferService {
	return &TransferService{
		cards:    cards,
		owners:   owners,
		clock:    clk,
		log:      log,
		notifier: noopNotifier{},
	}
}

// WithNotifier sets the notifier told about committed transfers
func (s *TransferService) WithNotifier(n Notifier) *TransferService {
	if n != nil {
		s.notifier = n
	}
	return s
}

// Transfer debits the source card and credits the destination card as one
// atomic step. Both cards are locked in ascending id order for the duration.
func (s *TransferService) Transfer(ctx context.Context, req TransferRequest) (models.TransferResult, error) {
	if req.FromCardID == req.ToCardID {
		return models.TransferResult{}, &apperrors.SameCardError{CardID: req.FromCardID}
	}
	if !req.Amount.IsPositive() {
		return models.TransferResult{}, apperrors.Validation("amount", "amount must be greater than zero")
	}
	if err := utils.CheckMoney("amount", req.Amount); err != nil {
		return models.TransferResult{}, err
	}

	now := s.clock.Now()
	var (
		result  models.TransferResult
		ruleErr error
	)
	err := s.cards.WithCardsLocked(ctx, []int64{req.FromCardID, req.ToCardID}, func(tx repository.CardTx) error {
		from, err := ownedCard(tx, req.FromCardID, req.OwnerID, apperrors.SideSource)
		if err != nil {
			return err
		}
		to, err := ownedCard(tx, req.ToCardID, req.OwnerID, apperrors.SideDestination)
		if err != nil {
			return err
		}

		// Expiry syncs are kept even when the transfer is then refused.
		from, fromSynced := SyncExpiry(from, now)
		to, toSynced := SyncExpiry(to, now)
		ruleErr = checkTransfer(from, to, req.Amount)
		if ruleErr != nil {
			if fromSynced {
				if err := tx.SaveCard(from); err != nil {
					return err
				}
			}
			if toSynced {
				if err := tx.SaveCard(to); err != nil {
					return err
				}
			}
			return nil
		}

		total := from.Balance.Add(to.Balance)
		from.Balance = from.Balance.Sub(req.Amount)
		to.Balance = to.Balance.Add(req.Amount)
		if !from.Balance.Add(to.Balance).Equal(total) || from.Balance.IsNegative() {
			return errors.New("transfer would not conserve the combined balance")
		}
		from.UpdatedAt = now
		to.UpdatedAt = now

		if err := tx.SaveCard(from); err != nil {
			return err
		}
		if err := tx.SaveCard(to); err != nil {
			return err
		}

		id := uuid.New()
		if err := tx.RecordTransfer(models.Transfer{
			ID:         id,
			OwnerID:    req.OwnerID,
			FromCardID: from.ID,
			ToCardID:   to.ID,
			Amount:     req.Amount,
			CreatedAt:  now,
		}); err != nil {
			return err
		}

		result = models.TransferResult{
			TransferID:         id,
			FromCardMasked:     from.MaskedNumber,
			ToCardMasked:       to.MaskedNumber,
			Amount:             req.Amount,
			FromCardNewBalance: from.Balance,
			ToCardNewBalance:   to.Balance,
			TransferredAt:      now,
			Message:            transferCompletedMessage,
		}
		return nil
	})
	if err != nil {
		return models.TransferResult{}, apperrors.Internal("failed to transfer", err)
	}
	if ruleErr != nil {
		s.log.WithFields(logrus.Fields{
			"owner_id":     req.OwnerID,
			"from_card_id": req.FromCardID,
			"to_card_id":   req.ToCardID,
		}).WithError(ruleErr).Info("Transfer rejected")
		return models.TransferResult{}, ruleErr
	}

	s.log.WithFields(logrus.Fields{
		"transfer_id":  result.TransferID,
		"owner_id":     req.OwnerID,
		"from_card_id": req.FromCardID,
		"to_card_id":   req.ToCardID,
		"amount":       req.Amount.StringFixed(2),
	}).Info("Transfer completed")

	if owner, err := s.owners.ResolveOwner(ctx, req.OwnerID); err == nil {
		s.notifier.TransferCompleted(owner, result)
	} else {
		s.log.WithError(err).WithField("owner_id", req.OwnerID).Warn("Failed to resolve owner for transfer notification")
	}
	return result, nil
}

// ownedCard reads a locked card, hiding cards of other owners as not found
func ownedCard(tx repository.CardTx, cardID, ownerID int64, side apperrors.Side) (models.Card, error) {
	card, err := tx.Card(cardID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && card.OwnerID != ownerID) {
		return models.Card{}, &apperrors.CardNotFoundError{CardID: cardID, Side: side}
	}
	return card, err
}

func checkTransfer(from, to models.Card, amount decimal.Decimal) error {
	if err := CheckTransferable(from, apperrors.SideSource); err != nil {
		return err
	}
	if err := CheckTransferable(to, apperrors.SideDestination); err != nil {
		return err
	}
	if from.Balance.LessThan(amount) {
		return &apperrors.InsufficientFundsError{CardID: from.ID, Available: from.Balance, Requested: amount}
	}
	return nil
}
