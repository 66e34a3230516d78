// Package apperrors defines the error kinds returned by the card ledger.
//
// Every kind except InternalError is recoverable by the caller and maps to a
// 4xx outcome. InternalError carries storage or configuration faults and must
// be surfaced as a generic failure.
package apperrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Dan9191/card-service/internal/models"
)

// Side names the leg of a transfer an error refers to.
type Side string

const (
	SideSource      Side = "source"
	SideDestination Side = "destination"
)

// ValidationError reports malformed input, detected before any mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Validation builds a ValidationError.
func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// OwnerNotFoundError is returned when a card owner cannot be resolved.
type OwnerNotFoundError struct {
	OwnerID int64
}

func (e *OwnerNotFoundError) Error() string {
	return fmt.Sprintf("user not found with id: %d", e.OwnerID)
}

// UserNotFoundError is returned by user administration when the user does not exist.
type UserNotFoundError struct {
	UserID int64
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("user not found with id: %d", e.UserID)
}

// CardNotFoundError is returned when a card does not exist, or does not exist
// under the requesting owner. The two cases are deliberately indistinguishable.
type CardNotFoundError struct {
	CardID int64
	Side   Side
}

func (e *CardNotFoundError) Error() string {
	switch e.Side {
	case SideSource:
		return fmt.Sprintf("source card not found with id: %d", e.CardID)
	case SideDestination:
		return fmt.Sprintf("destination card not found with id: %d", e.CardID)
	}
	return fmt.Sprintf("card not found with id: %d", e.CardID)
}

// InvalidTransitionError reports a status change the state machine forbids.
type InvalidTransitionError struct {
	CardID int64
	From   models.CardStatus
	To     models.CardStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("card id=%d: %s", e.CardID, e.Reason)
}

// SameCardError is returned when a transfer names the same card on both sides.
type SameCardError struct {
	CardID int64
}

func (e *SameCardError) Error() string {
	return "source and destination cards must be different"
}

// CardNotActiveError is returned when a transfer leg is not ACTIVE.
type CardNotActiveError struct {
	CardID int64
	Side   Side
	Status models.CardStatus
}

func (e *CardNotActiveError) Error() string {
	side := string(e.Side)
	if side == "" {
		side = "card"
	} else {
		side = strings.ToUpper(side[:1]) + side[1:] + " card"
	}
	return fmt.Sprintf("%s is not active. Current status: %s", side, e.Status)
}

// InsufficientFundsError is returned when the source balance is below the amount.
type InsufficientFundsError struct {
	CardID    int64
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds. Available: %s, requested: %s",
		e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

// EncryptionError wraps a failure to encrypt a card number.
type EncryptionError struct {
	Err error
}

func (e *EncryptionError) Error() string { return fmt.Sprintf("failed to encrypt card number: %v", e.Err) }
func (e *EncryptionError) Unwrap() error { return e.Err }

// DecryptionError wraps a failure to decrypt a card number.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string { return fmt.Sprintf("failed to decrypt card number: %v", e.Err) }
func (e *DecryptionError) Unwrap() error { return e.Err }

// ContentionTimeoutError is returned when exclusive access to the listed cards
// could not be acquired in time.
type ContentionTimeoutError struct {
	CardIDs []int64
	Err     error
}

func (e *ContentionTimeoutError) Error() string {
	return fmt.Sprintf("timed out acquiring lock on cards %v", e.CardIDs)
}

func (e *ContentionTimeoutError) Unwrap() error { return e.Err }

// ConflictError reports a uniqueness violation, e.g. a taken username.
type ConflictError struct {
	Field   string
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// UnauthorizedError reports failed authentication.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string { return e.Message }

// InternalError wraps an unexpected fault such as storage being unavailable.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *InternalError) Unwrap() error { return e.Err }

// Internal wraps err as an InternalError unless it already is a known kind.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsRecoverable(err) {
		return err
	}
	var (
		ie  *InternalError
		enc *EncryptionError
		dec *DecryptionError
	)
	if errors.As(err, &ie) || errors.As(err, &enc) || errors.As(err, &dec) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}

// IsRecoverable reports whether err is one of the caller-recoverable kinds.
func IsRecoverable(err error) bool {
	var (
		validation   *ValidationError
		ownerMissing *OwnerNotFoundError
		userMissing  *UserNotFoundError
		cardMissing  *CardNotFoundError
		transition   *InvalidTransitionError
		sameCard     *SameCardError
		notActive    *CardNotActiveError
		funds        *InsufficientFundsError
		contention   *ContentionTimeoutError
		conflict     *ConflictError
		unauthorized *UnauthorizedError
	)
	switch {
	case errors.As(err, &validation),
		errors.As(err, &ownerMissing),
		errors.As(err, &userMissing),
		errors.As(err, &cardMissing),
		errors.As(err, &transition),
		errors.As(err, &sameCard),
		errors.As(err, &notActive),
		errors.As(err, &funds),
		errors.As(err, &contention),
		errors.As(err, &conflict),
		errors.As(err, &unauthorized):
		return true
	}
	return false
}
