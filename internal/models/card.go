package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CardStatus is the lifecycle state of a card
type CardStatus string

const (
	CardStatusActive  CardStatus = "ACTIVE"
	CardStatusBlocked CardStatus = "BLOCKED"
	CardStatusExpired CardStatus = "EXPIRED"
)

// ParseCardStatus converts a case-insensitive status name into a CardStatus
func ParseCardStatus(s string) (CardStatus, error) {
	switch CardStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case CardStatusActive:
		return CardStatusActive, nil
	case CardStatusBlocked:
		return CardStatusBlocked, nil
	case CardStatusExpired:
		return CardStatusExpired, nil
	}
	return "", fmt.Errorf("unknown card status %q", s)
}

// Card represents a bank card and its balance
type Card struct {
	ID              int64           `db:"id" json:"id"`
	EncryptedNumber string          `db:"encrypted_card_number" json:"-"` // Never serialized
	MaskedNumber    string          `db:"masked_card_number" json:"masked_card_number"`
	OwnerID         int64           `db:"owner_id" json:"owner_id"`
	CardholderName  string          `db:"cardholder_name" json:"cardholder_name"`
	ExpiryDate      time.Time       `db:"expiry_date" json:"expiry_date"`
	Status          CardStatus      `db:"status" json:"status"`
	Balance         decimal.Decimal `db:"balance" json:"balance"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether the expiry date is strictly before the calendar date of now
func (c *Card) IsExpired(now time.Time) bool {
	return DateOf(c.ExpiryDate).Before(DateOf(now))
}

// DateOf truncates t to midnight UTC of its UTC calendar date
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CardFilter narrows card listings
type CardFilter struct {
	Status *CardStatus
	Page   int
	Size   int
}
