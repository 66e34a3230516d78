package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transfer is a journal row for a committed card-to-card transfer
type Transfer struct {
	ID         uuid.UUID       `db:"id"`
	OwnerID    int64           `db:"owner_id"`
	FromCardID int64           `db:"from_card_id"`
	ToCardID   int64           `db:"to_card_id"`
	Amount     decimal.Decimal `db:"amount"`
	CreatedAt  time.Time       `db:"created_at"`
}

// TransferResult is returned to the caller after a transfer commits
type TransferResult struct {
	TransferID         uuid.UUID
	FromCardMasked     string
	ToCardMasked       string
	Amount             decimal.Decimal
	FromCardNewBalance decimal.Decimal
	ToCardNewBalance   decimal.Decimal
	TransferredAt      time.Time
	Message            string
}
