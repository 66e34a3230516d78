package models

import (
	"net/http"
	"time"
)

// CardResponse is the external shape of a card. It has no field for the encrypted number.
type CardResponse struct {
	ID               int64      `json:"id"`
	MaskedCardNumber string     `json:"maskedCardNumber"`
	OwnerID          int64      `json:"ownerId"`
	OwnerUsername    string     `json:"ownerUsername,omitempty"`
	CardholderName   string     `json:"cardholderName"`
	ExpiryDate       string     `json:"expiryDate"`
	Status           CardStatus `json:"status"`
	Balance          string     `json:"balance"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// NewCardResponse projects a card into its response shape
func NewCardResponse(c Card, ownerUsername string) CardResponse {
	return CardResponse{
		ID:               c.ID,
		MaskedCardNumber: c.MaskedNumber,
		OwnerID:          c.OwnerID,
		OwnerUsername:    ownerUsername,
		CardholderName:   c.CardholderName,
		ExpiryDate:       c.ExpiryDate.Format("2006-01-02"),
		Status:           c.Status,
		Balance:          c.Balance.StringFixed(2),
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

// TransferResponse is the external shape of a TransferResult
type TransferResponse struct {
	TransferID         string    `json:"transferId"`
	FromCardMasked     string    `json:"fromCardMasked"`
	ToCardMasked       string    `json:"toCardMasked"`
	Amount             string    `json:"amount"`
	FromCardNewBalance string    `json:"fromCardNewBalance"`
	ToCardNewBalance   string    `json:"toCardNewBalance"`
	TransferredAt      time.Time `json:"transferredAt"`
	Message            string    `json:"message"`
}

// NewTransferResponse projects a transfer result
func NewTransferResponse(r TransferResult) TransferResponse {
	return TransferResponse{
		TransferID:         r.TransferID.String(),
		FromCardMasked:     r.FromCardMasked,
		ToCardMasked:       r.ToCardMasked,
		Amount:             r.Amount.StringFixed(2),
		FromCardNewBalance: r.FromCardNewBalance.StringFixed(2),
		ToCardNewBalance:   r.ToCardNewBalance.StringFixed(2),
		TransferredAt:      r.TransferredAt,
		Message:            r.Message,
	}
}

// UserResponse is the external shape of a user
type UserResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	CardCount int64     `json:"cardCount"`
}

// NewUserResponse projects a user with its card count
func NewUserResponse(u User, cardCount int64) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		Enabled:   u.Enabled,
		CreatedAt: u.CreatedAt,
		CardCount: cardCount,
	}
}

// ErrorResponse is the body of every failed HTTP request
type ErrorResponse struct {
	Status      int               `json:"status"`
	Error       string            `json:"error"`
	Message     string            `json:"message"`
	Timestamp   time.Time         `json:"timestamp"`
	FieldErrors map[string]string `json:"fieldErrors,omitempty"`
}

// NewErrorResponse builds an ErrorResponse; error is the status text
func NewErrorResponse(status int, message string, at time.Time) ErrorResponse {
	return ErrorResponse{
		Status:    status,
		Error:     http.StatusText(status),
		Message:   message,
		Timestamp: at,
	}
}
