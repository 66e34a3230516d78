package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dan9191/card-service/internal/apperrors"
	"github.com/Dan9191/card-service/internal/models"
	"github.com/Dan9191/card-service/internal/service"
)

type createCardRequest struct {
	OwnerID        int64            `json:"ownerId"`
	CardNumber     string           `json:"cardNumber"`
	CardholderName string           `json:"cardholderName"`
	ExpiryDate     string           `json:"expiryDate"`
	InitialBalance *decimal.Decimal `json:"initialBalance"`
}

// CreateCard issues a card for any user
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var req createCardRequest
	if err := h.decode(r, schemaCreateCard, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	expiry, err := time.Parse("2006-01-02", req.ExpiryDate)
	if err != nil {
		h.writeError(w, r, apperrors.Validation("expiryDate", "expiry date must be a valid YYYY-MM-DD date"))
		return
	}
	balance := decimal.Zero
	if req.InitialBalance != nil {
		balance = *req.InitialBalance
	}

	card, err := h.cards.CreateCard(r.Context(), service.CreateCardInput{
		OwnerID:        req.OwnerID,
		CardNumber:     req.CardNumber,
		CardholderName: req.CardholderName,
		ExpiryDate:     expiry,
		InitialBalance: balance,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, h.cards.Responses(r.Context(), card)[0])
}

// ListCards lists all cards
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	filter, err := cardFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cards, err := h.cards.ListCards(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cardPage{Content: h.cards.Responses(r.Context(), cards...), Page: filter.Page, Size: filter.Size})
}

// GetCard returns any card
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "cardId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	card, err := h.cards.GetCard(r.Context(), cardID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cards.Responses(r.Context(), card)[0])
}

// DeleteCard removes a card
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "cardId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.cards.DeleteCard(r.Context(), cardID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetCardStatus applies ?status= to a card
func (h *Handler) SetCardStatus(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "cardId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status, err := models.ParseCardStatus(r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, r, apperrors.Validation("status", "status must be one of ACTIVE, BLOCKED, EXPIRED"))
		return
	}
	card, err := h.cards.SetStatus(r.Context(), cardID, status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cards.Responses(r.Context(), card)[0])
}

// ListUsers lists users with their card counts
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	size, err := queryInt(r, "size", 10)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	users, err := h.users.ListUsers(r.Context(), page, size)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, users)
}

// GetUser returns one user
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

// DeleteUser removes a user and their cards
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if userID == principal(r).ID {
		h.writeError(w, r, apperrors.Validation("userId", "administrators cannot delete themselves"))
		return
	}
	if err := h.users.DeleteUser(r.Context(), userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetUserEnabled applies ?enabled= to a user
func (h *Handler) SetUserEnabled(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		h.writeError(w, r, apperrors.Validation("enabled", "enabled must be true or false"))
		return
	}
	if err := h.users.SetEnabled(r.Context(), userID, enabled); err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}
