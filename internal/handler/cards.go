package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/Dan9191/card-service/internal/apperrors"
	"github.com/Dan9191/card-service/internal/models"
	"github.com/Dan9191/card-service/internal/service"
)

type transferRequest struct {
	FromCardID int64           `json:"fromCardId"`
	ToCardID   int64           `json:"toCardId"`
	Amount     decimal.Decimal `json:"amount"`
}

type cardPage struct {
	Content []models.CardResponse `json:"content"`
	Page    int                   `json:"page"`
	Size    int                   `json:"size"`
}

// cardFilter reads ?status=&page=&size= from the query
func cardFilter(r *http.Request) (models.CardFilter, error) {
	var filter models.CardFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := models.ParseCardStatus(raw)
		if err != nil {
			return filter, apperrors.Validation("status", "status must be one of ACTIVE, BLOCKED, EXPIRED")
		}
		filter.Status = &status
	}
	var err error
	if filter.Page, err = queryInt(r, "page", 0); err != nil {
		return filter, err
	}
	if filter.Size, err = queryInt(r, "size", 10); err != nil {
		return filter, err
	}
	return filter, nil
}

// ListMyCards lists the caller's cards
func (h *Handler) ListMyCards(w http.ResponseWriter, r *http.Request) {
	filter, err := cardFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cards, err := h.cards.ListOwnerCards(r.Context(), principal(r).ID, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cardPage{Content: h.cards.Responses(r.Context(), cards...), Page: filter.Page, Size: filter.Size})
}

// GetMyCard returns one of the caller's cards
func (h *Handler) GetMyCard(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "cardId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	card, err := h.cards.GetOwnerCard(r.Context(), cardID, principal(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cards.Responses(r.Context(), card)[0])
}

// RequestBlock blocks one of the caller's cards
func (h *Handler) RequestBlock(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "cardId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	card, err := h.cards.RequestBlock(r.Context(), cardID, principal(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cards.Responses(r.Context(), card)[0])
}

// Statement returns the card's transfer history as XML
func (h *Handler) Statement(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "cardId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	card, transfers, err := h.cards.Statement(r.Context(), cardID, principal(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	doc, err := h.statements.Render(card, transfers, h.clock.Now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc); err != nil {
		h.log.WithError(err).Warn("Failed to write statement")
	}
}

// Transfer moves money between two of the caller's cards
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := h.decode(r, schemaTransfer, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.transfers.Transfer(r.Context(), service.TransferRequest{
		OwnerID:    principal(r).ID,
		FromCardID: req.FromCardID,
		ToCardID:   req.ToCardID,
		Amount:     req.Amount,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, models.NewTransferResponse(result))
}
