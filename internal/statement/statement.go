// Package statement renders card statements as XML.
package statement

import (
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"

	"github.com/Dan9191/card-service/internal/models"
)

const (
	DirectionDebit  = "DEBIT"
	DirectionCredit = "CREDIT"
)

// Renderer builds statement documents for one issuing institution
type Renderer struct {
	institution string
}

// NewRenderer initializes a new statement renderer
func NewRenderer(institution string) *Renderer {
	return &Renderer{institution: institution}
}

// Render writes the card and its journal rows as an indented XML document.
// Rows are emitted in the order given.
func (r *Renderer) Render(card models.Card, transfers []models.Transfer, generatedAt time.Time) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("CardStatement")
	root.CreateAttr("institution", r.institution)
	root.CreateAttr("generatedAt", generatedAt.UTC().Format(time.RFC3339))

	c := root.CreateElement("Card")
	c.CreateAttr("id", strconv.FormatInt(card.ID, 10))
	c.CreateAttr("masked", card.MaskedNumber)
	c.CreateAttr("status", string(card.Status))
	c.CreateAttr("balance", card.Balance.StringFixed(2))

	entries := root.CreateElement("Entries")
	for _, t := range transfers {
		direction, counterparty, err := legOf(card.ID, t)
		if err != nil {
			return nil, err
		}
		e := entries.CreateElement("Entry")
		e.CreateAttr("id", t.ID.String())
		e.CreateAttr("direction", direction)
		e.CreateAttr("amount", t.Amount.StringFixed(2))
		e.CreateAttr("counterparty", strconv.FormatInt(counterparty, 10))
		e.CreateAttr("bookedAt", t.CreatedAt.UTC().Format(time.RFC3339))
	}

	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to write statement: %w", err)
	}
	return out, nil
}

func legOf(cardID int64, t models.Transfer) (string, int64, error) {
	switch cardID {
	case t.FromCardID:
		return DirectionDebit, t.ToCardID, nil
	case t.ToCardID:
		return DirectionCredit, t.FromCardID, nil
	}
	return "", 0, fmt.Errorf("transfer %s does not touch card %d", t.ID, cardID)
}
