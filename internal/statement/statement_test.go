package statement

import (
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Dan9191/card-service/internal/models"
)

func TestRender(t *testing.T) {
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	card := models.Card{ID: 2, MaskedNumber: "**** **** **** 4242", Status: models.CardStatusActive, Balance: decimal.RequireFromString("80.5")}
	debit := models.Transfer{ID: uuid.New(), FromCardID: 2, ToCardID: 3, Amount: decimal.RequireFromString("20"), CreatedAt: at.Add(time.Hour)}
	credit := models.Transfer{ID: uuid.New(), FromCardID: 5, ToCardID: 2, Amount: decimal.RequireFromString("0.5"), CreatedAt: at}

	out, err := NewRenderer("Test Bank").Render(card, []models.Transfer{debit, credit}, at)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(out); err != nil {
		t.Fatalf("output is not XML: %v", err)
	}
	root := doc.SelectElement("CardStatement")
	if root == nil || root.SelectAttrValue("institution", "") != "Test Bank" {
		t.Fatalf("root = %v", root)
	}
	if got := root.SelectAttrValue("generatedAt", ""); got != "2026-04-01T10:00:00Z" {
		t.Errorf("generatedAt = %q", got)
	}
	c := root.FindElement("./Card")
	if c == nil || c.SelectAttrValue("balance", "") != "80.50" || c.SelectAttrValue("masked", "") != card.MaskedNumber {
		t.Fatalf("Card element = %v", c)
	}

	entries := root.FindElements("./Entries/Entry")
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	tests := []struct {
		direction, amount, counterparty string
	}{
		{DirectionDebit, "20.00", "3"},
		{DirectionCredit, "0.50", "5"},
	}
	for i, tt := range tests {
		e := entries[i]
		if e.SelectAttrValue("direction", "") != tt.direction ||
			e.SelectAttrValue("amount", "") != tt.amount ||
			e.SelectAttrValue("counterparty", "") != tt.counterparty {
			t.Errorf("entry %d = %v", i, e.Attr)
		}
	}
}

func TestRenderRejectsForeignTransfer(t *testing.T) {
	card := models.Card{ID: 1, Balance: decimal.Zero}
	foreign := models.Transfer{ID: uuid.New(), FromCardID: 7, ToCardID: 8, Amount: decimal.RequireFromString("1")}
	if _, err := NewRenderer("Bank").Render(card, []models.Transfer{foreign}, time.Now()); err == nil {
		t.Error("expected an error for a transfer that does not touch the card")
	}
}
