package utils

import (
	"errors"
	"testing"

	"github.com/Dan9191/card-service/internal/apperrors"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"200.00", "200", false},
		{"0.01", "0.01", false},
		{"15", "15", false},
		{"1.001", "", true},
		{"abc", "", true},
		{"10000000000000", "", true},
		{"9999999999999.99", "9999999999999.99", false},
	}
	for _, tt := range tests {
		got, err := ParseMoney("amount", tt.input)
		if tt.wantErr {
			var ve *apperrors.ValidationError
			if !errors.As(err, &ve) || ve.Field != "amount" {
				t.Errorf("ParseMoney(%q) error = %v, want ValidationError on amount", tt.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMoney(%q): %v", tt.input, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseMoney(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}
