package utils

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/Dan9191/card-service/internal/apperrors"
)

const (
	// cardKeySize is the AES-128 key size in bytes
	cardKeySize = 16
	maskPrefix  = "**** **** **** "
)

var cardNumberPattern = regexp.MustCompile(`^[0-9]{16}$`)

// CardCipher encrypts card numbers with a process-wide key and derives masked display values.
// The key is read-only after construction and safe for concurrent use.
type CardCipher struct {
	block cipher.Block
}

// NewCardCipher builds a cipher from the configured secret. Secrets shorter than
// 16 bytes are zero-padded, longer ones are truncated.
func NewCardCipher(secret string) (*CardCipher, error) {
	if secret == "" {
		return nil, &apperrors.EncryptionError{Err: fmt.Errorf("encryption key is empty")}
	}
	key := make([]byte, cardKeySize)
	copy(key, secret)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &apperrors.EncryptionError{Err: fmt.Errorf("failed to create cipher: %w", err)}
	}
	return &CardCipher{block: block}, nil
}

// Encrypt encrypts a raw card number using AES in ECB mode with PKCS#5/PKCS#7 padding
// and returns it Base64-encoded. Equal inputs produce equal ciphertexts.
func (c *CardCipher) Encrypt(rawNumber string) (string, error) {
	if c == nil || c.block == nil {
		return "", &apperrors.EncryptionError{Err: fmt.Errorf("encryption key is not configured")}
	}
	if len(rawNumber) == 0 {
		return "", &apperrors.EncryptionError{Err: fmt.Errorf("input data is empty")}
	}

	// Add PKCS#5/PKCS#7 padding
	data := []byte(rawNumber)
	padding := aes.BlockSize - len(data)%aes.BlockSize
	data = append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)

	ciphertext := make([]byte, len(data))
	for i := 0; i < len(data); i += aes.BlockSize {
		c.block.Encrypt(ciphertext[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt
func (c *CardCipher) Decrypt(encrypted string) (string, error) {
	if c == nil || c.block == nil {
		return "", &apperrors.DecryptionError{Err: fmt.Errorf("encryption key is not configured")}
	}
	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", &apperrors.DecryptionError{Err: fmt.Errorf("failed to decode base64: %w", err)}
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", &apperrors.DecryptionError{Err: fmt.Errorf("invalid ciphertext length: %d bytes", len(data))}
	}

	plaintext := make([]byte, len(data))
	for i := 0; i < len(data); i += aes.BlockSize {
		c.block.Decrypt(plaintext[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
	}

	// Remove PKCS#5/PKCS#7 padding
	padding := int(plaintext[len(plaintext)-1])
	if padding > aes.BlockSize || padding == 0 {
		return "", &apperrors.DecryptionError{Err: fmt.Errorf("invalid padding value: %d", padding)}
	}
	for i := len(plaintext) - padding; i < len(plaintext); i++ {
		if int(plaintext[i]) != padding {
			return "", &apperrors.DecryptionError{Err: fmt.Errorf("invalid padding bytes at position %d", i)}
		}
	}
	return string(plaintext[:len(plaintext)-padding]), nil
}

// MaskCardNumber returns the display form "**** **** **** NNNN" built from the last four digits.
// Whitespace anywhere in the input is ignored.
func MaskCardNumber(rawNumber string) (string, error) {
	digits := StripSpaces(rawNumber)
	if len(digits) < 4 {
		return "", apperrors.Validation("cardNumber", "card number too short to mask")
	}
	return maskPrefix + digits[len(digits)-4:], nil
}

// Mask is MaskCardNumber bound to the cipher, so callers can hold a single codec
func (c *CardCipher) Mask(rawNumber string) (string, error) {
	return MaskCardNumber(rawNumber)
}

// StripSpaces removes every whitespace rune from s
func StripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// ValidCardNumber reports whether s is exactly 16 digits once whitespace is removed
func ValidCardNumber(s string) bool {
	return cardNumberPattern.MatchString(StripSpaces(s))
}
