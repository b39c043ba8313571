package hub

import (
	"crypto/rand"
	"math/big"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	codeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeDigits  = "0123456789"
	CodeLength  = 6
)

// GenerateCode returns three uppercase letters followed by three digits.
func GenerateCode() (string, error) {
	code := make([]byte, 0, CodeLength)
	for i := 0; i < CodeLength; i++ {
		charset := codeLetters
		if i >= CodeLength/2 {
			charset = codeDigits
		}
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code = append(code, charset[num.Int64()])
	}
	return string(code), nil
}

// NormalizeCode makes invite codes comparable regardless of how the player
// typed them. Casers keep state, so each call gets its own.
func NormalizeCode(code string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(code))
}

func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < CodeLength; i++ {
		charset := codeLetters
		if i >= CodeLength/2 {
			charset = codeDigits
		}
		if !strings.ContainsRune(charset, rune(code[i])) {
			return false
		}
	}
	return true
}
