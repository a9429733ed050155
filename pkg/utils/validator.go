package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRegex   = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	cpfFormat    = regexp.MustCompile(`^\d{3}\.?\d{3}\.?\d{3}-?\d{2}$`)
)

// ValidateEmail validates an email address
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

// NormalizeCPF strips the punctuation of a CPF, leaving its 11 digits.
func NormalizeCPF(cpf string) string {
	var b strings.Builder
	for _, r := range cpf {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidateCPF checks the format and both check digits of a CPF. Punctuated
// ("529.982.247-25") and bare forms are accepted.
func ValidateCPF(cpf string) error {
	if !cpfFormat.MatchString(strings.TrimSpace(cpf)) {
		return fmt.Errorf("invalid CPF format: %s", cpf)
	}

	digits := NormalizeCPF(cpf)

	// repeated digits pass the checksum but are never issued
	if strings.Count(digits, digits[:1]) == len(digits) {
		return fmt.Errorf("invalid CPF: %s", cpf)
	}

	for _, n := range []int{9, 10} {
		sum := 0
		for i := 0; i < n; i++ {
			sum += int(digits[i]-'0') * (n + 1 - i)
		}
		check := (sum * 10) % 11
		if check == 10 {
			check = 0
		}
		if check != int(digits[n]-'0') {
			return fmt.Errorf("invalid CPF check digit: %s", cpf)
		}
	}

	return nil
}

// SanitizeString removes control characters, keeping tabs and line breaks
// that free-text notes legitimately carry.
func SanitizeString(s string) string {
	return controlChars.ReplaceAllString(s, "")
}
