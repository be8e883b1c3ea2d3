// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"
)

// IsValidIPv4 проверяет, что строка является корректным IPv4-адресом в точечной записи.
func IsValidIPv4(ip string) bool {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return false
	}

	for _, part := range parts {
		if part == "" || len(part) > 3 {
			return false
		}
		// Ведущие нули запрещены, чтобы исключить восьмеричную интерпретацию.
		if len(part) > 1 && part[0] == '0' {
			return false
		}
		value := 0
		for _, ch := range part {
			if !unicode.IsDigit(ch) {
				return false
			}
			value = value*10 + int(ch-'0')
		}
		if value > 255 {
			return false
		}
	}

	return true
}

// NormalizeCouponCode приводит код купона к каноническому виду: верхний регистр без пробелов по краям.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidCouponCode проверяет, что код купона состоит из 3-32 латинских букв, цифр, дефисов или подчёркиваний.
func IsValidCouponCode(code string) bool {
	if len(code) < 3 || len(code) > 32 {
		return false
	}

	for _, ch := range code {
		switch {
		case ch >= 'A' && ch <= 'Z':
		case ch >= 'a' && ch <= 'z':
		case ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_':
		default:
			return false
		}
	}

	return true
}
