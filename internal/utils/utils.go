package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// GenerateSecureToken returns length random bytes, hex encoded
func GenerateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NormalizeEmail lower-cases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail checks if an email address is valid
func IsValidEmail(email string) bool {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || strings.Contains(domain, "@") {
		return false
	}

	domainParts := strings.Split(domain, ".")
	return len(domainParts) >= 2 && domainParts[len(domainParts)-1] != ""
}

// StartOfDayUTC truncates t to midnight UTC
func StartOfDayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
