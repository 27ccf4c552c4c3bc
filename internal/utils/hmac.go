package utils

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
)

// SignHMAC returns the hex encoded HMAC-SHA256 of message under secret
func SignHMAC(message []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(message)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHMAC verifies an HMAC signature against a message using the provided secret
// Uses constant-time comparison to prevent timing attacks
func VerifyHMAC(message []byte, signature, secret string) bool {
	expectedMAC := SignHMAC(message, secret)
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expectedMAC)) == 1
}

// SecureCompare compares two secrets in constant time
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Fingerprint returns the hex SHA-256 of data
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FingerprintJSON fingerprints a JSON body independently of whitespace and
// object key order. Bodies that are not a single JSON value are
// fingerprinted as raw bytes.
func FingerprintJSON(body []byte) string {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return Fingerprint(body)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Fingerprint(body)
	}

	canonical, err := json.Marshal(value)
	if err != nil {
		return Fingerprint(body)
	}
	return Fingerprint(canonical)
}
