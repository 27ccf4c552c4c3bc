package referral

import (
	"errors"
	"math"
	"strings"
)

const (
	// CodePrefix starts every referral code
	CodePrefix = "R"

	alphabet    = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	base        = uint64(len(alphabet))
	minCodeBody = 4
)

var (
	ErrInvalidUserID    = errors.New("referral code requires a positive user id")
	ErrInvalidFormat    = errors.New("invalid referral code format")
	ErrInvalidCharacter = errors.New("invalid character in referral code")
)

// EncodeReferralCode maps a user id to its shareable code, e.g. 2 -> "R0002"
func EncodeReferralCode(userID uint) (string, error) {
	if userID == 0 {
		return "", ErrInvalidUserID
	}

	var digits []byte
	for n := uint64(userID); n > 0; n /= base {
		digits = append(digits, alphabet[n%base])
	}
	for len(digits) < minCodeBody {
		digits = append(digits, alphabet[0])
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}

	return CodePrefix + string(digits), nil
}

// DecodeReferralCode reverses EncodeReferralCode
func DecodeReferralCode(code string) (uint, error) {
	body, ok := strings.CutPrefix(code, CodePrefix)
	if !ok || body == "" {
		return 0, ErrInvalidFormat
	}

	var result uint64
	for i := 0; i < len(body); i++ {
		digit := strings.IndexByte(alphabet, body[i])
		if digit < 0 {
			return 0, ErrInvalidCharacter
		}
		if result > (math.MaxUint64-uint64(digit))/base {
			return 0, ErrInvalidFormat
		}
		result = result*base + uint64(digit)
	}

	if result == 0 || result > uint64(^uint(0)) {
		return 0, ErrInvalidFormat
	}
	return uint(result), nil
}
