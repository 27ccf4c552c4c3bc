package referral

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeReferralCode(t *testing.T) {
	cases := map[uint]string{
		1:        "R0001",
		2:        "R0002",
		61:       "R000z",
		62:       "R0010",
		14776335: "Rzzzz",
		14776336: "R10000",
	}
	for id, want := range cases {
		got, err := EncodeReferralCode(id)
		require.NoError(t, err)
		assert.Equal(t, want, got, "id %d", id)
	}

	_, err := EncodeReferralCode(0)
	assert.ErrorIs(t, err, ErrInvalidUserID)
}

func TestReferralCodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ids := []uint{1, 9, 10, 61, 62, 3843, 3844, 10_000_000}
	for i := 0; i < 2000; i++ {
		ids = append(ids, uint(rng.Intn(10_000_000))+1)
	}

	for _, id := range ids {
		code, err := EncodeReferralCode(id)
		require.NoError(t, err)
		decoded, err := DecodeReferralCode(code)
		require.NoError(t, err)
		assert.Equal(t, id, decoded)
	}
}

func TestDecodeReferralCodeErrors(t *testing.T) {
	cases := []struct {
		code string
		err  error
	}{
		{"", ErrInvalidFormat},
		{"R", ErrInvalidFormat},
		{"0002", ErrInvalidFormat},
		{"r0002", ErrInvalidFormat},
		{"R00-2", ErrInvalidCharacter},
		{"R00 2", ErrInvalidCharacter},
		{"R0000", ErrInvalidFormat},
		{"Rzzzzzzzzzzzzzzzzzzzzzzzz", ErrInvalidFormat},
	}
	for _, tc := range cases {
		_, err := DecodeReferralCode(tc.code)
		assert.ErrorIs(t, err, tc.err, "code %q", tc.code)
	}
}

func TestDecodeAcceptsUnpaddedCodes(t *testing.T) {
	id, err := DecodeReferralCode("R2")
	require.NoError(t, err)
	assert.Equal(t, uint(2), id)
}
