package secrets

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDopplerClientPrefersEnvironment(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "from-env")

	client := NewDopplerClient("ledger", "dev")
	client.lookPath = func(string) (string, error) { return "", errors.New("not installed") }

	value, err := client.Get("WEBHOOK_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-env", value)
}

func TestDopplerClientUsesCLI(t *testing.T) {
	client := NewDopplerClient("ledger", "dev")
	client.lookPath = func(string) (string, error) { return "/usr/bin/doppler", nil }

	var gotArgs []string
	client.run = func(name string, args ...string) ([]byte, error) {
		gotArgs = args
		return []byte("  cli-secret\n"), nil
	}

	value, err := client.Get("LEDGER_TEST_ONLY_KEY")
	require.NoError(t, err)
	assert.Equal(t, "cli-secret", value)
	assert.Contains(t, gotArgs, "LEDGER_TEST_ONLY_KEY")
	assert.Contains(t, gotArgs, "ledger")
}

func TestGetWithFallback(t *testing.T) {
	client := NewDopplerClient("ledger", "dev")
	client.lookPath = func(string) (string, error) { return "", errors.New("not installed") }

	assert.Equal(t, "fallback", GetWithFallback(client, "LEDGER_TEST_MISSING_KEY", "fallback"))
	assert.Equal(t, "fallback", GetWithFallback(nil, "ANY", "fallback"))
}
