// Package secrets resolves sensitive configuration values (signing keys,
// service API keys, webhook secrets) from Doppler, falling back to the
// process environment.
package secrets

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Source resolves a secret by key
type Source interface {
	Get(key string) (string, error)
}

// commandRunner runs the doppler CLI; swapped out in tests
type commandRunner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// DopplerClient reads secrets through the doppler CLI
type DopplerClient struct {
	Project string
	Config  string

	run      commandRunner
	lookPath func(string) (string, error)
	ready    bool
}

// NewDopplerClient creates a new Doppler client
func NewDopplerClient(project, config string) *DopplerClient {
	return &DopplerClient{
		Project:  project,
		Config:   config,
		run:      execRunner,
		lookPath: exec.LookPath,
	}
}

// Initialize checks that the doppler CLI is installed
func (d *DopplerClient) Initialize() error {
	if _, err := d.lookPath("doppler"); err != nil {
		return fmt.Errorf("doppler CLI not found: %w", err)
	}
	d.ready = true
	return nil
}

// Get returns the secret for key. Values injected by `doppler run` into the
// environment win over a CLI lookup.
func (d *DopplerClient) Get(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	if !d.ready {
		if err := d.Initialize(); err != nil {
			return "", err
		}
	}

	output, err := d.run("doppler", "secrets", "get", key,
		"--project", d.Project,
		"--config", d.Config,
		"--plain")
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", key, err)
	}

	return strings.TrimSpace(string(output)), nil
}

// GetWithFallback gets a secret with a fallback value
func GetWithFallback(src Source, key, fallback string) string {
	if src == nil {
		return fallback
	}
	value, err := src.Get(key)
	if err != nil || value == "" {
		return fallback
	}
	return value
}

// EnvSource reads secrets from the environment only
type EnvSource struct{}

func (EnvSource) Get(key string) (string, error) {
	return os.Getenv(key), nil
}
