// Package webhook delivers signed event notifications to subscriber URLs.
// Delivery is best effort: failures are logged and never reach the caller.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gemxhub/backend/internal/config"
	"github.com/gemxhub/backend/internal/utils"
	"github.com/gemxhub/backend/pkg/logger"
	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body
const SignatureHeader = "X-Webhook-Signature"

// Payload is the body POSTed to every subscriber
type Payload struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Notifier fans events out to the configured subscribers
type Notifier struct {
	urls    []string
	secret  string
	timeout time.Duration
	client  *http.Client

	// mu guards closed and orders wg.Add before Wait
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewNotifier creates a notifier for cfg. With no URLs Notify is a no-op.
func NewNotifier(cfg config.WebhookConfig) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		urls:    append([]string(nil), cfg.URLs...),
		secret:  cfg.Secret,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Notify signs the event and launches one detached delivery per subscriber.
// Events arriving after Wait has started are dropped.
func (n *Notifier) Notify(event string, data interface{}) {
	if n == nil || len(n.urls) == 0 {
		return
	}

	body, err := json.Marshal(Payload{Event: event, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		logger.Log.Error("failed to encode webhook payload", zap.String("event", event), zap.Error(err))
		return
	}
	signature := utils.SignHMAC(body, n.secret)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		logger.Log.Warn("webhook notifier closed, dropping event", zap.String("event", event))
		return
	}
	n.wg.Add(len(n.urls))
	n.mu.Unlock()

	for _, url := range n.urls {
		go n.deliver(url, event, body, signature)
	}
}

func (n *Notifier) deliver(url, event string, body []byte, signature string) {
	defer n.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("webhook delivery panicked",
				zap.String("url", url),
				zap.String("event", event),
				zap.Any("panic", r),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.send(ctx, url, body, signature); err != nil {
		logger.Log.Warn("webhook delivery failed",
			zap.String("url", url),
			zap.String("event", event),
			zap.Error(err),
		)
		return
	}
	logger.Log.Debug("webhook delivered", zap.String("url", url), zap.String("event", event))
}

func (n *Notifier) send(ctx context.Context, url string, body []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("subscriber responded with status %d", resp.StatusCode)
	}
	return nil
}

// Wait stops accepting events and blocks until in-flight deliveries finish
// or ctx is done
func (n *Notifier) Wait(ctx context.Context) error {
	if n == nil {
		return nil
	}
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// VerifySignature checks a delivery the way subscribers are expected to
func VerifySignature(body []byte, signature, secret string) bool {
	return utils.VerifyHMAC(body, signature, secret)
}
