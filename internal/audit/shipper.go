// Package audit ships high-severity security alerts to operator-facing
// destinations (a webhook, an append-only JSON-lines file) in addition to the
// security_events table. Several destinations can be active at once.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultWebhookTimeout = 10 * time.Second

// Entry is one shipped alert.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	Severity  string         `json:"severity"`
	UserID    string         `json:"user_id,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Shipper delivers entries to one destination.
type Shipper interface {
	Ship(ctx context.Context, entry *Entry) error
	Close() error
}

// ShipperConfig selects and configures one destination.
type ShipperConfig struct {
	Enabled bool
	Type    string // webhook, file
	Webhook *WebhookConfig
	File    *FileConfig
}

// WebhookConfig configures a WebhookShipper.
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// FileConfig configures a FileShipper.
type FileConfig struct {
	Path string
}

// MultiShipper fans an entry out to every configured destination.
type MultiShipper struct {
	mu       sync.RWMutex
	shippers []Shipper
}

// NewMultiShipper builds the enabled shippers from configs. An empty or
// all-disabled list yields a MultiShipper that accepts and drops entries.
func NewMultiShipper(configs []ShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var (
			s   Shipper
			err error
		)
		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			s, err = NewWebhookShipper(cfg.Webhook, nil)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			s, err = NewFileShipper(cfg.File)
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}
		if err != nil {
			ms.Close()
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}
		ms.shippers = append(ms.shippers, s)
	}

	return ms, nil
}

// Add registers an additional destination.
func (ms *MultiShipper) Add(s Shipper) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.shippers = append(ms.shippers, s)
}

// Len returns the number of active destinations.
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship delivers entry to every destination. A failing destination does not
// stop delivery to the rest; all failures are joined into the result.
func (ms *MultiShipper) Ship(ctx context.Context, entry *Entry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var errs []error
	for _, s := range ms.shippers {
		if err := s.Ship(ctx, entry); err != nil {
			slog.Error("alert shipper failed", "event_type", entry.EventType, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every destination.
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var errs []error
	for _, s := range ms.shippers {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	ms.shippers = nil
	return errors.Join(errs...)
}

// WebhookShipper POSTs each entry as JSON.
type WebhookShipper struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookShipper creates a webhook shipper. A nil client gets a traced
// client bounded by cfg.Timeout.
func NewWebhookShipper(cfg *WebhookConfig, client *http.Client) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	c := *cfg
	if c.Timeout <= 0 {
		c.Timeout = defaultWebhookTimeout
	}
	if client == nil {
		client = &http.Client{
			Timeout:   c.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &WebhookShipper{cfg: c, client: client}, nil
}

// Ship sends one entry.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op.
func (ws *WebhookShipper) Close() error { return nil }

// FileShipper appends entries as JSON lines.
type FileShipper struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileShipper opens (or creates) the file at cfg.Path for appending.
func NewFileShipper(cfg *FileConfig) (*FileShipper, error) {
	f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open alert file: %w", err)
	}
	return &FileShipper{file: f}, nil
}

// Ship writes one line.
func (fs *FileShipper) Ship(_ context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write alert: %w", err)
	}
	return nil
}

// Close closes the file.
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
