package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/memberbase/memberbase/internal/config"
	"github.com/memberbase/memberbase/internal/db/models"
	"github.com/memberbase/memberbase/internal/telemetry"
)

// Shipper exports audit entries to an external destination. Shipping is
// best-effort; the database table remains the record of truth.
type Shipper interface {
	Ship(ctx context.Context, entry *models.AuditLogEntry) error
	Close() error
}

// NewShipperFromConfig builds a shipper from the audit configuration. Returns
// (nil, nil) when no shipper is enabled.
func NewShipperFromConfig(cfg config.AuditConfig) (Shipper, error) {
	shippers := make([]Shipper, 0, len(cfg.Shippers))

	for _, sc := range cfg.Shippers {
		if !sc.Enabled {
			continue
		}

		switch sc.Type {
		case "file":
			if sc.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			s, err := NewFileShipper(sc.File.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to create file shipper: %w", err)
			}
			shippers = append(shippers, s)
		case "webhook":
			if sc.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			timeout := time.Duration(sc.Webhook.TimeoutSecs) * time.Second
			shippers = append(shippers, NewWebhookShipper(sc.Webhook.URL, sc.Webhook.Headers, timeout))
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", sc.Type)
		}
	}

	if len(shippers) == 0 {
		return nil, nil
	}
	if len(shippers) == 1 {
		return shippers[0], nil
	}
	return &MultiShipper{shippers: shippers}, nil
}

// MultiShipper fans one entry out to several destinations. Each destination is
// attempted even when an earlier one fails; the last error is returned.
type MultiShipper struct {
	shippers []Shipper
}

// Ship sends the entry to every destination.
func (ms *MultiShipper) Ship(ctx context.Context, entry *models.AuditLogEntry) error {
	var lastErr error
	for _, s := range ms.shippers {
		if err := s.Ship(ctx, entry); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Close closes every destination.
func (ms *MultiShipper) Close() error {
	var lastErr error
	for _, s := range ms.shippers {
		if err := s.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// FileShipper appends entries to a local file as JSON lines, one entry per
// line. Rotation is left to the host (logrotate); the file is opened in append
// mode so an external rename-and-reopen cycle works.
type FileShipper struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewFileShipper opens (or creates) the audit export file.
func NewFileShipper(path string) (*FileShipper, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit export file: %w", err)
	}
	return &FileShipper{path: path, file: file}, nil
}

// Ship writes one entry as a JSON line.
func (fs *FileShipper) Ship(_ context.Context, entry *models.AuditLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		telemetry.AuditShipErrorsTotal.WithLabelValues("file").Inc()
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// Close closes the export file.
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}

// WebhookShipper POSTs each entry as JSON to a configured endpoint, typically
// a SIEM or log aggregator ingest URL.
type WebhookShipper struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookShipper creates a webhook shipper. A zero timeout defaults to 10s.
func NewWebhookShipper(url string, headers map[string]string, timeout time.Duration) *WebhookShipper {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookShipper{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
}

// Ship POSTs one entry to the endpoint.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *models.AuditLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		telemetry.AuditShipErrorsTotal.WithLabelValues("webhook").Inc()
		return fmt.Errorf("failed to send audit webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		telemetry.AuditShipErrorsTotal.WithLabelValues("webhook").Inc()
		return fmt.Errorf("audit webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op; the HTTP client holds no persistent resources.
func (ws *WebhookShipper) Close() error { return nil }
