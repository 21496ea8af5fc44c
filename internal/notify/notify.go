// Package notify posts export completion messages to an ntfy topic.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/exports"
)

const defaultTitle = "Robinhood ratings export"

var ErrNoEndpoint = errors.New("ntfy endpoint is not configured")

// Notifier sends plain-text messages to one ntfy endpoint. A Notifier with
// an empty endpoint is disabled and every send is a no-op.
type Notifier struct {
	endpoint string
	client   *resty.Client
}

// New returns a Notifier. client may be nil.
func New(endpoint string, client *http.Client) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Notifier{
		endpoint: strings.TrimSpace(endpoint),
		client:   resty.NewWithClient(client),
	}
}

// Enabled reports whether an endpoint is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.endpoint != ""
}

// ExportCompleted announces a stored export.
func (n *Notifier) ExportCompleted(ctx context.Context, meta exports.Meta) error {
	if !n.Enabled() {
		return nil
	}
	msg := fmt.Sprintf("Exported %d stocks to %s in %s (ratings %d, quotes %d, fair values %d).",
		meta.Rows, meta.FileName, meta.Duration.Round(time.Second),
		meta.RatingsHits, meta.QuoteHits, meta.FairHits)
	return Send(ctx, n.client, n.endpoint, defaultTitle, msg)
}

// Send posts message to endpoint.
func Send(ctx context.Context, client *resty.Client, endpoint, title, message string) error {
	if strings.TrimSpace(endpoint) == "" {
		return ErrNoEndpoint
	}
	if client == nil {
		client = resty.New()
	}

	req := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain").
		SetBody(message)
	if title != "" {
		req.SetHeader("Title", title)
	}
	resp, err := req.Post(endpoint)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode())
	}
	return nil
}
