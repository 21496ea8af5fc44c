package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/types"
)

// ProgressFunc reports done out of total after each item of a sequential phase.
type ProgressFunc func(done, total int)

func (c *Client) endpoint(format string, args ...any) string {
	return strings.TrimRight(c.opts.APIBase, "/") + fmt.Sprintf(format, args...)
}

func (c *Client) getJSON(ctx context.Context, rawURL string, requiresAuth bool, v any) error {
	body, err := c.Request(ctx, rawURL, requiresAuth)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("upstream: decode %s: %w", rawURL, err)
	}
	return nil
}

type ratingsPage struct {
	Results []types.RatingsSummary `json:"results"`
}

// GetRatings fetches ratings summaries in batches, keyed by instrument id.
// A failed batch is logged and skipped; the other batches still contribute.
func (c *Client) GetRatings(ctx context.Context, ids []string) map[string]types.RatingsSummary {
	out := make(map[string]types.RatingsSummary, len(ids))
	size := c.opts.RatingsBatchSize
	for start := 0; start < len(ids); start += size {
		if ctx.Err() != nil {
			break
		}
		end := min(start+size, len(ids))
		batch := ids[start:end]

		var page ratingsPage
		rawURL := c.endpoint("/midlands/ratings/?ids=%s", strings.Join(batch, "%2C"))
		if err := c.getJSON(ctx, rawURL, false, &page); err != nil {
			slog.Error("ratings batch failed", "offset", start, "size", len(batch), "error", err)
			continue
		}
		for _, r := range page.Results {
			if r.InstrumentID == "" {
				continue
			}
			out[r.InstrumentID] = r
		}
	}
	return out
}

// GetFairValue returns the analyst overview for id, or nil on any failure.
func (c *Client) GetFairValue(ctx context.Context, id string) *types.FairValueReport {
	if id == "" {
		return nil
	}
	var report types.FairValueReport
	rawURL := c.endpoint("/discovery/ratings/%s/overview/", url.PathEscape(id))
	if err := c.getJSON(ctx, rawURL, true, &report); err != nil {
		slog.Warn("fair value fetch failed", "instrument_id", id, "error", err)
		return nil
	}
	return &report
}

// GetQuote returns the quote for id, or nil when id is empty or the call fails.
func (c *Client) GetQuote(ctx context.Context, id string) *types.Quote {
	if id == "" {
		return nil
	}
	var quote types.Quote
	rawURL := c.endpoint("/quotes/%s/", url.PathEscape(id))
	if err := c.getJSON(ctx, rawURL, false, &quote); err != nil {
		slog.Warn("quote fetch failed", "instrument_id", id, "error", err)
		return nil
	}
	return &quote
}

// GetQuotes fetches quotes one at a time, pausing after every RateLimitEvery
// calls. Failed lookups are absent from the result.
func (c *Client) GetQuotes(ctx context.Context, ids []string, progress ProgressFunc) (map[string]*types.Quote, error) {
	out := make(map[string]*types.Quote, len(ids))
	err := c.paced(ctx, ids, progress, func(id string) {
		if q := c.GetQuote(ctx, id); q != nil {
			out[id] = q
		}
	})
	return out, err
}

// GetFairValues fetches overviews one at a time with the same pacing as
// GetQuotes. Every id gets an entry; failures map to nil.
func (c *Client) GetFairValues(ctx context.Context, ids []string, progress ProgressFunc) (map[string]*types.FairValueReport, error) {
	out := make(map[string]*types.FairValueReport, len(ids))
	err := c.paced(ctx, ids, progress, func(id string) {
		out[id] = c.GetFairValue(ctx, id)
	})
	return out, err
}

func (c *Client) paced(ctx context.Context, ids []string, progress ProgressFunc, fn func(id string)) error {
	total := len(ids)
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(id)
		done := i + 1
		if progress != nil {
			progress(done, total)
		}
		if done%c.opts.RateLimitEvery == 0 && done < total {
			if err := c.sleep(ctx, c.opts.RateLimitDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

type instrumentPage struct {
	Results []types.InstrumentDetail `json:"results"`
}

// LookupSymbol resolves a ticker to an instrument. found is false when the
// brokerage has no instrument for it.
func (c *Client) LookupSymbol(ctx context.Context, symbol string) (types.Instrument, bool, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return types.Instrument{}, false, nil
	}
	var page instrumentPage
	rawURL := c.endpoint("/instruments/?active_instruments_only=false&symbol=%s", url.QueryEscape(symbol))
	if err := c.getJSON(ctx, rawURL, false, &page); err != nil {
		return types.Instrument{}, false, err
	}
	if len(page.Results) == 0 || page.Results[0].ID == "" {
		return types.Instrument{}, false, nil
	}
	first := page.Results[0]
	return types.Instrument{
		InstrumentID: first.ID,
		Symbol:       symbol,
		Name:         first.DisplayName(symbol),
	}, true, nil
}

// InstrumentName fetches the display name for id. It returns ErrNotFound
// when the instrument carries neither a name nor a simple name.
func (c *Client) InstrumentName(ctx context.Context, id string) (string, error) {
	var detail types.InstrumentDetail
	rawURL := c.endpoint("/instruments/%s/", url.PathEscape(id))
	if err := c.getJSON(ctx, rawURL, false, &detail); err != nil {
		return "", err
	}
	name := detail.DisplayName("")
	if name == "" {
		return "", ErrNotFound
	}
	return name, nil
}
