package synctask

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"finesync/internal/fines"
	"finesync/internal/fleet"
)

var ErrInvalidPlate = errors.New("invalid vehicle license plate")

// OffenceChecker is what the Processor needs from the traffic
// authority's API.
type OffenceChecker interface {
	Check(ctx context.Context, plate string) ([]fines.ReportedFine, error)
}

// OffenceClient talks to the authority's OffenceCheck endpoint. The
// service is slow and throttles hard, so every call is preceded by a
// fixed pacing delay and a 429 gets exactly one inline retry honoring
// Retry-After before the error is handed to the queue's backoff path.
type OffenceClient struct {
	httpc *http.Client
	url   string
	log   zerolog.Logger

	// pacingDelay and retryAfterDefault are fields so tests don't
	// sleep for real.
	pacingDelay       time.Duration
	retryAfterDefault time.Duration
}

func NewOffenceClient(url string, log zerolog.Logger) *OffenceClient {
	return &OffenceClient{
		httpc:             &http.Client{Timeout: 10 * time.Second},
		url:               url,
		log:               log.With().Str("component", "offence_client").Logger(),
		pacingDelay:       2 * time.Second,
		retryAfterDefault: 10 * time.Second,
	}
}

func (c *OffenceClient) Check(ctx context.Context, plate string) ([]fines.ReportedFine, error) {
	if !fleet.ValidPlate(plate) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlate, plate)
	}

	if err := sleepCtx(ctx, c.pacingDelay); err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, plate)
	if err != nil {
		return nil, fmt.Errorf("offence check %s: %w", plate, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := c.retryAfterDefault
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
				wait = time.Duration(secs) * time.Second
			}
		}
		drain(resp)
		c.log.Warn().Str("vehicle", plate).Dur("wait", wait).Msg("rate limited, retrying once")
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
		resp, err = c.post(ctx, plate)
		if err != nil {
			return nil, fmt.Errorf("offence check %s (retry): %w", plate, err)
		}
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("offence check %s: unexpected status %s", plate, resp.Status)
	}

	var out struct {
		PendingTransactions []fines.ReportedFine `json:"pending_transactions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("offence check %s: decode response: %w", plate, err)
	}
	return out.PendingTransactions, nil
}

func (c *OffenceClient) post(ctx context.Context, plate string) (*http.Response, error) {
	body, err := json.Marshal(map[string]string{"vehicle": plate})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.httpc.Do(req)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
