package boardsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// PortalSource is the booking-board collaborator. The production
// implementation talks HTTP to the scraper agent that drives the board's web
// UI; tests swap in a canned snapshot.
type PortalSource interface {
	FetchAppointments(ctx context.Context, from, to time.Time) ([]RawPortalAppointment, error)
}

// scraperSnapshot is the agent's response envelope.
type scraperSnapshot struct {
	ScrapedAt    time.Time              `json:"scraped_at"`
	Appointments []RawPortalAppointment `json:"appointments"`
}

type scraperClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

// newScraperClientFromEnv builds the agent client. SCRAPER_BASE_URL and
// SCRAPER_API_KEY are required; the key travels in SCRAPER_API_KEY_HEADER
// (X-API-Key by default). SCRAPER_RATE_LIMIT_PER_MIN throttles calls so
// repeated manual triggers cannot hammer the agent's browser session.
func newScraperClientFromEnv() (*scraperClient, error) {
	baseURL := os.Getenv("SCRAPER_BASE_URL")
	if baseURL == "" {
		return nil, errors.New("SCRAPER_BASE_URL is required")
	}
	apiKey := os.Getenv("SCRAPER_API_KEY")
	if apiKey == "" {
		return nil, errors.New("SCRAPER_API_KEY is required")
	}
	hdr := os.Getenv("SCRAPER_API_KEY_HEADER")
	if hdr == "" {
		hdr = "X-API-Key"
	}

	timeout := 30 * time.Second
	if v := os.Getenv("SCRAPER_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			timeout = time.Duration(n) * time.Second
		}
	}

	ratePerMin := 60
	if v := os.Getenv("SCRAPER_RATE_LIMIT_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ratePerMin = n
		}
	}

	return &scraperClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: hdr,
		http:      &http.Client{Timeout: timeout},
		limiter:   time.Tick(time.Minute / time.Duration(ratePerMin)),
	}, nil
}

// FetchAppointments asks the agent for every booking between from and to. The
// agent scrapes the whole window in one browser pass, so there is no paging.
func (c *scraperClient) FetchAppointments(ctx context.Context, from, to time.Time) ([]RawPortalAppointment, error) {
	select {
	case <-c.limiter:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	loc := portalLocation()
	u := fmt.Sprintf("%s/api/v1/appointments?from=%s&to=%s",
		c.baseURL,
		url.QueryEscape(from.In(loc).Format("2006-01-02")),
		url.QueryEscape(to.In(loc).Format("2006-01-02")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("scraper agent error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var snapshot scraperSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("decode scraper response: %w", err)
	}
	return snapshot.Appointments, nil
}
