package cursor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"usagecache/internal/adapters/config"
	"usagecache/internal/adapters/cursor/ratelimit"
	"usagecache/internal/domain/event"
	"usagecache/internal/metrics"
	"usagecache/pkg/errors"
	"usagecache/pkg/logger"
)

// DefaultPageSize is fixed by the dashboard API
const DefaultPageSize = 300

// sessionCookie carries the dashboard session; the browser extension got
// it for free from the cookie jar, the daemon needs it configured
const sessionCookie = "WorkosCursorSessionToken"

// Page is one page of the filtered-usage-events endpoint. TotalCount is
// the count for the whole requested range, reported on every page.
type Page struct {
	Events     []event.Raw
	TotalCount int
}

// Client talks to the Cursor dashboard API
type Client struct {
	httpClient   *http.Client
	baseURLs     []string
	sessionToken string
	teamID       int
	pageSize     int
	limiter      *ratelimit.Limiter
	log          *logger.Logger
}

// NewClient creates a dashboard API client. Base URLs are tried in order
// until one answers.
func NewClient(cfg config.CursorConfig, log *logger.Logger) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Client{
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		baseURLs:     cfg.BaseURLs,
		sessionToken: cfg.SessionToken,
		teamID:       cfg.TeamID,
		pageSize:     pageSize,
		limiter:      ratelimit.New("cursor", cfg.PageInterval),
		log:          log.With("component", "cursor_client"),
	}
}

// PageSize returns the fixed page size used for filtered fetches
func (c *Client) PageSize() int {
	return c.pageSize
}

type filteredEventsRequest struct {
	TeamID    int    `json:"teamId"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Page      int    `json:"page"`
	PageSize  int    `json:"pageSize"`
}

type filteredEventsResponse struct {
	UsageEventsDisplay    []event.Raw `json:"usageEventsDisplay"`
	TotalUsageEventsCount int         `json:"totalUsageEventsCount"`
}

// FetchPage fetches one page of usage events for [start, end]
// (epoch milliseconds, inclusive)
func (c *Client) FetchPage(ctx context.Context, start, end int64, page int) (*Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body := filteredEventsRequest{
		TeamID:    c.teamID,
		StartDate: strconv.FormatInt(start, 10),
		EndDate:   strconv.FormatInt(end, 10),
		Page:      page,
		PageSize:  c.pageSize,
	}

	started := time.Now()
	var resp filteredEventsResponse
	err := c.post(ctx, "/api/dashboard/get-filtered-usage-events", body, &resp)
	metrics.RecordCursorAPICall("get-filtered-usage-events", time.Since(started), err)
	if err != nil {
		return nil, err
	}

	if resp.UsageEventsDisplay == nil {
		return nil, errors.Wrap(errors.ErrDataShape, "no usage events array in response")
	}

	metrics.PagesFetched.Inc()
	c.log.Debugw("Fetched usage events page",
		"page", page,
		"events", len(resp.UsageEventsDisplay),
		"total_count", resp.TotalUsageEventsCount,
	)

	return &Page{
		Events:     resp.UsageEventsDisplay,
		TotalCount: resp.TotalUsageEventsCount,
	}, nil
}

type monthlyInvoiceRequest struct {
	Month              int  `json:"month"`
	Year               int  `json:"year"`
	IncludeUsageEvents bool `json:"includeUsageEvents"`
}

type monthlyInvoiceResponse struct {
	UsageEvents []event.Raw `json:"usageEvents"`
}

// FetchMonthlyInvoice fetches the month-bucketed usage events for a
// calendar month (month is 0-based, matching the dashboard API)
func (c *Client) FetchMonthlyInvoice(ctx context.Context, month, year int) ([]event.Raw, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body := monthlyInvoiceRequest{Month: month, Year: year, IncludeUsageEvents: true}

	started := time.Now()
	var resp monthlyInvoiceResponse
	err := c.post(ctx, "/api/dashboard/get-monthly-invoice", body, &resp)
	metrics.RecordCursorAPICall("get-monthly-invoice", time.Since(started), err)
	if err != nil {
		return nil, err
	}

	if resp.UsageEvents == nil {
		return nil, errors.Wrap(errors.ErrDataShape, "no usage events found in response")
	}

	return resp.UsageEvents, nil
}

type meResponse struct {
	Sub string `json:"sub"`
}

// FetchMe returns the authenticated user's subject identifier
func (c *Client) FetchMe(ctx context.Context) (string, error) {
	started := time.Now()
	var resp meResponse
	err := c.get(ctx, "/api/auth/me", &resp)
	metrics.RecordCursorAPICall("auth-me", time.Since(started), err)
	if err != nil {
		return "", err
	}

	if resp.Sub == "" {
		return "", errors.Wrap(errors.ErrDataShape, "user sub not found in response")
	}
	return resp.Sub, nil
}

type usageResponse struct {
	StartOfMonth flexTime `json:"startOfMonth"`
}

// FetchBillingCycle returns the user's billing cycle start in epoch
// milliseconds
func (c *Client) FetchBillingCycle(ctx context.Context, userSub string) (int64, error) {
	started := time.Now()
	var resp usageResponse
	err := c.get(ctx, "/api/usage?user="+userSub, &resp)
	metrics.RecordCursorAPICall("usage", time.Since(started), err)
	if err != nil {
		return 0, err
	}

	if resp.StartOfMonth == 0 {
		return 0, errors.Wrap(errors.ErrDataShape, "billing start date not found in response")
	}
	return int64(resp.StartOfMonth), nil
}

// flexTime is epoch milliseconds parsed from either an RFC 3339 string
// or a numeric timestamp
type flexTime int64

func (t *flexTime) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		*t = 0
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339, s); err == nil {
		*t = flexTime(parsed.UnixMilli())
		return nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return errors.Wrapf(errors.ErrDataShape, "timestamp %q", s)
	}
	*t = flexTime(ms)
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}
	return c.do(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do tries each base URL in order; the first one that answers with a
// success status wins
func (c *Client) do(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var lastErr error

	for _, base := range c.baseURLs {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
		if err != nil {
			return errors.Wrap(err, "create request")
		}
		req.Header.Set("Content-Type", "application/json")
		if c.sessionToken != "" {
			req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.sessionToken})
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = errors.Wrapf(errors.ErrNetwork, "%s %s: %v", method, path, err)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			lastErr = errors.Wrapf(errors.ErrNetwork, "%s %s: status %d: %s", method, path, resp.StatusCode, snippet)
			continue
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return errors.Wrapf(errors.ErrDataShape, "decode response: %v", err)
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.Wrap(errors.ErrNetwork, "no base URLs configured")
	}
	return lastErr
}
