package gamma

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultURL = "https://gamma-api.polymarket.com"

// DefaultUserAgent mimics a browser UA to avoid Cloudflare 403s.
const DefaultUserAgent = "Mozilla/5.0"

// ErrNotFound is returned when the requested slug has no market (yet); the
// detector treats it as "slot not listed" rather than a failure.
var ErrNotFound = errors.New("gamma: market not found")

type Client struct {
	host       string
	httpClient *http.Client
	userAgent  string
}

func NewClient(host string) (*Client, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultURL
	}
	host = strings.TrimRight(host, "/")

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("gamma url parse %q: %w", host, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("gamma url must be http(s), got %q", host)
	}

	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: 12 * time.Second,
		},
		userAgent: DefaultUserAgent,
	}, nil
}

type clobTokenIDs []string

func (c *clobTokenIDs) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = nil
		return nil
	}

	// Gamma commonly returns clobTokenIds as a JSON string that itself
	// contains a JSON array.
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*c = nil
			return nil
		}
		var ids []string
		if err := json.Unmarshal([]byte(s), &ids); err != nil {
			return err
		}
		*c = ids
		return nil
	}

	// Some endpoints may return it directly as an array.
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return err
	}
	*c = ids
	return nil
}

type marketJSON struct {
	Slug            string       `json:"slug"`
	ConditionID     string       `json:"conditionId"`
	Question        string       `json:"question"`
	ClobTokenIDs    clobTokenIDs `json:"clobTokenIds"`
	EndDateISO      string       `json:"endDateIso"`
	EventStartTime  string       `json:"eventStartTime"`
	GameStartTime   string       `json:"gameStartTime"`
	NegRisk         bool         `json:"negRisk"`
	MinimumTickSize json.Number  `json:"orderPriceMinTickSize"`
	Closed          bool         `json:"closed"`
}

// Market is the metadata slice the detector consumes.
type Market struct {
	Slug        string
	ConditionID string
	Question    string
	TokenIDs    []string
	OpenTime    time.Time
	EndTime     time.Time
	NegRisk     bool
	TickSize    string
	Closed      bool
}

func (m marketJSON) toMarket() Market {
	out := Market{
		Slug:        strings.TrimSpace(m.Slug),
		ConditionID: strings.TrimSpace(m.ConditionID),
		Question:    strings.TrimSpace(m.Question),
		NegRisk:     m.NegRisk,
		TickSize:    m.MinimumTickSize.String(),
		Closed:      m.Closed,
	}
	for _, id := range m.ClobTokenIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		out.TokenIDs = append(out.TokenIDs, id)
	}
	start := strings.TrimSpace(m.EventStartTime)
	if start == "" {
		start = strings.TrimSpace(m.GameStartTime)
	}
	if start != "" {
		if t, err := parseTime(start); err == nil {
			out.OpenTime = t
		}
	}
	if end := strings.TrimSpace(m.EndDateISO); end != "" {
		if t, err := parseTime(end); err == nil {
			out.EndTime = t
		}
	}
	return out
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// MarketBySlug resolves a market by its deterministic slug via
// /markets/slug/{slug}.
func (c *Client) MarketBySlug(ctx context.Context, slug string) (Market, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return Market{}, fmt.Errorf("slug required")
	}

	var raw marketJSON
	if err := c.getJSON(ctx, "/markets/slug/"+url.PathEscape(slug), nil, &raw); err != nil {
		return Market{}, err
	}
	m := raw.toMarket()
	if m.ConditionID == "" {
		return Market{}, fmt.Errorf("gamma: market %q has no conditionId", slug)
	}
	return m, nil
}

// MarketsByConditionID resolves markets by on-chain condition id via
// /markets?condition_ids=....
func (c *Client) MarketsByConditionID(ctx context.Context, conditionID string) ([]Market, error) {
	conditionID = strings.TrimSpace(conditionID)
	if conditionID == "" {
		return nil, fmt.Errorf("condition id required")
	}

	q := url.Values{}
	q.Set("condition_ids", conditionID)
	var raws []marketJSON
	if err := c.getJSON(ctx, "/markets", q, &raws); err != nil {
		return nil, err
	}

	out := make([]Market, 0, len(raws))
	for _, raw := range raws {
		out = append(out, raw.toMarket())
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	if c == nil {
		return fmt.Errorf("gamma client nil")
	}
	endpoint := c.host + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body := readBodyLimit(resp.Body, 8<<10)
		return fmt.Errorf("gamma %s: status=%d body=%q", endpoint, resp.StatusCode, body)
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("gamma decode: %w", err)
	}
	return nil
}

func readBodyLimit(r io.Reader, max int64) string {
	if r == nil || max <= 0 {
		return ""
	}
	lr := &io.LimitedReader{R: r, N: max}
	b, _ := io.ReadAll(lr)
	return strings.TrimSpace(string(b))
}
