package gamma

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMarketBySlug_ParsesStringifiedArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets/slug/btc-updown-15m-1765791900" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "slug": "btc-updown-15m-1765791900",
  "conditionId": "0x1234",
  "question": "Bitcoin Up or Down?",
  "clobTokenIds": "[\"1\",\"2\"]",
  "eventStartTime": "2025-12-15T09:45:00Z",
  "endDateIso": "2025-12-15T10:00:00Z",
  "negRisk": false,
  "orderPriceMinTickSize": 0.01
}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	m, err := c.MarketBySlug(ctx, "btc-updown-15m-1765791900")
	if err != nil {
		t.Fatalf("MarketBySlug: %v", err)
	}
	if m.ConditionID != "0x1234" {
		t.Fatalf("unexpected ConditionID: %q", m.ConditionID)
	}
	if len(m.TokenIDs) != 2 || m.TokenIDs[0] != "1" || m.TokenIDs[1] != "2" {
		t.Fatalf("unexpected TokenIDs: %#v", m.TokenIDs)
	}
	if m.TickSize != "0.01" {
		t.Fatalf("unexpected TickSize: %q", m.TickSize)
	}
	wantOpen := time.Date(2025, 12, 15, 9, 45, 0, 0, time.UTC)
	if !m.OpenTime.Equal(wantOpen) {
		t.Fatalf("unexpected OpenTime: %s", m.OpenTime)
	}
	wantEnd := time.Date(2025, 12, 15, 10, 0, 0, 0, time.UTC)
	if !m.EndTime.Equal(wantEnd) {
		t.Fatalf("unexpected EndTime: %s", m.EndTime)
	}
}

func TestMarketBySlug_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := c.MarketBySlug(ctx, "eth-updown-5m-1765791900"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarketsByConditionID_ParsesArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("condition_ids"); got != "0xabc" {
			http.Error(w, "bad condition", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
  {
    "slug": "x",
    "conditionId": "0xabc",
    "clobTokenIds": ["10","20"],
    "negRisk": true
  }
]`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ms, err := c.MarketsByConditionID(ctx, "0xabc")
	if err != nil {
		t.Fatalf("MarketsByConditionID: %v", err)
	}
	if len(ms) != 1 {
		t.Fatalf("unexpected market count: %d", len(ms))
	}
	if !ms[0].NegRisk {
		t.Fatalf("expected NegRisk")
	}
	if len(ms[0].TokenIDs) != 2 || ms[0].TokenIDs[0] != "10" || ms[0].TokenIDs[1] != "20" {
		t.Fatalf("unexpected TokenIDs: %#v", ms[0].TokenIDs)
	}
}
