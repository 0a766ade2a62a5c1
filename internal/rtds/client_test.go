package rtds

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDecodeActivity(t *testing.T) {
	raw := []byte(`{
  "topic": "activity",
  "type": "trades",
  "timestamp": 1765791900123,
  "payload": {
    "proxyWallet": "0x1111111111111111111111111111111111111111",
    "side": "BUY",
    "asset": "12345",
    "conditionId": "0xabc",
    "title": "Bitcoin Up or Down?",
    "price": 0.61,
    "size": 25.5,
    "transactionHash": "0xdeadbeef",
    "timestamp": 1765791900,
    "outcome": "Up"
  }
}`)

	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}

	a, err := DecodeActivity(m)
	if err != nil {
		t.Fatalf("DecodeActivity: %v", err)
	}
	if a.ProxyWallet != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("proxy wallet: %q", a.ProxyWallet)
	}
	if a.Side != "BUY" || a.Asset != "12345" || a.Outcome != "Up" {
		t.Fatalf("unexpected fields: %+v", a)
	}
	if a.Price != 0.61 || a.Size != 25.5 {
		t.Fatalf("unexpected amounts: %+v", a)
	}
}

func TestDecodeActivity_WrongTopic(t *testing.T) {
	m := Message{Topic: "prices", Payload: []byte(`{}`)}
	if _, err := DecodeActivity(m); err == nil {
		t.Fatalf("expected error for non-activity topic")
	}
}

func TestActivitySubscriptionFilters(t *testing.T) {
	sub := ActivitySubscription("0x2222222222222222222222222222222222222222")
	if sub.Topic != "activity" || sub.Type != "trades" {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	var filters map[string]string
	if err := json.Unmarshal([]byte(sub.Filters), &filters); err != nil {
		t.Fatalf("filters not a JSON string: %v", err)
	}
	if filters["proxyWallet"] != "0x2222222222222222222222222222222222222222" {
		t.Fatalf("unexpected filters: %+v", filters)
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.PingInterval != 5*time.Second {
		t.Fatalf("ping interval: %s", o.PingInterval)
	}
	if o.BackoffMin != 2*time.Second || o.BackoffMax != 30*time.Second {
		t.Fatalf("backoff bounds: %s %s", o.BackoffMin, o.BackoffMax)
	}
}

func TestNextBackoff(t *testing.T) {
	if got := nextBackoff(2*time.Second, 30*time.Second); got != 4*time.Second {
		t.Fatalf("backoff step: %s", got)
	}
	if got := nextBackoff(20*time.Second, 30*time.Second); got != 30*time.Second {
		t.Fatalf("backoff cap: %s", got)
	}
}
